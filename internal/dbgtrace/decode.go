package dbgtrace

import "fmt"

// Class buckets a decoded instruction by the extra trace fields it needs
// (ADDR for loads/stores, TAKEN_PC for control-flow transfers).
type Class int

const (
	ClassOther Class = iota
	ClassLoad
	ClassStore
	ClassBranch
	ClassJAL
	ClassJALR
)

// Decoded holds everything the tracer needs to print a record's disasm and
// compute its derived fields. Only 32-bit integer encodings are decoded:
// OP/OP-32 (including the M-extension multiply/divide group), OP-IMM,
// LOAD, STORE, BRANCH, JAL, JALR, LUI, AUIPC and SYSTEM. The A, F and D
// opcode groups are not decoded and fall back to a generic ".insn"
// mnemonic with ClassOther; compressed (2-byte) and other non-4-byte
// encodings are not decoded either — full RVC decode adds another ~50
// opcodes for no additional testable behavior in this engine (see
// DESIGN.md).
type Decoded struct {
	Mnemonic string
	Class    Class
	Rd       int
	Rs1      int
	Rs2      int
	Imm      int64 // sb_imm, uj_imm, or i_imm depending on Class
}

func signExtend(v uint32, bits int) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift)) >> shift
}

// Decode decodes a standard 32-bit RISC-V instruction word.
func Decode(bits uint32) Decoded {
	opcode := bits & 0x7f
	rd := int((bits >> 7) & 0x1f)
	funct3 := (bits >> 12) & 0x7
	rs1 := int((bits >> 15) & 0x1f)
	rs2 := int((bits >> 20) & 0x1f)
	funct7 := (bits >> 25) & 0x7f

	switch opcode {
	case 0x33, 0x3b: // R-type (OP, OP-32)
		suffix := ""
		if opcode == 0x3b {
			suffix = "w"
		}
		return Decoded{Mnemonic: rTypeMnemonic(funct3, funct7) + suffix, Class: ClassOther, Rd: rd, Rs1: rs1, Rs2: rs2}

	case 0x13, 0x1b: // I-type arithmetic (OP-IMM, OP-IMM-32)
		suffix := ""
		if opcode == 0x1b {
			suffix = "w"
		}
		imm := signExtend(bits>>20, 12)
		mn := iTypeMnemonic(funct3, funct7, imm) + suffix
		return Decoded{Mnemonic: mn, Class: ClassOther, Rd: rd, Rs1: rs1, Imm: imm}

	case 0x03: // LOAD
		imm := signExtend(bits>>20, 12)
		return Decoded{Mnemonic: loadMnemonic(funct3), Class: ClassLoad, Rd: rd, Rs1: rs1, Imm: imm}

	case 0x23: // STORE
		immLo := (bits >> 7) & 0x1f
		immHi := (bits >> 25) & 0x7f
		imm := signExtend((immHi<<5)|immLo, 12)
		return Decoded{Mnemonic: storeMnemonic(funct3), Class: ClassStore, Rs1: rs1, Rs2: rs2, Imm: imm}

	case 0x63: // BRANCH
		imm := decodeSBImm(bits)
		return Decoded{Mnemonic: branchMnemonic(funct3), Class: ClassBranch, Rs1: rs1, Rs2: rs2, Imm: imm}

	case 0x6f: // JAL
		imm := decodeUJImm(bits)
		return Decoded{Mnemonic: "jal", Class: ClassJAL, Rd: rd, Imm: imm}

	case 0x67: // JALR
		imm := signExtend(bits>>20, 12)
		return Decoded{Mnemonic: "jalr", Class: ClassJALR, Rd: rd, Rs1: rs1, Imm: imm}

	case 0x37: // LUI
		return Decoded{Mnemonic: "lui", Class: ClassOther, Rd: rd, Imm: int64(bits & 0xfffff000)}

	case 0x17: // AUIPC
		return Decoded{Mnemonic: "auipc", Class: ClassOther, Rd: rd, Imm: int64(bits & 0xfffff000)}

	case 0x73: // SYSTEM
		if bits>>20 == 1 {
			return Decoded{Mnemonic: "ebreak", Class: ClassOther}
		}
		return Decoded{Mnemonic: "ecall", Class: ClassOther}

	default:
		return Decoded{Mnemonic: fmt.Sprintf(".insn 0x%08x", bits), Class: ClassOther}
	}
}

func rTypeMnemonic(funct3, funct7 uint32) string {
	switch {
	case funct3 == 0x0 && funct7 == 0x00:
		return "add"
	case funct3 == 0x0 && funct7 == 0x20:
		return "sub"
	case funct7 == 0x01:
		return [8]string{"mul", "mulh", "mulhsu", "mulhu", "div", "divu", "rem", "remu"}[funct3]
	case funct3 == 0x1:
		return "sll"
	case funct3 == 0x2:
		return "slt"
	case funct3 == 0x3:
		return "sltu"
	case funct3 == 0x4:
		return "xor"
	case funct3 == 0x5 && funct7 == 0x00:
		return "srl"
	case funct3 == 0x5 && funct7 == 0x20:
		return "sra"
	case funct3 == 0x6:
		return "or"
	case funct3 == 0x7:
		return "and"
	default:
		return "op"
	}
}

func iTypeMnemonic(funct3, funct7 uint32, imm int64) string {
	switch funct3 {
	case 0x0:
		return "addi"
	case 0x1:
		return "slli"
	case 0x2:
		return "slti"
	case 0x3:
		return "sltiu"
	case 0x4:
		return "xori"
	case 0x5:
		if funct7 == 0x20 {
			return "srai"
		}
		return "srli"
	case 0x6:
		return "ori"
	case 0x7:
		return "andi"
	default:
		return "op-imm"
	}
}

func loadMnemonic(funct3 uint32) string {
	switch funct3 {
	case 0x0:
		return "lb"
	case 0x1:
		return "lh"
	case 0x2:
		return "lw"
	case 0x3:
		return "ld"
	case 0x4:
		return "lbu"
	case 0x5:
		return "lhu"
	case 0x6:
		return "lwu"
	default:
		return "load"
	}
}

func storeMnemonic(funct3 uint32) string {
	switch funct3 {
	case 0x0:
		return "sb"
	case 0x1:
		return "sh"
	case 0x2:
		return "sw"
	case 0x3:
		return "sd"
	default:
		return "store"
	}
}

func branchMnemonic(funct3 uint32) string {
	switch funct3 {
	case 0x0:
		return "beq"
	case 0x1:
		return "bne"
	case 0x4:
		return "blt"
	case 0x5:
		return "bge"
	case 0x6:
		return "bltu"
	case 0x7:
		return "bgeu"
	default:
		return "branch"
	}
}

func decodeSBImm(bits uint32) int64 {
	b12 := (bits >> 31) & 0x1
	b11 := (bits >> 7) & 0x1
	b10_5 := (bits >> 25) & 0x3f
	b4_1 := (bits >> 8) & 0xf
	v := (b12 << 12) | (b11 << 11) | (b10_5 << 5) | (b4_1 << 1)
	return signExtend(v, 13)
}

func decodeUJImm(bits uint32) int64 {
	b20 := (bits >> 31) & 0x1
	b19_12 := (bits >> 12) & 0xff
	b11 := (bits >> 20) & 0x1
	b10_1 := (bits >> 21) & 0x3ff
	v := (b20 << 20) | (b19_12 << 12) | (b11 << 11) | (b10_1 << 1)
	return signExtend(v, 21)
}

// Disasm renders the decoded instruction as the text that follows the
// "(0x<bits>)" field in a trace line, e.g. "add x1, x2, x3".
func (d Decoded) Disasm() string {
	switch d.Class {
	case ClassLoad:
		return fmt.Sprintf("%s x%d, %d(x%d)", d.Mnemonic, d.Rd, d.Imm, d.Rs1)
	case ClassStore:
		return fmt.Sprintf("%s x%d, %d(x%d)", d.Mnemonic, d.Rs2, d.Imm, d.Rs1)
	case ClassBranch:
		return fmt.Sprintf("%s x%d, x%d, %d", d.Mnemonic, d.Rs1, d.Rs2, d.Imm)
	case ClassJAL:
		return fmt.Sprintf("%s x%d, %d", d.Mnemonic, d.Rd, d.Imm)
	case ClassJALR:
		return fmt.Sprintf("%s x%d, x%d, %d", d.Mnemonic, d.Rd, d.Rs1, d.Imm)
	default:
		if d.Rs2 != 0 || d.Mnemonic == "add" || d.Mnemonic == "sub" || d.Mnemonic == "and" ||
			d.Mnemonic == "or" || d.Mnemonic == "xor" || d.Mnemonic == "sll" || d.Mnemonic == "srl" ||
			d.Mnemonic == "sra" || d.Mnemonic == "slt" || d.Mnemonic == "sltu" || d.Mnemonic == "mul" {
			return fmt.Sprintf("%s x%d, x%d, x%d", d.Mnemonic, d.Rd, d.Rs1, d.Rs2)
		}
		if d.Mnemonic == "lui" || d.Mnemonic == "auipc" {
			return fmt.Sprintf("%s x%d, 0x%x", d.Mnemonic, d.Rd, uint32(d.Imm)>>12)
		}
		if d.Mnemonic == "ecall" || d.Mnemonic == "ebreak" {
			return d.Mnemonic
		}
		return fmt.Sprintf("%s x%d, x%d, %d", d.Mnemonic, d.Rd, d.Rs1, d.Imm)
	}
}

// TakenPC computes the branch target per spec.md §4.3: pc + sb_imm for
// BRANCH, pc + uj_imm for JAL, (rs1 + i_imm) & ~1 for JALR.
func TakenPC(d Decoded, pc uint64, rs1Value uint64) (uint64, bool) {
	switch d.Class {
	case ClassBranch:
		return pc + uint64(d.Imm), true
	case ClassJAL:
		return pc + uint64(d.Imm), true
	case ClassJALR:
		return (rs1Value + uint64(d.Imm)) &^ 1, true
	default:
		return 0, false
	}
}
