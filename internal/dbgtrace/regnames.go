package dbgtrace

// intRegNames is the RISC-V calling-convention ABI name for each of the 32
// integer registers, grounded on the name table the teacher's RV64
// interpreter uses for register dumps (internal/hv/riscv/rv64/boot_test.go).
var intRegNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// fpRegNames is the ABI name table for the 32 floating-point registers.
var fpRegNames = [32]string{
	"ft0", "ft1", "ft2", "ft3", "ft4", "ft5", "ft6", "ft7",
	"fs0", "fs1", "fa0", "fa1", "fa2", "fa3", "fa4", "fa5",
	"fa6", "fa7", "fs2", "fs3", "fs4", "fs5", "fs6", "fs7",
	"fs8", "fs9", "fs10", "fs11", "ft8", "ft9", "ft10", "ft11",
}

// regName resolves a register slot to its printable name for the RS/RD
// trace lines.
func regName(idx int, isFP bool) string {
	if idx < 0 || idx > 31 {
		return "x?"
	}
	if isFP {
		return fpRegNames[idx]
	}
	return intRegNames[idx]
}
