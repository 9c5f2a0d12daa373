package dbgtrace

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/s117/riscv-isa-sim/internal/insn"
)

// DirectSink formats and writes each record immediately, byte-for-byte per
// spec.md §4.3. The %08x truncation of 64-bit RS/RD/ADDR/TAKEN_PC values is
// intentional and preserved verbatim — see spec.md §9 open questions.
type DirectSink struct {
	w      *bufio.Writer
	closer io.Closer
}

// NewDirectSink wraps w (and, if non-nil, a Closer for the underlying
// resource) for immediate per-record formatting.
func NewDirectSink(w io.Writer, closer io.Closer) *DirectSink {
	return &DirectSink{w: bufio.NewWriter(w), closer: closer}
}

func (s *DirectSink) Drain(rec *insn.Record) error {
	var d Decoded
	haveDecode := rec.BitsLen == 4 && rec.Good
	if haveDecode {
		d = Decode(uint32(rec.Bits))
	}

	if _, err := fmt.Fprintf(s.w, "S/%d C/%d I/%d PC/0x%016x (0x%08x) %s\n",
		rec.SeqNo, rec.Cycle, rec.InstRet, rec.PC, rec.Bits, disasmText(rec, d, haveDecode)); err != nil {
		return err
	}

	if !rec.Good {
		if _, err := fmt.Fprintf(s.w, "\tINV_FETCH\t0x00000001\n"); err != nil {
			return err
		}
	}

	for i, src := range rec.Src {
		if !src.Valid {
			continue
		}
		if _, err := fmt.Fprintf(s.w, "\tRS%d/%s\t0x%08x\n", i, regName(src.Reg, src.IsFP), regValueBits(src)); err != nil {
			return err
		}
	}

	if rec.Dst.Valid && rec.Dst.Reg != 0 {
		if _, err := fmt.Fprintf(s.w, "\tRD/%s\t0x%08x\n", regName(rec.Dst.Reg, rec.Dst.IsFP), regValueBits(rec.Dst)); err != nil {
			return err
		}
	}

	if haveDecode && (d.Class == ClassLoad || d.Class == ClassStore) && rec.Mem.Valid {
		if _, err := fmt.Fprintf(s.w, "\tADDR\t0x%08x\n", uint32(rec.Mem.VAddr)); err != nil {
			return err
		}
	}

	if haveDecode && (d.Class == ClassBranch || d.Class == ClassJAL || d.Class == ClassJALR) {
		rs1Val := uint64(0)
		for _, src := range rec.Src {
			if src.Valid && !src.IsFP && src.Reg == d.Rs1 {
				rs1Val = src.Value.X
				break
			}
		}
		if target, ok := TakenPC(d, rec.PC, rs1Val); ok {
			if _, err := fmt.Fprintf(s.w, "\tTAKEN_PC\t0x%08x\n", uint32(target)); err != nil {
				return err
			}
		}
	}

	if rec.Exception {
		if _, err := fmt.Fprintf(s.w, "\tEXCEPTION\t1\n"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(s.w, "\tEVEC\t0x%08x\n", uint32(rec.Post.EVec)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(s.w, "\tECAUSE\t0x%08x\n", uint32(rec.Post.ECause)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(s.w, "\tEPC\t0x%08x\n", uint32(rec.Post.EPC)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(s.w, "\tSR\t0x%08x\n", uint32(rec.Post.SR)); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(s.w, "\n")
	return err
}

func disasmText(rec *insn.Record, d Decoded, haveDecode bool) string {
	if !rec.Good {
		return "(bad)"
	}
	if !haveDecode {
		return fmt.Sprintf(".insn.%dbyte", rec.BitsLen)
	}
	return d.Disasm()
}

func regValueBits(r insn.RegRecord) uint32 {
	if r.IsFP {
		return uint32(math.Float64bits(r.Value.F))
	}
	return uint32(r.Value.X)
}

// Close flushes the buffer and closes the underlying resource if one was
// supplied.
func (s *DirectSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
