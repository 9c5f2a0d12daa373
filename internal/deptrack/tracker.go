// Package deptrack implements the instruction-dependency ("poisoning")
// tracker: a supplementary engine that consumes drained insn.Records and
// maintains, per register slot and per memory byte, the set of retiring
// PCs a value's bits currently derive from.
package deptrack

import "github.com/s117/riscv-isa-sim/internal/insn"

// Mode selects the tracker's behavior.
type Mode int

const (
	// Stop disables tracking entirely; Observe is a no-op.
	Stop Mode = iota
	// Poisoning unconditionally marks every retired instruction's
	// destination with the union of its sources' producer sets plus its
	// own pc, building a full static dependency graph.
	Poisoning
	// Propagate does the same, but only when at least one source is
	// currently poisoned; an instruction with no poisoned inputs cleans
	// its destination instead.
	Propagate
)

// Tracker is the per-hart poisoning engine; it owns one RegTracker and one
// MemTracker and is driven synchronously from the same retire loop as the
// other engines.
type Tracker struct {
	Mode Mode
	Reg  *RegTracker
	Mem  *MemTracker
}

// New returns a Tracker running in the given mode.
func New(mode Mode) *Tracker {
	return &Tracker{Mode: mode, Reg: NewRegTracker(), Mem: NewMemTracker()}
}

// Reset clears both the register and memory trackers, leaving Mode
// unchanged.
func (t *Tracker) Reset() {
	t.Reg.Reset()
	t.Mem.Reset()
}

// Observe processes one retired instruction record.
func (t *Tracker) Observe(rec *insn.Record) {
	if t.Mode == Stop {
		return
	}

	union := make(producerSet)
	anyPoisoned := false

	for i := range rec.Src {
		s := rec.Src[i]
		if !s.Valid {
			continue
		}
		if t.Reg.IsPoisoned(s.Reg, s.IsFP) {
			anyPoisoned = true
			unionInto(union, t.Reg.Producers(s.Reg, s.IsFP))
		}
	}
	if rec.Mem.Valid && !rec.Mem.IsWrite {
		if t.Mem.RangePoisoned(rec.Mem.VAddr, rec.Mem.OpSize) {
			anyPoisoned = true
			unionInto(union, t.Mem.Producers(rec.Mem.VAddr, rec.Mem.OpSize))
		}
	}

	if t.Mode == Propagate && !anyPoisoned {
		if rec.Dst.Valid {
			t.Reg.Clear(rec.Dst.Reg, rec.Dst.IsFP)
		}
		if rec.Mem.Valid && rec.Mem.IsWrite {
			t.Mem.Write(rec.Mem.VAddr, rec.Mem.OpSize, nil)
		}
		return
	}

	union[rec.PC] = struct{}{}

	if rec.Dst.Valid {
		t.Reg.Set(rec.Dst.Reg, rec.Dst.IsFP, union)
	}
	if rec.Mem.Valid && rec.Mem.IsWrite {
		t.Mem.Write(rec.Mem.VAddr, rec.Mem.OpSize, union)
	}
}
