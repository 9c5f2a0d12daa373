package deptrack

import (
	"testing"

	"github.com/s117/riscv-isa-sim/internal/insn"
)

func hasProducer(s producerSet, pc uint64) bool {
	_, ok := s[pc]
	return ok
}

func TestStopModeNeverPoisons(t *testing.T) {
	tr := New(Stop)
	rec := insn.Record{
		PC:  0x100,
		Src: [3]insn.RegRecord{{Valid: true, Reg: 1}},
		Dst: insn.RegRecord{Valid: true, Reg: 2},
	}
	tr.Observe(&rec)
	if tr.Reg.IsPoisoned(2, false) {
		t.Fatalf("Stop mode must never poison a destination")
	}
}

func TestPoisoningModeAlwaysMarksDestination(t *testing.T) {
	tr := New(Poisoning)
	rec := insn.Record{
		PC:  0x200,
		Dst: insn.RegRecord{Valid: true, Reg: 5},
	}
	tr.Observe(&rec)
	if !tr.Reg.IsPoisoned(5, false) {
		t.Fatalf("POISONING mode must poison every destination, even with no poisoned sources")
	}
	if !hasProducer(tr.Reg.Producers(5, false), 0x200) {
		t.Fatalf("destination producer set must include the retiring pc")
	}
}

func TestPoisoningPropagatesThroughSource(t *testing.T) {
	tr := New(Poisoning)
	tr.Observe(&insn.Record{PC: 0x100, Dst: insn.RegRecord{Valid: true, Reg: 1}})

	rec := insn.Record{
		PC:  0x104,
		Src: [3]insn.RegRecord{{Valid: true, Reg: 1}},
		Dst: insn.RegRecord{Valid: true, Reg: 2},
	}
	tr.Observe(&rec)

	producers := tr.Reg.Producers(2, false)
	if !hasProducer(producers, 0x100) || !hasProducer(producers, 0x104) {
		t.Fatalf("producer set for reg 2 = %v, want {0x100, 0x104}", producers)
	}
}

func TestPropagateModeCleansUnpoisonedDestination(t *testing.T) {
	tr := New(Propagate)
	// First poison reg 1 directly: in PROPAGATE mode an instruction with no
	// poisoned source never poisons its destination.
	tr.Reg.Set(1, false, producerSet{0x100: {}})
	if !tr.Reg.IsPoisoned(1, false) {
		t.Fatalf("setup: reg 1 should be poisoned")
	}

	// Overwrite reg 1 from a clean source (no Src entries at all):
	// PROPAGATE must clean it since nothing poisoned flowed in.
	tr.Observe(&insn.Record{PC: 0x104, Dst: insn.RegRecord{Valid: true, Reg: 1}})
	if tr.Reg.IsPoisoned(1, false) {
		t.Fatalf("PROPAGATE mode must clean a destination with no poisoned source")
	}
}

func TestMemoryWriteThenCleanRead(t *testing.T) {
	tr := New(Poisoning)
	rec := insn.Record{
		PC:  0x300,
		Mem: insn.MemRecord{Valid: true, VAddr: 0x1000, OpSize: 4, IsWrite: true},
	}
	tr.Observe(&rec)
	if !tr.Mem.RangePoisoned(0x1000, 4) {
		t.Fatalf("stored bytes should be poisoned")
	}

	// A load of the same range should poison its destination register.
	loadRec := insn.Record{
		PC:  0x304,
		Mem: insn.MemRecord{Valid: true, VAddr: 0x1000, OpSize: 4, IsWrite: false},
		Dst: insn.RegRecord{Valid: true, Reg: 3},
	}
	tr.Observe(&loadRec)
	producers := tr.Reg.Producers(3, false)
	if !hasProducer(producers, 0x300) || !hasProducer(producers, 0x304) {
		t.Fatalf("load destination producers = %v, want {0x300, 0x304}", producers)
	}
}

func TestMemoryPartialOverwriteKeepsRemainingBytesPoisoned(t *testing.T) {
	tr := New(Poisoning)
	tr.Observe(&insn.Record{PC: 0x300, Mem: insn.MemRecord{Valid: true, VAddr: 0x1000, OpSize: 4, IsWrite: true}})

	// Overwrite only the first 2 bytes with a fresh store from a different pc.
	tr.Observe(&insn.Record{PC: 0x308, Mem: insn.MemRecord{Valid: true, VAddr: 0x1000, OpSize: 2, IsWrite: true}})

	if !tr.Mem.IsPoisoned(0x1002) || !tr.Mem.IsPoisoned(0x1003) {
		t.Fatalf("untouched bytes 0x1002-0x1003 must remain poisoned by the original store")
	}
	firstHalf := tr.Mem.Producers(0x1000, 2)
	if !hasProducer(firstHalf, 0x308) || hasProducer(firstHalf, 0x300) {
		t.Fatalf("overwritten bytes should carry only the new store's pc, got %v", firstHalf)
	}
}

func TestResetClearsBothTrackers(t *testing.T) {
	tr := New(Poisoning)
	tr.Observe(&insn.Record{PC: 0x100, Dst: insn.RegRecord{Valid: true, Reg: 1}})
	tr.Observe(&insn.Record{PC: 0x100, Mem: insn.MemRecord{Valid: true, VAddr: 0x2000, OpSize: 1, IsWrite: true}})

	tr.Reset()

	if tr.Reg.IsPoisoned(1, false) {
		t.Fatalf("Reset must clear register tracker")
	}
	if tr.Mem.IsPoisoned(0x2000) {
		t.Fatalf("Reset must clear memory tracker")
	}
}
