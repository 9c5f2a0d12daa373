// Package dbgtrace implements the debug trace recorder: a state machine
// that accumulates one insn.Record per retired instruction across the
// simulator's fetch/execute/access hooks, then drains it to a Sink.
package dbgtrace

import (
	"fmt"

	"github.com/s117/riscv-isa-sim/internal/insn"
)

type state int

const (
	stateEmpty state = iota
	stateFetched
	stateExecuting
)

// diagInterval mirrors "a diagnostic line is emitted every 2^24 records"
// from spec.md §4.3.
const diagInterval = 1 << 24

// Sink receives a fully-populated record at drain time.
type Sink interface {
	Drain(rec *insn.Record) error
	Close() error
}

// DiagFunc is invoked every diagInterval drained records as a progress
// diagnostic; nil disables it.
type DiagFunc func(seqno uint64)

// Tracer is the per-hart debug tracer instance. It is not safe for
// concurrent use; all hooks must be called from the retire loop in the
// fixed order documented in spec.md §2.
type Tracer struct {
	sink Sink
	diag DiagFunc

	st  state
	rec insn.Record
}

// New wraps sink in a Tracer ready to receive hook calls. The first
// retired instruction is seqno 1, matching the reference trace format.
func New(sink Sink) *Tracer {
	t := &Tracer{sink: sink}
	t.rec.SeqNo = 1
	t.rec.Cycle = 1
	return t
}

// SetDiagFunc installs the progress-diagnostic callback.
func (t *Tracer) SetDiagFunc(f DiagFunc) { t.diag = f }

// assertionError reports an invariant violation in the hook sequence; per
// spec.md §7 these are bugs, not recoverable conditions.
type assertionError struct {
	msg string
}

func (e *assertionError) Error() string { return "dbgtrace: invariant violation: " + e.msg }

// BeforeFetch handles ic_fetch(pc). If a record is already in flight past
// the fetch stage, entry to execute() below implicitly performs the fetch,
// so this hook is optional on the happy path; calling it out of order is
// an assertion failure.
func (t *Tracer) BeforeFetch(pc uint64) error {
	switch t.st {
	case stateEmpty:
		t.rec.PC = pc
		t.rec.Good = true
		t.st = stateFetched
		return nil
	default:
		return &assertionError{fmt.Sprintf("ic_fetch while in state %d", t.st)}
	}
}

// BeforeExecute handles execute(pc, insn). Performs an implicit ic_fetch if
// skipped.
func (t *Tracer) BeforeExecute(pc uint64, bits uint64, bitsLen int) error {
	switch t.st {
	case stateEmpty:
		t.rec.PC = pc
		t.rec.Good = true
	case stateFetched:
		if t.rec.PC != pc {
			return &assertionError{fmt.Sprintf("pc mismatch: fetch 0x%x vs execute 0x%x", t.rec.PC, pc)}
		}
	default:
		return &assertionError{fmt.Sprintf("execute while in state %d", t.st)}
	}
	t.rec.Bits = bits
	t.rec.BitsLen = bitsLen
	t.rec.Valid = true
	t.st = stateExecuting
	return nil
}

func (t *Tracer) requireExecuting(hook string) error {
	if t.st != stateExecuting {
		return &assertionError{fmt.Sprintf("%s outside EXECUTING (state %d)", hook, t.st)}
	}
	return nil
}

// AfterXPRAccess handles xpr_access(reg, value, role) for integer registers.
func (t *Tracer) AfterXPRAccess(reg int, value uint64, role insn.Role) error {
	if err := t.requireExecuting("xpr_access"); err != nil {
		return err
	}
	return t.setReg(reg, insn.Value{X: value}, false, role)
}

// AfterFPRAccess handles fpr_access(reg, value, role) for FP registers.
func (t *Tracer) AfterFPRAccess(reg int, value float64, role insn.Role) error {
	if err := t.requireExecuting("fpr_access"); err != nil {
		return err
	}
	return t.setReg(reg, insn.Value{IsFP: true, F: value}, true, role)
}

func (t *Tracer) setReg(reg int, v insn.Value, isFP bool, role insn.Role) error {
	if role == insn.RoleDst {
		if t.rec.Dst.Valid {
			return &assertionError{"second destination-register write in one instruction"}
		}
		t.rec.Dst = insn.RegRecord{Valid: true, IsFP: isFP, Reg: reg, Value: v}
		return nil
	}

	idx := int(role)
	if idx < 0 || idx > 2 {
		return &assertionError{"invalid source role"}
	}
	slot := &t.rec.Src[idx]
	if slot.Valid {
		if slot.Reg != reg || slot.IsFP != isFP || slot.Value != v {
			return &assertionError{"source slot written twice with different values"}
		}
		return nil
	}
	*slot = insn.RegRecord{Valid: true, IsFP: isFP, Reg: reg, Value: v}
	return nil
}

// BeforeDCTranslate handles dc_translate(vaddr, is_write); recorded lazily
// once the full access lands in AfterDCAccess.
func (t *Tracer) BeforeDCTranslate(vaddr uint64, isWrite bool) error {
	return t.requireExecuting("dc_translate")
}

// AfterDCAccess handles dc_access(vaddr, paddr, value, size, is_write).
func (t *Tracer) AfterDCAccess(vaddr, paddr, value uint64, size int, isWrite bool) error {
	if err := t.requireExecuting("dc_access"); err != nil {
		return err
	}
	if t.rec.Mem.Valid {
		return &assertionError{"second memory access in one instruction"}
	}
	t.rec.Mem = insn.MemRecord{Valid: true, VAddr: vaddr, PAddr: paddr, Value: value, OpSize: size, IsWrite: isWrite}
	return nil
}

// AfterExecute handles insn_execute_done(pc): drains the in-flight record.
func (t *Tracer) AfterExecute(pc uint64) error {
	if err := t.requireExecuting("insn_execute_done"); err != nil {
		return err
	}
	if t.rec.PC != pc {
		return &assertionError{fmt.Sprintf("pc mismatch at drain: %#x vs %#x", t.rec.PC, pc)}
	}
	return t.drain()
}

// AfterTrap handles take_trap(trap, epc, new_pc). Valid from FETCHED,
// EXECUTING, or EMPTY (the last producing an artificial-interrupt record
// with pc=all-ones, insn_bits=0 per spec.md §3).
func (t *Tracer) AfterTrap(trap uint64, epc, newPC uint64, post insn.PostExecState) error {
	if t.st == stateEmpty {
		t.rec.PC = ^uint64(0)
		t.rec.Bits = 0
		t.rec.BitsLen = 0
		t.rec.Valid = true
		t.rec.Good = true
	}
	t.rec.Exception = true
	t.rec.Post = post
	return t.drain()
}

func (t *Tracer) drain() error {
	rec := t.rec
	if err := t.sink.Drain(&rec); err != nil {
		return fmt.Errorf("dbgtrace: drain: %w", err)
	}
	seqno := t.rec.SeqNo
	t.rec.Reset()
	t.rec.SeqNo = seqno + 1
	t.rec.Cycle = t.rec.SeqNo
	t.st = stateEmpty
	if t.diag != nil && t.rec.SeqNo%diagInterval == 0 {
		t.diag(t.rec.SeqNo)
	}
	return nil
}

// Close flushes the underlying sink (e.g. the ring buffer's FIFO drain).
func (t *Tracer) Close() error {
	return t.sink.Close()
}
