// Package replay drives the four instrumentation engines from a recorded
// line-oriented instruction trace, standing in for the live event feed a
// real ISA simulator would produce (spec.md §2 item 1: ic_fetch -> execute
// -> accesses -> insn_execute_done, here with no register/memory access
// hooks since a trace line only carries control flow). It exists so the
// driver in cmd/spike has something to run end to end without linking
// against an actual RISC-V core.
package replay

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/s117/riscv-isa-sim/internal/bbv"
	"github.com/s117/riscv-isa-sim/internal/dbgtrace"
	"github.com/s117/riscv-isa-sim/internal/ext"
	"github.com/s117/riscv-isa-sim/internal/pcfreq"
	"github.com/s117/riscv-isa-sim/internal/reconv"
)

// Event is one retired instruction read from a trace line: "<pc> <bits>
// <npc>", three whitespace-separated hex numbers (no 0x prefix). npc is
// the actual next committed pc, which is all a replay trace needs to
// tell a taken branch from a not-taken one or a call from a return.
type Event struct {
	PC   uint64
	Bits uint32
	NPC  uint64
}

// ParseLine parses one trace line. Blank lines and lines starting with
// '#' are the caller's concern to skip; ParseLine itself always expects
// exactly three fields.
func ParseLine(line string) (Event, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Event{}, fmt.Errorf("replay: want 3 fields \"pc bits npc\", got %d in %q", len(fields), line)
	}
	pc, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return Event{}, fmt.Errorf("replay: bad pc %q: %w", fields[0], err)
	}
	bits, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return Event{}, fmt.Errorf("replay: bad bits %q: %w", fields[1], err)
	}
	npc, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Event{}, fmt.Errorf("replay: bad npc %q: %w", fields[2], err)
	}
	return Event{PC: pc, Bits: uint32(bits), NPC: npc}, nil
}

// Driver wires one hart's worth of engine instances together and dispatches
// each replayed Event to all of them in a fixed order: tracer, PC-freqvec,
// BBT, reconvergence predictor, extension. The extension always runs after
// every built-in engine; the built-ins do not run in BBT-first order.
type Driver struct {
	BBV    *bbv.Tracker
	PCFreq *pcfreq.Tracker
	Tracer *dbgtrace.Tracer
	Reconv *reconv.Predictor
	Ext    *ext.Extension

	blockInsns uint64
}

// Step dispatches one retired instruction to every configured engine.
func (d *Driver) Step(ev Event) error {
	dec := dbgtrace.Decode(ev.Bits)

	if d.Tracer != nil {
		if err := d.Tracer.BeforeFetch(ev.PC); err != nil {
			return err
		}
		if err := d.Tracer.BeforeExecute(ev.PC, uint64(ev.Bits), 4); err != nil {
			return err
		}
		if err := d.Tracer.AfterExecute(ev.PC); err != nil {
			return err
		}
	}

	if d.PCFreq != nil {
		d.PCFreq.Update(ev.PC)
	}
	d.blockInsns++

	isTerminator := dec.Class == dbgtrace.ClassBranch || dec.Class == dbgtrace.ClassJAL || dec.Class == dbgtrace.ClassJALR
	if isTerminator && d.BBV != nil {
		if _, err := d.BBV.Record(ev.PC, d.blockInsns); err != nil {
			return err
		}
		d.blockInsns = 0
	} else if isTerminator {
		d.blockInsns = 0
	}

	const ra = 1
	taken := ev.NPC != ev.PC+4

	switch dec.Class {
	case dbgtrace.ClassBranch:
		d.Reconv.OnBranchRetired(ev.PC, ev.NPC, taken)
		d.Ext.OnBranch(ev.PC, ev.NPC, taken)
	case dbgtrace.ClassJALR:
		switch reconv.ClassifyRetired(false, true, false, dec.Rd, dec.Rs1) {
		case reconv.RetireCall:
			d.Reconv.OnFunctionCall(ev.PC, ev.NPC)
		case reconv.RetireReturn:
			d.Reconv.OnFunctionReturn(ev.PC, ev.NPC)
		default:
			d.Reconv.OnIndirectJmpRetired(ev.PC, ev.NPC)
		}
	case dbgtrace.ClassJAL:
		if dec.Rd == ra {
			d.Reconv.OnFunctionCall(ev.PC, ev.NPC)
		} else {
			d.Reconv.OnOtherInsnRetired(ev.PC)
		}
	default:
		d.Reconv.OnOtherInsnRetired(ev.PC)
	}

	d.Ext.OnRetire(ev.PC, uint64(ev.Bits))
	return nil
}

// Run drains every trace line from r through Step until EOF.
func (d *Driver) Run(r io.Reader) (uint64, error) {
	sc := bufio.NewScanner(r)
	var n uint64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := ParseLine(line)
		if err != nil {
			return n, err
		}
		if err := d.Step(ev); err != nil {
			return n, fmt.Errorf("replay: instruction %d (pc %#x): %w", n, ev.PC, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("replay: %w", err)
	}
	return n, nil
}
