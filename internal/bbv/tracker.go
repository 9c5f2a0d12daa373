// Package bbv implements the SimPoint basic-block vector tracker: a
// chained hash from a basic block's terminating PC to a stable block id,
// emitting a sparse frequency vector every interval_size dynamic
// instructions.
package bbv

import (
	"fmt"

	"github.com/s117/riscv-isa-sim/internal/gzsink"
)

// bbTableSize is the number of hash buckets; tuned for the chain depth the
// teacher's own hash-backed lookups (e.g. the TLB bucket count in
// internal/hv/riscv/ccvm) keep small in practice.
const bbTableSize = 4096

type blockNode struct {
	pc    uint64
	bbID  int
	count uint64
	next  *blockNode
}

// Tracker is the per-hart BBT instance. It owns a gzip sink and must be
// driven synchronously from the retire loop; it is not safe for concurrent
// use.
type Tracker struct {
	sink         *gzsink.Sink
	intervalSize uint64
	dynInst      uint64

	buckets [bbTableSize]*blockNode
	nextID  int

	// scratch is reused across emits to avoid reallocating the flat
	// bb-id -> node view; sized to hold nextID entries.
	scratch []*blockNode
}

// Open creates "<dir>/<name>.bb.gz" and returns a ready-to-use Tracker.
func Open(dir, name string, intervalSize uint64) (*Tracker, error) {
	sink, err := gzsink.Open(dir, name, ".bb.gz")
	if err != nil {
		return nil, fmt.Errorf("bbv: %w", err)
	}
	return &Tracker{sink: sink, intervalSize: intervalSize}, nil
}

func bucketOf(pc uint64) uint64 {
	return (pc >> 2) % bbTableSize
}

// Record accounts count instructions against the block terminating at pc,
// assigning a new block id on first appearance. It returns true when this
// call crossed an interval boundary and triggered an emit.
func (t *Tracker) Record(pc uint64, count uint64) (bool, error) {
	b := bucketOf(pc)
	for n := t.buckets[b]; n != nil; n = n.next {
		if n.pc == pc {
			n.count += count
			return t.advance(count)
		}
	}

	node := &blockNode{pc: pc, bbID: t.nextID, count: count}
	t.nextID++
	node.next = t.buckets[b]
	t.buckets[b] = node

	return t.advance(count)
}

func (t *Tracker) advance(count uint64) (bool, error) {
	t.dynInst += count
	if t.dynInst <= t.intervalSize {
		return false, nil
	}
	t.dynInst -= t.intervalSize
	if err := t.emit(); err != nil {
		return true, err
	}
	return true, nil
}

// emit walks every chain once to build a flat bb_id -> node view (emits are
// infrequent relative to updates, so this O(n) rebuild is cheap), then
// writes a leading "T" followed by one ":<id+1>:<count>   " field per block
// with a non-zero count, in ascending bb_id order, and zeroes every block's
// count.
func (t *Tracker) emit() error {
	if cap(t.scratch) < t.nextID {
		t.scratch = make([]*blockNode, t.nextID)
	} else {
		t.scratch = t.scratch[:t.nextID]
		for i := range t.scratch {
			t.scratch[i] = nil
		}
	}
	for _, n := range t.buckets {
		for ; n != nil; n = n.next {
			t.scratch[n.bbID] = n
		}
	}

	w := t.sink.Writer()
	if _, err := fmt.Fprint(w, "T"); err != nil {
		return fmt.Errorf("bbv: emit: %w", err)
	}
	for id, n := range t.scratch {
		if n == nil || n.count == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, ":%d:%d   ", id+1, n.count); err != nil {
			return fmt.Errorf("bbv: emit: %w", err)
		}
		n.count = 0
	}
	if _, err := fmt.Fprint(w, "\n"); err != nil {
		return fmt.Errorf("bbv: emit: %w", err)
	}
	return nil
}

// Close drains a final, possibly-incomplete interval if any block has a
// non-zero count, then closes the underlying sink. Matches the shutdown
// behavior in spec.md §5: BBT writes a final line iff the bb-id pool is
// non-empty and counters are non-zero.
func (t *Tracker) Close() error {
	nonEmpty := false
	for _, n := range t.buckets {
		for ; n != nil; n = n.next {
			if n.count > 0 {
				nonEmpty = true
				break
			}
		}
		if nonEmpty {
			break
		}
	}
	if nonEmpty {
		if err := t.emit(); err != nil {
			return err
		}
	}
	return t.sink.Close()
}
