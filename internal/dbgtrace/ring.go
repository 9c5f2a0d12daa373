package dbgtrace

import "github.com/s117/riscv-isa-sim/internal/insn"

// RingSink retains only the most recent N drained records, overwriting the
// oldest on overflow; on shutdown it pops them in FIFO order into an
// embedded DirectSink, grounded on the fixed-capacity ring discipline the
// teacher uses for its timeslice writer buffer (internal/timeslice.go).
type RingSink struct {
	buf   []insn.Record
	head  int // next write position
	tail  int // oldest element, only meaningful when full
	count int
	inner *DirectSink
}

// NewRingSink allocates a ring of capacity n up front; it never
// reallocates afterward.
func NewRingSink(n int, inner *DirectSink) *RingSink {
	if n <= 0 {
		panic("dbgtrace: ring capacity must be positive")
	}
	return &RingSink{buf: make([]insn.Record, n), inner: inner}
}

func (r *RingSink) Drain(rec *insn.Record) error {
	n := len(r.buf)
	r.buf[r.head] = *rec
	if r.count < n {
		r.count++
	} else {
		// full: advance tail past the slot we just overwrote
		r.tail = next(r.tail, n)
	}
	r.head = next(r.head, n)
	return nil
}

func next(i, n int) int {
	if i+1 == n {
		return 0
	}
	return i + 1
}

// Close pops every retained record in FIFO (oldest-first) order into the
// embedded direct sink, then closes it.
func (r *RingSink) Close() error {
	n := len(r.buf)
	idx := r.tail
	if r.count < n {
		idx = 0
	}
	for i := 0; i < r.count; i++ {
		rec := r.buf[idx]
		if err := r.inner.Drain(&rec); err != nil {
			return err
		}
		idx = next(idx, n)
	}
	return r.inner.Close()
}
