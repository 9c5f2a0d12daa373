// Package pcfreq implements the PC frequency-vector tracker: a fixed-width
// histogram of retired instructions indexed by a folded, hashed PC.
package pcfreq

import (
	"fmt"

	"github.com/s117/riscv-isa-sim/internal/gzsink"
)

// vecBits and vecSize name the FREQ_VEC_SIZE / PC_SAMPLING_BIT constants
// from spec.md §9 as real Go constants rather than preprocessor macros.
const (
	vecBits = 13
	vecSize = 1 << vecBits
	vecMask = vecSize - 1
)

// Tracker is the per-hart PC-frequency vector instance.
type Tracker struct {
	sink      *gzsink.Sink
	insnInVec uint64
	vec       [vecSize]uint64
}

// Open creates "<dir>/<name>.pcfreq.gz".
func Open(dir, name string) (*Tracker, error) {
	sink, err := gzsink.Open(dir, name, ".pcfreq.gz")
	if err != nil {
		return nil, fmt.Errorf("pcfreq: %w", err)
	}
	return &Tracker{sink: sink}, nil
}

// index folds pc>>2 into a vecBits-wide index by xor'ing the low and next
// bit-bands together, pure and side-effect free per spec.md §9.
func index(pc uint64) uint64 {
	w := pc >> 2
	return ((w >> vecBits) & vecMask) ^ (w & vecMask)
}

// Update accounts one retired instruction at pc.
func (t *Tracker) Update(pc uint64) {
	t.insnInVec++
	t.vec[index(pc)]++
}

// FinishVec emits the current vector ("<total> : <c0> ... <c8191>\n") and
// zeroes all counters. Driven externally (e.g. by the interval-size
// configuration of the outer driver), not by an internal threshold.
func (t *Tracker) FinishVec() error {
	w := t.sink.Writer()
	if _, err := fmt.Fprintf(w, "%d :", t.insnInVec); err != nil {
		return fmt.Errorf("pcfreq: emit: %w", err)
	}
	for _, c := range t.vec {
		if _, err := fmt.Fprintf(w, " %d", c); err != nil {
			return fmt.Errorf("pcfreq: emit: %w", err)
		}
	}
	if _, err := fmt.Fprint(w, "\n"); err != nil {
		return fmt.Errorf("pcfreq: emit: %w", err)
	}
	t.insnInVec = 0
	for i := range t.vec {
		t.vec[i] = 0
	}
	return nil
}

// Close performs a final emit if any instructions were recorded since the
// last FinishVec, then closes the underlying sink.
func (t *Tracker) Close() error {
	if t.insnInVec > 0 {
		if err := t.FinishVec(); err != nil {
			return err
		}
	}
	return t.sink.Close()
}
