package reconv

import "fmt"

// maxCallDepth bounds the activation stack; initDepth sits at the midpoint
// so a branch's training can "return" past its own activation depth before
// overflowing the low end, matching spec.md §3.
const (
	maxCallDepth = 256
	initDepth    = maxCallDepth / 2
)

// RPT is the Reconvergence Prediction Table: one rptEntry per static
// branch PC, trained under a call-depth-scoped activation stack.
type RPT struct {
	entries map[uint64]*rptEntry
	stack   []map[uint64]uint8
	depth   int
}

// NewRPT returns an empty RPT with the activation stack reset to its
// initial depth.
func NewRPT() *RPT {
	r := &RPT{entries: make(map[uint64]*rptEntry)}
	r.Reset()
	return r
}

// Reset returns the activation stack to its initial depth and clears every
// per-depth activation map; the static branch-PC -> entry table is left
// untouched.
func (r *RPT) Reset() {
	r.stack = make([]map[uint64]uint8, maxCallDepth)
	for i := range r.stack {
		r.stack[i] = nil
	}
	r.stack[initDepth] = make(map[uint64]uint8)
	r.depth = initDepth
}

// Contains reports whether pc has ever been activated.
func (r *RPT) Contains(pc uint64) bool {
	_, ok := r.entries[pc]
	return ok
}

func (r *RPT) entry(pc uint64) *rptEntry {
	e, ok := r.entries[pc]
	if !ok {
		e = newRPTEntry(pc)
		r.entries[pc] = e
	}
	return e
}

// Activate records pc as trained at the current depth (snapshotting its
// prior status on first activation at this depth) and trains the entry for
// a new dynamic instance.
func (r *RPT) Activate(pc uint64, taken bool) {
	e := r.entry(pc)
	m := r.stack[r.depth]
	if _, recorded := m[pc]; !recorded {
		m[pc] = e.increaseCallLevel()
	}
	e.activate(taken)
}

// Train feeds commitPC to every entry recorded at the current depth.
func (r *RPT) Train(commitPC uint64) {
	for pc := range r.stack[r.depth] {
		r.entries[pc].train(commitPC)
	}
}

// DeactivateAll calls earlyDeactivate on every entry recorded at the
// current depth without popping it.
func (r *RPT) DeactivateAll() {
	for pc := range r.stack[r.depth] {
		r.entries[pc].earlyDeactivate()
	}
}

// IncreaseCallLevel descends one call level, starting the new depth's
// activation map empty. Fatal (panics) if the static depth limit is
// exceeded, per spec.md §7's "depth stack overflow" invariant violation.
func (r *RPT) IncreaseCallLevel() {
	r.depth++
	if r.depth >= maxCallDepth {
		panic(fmt.Sprintf("reconv: RPT activation stack overflow at depth %d", r.depth))
	}
	r.stack[r.depth] = make(map[uint64]uint8)
}

// DecreaseCallLevel restores every entry recorded at the current depth to
// its pre-call snapshot, then pops the depth.
func (r *RPT) DecreaseCallLevel() {
	for pc, saved := range r.stack[r.depth] {
		r.entries[pc].decreaseCallLevel(saved)
	}
	r.stack[r.depth] = nil
	r.depth--
	if r.depth < 0 {
		panic("reconv: RPT activation stack underflow")
	}
	if r.stack[r.depth] == nil {
		r.stack[r.depth] = make(map[uint64]uint8)
	}
}

// Depth reports the current activation-stack depth, for diagnostics.
func (r *RPT) Depth() int { return r.depth }

// Predict returns the learned prediction for pc, and whether pc has ever
// been activated.
func (r *RPT) Predict(pc uint64) (Prediction, bool) {
	e, ok := r.entries[pc]
	if !ok {
		return Prediction{}, false
	}
	return e.makePrediction(), true
}
