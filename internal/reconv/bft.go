// Package reconv implements the reconvergence predictor: the Branch
// Frequency Table (BFT), the Reconvergence Prediction Table (RPT), and the
// top-level predictor that ties retired-branch and call/return events
// together to learn, per static branch, a predicted reconvergence PC.
package reconv

import "fmt"

// bftEntry accumulates per-branch retirement outcomes.
type bftEntry struct {
	totalCount  uint64
	majorTarget uint64
	majorCount  uint64
	byTarget    map[uint64]uint64
}

// BFT is the Branch Frequency Table. In static mode (populated via Load)
// Train is a no-op: the table's counts came from a prior run's CSV dump.
type BFT struct {
	static  bool
	entries map[uint64]*bftEntry
}

// NewBFT returns an empty, dynamic-mode BFT.
func NewBFT() *BFT {
	return &BFT{entries: make(map[uint64]*bftEntry)}
}

func (b *BFT) entry(pc uint64) *bftEntry {
	e, ok := b.entries[pc]
	if !ok {
		e = &bftEntry{byTarget: make(map[uint64]uint64)}
		b.entries[pc] = e
	}
	return e
}

// Train records one retirement of the branch at pc with the given next-pc.
// No-op in static mode.
func (b *BFT) Train(pc, npc uint64, taken bool) {
	if b.static {
		return
	}
	e := b.entry(pc)
	e.totalCount++
	e.byTarget[npc]++
	if c := e.byTarget[npc]; c > e.majorCount {
		e.majorCount = c
		e.majorTarget = npc
	}
}

// IsFiltered reports whether pc should be excluded from RPT activation:
// true unless the branch has more than 30 retirements and its bias
// (majorCount/totalCount) is below 0.95 — i.e. high-bias or
// under-sampled branches are filtered out.
func (b *BFT) IsFiltered(pc uint64) bool {
	e, ok := b.entries[pc]
	if !ok {
		return true
	}
	if e.totalCount > 30 && float64(e.majorCount)/float64(e.totalCount) < 0.95 {
		return false
	}
	return true
}

// IsUncommonTarget is only meaningful in static mode: a dynamic-mode BFT
// (still being trained from a live retirement stream) always reports false.
// In static mode, with fewer than 30 retirements it defaults to "uncommon";
// with a bias >= 0.95 it reports whether npc differs from the learned
// majority target; otherwise false. A static-mode lookup miss is fatal:
// the branch was never recorded in the loaded table.
func (b *BFT) IsUncommonTarget(pc, npc uint64) bool {
	if !b.static {
		return false
	}
	e, ok := b.entries[pc]
	if !ok {
		panic(fmt.Sprintf("reconv: static BFT lookup miss for branch pc 0x%x", pc))
	}
	if e.totalCount < 30 {
		return true
	}
	bias := float64(e.majorCount) / float64(e.totalCount)
	if bias >= 0.95 {
		return npc != e.majorTarget
	}
	return false
}

// TakenNotTaken reports retirement counts split by whether the target was
// the fallthrough pc+4 (not-taken) or anything else (taken), used by the
// RPT CSV dump to populate TakenCnt/NTakenCnt.
func (b *BFT) TakenNotTaken(branchPC uint64) (taken, notTaken uint64) {
	e, ok := b.entries[branchPC]
	if !ok {
		return 0, 0
	}
	notTaken = e.byTarget[branchPC+4]
	taken = e.totalCount - notTaken
	return taken, notTaken
}

// Branches returns every branch PC with recorded data, for CSV dump
// iteration; callers should sort before emitting for a stable dump.
func (b *BFT) Branches() []uint64 {
	out := make([]uint64, 0, len(b.entries))
	for pc := range b.entries {
		out = append(out, pc)
	}
	return out
}
