package reconv

// rptEntry is one per static branch PC. below/above/rebound hold the
// persistent candidate state; the six active/reached booleans and
// lastBranchTaken are scoped to the current call depth and are what the
// RPT's activation stack snapshots and restores across calls/returns.
type rptEntry struct {
	branchPC        uint64
	lastBranchTaken bool

	below, above, rebound potential

	belowActive, aboveActive, reboundActive    bool
	belowReached, aboveReached, reboundReached bool

	activationCount uint64
}

// newRPTEntry builds a freshly-allocated entry per spec.md §4.4.1: Below
// and Rebound start at branchPC+4 with ReachedFirst and both AR bits set;
// Above starts invalid.
func newRPTEntry(branchPC uint64) *rptEntry {
	base := potential{pc: branchPC + 4, reachedFirst: true, alwaysReachedTaken: true, alwaysReachedNTaken: true}
	return &rptEntry{
		branchPC: branchPC,
		below:    base,
		above:    potential{pc: Invalid, reachedFirst: true, alwaysReachedTaken: true, alwaysReachedNTaken: true},
		rebound:  base,
	}
}

// anyActive reports whether any candidate is currently active.
func (e *rptEntry) anyActive() bool {
	return e.belowActive || e.aboveActive || e.reboundActive
}

// activate trains all three candidates as freshly activated for a new
// dynamic instance of this branch.
func (e *rptEntry) activate(taken bool) {
	if e.anyActive() {
		if e.lastBranchTaken {
			e.below.alwaysReachedTaken = false
			e.above.alwaysReachedTaken = false
			e.rebound.alwaysReachedTaken = false
		} else {
			e.below.alwaysReachedNTaken = false
			e.above.alwaysReachedNTaken = false
			e.rebound.alwaysReachedNTaken = false
		}
	}
	e.belowActive, e.aboveActive, e.reboundActive = true, true, true
	e.belowReached, e.aboveReached, e.reboundReached = false, false, false
	e.lastBranchTaken = taken
	e.activationCount++
}

// updateCandidate applies the common reset discipline used when a
// candidate's potential_pc advances to commitPC: the new pc, a cleared
// HitReturn, both AR bits set, ReachedFirst set on all three candidates,
// and the candidate deactivated.
func (e *rptEntry) updateCandidate(p *potential, active *bool, commitPC uint64) {
	p.pc = commitPC
	p.hitReturn = false
	p.alwaysReachedTaken = true
	p.alwaysReachedNTaken = true
	e.below.reachedFirst = true
	e.above.reachedFirst = true
	e.rebound.reachedFirst = true
	*active = false
}

// train feeds one committed pc to the currently-active candidates.
func (e *rptEntry) train(commitPC uint64) {
	if e.belowActive && e.below.pc == commitPC {
		e.belowReached = true
		e.belowActive = false
		if !e.aboveReached && !e.reboundReached {
			e.above.reachedFirst = false
			e.rebound.reachedFirst = false
		}
	} else if e.belowActive && e.below.pc < commitPC {
		e.updateCandidate(&e.below, &e.belowActive, commitPC)
		e.rebound.pc = e.branchPC + 4
	}

	if e.aboveActive && commitPC < e.branchPC {
		if e.above.pc == Invalid || e.above.pc < commitPC {
			e.updateCandidate(&e.above, &e.aboveActive, commitPC)
		} else if e.above.pc == commitPC {
			e.aboveReached = true
		}
	}

	if e.reboundActive {
		if e.rebound.pc == commitPC {
			e.reboundReached = true
		} else if e.belowReached && e.branchPC < commitPC && commitPC < e.below.pc && commitPC > e.rebound.pc {
			e.updateCandidate(&e.rebound, &e.reboundActive, commitPC)
		}
	}
}

// statusBits packs the seven depth-scoped bits (six active/reached plus
// lastBranchTaken) for the RPT activation stack to snapshot and restore.
func (e *rptEntry) statusBits() uint8 {
	var b uint8
	if e.belowActive {
		b |= 1 << 0
	}
	if e.aboveActive {
		b |= 1 << 1
	}
	if e.reboundActive {
		b |= 1 << 2
	}
	if e.belowReached {
		b |= 1 << 3
	}
	if e.aboveReached {
		b |= 1 << 4
	}
	if e.reboundReached {
		b |= 1 << 5
	}
	if e.lastBranchTaken {
		b |= 1 << 6
	}
	return b
}

func (e *rptEntry) restoreStatusBits(b uint8) {
	e.belowActive = b&(1<<0) != 0
	e.aboveActive = b&(1<<1) != 0
	e.reboundActive = b&(1<<2) != 0
	e.belowReached = b&(1<<3) != 0
	e.aboveReached = b&(1<<4) != 0
	e.reboundReached = b&(1<<5) != 0
	e.lastBranchTaken = b&(1<<6) != 0
}

// increaseCallLevel snapshots the seven status bits and clears the six
// active/reached bits, leaving the candidates themselves untouched.
func (e *rptEntry) increaseCallLevel() uint8 {
	saved := e.statusBits()
	e.belowActive, e.aboveActive, e.reboundActive = false, false, false
	e.belowReached, e.aboveReached, e.reboundReached = false, false, false
	return saved
}

// decreaseCallLevel marks every currently-active candidate as having hit a
// return, clears the AR bit matching the last observed outcome, then
// restores the outer depth's snapshot.
func (e *rptEntry) decreaseCallLevel(saved uint8) {
	clear := func(p *potential, active bool) {
		if !active {
			return
		}
		p.hitReturn = true
		if e.lastBranchTaken {
			p.alwaysReachedTaken = false
		} else {
			p.alwaysReachedNTaken = false
		}
	}
	clear(&e.below, e.belowActive)
	clear(&e.above, e.aboveActive)
	clear(&e.rebound, e.reboundActive)
	e.restoreStatusBits(saved)
}

// earlyDeactivate clears all three active flags without touching reached
// or the persistent candidate state; used when the BFT flags an uncommon
// branch target.
func (e *rptEntry) earlyDeactivate() {
	e.belowActive, e.aboveActive, e.reboundActive = false, false, false
}

// Reason codes for the RPT CSV dump.
const (
	ReasonAllHitReturn    = 1
	ReasonReachFirst      = 2
	ReasonAlwaysReachBoth = 3
	ReasonAlwaysReachOne  = 4
	ReasonFallbackBelow   = 5
)

// Prediction is the result of makePrediction.
type Prediction struct {
	Kind   candidateKind
	IsRet  bool
	PC     uint64
	Reason int
}

// makePrediction applies the five rules in order; the first match wins.
func (e *rptEntry) makePrediction() Prediction {
	if e.below.hitReturn && e.above.hitReturn && e.rebound.hitReturn {
		return Prediction{IsRet: true, Reason: ReasonAllHitReturn}
	}

	if e.below.reachedFirst {
		return Prediction{Kind: candBelow, PC: e.below.pc, Reason: ReasonReachFirst}
	}
	if e.above.reachedFirst {
		return Prediction{Kind: candAbove, PC: e.above.pc, Reason: ReasonReachFirst}
	}
	if e.rebound.reachedFirst {
		return Prediction{Kind: candRebound, PC: e.rebound.pc, Reason: ReasonReachFirst}
	}

	if e.below.alwaysReachedTaken && e.below.alwaysReachedNTaken {
		return Prediction{Kind: candBelow, PC: e.below.pc, Reason: ReasonAlwaysReachBoth}
	}
	if e.above.alwaysReachedTaken && e.above.alwaysReachedNTaken {
		return Prediction{Kind: candAbove, PC: e.above.pc, Reason: ReasonAlwaysReachBoth}
	}
	if e.rebound.alwaysReachedTaken && e.rebound.alwaysReachedNTaken {
		return Prediction{Kind: candRebound, PC: e.rebound.pc, Reason: ReasonAlwaysReachBoth}
	}

	if e.below.alwaysReachedTaken || e.below.alwaysReachedNTaken {
		return Prediction{Kind: candBelow, PC: e.below.pc, Reason: ReasonAlwaysReachOne}
	}
	if e.above.alwaysReachedTaken || e.above.alwaysReachedNTaken {
		return Prediction{Kind: candAbove, PC: e.above.pc, Reason: ReasonAlwaysReachOne}
	}
	if e.rebound.alwaysReachedTaken || e.rebound.alwaysReachedNTaken {
		return Prediction{Kind: candRebound, PC: e.rebound.pc, Reason: ReasonAlwaysReachOne}
	}

	return Prediction{Kind: candBelow, PC: e.below.pc, Reason: ReasonFallbackBelow}
}
