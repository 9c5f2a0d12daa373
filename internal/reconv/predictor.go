package reconv

// Predictor is the top-level reconvergence predictor: it wires retired
// branch/call/return events from the RISC-V retirement classifier
// (spec.md §4.4.5) into the BFT and RPT.
type Predictor struct {
	BFT *BFT
	RPT *RPT
}

// New returns a Predictor with fresh, dynamic-mode tables.
func New() *Predictor {
	return &Predictor{BFT: NewBFT(), RPT: NewRPT()}
}

// OnBranchRetired handles a retired conditional branch.
func (p *Predictor) OnBranchRetired(pc, npc uint64, taken bool) {
	p.BFT.Train(pc, npc, taken)
	if p.BFT.IsUncommonTarget(pc, npc) {
		p.RPT.DeactivateAll()
		return
	}
	p.RPT.Train(pc)
	if p.RPT.Contains(pc) || !p.BFT.IsFiltered(pc) {
		p.RPT.Activate(pc, taken)
	}
}

// OnIndirectJmpRetired handles a retired indirect jump (a JALR that is
// neither a call nor a return), equivalent to an always-taken branch.
func (p *Predictor) OnIndirectJmpRetired(pc, npc uint64) {
	p.OnBranchRetired(pc, npc, true)
}

// OnOtherInsnRetired trains the RPT against any other retired instruction's
// commit pc.
func (p *Predictor) OnOtherInsnRetired(pc uint64) {
	p.RPT.Train(pc)
}

// OnFunctionCall handles a retired call (JAL rd=ra or JALR rd=ra).
func (p *Predictor) OnFunctionCall(pc, target uint64) {
	p.RPT.IncreaseCallLevel()
}

// OnFunctionReturn handles a retired return (JALR rs1=ra, rd=zero).
func (p *Predictor) OnFunctionReturn(pc, returnAddr uint64) {
	p.RPT.DecreaseCallLevel()
}

// RetireClass names how the RISC-V wrapper classifies a retired
// instruction for the predictor's event dispatch (spec.md §4.4.5).
type RetireClass int

const (
	RetireOther RetireClass = iota
	RetireBranch
	RetireIndirectJump
	RetireCall
	RetireReturn
)

// ClassifyRetired implements the RISC-V wrapper's classification rule:
// JAL rd=ra or JALR rd=ra is a call; JALR rs1=ra,rd=zero is a return;
// other JALR is an indirect jump; BRANCH is a branch; anything else is
// other.
func ClassifyRetired(isJAL, isJALR, isBranch bool, rd, rs1 int) RetireClass {
	const ra = 1
	const zero = 0
	switch {
	case isJAL && rd == ra:
		return RetireCall
	case isJALR && rd == ra:
		return RetireCall
	case isJALR && rs1 == ra && rd == zero:
		return RetireReturn
	case isJALR:
		return RetireIndirectJump
	case isBranch:
		return RetireBranch
	default:
		return RetireOther
	}
}
