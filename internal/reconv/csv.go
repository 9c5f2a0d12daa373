package reconv

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const bftHeader = "BranchPC,TotalCnt,BiasRate,MajorTarget,MajorCnt,Details..."
const rptHeader = "Branch,ReconvPoint,TakenCnt,NTakenCnt,RecCat,Reason"

// DumpBFT writes the Branch Frequency Table as CSV. Target maps are sorted
// by target address first, so repeated dumps of an unchanged table are
// byte-identical.
func (b *BFT) DumpBFT(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(strings.Split(bftHeader, ",")); err != nil {
		return fmt.Errorf("reconv: bft dump: %w", err)
	}

	branches := b.Branches()
	sort.Slice(branches, func(i, j int) bool { return branches[i] < branches[j] })

	for _, pc := range branches {
		e := b.entries[pc]
		bias := 0.0
		if e.totalCount > 0 {
			bias = float64(e.majorCount) / float64(e.totalCount)
		}
		row := []string{
			fmt.Sprintf("0x%x", pc),
			strconv.FormatUint(e.totalCount, 10),
			strconv.FormatFloat(bias, 'f', -1, 64),
			fmt.Sprintf("0x%x", e.majorTarget),
			strconv.FormatUint(e.majorCount, 10),
		}

		targets := make([]uint64, 0, len(e.byTarget))
		for t := range e.byTarget {
			targets = append(targets, t)
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
		for _, t := range targets {
			row = append(row, fmt.Sprintf("0x%x:%d", t, e.byTarget[t]))
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("reconv: bft dump: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadBFT reads a CSV produced by DumpBFT and returns a static-mode BFT
// (Train becomes a no-op). Validation failures — a target-count sum that
// doesn't match TotalCnt, or any per-target count exceeding MajorCnt — are
// fatal per spec.md §7.
func LoadBFT(r io.Reader) (*BFT, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reconv: bft load: %w", err)
	}
	if len(rows) == 0 || strings.Join(rows[0], ",") != bftHeader {
		return nil, fmt.Errorf("reconv: bft load: header mismatch")
	}

	b := &BFT{static: true, entries: make(map[uint64]*bftEntry)}
	for _, row := range rows[1:] {
		if len(row) < 5 {
			return nil, fmt.Errorf("reconv: bft load: short row %v", row)
		}
		pc, err := strconv.ParseUint(strings.TrimPrefix(row[0], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("reconv: bft load: bad branch pc %q: %w", row[0], err)
		}
		total, err := strconv.ParseUint(row[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("reconv: bft load: bad total %q: %w", row[1], err)
		}
		majorTarget, err := strconv.ParseUint(strings.TrimPrefix(row[3], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("reconv: bft load: bad major target %q: %w", row[3], err)
		}
		majorCount, err := strconv.ParseUint(row[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("reconv: bft load: bad major count %q: %w", row[4], err)
		}

		e := &bftEntry{totalCount: total, majorTarget: majorTarget, majorCount: majorCount, byTarget: make(map[uint64]uint64)}
		var sum uint64
		for _, detail := range row[5:] {
			parts := strings.SplitN(detail, ":", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("reconv: bft load: bad detail %q", detail)
			}
			target, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 64)
			if err != nil {
				return nil, fmt.Errorf("reconv: bft load: bad detail target %q: %w", parts[0], err)
			}
			count, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("reconv: bft load: bad detail count %q: %w", parts[1], err)
			}
			if count > majorCount {
				return nil, fmt.Errorf("reconv: bft load: target 0x%x count %d exceeds major count %d", target, count, majorCount)
			}
			e.byTarget[target] = count
			sum += count
		}
		if sum != total {
			return nil, fmt.Errorf("reconv: bft load: branch 0x%x detail sum %d != total %d", pc, sum, total)
		}

		b.entries[pc] = e
	}
	return b, nil
}

// DumpRPT writes the Reconvergence Prediction Table CSV, one row per RPT
// entry. TakenCnt/NTakenCnt come from bft (the RPT itself tracks no
// cumulative counters, only the learned candidates); a branch bft has no
// data for reports 0/0. When ignoreUncommon is true, branches that
// bft.IsFiltered reports as filtered at dump time are skipped — this is
// the RPT_Result_IgnoreUncommonPath.csv variant named in spec.md §6. A
// branch that was unfiltered earlier in the run and filtered now is
// skipped even though its candidates were trained.
func (r *RPT) DumpRPT(w io.Writer, bft *BFT, ignoreUncommon bool) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(strings.Split(rptHeader, ",")); err != nil {
		return fmt.Errorf("reconv: rpt dump: %w", err)
	}

	branches := make([]uint64, 0, len(r.entries))
	for pc := range r.entries {
		branches = append(branches, pc)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i] < branches[j] })

	for _, pc := range branches {
		if ignoreUncommon && bft.IsFiltered(pc) {
			continue
		}
		e := r.entries[pc]
		pred := e.makePrediction()
		taken, ntaken := bft.TakenNotTaken(pc)

		reconvPoint := "RETURN"
		category := "Return"
		if !pred.IsRet {
			reconvPoint = fmt.Sprintf("0x%x", pred.PC)
			category = pred.Kind.String()
		}

		row := []string{
			fmt.Sprintf("0x%x", pc),
			reconvPoint,
			strconv.FormatUint(taken, 10),
			strconv.FormatUint(ntaken, 10),
			category,
			reasonText(pred.Reason),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("reconv: rpt dump: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func reasonText(code int) string {
	switch code {
	case ReasonAllHitReturn:
		return "[1] All hit return"
	case ReasonReachFirst:
		return "[2] Reach first"
	case ReasonAlwaysReachBoth:
		return "[3] Always reach whether taken or not taken"
	case ReasonAlwaysReachOne:
		return "[4] Always reach only taken or not taken"
	case ReasonFallbackBelow:
		return "[5] Fallback to BelowPotential"
	default:
		return "unknown"
	}
}

// StaticPredictor reads an RPT CSV dump (produced by DumpRPT) and offers
// read-only Contains/Predict lookups, for a second process that wants the
// learned reconvergence points without re-training.
type StaticPredictor struct {
	predictions map[uint64]Prediction
}

// LoadStaticPredictor parses an RPT CSV dump. The header must match the
// producer's exactly.
func LoadStaticPredictor(r io.Reader) (*StaticPredictor, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reconv: static predictor load: %w", err)
	}
	if len(rows) == 0 || strings.Join(rows[0], ",") != rptHeader {
		return nil, fmt.Errorf("reconv: static predictor load: header mismatch")
	}

	sp := &StaticPredictor{predictions: make(map[uint64]Prediction)}
	for _, row := range rows[1:] {
		if len(row) != 6 {
			return nil, fmt.Errorf("reconv: static predictor load: bad row %v", row)
		}
		pc, err := strconv.ParseUint(strings.TrimPrefix(row[0], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("reconv: static predictor load: bad branch %q: %w", row[0], err)
		}
		pred := Prediction{}
		if row[1] == "RETURN" {
			pred.IsRet = true
		} else {
			target, err := strconv.ParseUint(strings.TrimPrefix(row[1], "0x"), 16, 64)
			if err != nil {
				return nil, fmt.Errorf("reconv: static predictor load: bad reconv point %q: %w", row[1], err)
			}
			pred.PC = target
			switch row[4] {
			case "Below":
				pred.Kind = candBelow
			case "Above":
				pred.Kind = candAbove
			case "Rebound":
				pred.Kind = candRebound
			}
		}
		sp.predictions[pc] = pred
	}
	return sp, nil
}

// Contains reports whether pc appears in the loaded dump.
func (sp *StaticPredictor) Contains(pc uint64) bool {
	_, ok := sp.predictions[pc]
	return ok
}

// Predict returns the dump's recorded prediction for pc.
func (sp *StaticPredictor) Predict(pc uint64) (Prediction, bool) {
	p, ok := sp.predictions[pc]
	return p, ok
}
