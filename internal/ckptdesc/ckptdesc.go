// Package ckptdesc reads checkpoint-descriptor files: the simple
// "<name>: <skip_amount>" listing that tells the driver which checkpoints
// to take and at what retired-instruction count.
package ckptdesc

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Entry is one checkpoint descriptor: take a checkpoint named Name after
// SkipAmount instructions have retired.
type Entry struct {
	Name       string
	SkipAmount uint64
}

// Parse reads a checkpoint-descriptor file: one "<name>: <skip_amount>"
// line per checkpoint. Names must match [A-Za-z0-9_.-]+ and skip amounts
// must be unique; the returned slice is sorted ascending by SkipAmount.
// Any malformed line is a fatal parse error.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	seen := make(map[uint64]string)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			return nil, fmt.Errorf("ckptdesc: line %d: missing ':' separator: %q", lineNo, line)
		}
		name := strings.TrimSpace(line[:idx])
		amountStr := strings.TrimSpace(line[idx+1:])

		if !nameRe.MatchString(name) {
			return nil, fmt.Errorf("ckptdesc: line %d: invalid checkpoint name %q", lineNo, name)
		}
		amount, err := strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ckptdesc: line %d: invalid skip amount %q: %w", lineNo, amountStr, err)
		}
		if prior, dup := seen[amount]; dup {
			return nil, fmt.Errorf("ckptdesc: line %d: skip amount %d already used by %q", lineNo, amount, prior)
		}
		seen[amount] = name

		entries = append(entries, Entry{Name: name, SkipAmount: amount})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ckptdesc: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].SkipAmount < entries[j].SkipAmount })
	return entries, nil
}
