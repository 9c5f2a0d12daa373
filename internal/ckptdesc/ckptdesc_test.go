package ckptdesc

import (
	"strings"
	"testing"
)

func TestParseSortsBySkipAmount(t *testing.T) {
	in := "warmup: 500000\nmain-loop: 100000\ntail: 900000\n"
	got, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Entry{
		{Name: "main-loop", SkipAmount: 100000},
		{Name: "warmup", SkipAmount: 500000},
		{Name: "tail", SkipAmount: 900000},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseRejectsDuplicateSkipAmount(t *testing.T) {
	in := "a: 100\nb: 100\n"
	if _, err := Parse(strings.NewReader(in)); err == nil {
		t.Fatalf("expected error for duplicate skip amount")
	}
}

func TestParseRejectsBadName(t *testing.T) {
	in := "bad name!: 100\n"
	if _, err := Parse(strings.NewReader(in)); err == nil {
		t.Fatalf("expected error for invalid checkpoint name")
	}
}

func TestParseRejectsBadAmount(t *testing.T) {
	in := "a: not-a-number\n"
	if _, err := Parse(strings.NewReader(in)); err == nil {
		t.Fatalf("expected error for unparsable skip amount")
	}
}

func TestParseSkipsBlankLines(t *testing.T) {
	in := "a: 1\n\n\nb: 2\n"
	got, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
}
