package pcfreq

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readEmitted(t *testing.T, dir, name string) string {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, name+".pcfreq.gz"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	defer gz.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, gz); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf.String()
}

func TestIndexFold(t *testing.T) {
	if index(0) != 0 {
		t.Fatalf("index(0) = %d, want 0", index(0))
	}
	// pc>>2 within the low band folds to itself xor 0.
	if got := index(4 * 5); got != 5 {
		t.Fatalf("index(20) = %d, want 5", got)
	}
}

func TestFinishVecResets(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, "v")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tr.Update(0x100)
	tr.Update(0x100)
	tr.Update(0x200)
	if err := tr.FinishVec(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if tr.insnInVec != 0 {
		t.Fatalf("insnInVec not reset: %d", tr.insnInVec)
	}
	for i, c := range tr.vec {
		if c != 0 {
			t.Fatalf("vec[%d] not reset: %d", i, c)
		}
	}

	tr.Update(0x300)
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := readEmitted(t, dir, "v")
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 emitted lines, got %d: %q", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "3 :") {
		t.Fatalf("first line should total 3: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1 :") {
		t.Fatalf("second (final) line should total 1: %q", lines[1])
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		// total + ":" + vecSize counters
		if len(fields) != vecSize+2 {
			t.Fatalf("line has %d fields, want %d", len(fields), vecSize+2)
		}
	}
}
