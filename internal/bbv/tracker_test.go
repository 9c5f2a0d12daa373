package bbv

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func readAll(t *testing.T, dir, name string) string {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, name+".bb.gz"))
	if err != nil {
		t.Fatalf("open emitted file: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, gz); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf.String()
}

func TestIntervalBoundary(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, "test", 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	dumped, err := tr.Record(0x100, 4)
	if err != nil || dumped {
		t.Fatalf("event 1: dumped=%v err=%v", dumped, err)
	}
	dumped, err = tr.Record(0x200, 6)
	if err != nil || dumped {
		t.Fatalf("event 2: dumped=%v err=%v", dumped, err)
	}
	dumped, err = tr.Record(0x300, 3)
	if err != nil || !dumped {
		t.Fatalf("event 3: dumped=%v err=%v", dumped, err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := readAll(t, dir, "test")
	want := "T:1:4   :2:6   :3:3   \n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBlockIDInjective(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, "inj", 1000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	pcs := []uint64{0x1000, 0x2000, 0x3000, 0x1000, 0x4000}
	seen := map[uint64]int{}
	for _, pc := range pcs {
		if _, err := tr.Record(pc, 1); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	for b, n := range tr.buckets {
		_ = b
		for ; n != nil; n = n.next {
			if id, ok := seen[n.pc]; ok && id != n.bbID {
				t.Fatalf("pc %x reassigned id", n.pc)
			}
			seen[n.pc] = n.bbID
		}
	}
	ids := map[int]bool{}
	for _, id := range seen {
		if ids[id] {
			t.Fatalf("duplicate bb_id %d", id)
		}
		ids[id] = true
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestFinalPartialIntervalFlushed(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, "partial", 1000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := tr.Record(0x10, 5); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got := readAll(t, dir, "partial")
	want := "T:1:5   \n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
