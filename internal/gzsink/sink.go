// Package gzsink provides the line-oriented, gzip-compressed output files
// used by the SimPoint BBV tracker, the PC-frequency tracker, and the debug
// trace recorder. Every output path is created with truncation, matching the
// "no files held across processes" resource policy of the instrumentation
// subsystem.
package gzsink

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink is a synchronous, buffered writer over a gzip-compressed file; data
// reaches the file when the buffer fills or on Close.
// Nothing here is safe for concurrent use; every engine that owns a Sink is
// driven from a single goroutine (the simulator's retire loop).
type Sink struct {
	f   *os.File
	gz  *gzip.Writer
	buf *bufio.Writer
}

// Open creates "<dir>/<name><suffix>" (e.g. suffix=".bb.gz"), truncating any
// existing file. Fatal conditions at this layer are always I/O errors per
// the error-handling design; callers that treat them as fatal should wrap
// with enough context to name the path.
func Open(dir, name, suffix string) (*Sink, error) {
	path := filepath.Join(dir, name+suffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("gzsink: open %s: %w", path, err)
	}
	gz := gzip.NewWriter(f)
	return &Sink{
		f:   f,
		gz:  gz,
		buf: bufio.NewWriter(gz),
	}, nil
}

// WriteString writes s verbatim; callers are responsible for any trailing
// newline, since the exact textual format is part of the contract with
// downstream tooling.
func (s *Sink) WriteString(str string) error {
	if _, err := s.buf.WriteString(str); err != nil {
		return fmt.Errorf("gzsink: write: %w", err)
	}
	return nil
}

// Writer exposes the buffered writer directly for callers that build up a
// line with repeated small writes (e.g. the BBT's per-block fields).
func (s *Sink) Writer() io.Writer { return s.buf }

// Close flushes the buffer, the gzip footer, and the underlying file, in
// that order. Short writes at any stage are reported, not swallowed.
func (s *Sink) Close() error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("gzsink: flush: %w", err)
	}
	if err := s.gz.Close(); err != nil {
		return fmt.Errorf("gzsink: close gzip stream: %w", err)
	}
	return s.f.Close()
}
