// Command spike drives the four instrumentation engines (BBT, PC-freqvec,
// debug tracer, reconvergence predictor) from a replayed instruction
// trace, and writes their artifacts exactly as a real RISC-V simulator's
// retire loop would. Linking against a live CPU core is out of scope
// (spec.md §1) — see internal/replay's doc comment for how this driver
// substitutes a recorded trace for that event feed.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/s117/riscv-isa-sim/internal/bbv"
	"github.com/s117/riscv-isa-sim/internal/ckptdesc"
	"github.com/s117/riscv-isa-sim/internal/clierr"
	"github.com/s117/riscv-isa-sim/internal/dbgtrace"
	"github.com/s117/riscv-isa-sim/internal/ext"
	"github.com/s117/riscv-isa-sim/internal/gzsink"
	"github.com/s117/riscv-isa-sim/internal/pcfreq"
	"github.com/s117/riscv-isa-sim/internal/reconv"
	"github.com/s117/riscv-isa-sim/internal/replay"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("fatal invariant violation", "panic", r)
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		var exitErr *clierr.ExitError
		if errors.As(err, &exitErr) {
			slog.Error(exitErr.Error())
			os.Exit(exitErr.Code.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "spike: %v\n", err)
		os.Exit(1)
	}
}

// intFlag/uint64Flag (and traceFlag below) let run() distinguish "flag not
// given" from "flag given at its zero value" (e.g. -t 0,0 vs. -t absent),
// mirroring the teacher's own custom flag.Value wrappers.
type intFlag struct {
	v   int
	set bool
}

func (f *intFlag) String() string { return strconv.Itoa(f.v) }
func (f *intFlag) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}

type uint64Flag struct {
	v   uint64
	set bool
}

func (f *uint64Flag) String() string { return strconv.FormatUint(f.v, 10) }
func (f *uint64Flag) Set(s string) error {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}

// traceFlag parses -t <skip>,<lastN>.
type traceFlag struct {
	skip  uint64
	lastN int
	set   bool
}

func (f *traceFlag) String() string {
	return fmt.Sprintf("%d,%d", f.skip, f.lastN)
}

func (f *traceFlag) Set(s string) error {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return fmt.Errorf("want \"<skip>,<lastN>\", got %q", s)
	}
	skip, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad skip amount %q: %w", parts[0], err)
	}
	lastN, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("bad ring size %q: %w", parts[1], err)
	}
	f.skip, f.lastN, f.set = skip, lastN, true
	return nil
}

func run() error {
	var (
		processors   intFlag
		memMB        intFlag
		interactive  bool
		pcHistogram  bool
		simPoint     uint64Flag
		stopAfter    uint64Flag
		ckptDescPath string
		prefix       string
		trace        traceFlag
		icCfg        string
		dcCfg        string
		l2Cfg        string
		extensionNm  string
		extlibPath   string
	)

	flag.Var(&processors, "p", "number of processors")
	flag.Var(&memMB, "m", "memory size in MB")
	flag.BoolVar(&interactive, "d", false, "enter interactive debug mode")
	flag.BoolVar(&pcHistogram, "g", false, "enable PC frequency-vector tracker")
	flag.Var(&simPoint, "s", "enable SimPoint BBV tracker with this interval size")
	flag.Var(&stopAfter, "e", "stop after this many retired instructions")
	flag.StringVar(&ckptDescPath, "c", "", "checkpoint-descriptor file")
	flag.StringVar(&prefix, "f", "spike-out/trace", "output directory+basename prefix")
	flag.Var(&trace, "t", "enable debug tracer: <skip>,<lastN> (lastN=0 means direct mode)")
	flag.StringVar(&icCfg, "ic", "", "I-cache config S:W:B (passed through; modeled by the external simulator)")
	flag.StringVar(&dcCfg, "dc", "", "D-cache config S:W:B (passed through; modeled by the external simulator)")
	flag.StringVar(&l2Cfg, "l2", "", "L2 config S:W:B (passed through; modeled by the external simulator)")
	flag.StringVar(&extensionNm, "extension", "", "extension name, cross-checked against --extlib's manifest")
	flag.StringVar(&extlibPath, "extlib", "", "path to an extension shared library")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <trace-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if interactive {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	}

	if flag.NArg() != 1 {
		flag.Usage()
		return clierr.Wrap(clierr.Configuration, fmt.Errorf("expected exactly one positional <trace-file> argument"))
	}
	tracePath := flag.Arg(0)

	dir := filepath.Dir(prefix)
	base := filepath.Base(prefix)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return clierr.Wrap(clierr.IO, fmt.Errorf("create output dir %s: %w", dir, err))
	}

	if ckptDescPath != "" {
		f, err := os.Open(ckptDescPath)
		if err != nil {
			return clierr.Wrap(clierr.IO, fmt.Errorf("open checkpoint descriptor %s: %w", ckptDescPath, err))
		}
		entries, err := ckptdesc.Parse(f)
		f.Close()
		if err != nil {
			return clierr.Wrap(clierr.Configuration, err)
		}
		slog.Debug("checkpoint descriptor parsed", "path", ckptDescPath, "count", len(entries))
	}

	driver := &replay.Driver{Reconv: reconv.New()}

	if simPoint.set {
		t, err := bbv.Open(dir, base, simPoint.v)
		if err != nil {
			return clierr.Wrap(clierr.IO, err)
		}
		defer t.Close()
		driver.BBV = t
	}

	if pcHistogram {
		t, err := pcfreq.Open(dir, base)
		if err != nil {
			return clierr.Wrap(clierr.IO, err)
		}
		defer t.Close()
		driver.PCFreq = t
	}

	if trace.set {
		sink, err := gzsink.Open(dir, "trace_proc_0", ".gz")
		if err != nil {
			return clierr.Wrap(clierr.IO, err)
		}
		direct := dbgtrace.NewDirectSink(sink.Writer(), sink)
		var tracerSink dbgtrace.Sink = direct
		if trace.lastN > 0 {
			tracerSink = dbgtrace.NewRingSink(trace.lastN, direct)
		}
		tr := dbgtrace.New(tracerSink)
		defer tr.Close()
		driver.Tracer = tr
	}

	if extlibPath != "" || extensionNm != "" {
		e, err := ext.NewLoader().Load(extlibPath, extensionNm)
		if err != nil {
			return clierr.Wrap(clierr.Configuration, err)
		}
		driver.Ext = e
	}

	traceFile, err := os.Open(tracePath)
	if err != nil {
		return clierr.Wrap(clierr.IO, fmt.Errorf("open trace %s: %w", tracePath, err))
	}
	defer traceFile.Close()

	var bar *progressbar.ProgressBar
	if !interactive {
		if fi, err := traceFile.Stat(); err == nil {
			bar = progressbar.DefaultBytes(fi.Size(), "replaying")
		}
	}

	reader := bufio.NewReader(traceFile)

	n, err := runReplay(driver, reader, bar, interactive, stopAfter)
	if err != nil {
		return clierr.Wrap(clierr.IO, err)
	}
	slog.Info("replay finished", "instructions", n)

	bftPath := filepath.Join(dir, "BFT_Result.csv")
	if err := dumpCSV(bftPath, driver.Reconv.BFT.DumpBFT); err != nil {
		return clierr.Wrap(clierr.IO, err)
	}
	rptPath := filepath.Join(dir, "RPT_Result.csv")
	if err := dumpCSV(rptPath, func(w *bufio.Writer) error { return driver.Reconv.RPT.DumpRPT(w, driver.Reconv.BFT, false) }); err != nil {
		return clierr.Wrap(clierr.IO, err)
	}
	rptFilteredPath := filepath.Join(dir, "RPT_Result_IgnoreUncommonPath.csv")
	if err := dumpCSV(rptFilteredPath, func(w *bufio.Writer) error { return driver.Reconv.RPT.DumpRPT(w, driver.Reconv.BFT, true) }); err != nil {
		return clierr.Wrap(clierr.IO, err)
	}

	if driver.Ext != nil {
		if err := driver.Ext.Shutdown(); err != nil {
			slog.Warn("extension shutdown hook failed", "error", err)
		}
	}

	return nil
}

func dumpCSV(path string, write func(w *bufio.Writer) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return w.Flush()
}

// runReplay drives the trace through driver line by line, stopping once
// stopAfter retirements have been replayed when -e was given (unbounded
// when it was not; the check follows each instruction, so -e 0 still
// replays one), and entering the interactive debug REPL instead of a
// progress bar when interactive.
func runReplay(driver *replay.Driver, r *bufio.Reader, bar *progressbar.ProgressBar, interactive bool, stopAfter uint64Flag) (uint64, error) {
	var repl *debugREPL
	if interactive && term.IsTerminal(int(os.Stdin.Fd())) {
		repl = newDebugREPL(os.Stdin)
		defer repl.restore()
	}

	var n uint64
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			ev, perr := replay.ParseLine(trimmed)
			if perr != nil {
				return n, perr
			}
			if repl != nil {
				if stop := repl.beforeStep(n); stop {
					break
				}
			}
			if serr := driver.Step(ev); serr != nil {
				return n, serr
			}
			n++
			if bar != nil {
				bar.Add(len(line))
			}
			if stopAfter.set && n >= stopAfter.v {
				break
			}
		}
		if err != nil {
			break
		}
	}
	return n, nil
}
