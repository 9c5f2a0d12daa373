package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// debugREPL implements the -d interactive loop: continue, step <n>, quit,
// status. It keeps the terminal in raw mode only so it can see a second
// SIGINT while mid-"continue" (the first just pauses back to the prompt);
// reading an actual command line restores cooked mode for the duration of
// that read, since a full raw-mode line editor isn't needed here — see
// SPEC_FULL.md §6.
type debugREPL struct {
	fd       int
	oldState *term.State
	in       *bufio.Reader

	sigCh         chan os.Signal
	stepRemaining uint64
	continuing    bool
	quit          bool
}

func newDebugREPL(f *os.File) *debugREPL {
	d := &debugREPL{fd: int(f.Fd()), in: bufio.NewReader(f)}
	if state, err := term.MakeRaw(d.fd); err == nil {
		d.oldState = state
	}
	d.sigCh = make(chan os.Signal, 2)
	signal.Notify(d.sigCh, os.Interrupt)
	return d
}

func (d *debugREPL) restore() {
	signal.Stop(d.sigCh)
	if d.oldState != nil {
		term.Restore(d.fd, d.oldState)
	}
}

// prompt reads one command line, temporarily leaving raw mode so normal
// backspace/editing works in the user's own shell.
func (d *debugREPL) prompt() (string, error) {
	if d.oldState != nil {
		term.Restore(d.fd, d.oldState)
		defer term.MakeRaw(d.fd)
	}
	fmt.Fprint(os.Stderr, "(spike) ")
	line, err := d.in.ReadString('\n')
	return strings.TrimSpace(line), err
}

// beforeStep is called before every retired instruction; it returns true
// to request the replay loop stop entirely.
func (d *debugREPL) beforeStep(n uint64) bool {
	if d.quit {
		return true
	}

	if d.continuing {
		select {
		case <-d.sigCh:
			d.continuing = false
		default:
			return false
		}
	}

	if d.stepRemaining > 0 {
		d.stepRemaining--
		return false
	}

	for {
		select {
		case <-d.sigCh:
			d.quit = true
			return true
		default:
		}

		cmd, err := d.prompt()
		if err != nil {
			d.quit = true
			return true
		}
		fields := strings.Fields(cmd)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "continue", "c":
			d.continuing = true
			return false
		case "step", "s":
			count := uint64(1)
			if len(fields) > 1 {
				if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil && v > 0 {
					count = v
				}
			}
			d.stepRemaining = count - 1
			return false
		case "quit", "q":
			d.quit = true
			return true
		case "status":
			fmt.Fprintf(os.Stderr, "retired=%d\n", n)
			continue
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q (continue|step <n>|quit|status)\n", fields[0])
			continue
		}
	}
}
