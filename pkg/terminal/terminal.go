package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/go-delve/liner"

	"github.com/go-delve/stepctl/pkg/config"
	"github.com/go-delve/stepctl/pkg/proc"
	"github.com/go-delve/stepctl/pkg/terminal/starbind"
)

const (
	historyFile                 string = ".stepctl_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack   = 30
	ansiBlue    = 34
	ansiWhite   = 37
	ansiBrBlack = 90
	ansiBrWhite = 97
)

// Term represents the terminal running stepctl.
type Term struct {
	target   *proc.Target
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   io.Writer
	InitFile string

	// width is the number of columns of the terminal, 0 if unknown.
	width int

	starlarkEnv *starbind.Env

	// cancel interrupts the command currently running.
	cancelMu sync.Mutex
	cancel   func()

	quittingMutex sync.Mutex
	quitting      bool
}

// New returns a new Term driving target.
func New(target *proc.Target, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	if (conf.SourceListLineColor > ansiWhite &&
		conf.SourceListLineColor < ansiBrBlack) ||
		conf.SourceListLineColor < ansiBlack ||
		conf.SourceListLineColor > ansiBrWhite {
		conf.SourceListLineColor = ansiBlue
	}

	w, dumb := stdoutWriter()
	t := &Term{
		target: target,
		conf:   conf,
		prompt: "(stepctl) ",
		cmds:   cmds,
		dumb:   dumb,
		stdout: w,
		width:  terminalWidth(os.Stdout),
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	t.applyConfig()
	return t
}

// applyConfig copies the stepping options of the configuration to the
// target.
func (t *Term) applyConfig() {
	pc := t.target.Config()
	pc.InlinedStepping = t.conf.InlinedSteppingEnabled()
	pc.DebugInlinedStepping = t.conf.DebugInlinedStepping
	pc.StepStopIfNoDebug = t.conf.StepStopIfNoDebug
	t.target.SetConfig(pc)
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		if t.starlarkEnv.Cancel() {
			// the script interrupted the command it was running
			continue
		}
		if t.interrupt() {
			fmt.Fprintf(os.Stderr, "received SIGINT, stopping process (will not forward signal)\n")
		}
	}
}

// setCancel sets the function interrupting the current command.
func (t *Term) setCancel(cancel func()) {
	t.cancelMu.Lock()
	t.cancel = cancel
	t.cancelMu.Unlock()
}

// interrupt stops the command currently running, it returns false if
// there is none.
func (t *Term) interrupt() bool {
	t.cancelMu.Lock()
	cancel := t.cancel
	t.cancelMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Run begins running stepctl in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	notifyInterrupt(ch)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line = liner.NewLiner()
	t.line.SetCompleter(t.cmds.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.sourceCommand(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, errors.New("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			var exited proc.ErrProcessExited
			if errors.As(err, &exited) {
				fmt.Fprintln(os.Stderr, err.Error())
				continue
			}
			t.quittingMutex.Lock()
			quitting := t.quitting
			t.quittingMutex.Unlock()
			if quitting {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Println prints a line to the terminal, prefix is highlighted.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, t.conf.SourceListLineColor)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	t.quittingMutex.Lock()
	t.quitting = true
	t.quittingMutex.Unlock()

	if exited, status := t.target.Exited(); exited {
		return status, nil
	}
	return 0, nil
}

// execute runs an execution command. A SIGINT received while the target
// runs interrupts it: synchronous backends are halted, asynchronous ones
// are interrupted while waiting for the command to complete.
func (t *Term) execute(fn func() (proc.Result, error)) (proc.StopInfo, error) {
	be := t.target.Backend()
	if h, ok := be.(proc.Halter); ok && !be.IsAsynchronous() {
		t.setCancel(func() {
			if err := h.Halt(); err != nil {
				fmt.Fprintf(os.Stderr, "could not halt the target: %v\n", err)
			}
		})
	}
	res, err := fn()
	t.setCancel(nil)
	if err != nil {
		return proc.StopInfo{}, err
	}
	if res.Kind == proc.Pending {
		ctx, cancel := context.WithCancel(context.Background())
		t.setCancel(cancel)
		res, err = t.target.Wait(ctx)
		t.setCancel(nil)
		cancel()
		if err != nil {
			return proc.StopInfo{}, err
		}
	}
	t.cmds.frame = 0
	return res.Stop, nil
}

// fit truncates s so that it fits in the terminal after used columns.
func (t *Term) fit(s string, used int) string {
	const ellipsis = "..."
	avail := t.width - used
	if t.width <= 0 || len(s) <= avail {
		return s
	}
	if avail <= len(ellipsis) {
		return ellipsis
	}
	return s[:avail-len(ellipsis)] + ellipsis
}

// printStop prints the state of the target at the end of an execution
// command.
func (t *Term) printStop(info proc.StopInfo) error {
	for _, note := range info.Notes {
		fmt.Fprintln(t.stdout, note)
	}
	for _, w := range info.Warnings {
		fmt.Fprintf(t.stdout, "Warning: %s\n", w)
	}
	if info.Interrupted {
		fmt.Fprintln(t.stdout, "interrupted")
	}
	switch info.Reason.Kind {
	case proc.StopExited:
		return proc.ErrProcessExited{Status: info.Reason.ExitCode}
	case proc.StopSignal:
		fmt.Fprintf(t.stdout, "received signal %d\n", info.Reason.Signal)
	case proc.StopTrap:
		fmt.Fprintln(t.stdout, "received SIGTRAP")
	}
	if info.FunctionReturned {
		fmt.Fprintln(t.stdout, "function returned")
	}
	loc := info.Location
	if info.InlineDepth > 0 {
		fmt.Fprintf(t.stdout, "> %s (PC: %#x) [inlined, depth %d]\n", loc, loc.PC, info.InlineDepth)
	} else {
		fmt.Fprintf(t.stdout, "> %s (PC: %#x)\n", loc, loc.PC)
	}
	return nil
}
