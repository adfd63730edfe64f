package proc

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-delve/stepctl/pkg/logflags"
)

var (
	// ErrCommandInProgress is returned when an execution command is
	// issued while another one is still waiting for the target to stop.
	ErrCommandInProgress = errors.New("another execution command is in progress")

	// ErrTargetRunning is returned when the state of the target is
	// requested while it is running.
	ErrTargetRunning = errors.New("target is running")

	// ErrNotAsync is returned by Wait for synchronous backends.
	ErrNotAsync = errors.New("backend does not deliver stop events")
)

// ErrProcessExited indicates that the process has exited.
type ErrProcessExited struct {
	Status int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("Process has exited with status %d", pe.Status)
}

// Config controls the behavior of the stepping engine.
type Config struct {
	// InlinedStepping makes inlined calls behave like real calls.
	InlinedStepping bool
	// DebugInlinedStepping attaches notes describing inlined stepping
	// decisions to the results.
	DebugInlinedStepping bool
	// StepStopIfNoDebug makes line stepping through code without line
	// information execute one instruction at a time instead of running to
	// the end of the function.
	StepStopIfNoDebug bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{InlinedStepping: true}
}

// Target represents the process being debugged.
type Target struct {
	bi   LineTable
	be   Backend
	conf Config

	// Breakpoints contains the momentary breakpoints currently set.
	Breakpoints BreakpointMap

	// epoch is incremented every time frames become invalid.
	epoch  uint64
	frames frameCache
	inline *InlinedCallStack

	queue   continuationQueue
	pending *PendingReturn

	// async is set when the backend delivers stops through HandleStop.
	async       bool
	running     bool
	exited      bool
	exitCode    int
	interrupted bool
	lastStop    StopReason
}

// NewTarget returns a target driving be, described by bi.
func NewTarget(bi LineTable, be Backend, conf Config) *Target {
	return &Target{
		bi:          bi,
		be:          be,
		conf:        conf,
		Breakpoints: NewBreakpointMap(),
		async:       be.IsAsynchronous(),
	}
}

// BinInfo returns the line table of the target.
func (t *Target) BinInfo() LineTable {
	return t.bi
}

// Backend returns the backend driving the target.
func (t *Target) Backend() Backend {
	return t.be
}

// Config returns the stepping configuration.
func (t *Target) Config() Config {
	return t.conf
}

// SetConfig changes the stepping configuration. The inlined call stack
// is rebuilt on the next query.
func (t *Target) SetConfig(conf Config) {
	if conf.InlinedStepping != t.conf.InlinedStepping {
		t.invalidate()
	}
	t.conf = conf
}

// Exited returns true if the target process exited, and its exit code.
func (t *Target) Exited() (bool, int) {
	return t.exited, t.exitCode
}

// Running returns true if an asynchronous resume is in progress.
func (t *Target) Running() bool {
	return t.running
}

// CommandInProgress returns true if an execution command is waiting for
// the target to stop.
func (t *Target) CommandInProgress() bool {
	return t.running || t.queue.len() > 0
}

// LastStop returns the last stop reported by the backend.
func (t *Target) LastStop() StopReason {
	return t.lastStop
}

// Registers returns the registers of the stopped target.
func (t *Target) Registers() (Registers, error) {
	return t.registers()
}

func (t *Target) registers() (Registers, error) {
	if t.exited {
		return Registers{}, &NoStackError{Err: ErrProcessExited{Status: t.exitCode}}
	}
	if t.running {
		return Registers{}, &NoStackError{Err: ErrTargetRunning}
	}
	regs, err := t.be.ReadRegisters()
	if err != nil {
		return Registers{}, &NoStackError{Err: err}
	}
	return regs, nil
}

// InlinedStack returns the inlined call stack for the current pc.
func (t *Target) InlinedStack() (*InlinedCallStack, error) {
	if t.inline != nil {
		return t.inline, nil
	}
	regs, err := t.registers()
	if err != nil {
		return nil, err
	}
	t.inline = newInlinedCallStack(t.bi, regs.PC, t.conf.InlinedStepping, t.invalidateFrames)
	return t.inline, nil
}

// invalidateFrames discards the cached frames, frames returned before
// this call become stale.
func (t *Target) invalidateFrames() {
	t.epoch++
	t.frames = frameCache{}
}

// invalidate discards every piece of state derived from the registers
// of the target.
func (t *Target) invalidate() {
	t.invalidateFrames()
	t.inline = nil
}

// resume resumes the target within rng. For asynchronous backends the
// returned reason is StopRunning and the actual stop is delivered to
// HandleStop.
func (t *Target) resume(rng StepRange, policy CallPolicy) (StopReason, error) {
	if t.exited {
		return StopReason{}, &NoStackError{Err: ErrProcessExited{Status: t.exitCode}}
	}
	t.invalidate()
	if logflags.Target() {
		logflags.TargetLogger().Debugf("resume range=%s policy=%s", rng, policy)
	}
	stop, err := t.be.ResumeUntilStopOrRange(rng, policy)
	if err != nil {
		return StopReason{}, err
	}
	if t.async != (stop.Kind == StopRunning) {
		return StopReason{}, &BackendModeError{Async: t.async, Stop: stop}
	}
	if t.async {
		t.running = true
		return stop, nil
	}
	t.stopped(stop)
	return stop, nil
}

// BackendModeError is returned when a resume does not match the mode
// reported by the backend's IsAsynchronous method.
type BackendModeError struct {
	Async bool
	Stop  StopReason
}

func (err *BackendModeError) Error() string {
	if err.Async {
		return fmt.Sprintf("asynchronous backend stopped during resume: %s", err.Stop)
	}
	return "synchronous backend returned without stopping the target"
}

// stopped records a stop of the target.
func (t *Target) stopped(stop StopReason) {
	t.running = false
	t.lastStop = stop
	t.invalidate()
	if stop.Kind == StopExited {
		t.exited = true
		t.exitCode = stop.ExitCode
	}
	if logflags.Target() {
		logflags.TargetLogger().Debugf("stopped: %s", stop)
	}
}

// checkIdle returns an error if a new execution command can not start.
func (t *Target) checkIdle() error {
	if t.CommandInProgress() {
		return ErrCommandInProgress
	}
	if t.exited {
		return &NoStackError{Err: ErrProcessExited{Status: t.exitCode}}
	}
	return nil
}

// ResultKind tells whether an execution command completed.
type ResultKind uint8

const (
	// Completed means the command finished, Result.Stop describes where
	// the target stopped.
	Completed ResultKind = iota
	// Pending means a continuation was scheduled, the outcome of the
	// command is returned by a later call to HandleStop.
	Pending
)

func (k ResultKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Pending:
		return "pending"
	}
	return fmt.Sprintf("ResultKind(%d)", uint8(k))
}

// Result is the outcome of an execution command.
type Result struct {
	Kind ResultKind
	Stop StopInfo
}

// StopInfo describes the state of the target at the end of a command.
type StopInfo struct {
	Reason StopReason
	// Location and Frame are the innermost frame, they are zero if the
	// target exited.
	Location    Location
	Frame       FrameID
	InlineDepth int

	// FunctionReturned is set when a step ended because the function
	// being stepped returned.
	FunctionReturned bool
	// Interrupted is set when the command was aborted by Interrupt.
	Interrupted bool
	// Finished is set when a Finish completed, ReturnValue is the value
	// returned by the finished function, nil for void functions.
	Finished    bool
	ReturnValue *ReturnValue

	// Warnings are messages that must be shown to the user.
	Warnings []string
	// Notes describe inlined stepping decisions, they are only collected
	// when Config.DebugInlinedStepping is set.
	Notes []string

	// Resumes is the number of times the target was resumed by the
	// command.
	Resumes int
}

// ReturnValue is the value returned by a finished function.
type ReturnValue struct {
	Type      string
	Value     uint64
	Available bool
}

func (rv *ReturnValue) String() string {
	if !rv.Available {
		return fmt.Sprintf("Value returned has type: %s. Cannot determine contents", rv.Type)
	}
	return fmt.Sprintf("Value returned is (%s) %d", rv.Type, int64(rv.Value))
}

// stopInfo describes the current state of the target after stop.
func (t *Target) stopInfo(stop StopReason) StopInfo {
	info := StopInfo{Reason: stop, Interrupted: stop.Kind == StopHalted}
	if t.exited {
		return info
	}
	f, err := t.CurrentFrame()
	if err != nil {
		info.Warnings = append(info.Warnings, err.Error())
		return info
	}
	info.Location = f.Current
	info.Frame = f.ID
	if ist, err := t.InlinedStack(); err == nil {
		info.InlineDepth = ist.CurrentDepth()
	}
	return info
}

// HandleStop delivers a stop of an asynchronous target. If a
// continuation is pending it is run, its result is returned.
func (t *Target) HandleStop(stop StopReason) (Result, error) {
	t.stopped(stop)
	c := t.queue.pop()
	if c == nil {
		info := t.stopInfo(stop)
		info.Interrupted = info.Interrupted || t.interrupted
		t.interrupted = false
		return Result{Kind: Completed, Stop: info}, nil
	}
	return c.resume(t, stop)
}

// Wait delivers the stops of an asynchronous target to HandleStop until
// the current command completes. If ctx is cancelled the command is
// interrupted.
func (t *Target) Wait(ctx context.Context) (Result, error) {
	if !t.async {
		return Result{}, ErrNotAsync
	}
	src, ok := t.be.(EventSource)
	if !ok {
		return Result{}, errors.New("asynchronous backend does not deliver events")
	}
	for {
		select {
		case stop := <-src.Events():
			res, err := t.HandleStop(stop)
			if err != nil || res.Kind == Completed {
				return res, err
			}
		case <-ctx.Done():
			wasRunning := t.running
			if err := t.Interrupt(); err != nil {
				return Result{}, err
			}
			if !wasRunning {
				res := Result{Kind: Completed, Stop: t.stopInfo(t.lastStop)}
				res.Stop.Interrupted = true
				t.interrupted = false
				return res, nil
			}
			return t.HandleStop(<-src.Events())
		}
	}
}

// Interrupt aborts the current command: the pending continuation is
// discarded, momentary breakpoints are removed and a running target is
// halted. The stop caused by the halt is still delivered through
// HandleStop.
func (t *Target) Interrupt() error {
	t.queue.discard()
	t.pending = nil
	t.interrupted = true
	if t.running {
		if h, ok := t.be.(Halter); ok {
			if err := h.Halt(); err != nil {
				return err
			}
		}
	}
	if logflags.Target() {
		logflags.TargetLogger().Debugf("interrupted, running=%v", t.running)
	}
	return t.Breakpoints.ClearMomentary(t.be)
}

// Continue resumes the target until something stops it.
func (t *Target) Continue() (Result, error) {
	if err := t.checkIdle(); err != nil {
		return Result{}, err
	}
	t.interrupted = false
	stop, err := t.resume(StepRange{}, StepOverNone)
	if err != nil {
		return Result{}, err
	}
	if t.async {
		if err := t.queue.scheduleNext(&continueContinuation{resumes: 1}); err != nil {
			return Result{}, err
		}
		return Result{Kind: Pending}, nil
	}
	info := t.stopInfo(stop)
	info.Resumes = 1
	return Result{Kind: Completed, Stop: info}, nil
}

// functionAt returns the name of the function containing pc.
func functionAt(bi LineTable, pc uint64) string {
	if fn := bi.PCToFunc(pc); fn != nil {
		return fn.Name
	}
	return fmt.Sprintf("%#x", pc)
}

// hasLineInfo returns true if the line table knows the line of pc.
func hasLineInfo(bi LineTable, pc uint64) bool {
	_, _, _, err := bi.LineRangeContaining(pc)
	return err == nil
}
