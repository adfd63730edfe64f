package proc

import (
	"fmt"

	"github.com/go-delve/stepctl/pkg/linetab"
)

// LineTable is the line table oracle consulted by the frame model, the
// inlined call stack simulator and the stepping engine.
type LineTable interface {
	// LineRangeContaining returns the address range of the innermost line
	// table entry covering pc, or a *linetab.NoLineInfoError.
	LineRangeContaining(pc uint64) (start, end uint64, line int, err error)
	EntryKind(pc uint64) linetab.EntryKind
	FunctionBounds(pc uint64) (start, end uint64, err error)
	// EntriesAt returns every entry covering pc, outermost first.
	EntriesAt(pc uint64) []linetab.Entry
	PCToLine(pc uint64) (string, int, *linetab.Function)
	PCToFunc(pc uint64) *linetab.Function
	LookupFunc(name string) *linetab.Function
}

// CallPolicy tells the backend what to do when a call instruction is
// executed while running inside a step range.
type CallPolicy uint8

const (
	// StepOverCalls runs called functions to completion.
	StepOverCalls CallPolicy = iota
	// StepIntoCalls stops as soon as the called function is entered.
	StepIntoCalls
	// StepOverNone executes exactly what the range allows, calls included.
	StepOverNone
)

func (p CallPolicy) String() string {
	switch p {
	case StepOverCalls:
		return "over"
	case StepIntoCalls:
		return "into"
	case StepOverNone:
		return "none"
	}
	return fmt.Sprintf("CallPolicy(%d)", uint8(p))
}

// Granularity of a step.
type Granularity uint8

const (
	LineGranularity Granularity = iota
	InstructionGranularity
)

// StepRequest describes a stepping command.
type StepRequest struct {
	Granularity Granularity
	Policy      CallPolicy
	Count       int
}

// NextRequest returns the request for "next count".
func NextRequest(count int) StepRequest {
	return StepRequest{LineGranularity, StepOverCalls, count}
}

// StepInRequest returns the request for "step count".
func StepInRequest(count int) StepRequest {
	return StepRequest{LineGranularity, StepIntoCalls, count}
}

// StepInstructionRequest returns the request for "stepi count", or
// "nexti count" if over is set.
func StepInstructionRequest(count int, over bool) StepRequest {
	if over {
		return StepRequest{InstructionGranularity, StepOverCalls, count}
	}
	return StepRequest{InstructionGranularity, StepOverNone, count}
}

// StepRange is the set of addresses the target may run through freely
// during one resume: [Start, End) plus any address in Ranges.
// The zero StepRange means "run until something stops the target".
type StepRange struct {
	Start, End uint64
	Ranges     []linetab.AddrRange
}

// IsZero returns true for the empty range.
func (r StepRange) IsZero() bool {
	return r.Start == 0 && r.End == 0 && len(r.Ranges) == 0
}

// Contains returns true if pc is inside the range.
func (r StepRange) Contains(pc uint64) bool {
	if pc >= r.Start && pc < r.End {
		return true
	}
	for _, rng := range r.Ranges {
		if rng.Contains(pc) {
			return true
		}
	}
	return false
}

func (r StepRange) String() string {
	if r.IsZero() {
		return "[free]"
	}
	s := fmt.Sprintf("[%#x, %#x)", r.Start, r.End)
	for _, rng := range r.Ranges {
		s += fmt.Sprintf("+[%#x, %#x)", rng.Start, rng.End)
	}
	return s
}

// StopKind is the reason the backend stopped the target.
type StopKind uint8

const (
	// StopStepped means the target left the step range.
	StopStepped StopKind = iota
	// StopTrap is a trap the stepping engine did not ask for.
	StopTrap
	// StopBreakpoint means a breakpoint was hit.
	StopBreakpoint
	// StopSignal means the target received a signal.
	StopSignal
	// StopExited means the target exited.
	StopExited
	// StopHalted means the target was stopped by a Halt request.
	StopHalted
	// StopRunning is returned by asynchronous backends when a resume
	// request is accepted; the actual stop is delivered later.
	StopRunning
)

func (k StopKind) String() string {
	switch k {
	case StopStepped:
		return "stepped"
	case StopTrap:
		return "trap"
	case StopBreakpoint:
		return "breakpoint"
	case StopSignal:
		return "signal"
	case StopExited:
		return "exited"
	case StopHalted:
		return "halted"
	case StopRunning:
		return "running"
	}
	return fmt.Sprintf("StopKind(%d)", uint8(k))
}

// BreakpointHandle identifies a breakpoint set in the backend.
type BreakpointHandle int

// StopReason is reported by the backend every time the target stops.
type StopReason struct {
	Kind       StopKind
	PC         uint64
	Breakpoint BreakpointHandle
	Signal     int
	ExitCode   int
}

func (sr StopReason) String() string {
	switch sr.Kind {
	case StopSignal:
		return fmt.Sprintf("signal %d at %#x", sr.Signal, sr.PC)
	case StopExited:
		return fmt.Sprintf("exited with status %d", sr.ExitCode)
	case StopBreakpoint:
		return fmt.Sprintf("breakpoint %d at %#x", sr.Breakpoint, sr.PC)
	}
	return fmt.Sprintf("%s at %#x", sr.Kind, sr.PC)
}

// Registers is the register set of the stopped target.
type Registers struct {
	PC, SP, BP uint64
	Named      map[string]uint64
}

// Get returns the value of the named register.
func (regs *Registers) Get(name string) (uint64, bool) {
	switch name {
	case "pc":
		return regs.PC, true
	case "sp":
		return regs.SP, true
	case "bp":
		return regs.BP, true
	}
	v, ok := regs.Named[name]
	return v, ok
}

// Backend is the interface to the traced process.
type Backend interface {
	// ResumeUntilStopOrRange resumes the target and runs it until the pc
	// leaves rng, honoring policy, or until something else stops it.
	// Synchronous backends block until the target stops, asynchronous
	// backends return a StopRunning reason immediately and deliver the
	// stop later.
	ResumeUntilStopOrRange(rng StepRange, policy CallPolicy) (StopReason, error)
	ReadRegisters() (Registers, error)
	ReadMemory(buf []byte, addr uint64) (int, error)
	// SetMomentaryBreakpoint sets a breakpoint that only the stepping
	// engine knows about, tag is the frame expected to be current when
	// it is hit.
	SetMomentaryBreakpoint(addr uint64, tag FrameID) (BreakpointHandle, error)
	RemoveBreakpoint(h BreakpointHandle) error
	IsAsynchronous() bool
}

// EventSource is implemented by asynchronous backends, stops are
// delivered on the returned channel in the order they happen.
type EventSource interface {
	Events() <-chan StopReason
}

// Halter is implemented by backends that can stop a running target.
type Halter interface {
	Halt() error
}
