package sim

import (
	"errors"
	"sync"

	"github.com/go-delve/stepctl/pkg/logflags"
	"github.com/go-delve/stepctl/pkg/proc"
)

// ErrRunning is returned when the state of a running machine is read.
var ErrRunning = errors.New("machine is running")

const sigabrt = 6

// Async drives a Machine asynchronously: resumes return immediately and
// stops are delivered on the Events channel.
type Async struct {
	*Machine

	mu      sync.Mutex
	running bool
	events  chan proc.StopReason
}

// NewAsync returns an asynchronous backend for m.
func NewAsync(m *Machine) *Async {
	return &Async{Machine: m, events: make(chan proc.StopReason, 16)}
}

// IsAsynchronous returns true.
func (a *Async) IsAsynchronous() bool {
	return true
}

// Events returns the channel stops are delivered on.
func (a *Async) Events() <-chan proc.StopReason {
	return a.events
}

// ResumeUntilStopOrRange starts running the machine and returns a
// StopRunning reason. The stop is delivered on Events.
func (a *Async) ResumeUntilStopOrRange(rng proc.StepRange, policy proc.CallPolicy) (proc.StopReason, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return proc.StopReason{}, ErrRunning
	}
	a.running = true
	a.Machine.setHalt(false)
	a.mu.Unlock()

	go func() {
		stop, err := a.Machine.ResumeUntilStopOrRange(rng, policy)
		if err != nil {
			logflags.SimLogger().Errorf("resume failed: %v", err)
			stop = proc.StopReason{Kind: proc.StopSignal, Signal: sigabrt}
		}
		a.mu.Lock()
		a.running = false
		a.Machine.setHalt(false)
		a.mu.Unlock()
		a.events <- stop
	}()
	return proc.StopReason{Kind: proc.StopRunning}, nil
}

// Halt stops a running machine, the machine stops with a StopHalted
// reason.
func (a *Async) Halt() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		a.Machine.setHalt(true)
	}
	return nil
}

func (a *Async) isRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// ReadRegisters returns the registers of the stopped machine.
func (a *Async) ReadRegisters() (proc.Registers, error) {
	if a.isRunning() {
		return proc.Registers{}, ErrRunning
	}
	return a.Machine.ReadRegisters()
}

// ReadMemory reads memory of the stopped machine.
func (a *Async) ReadMemory(buf []byte, addr uint64) (int, error) {
	if a.isRunning() {
		return 0, ErrRunning
	}
	return a.Machine.ReadMemory(buf, addr)
}
