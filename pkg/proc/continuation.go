package proc

import (
	"github.com/go-delve/stepctl/pkg/logflags"
)

// continuation is the rest of an execution command, run by HandleStop
// when an asynchronous target stops.
type continuation interface {
	resume(t *Target, stop StopReason) (Result, error)
}

// stepContinuation continues a step session after a resume.
type stepContinuation struct {
	s *StepSession
}

func (c *stepContinuation) resume(t *Target, stop StopReason) (Result, error) {
	done, err := c.s.onStop(t, stop)
	if err != nil {
		return Result{}, err
	}
	if done {
		return c.s.result(t), nil
	}
	return t.driveStep(c.s)
}

// finishContinuation continues a finish after the target stopped.
type finishContinuation struct {
	f *finishState
}

func (c *finishContinuation) resume(t *Target, stop StopReason) (Result, error) {
	done, err := t.finishStopped(c.f, stop)
	if err != nil {
		return Result{}, err
	}
	if done {
		return c.f.result(t), nil
	}
	return t.driveFinish(c.f)
}

// continueContinuation completes a Continue.
type continueContinuation struct {
	resumes int
}

func (c *continueContinuation) resume(t *Target, stop StopReason) (Result, error) {
	info := t.stopInfo(stop)
	info.Resumes = c.resumes
	return Result{Kind: Completed, Stop: info}, nil
}

// continuationQueue holds the continuations waiting for the target to
// stop, in the order they were scheduled.
type continuationQueue struct {
	q []continuation
}

// scheduleNext queues c. Only one continuation may be pending.
func (cq *continuationQueue) scheduleNext(c continuation) error {
	if len(cq.q) > 0 {
		return ErrCommandInProgress
	}
	cq.q = append(cq.q, c)
	return nil
}

func (cq *continuationQueue) pop() continuation {
	if len(cq.q) == 0 {
		return nil
	}
	c := cq.q[0]
	cq.q = cq.q[1:]
	return c
}

// discard drops every pending continuation without running it.
func (cq *continuationQueue) discard() {
	if len(cq.q) > 0 && logflags.Stepping() {
		logflags.SteppingLogger().Debugf("discarding %d pending continuations", len(cq.q))
	}
	cq.q = nil
}

func (cq *continuationQueue) len() int {
	return len(cq.q)
}
