package proc

import (
	"errors"
	"fmt"

	"github.com/go-delve/stepctl/pkg/logflags"
)

const (
	noteEnterInlined  = "** Simulating stepping into inlined subroutine. **"
	noteSkipInlined   = "** Stepping over inlined function code. **"
	noteReachInlined  = "** Stepping to beginning of inlined subroutine. **"
	noteFinishInlined = "** Finishing inlined subroutine. **"
)

// ErrNoFunctionBounds is returned when stepping from an address that has
// neither line information nor an enclosing function.
var ErrNoFunctionBounds = errors.New("Cannot find bounds of current function")

// AmbiguousLineInfoError describes a line step started from an address
// without line information. It is not returned: the step is performed
// over the whole function and the message is reported as a warning.
type AmbiguousLineInfoError struct {
	PC       uint64
	Function string
}

func (err *AmbiguousLineInfoError) Error() string {
	return fmt.Sprintf("Single stepping until exit from function %s,\nwhich has no line number information.", err.Function)
}

// stepState is the state of a StepSession.
type stepState uint8

const (
	stepIdle stepState = iota
	stepRangeComputed
	stepResumed
	stepCompleted
)

func (st stepState) String() string {
	switch st {
	case stepIdle:
		return "idle"
	case stepRangeComputed:
		return "range-computed"
	case stepResumed:
		return "resumed"
	case stepCompleted:
		return "completed"
	}
	return fmt.Sprintf("stepState(%d)", uint8(st))
}

// stepTransition is what one iteration of a step does at the current pc.
type stepTransition uint8

const (
	// transitionOrdinary steps through the current line or instruction.
	transitionOrdinary stepTransition = iota
	// transitionSkipInlined runs over an inlined call and the rest of the
	// line containing it.
	transitionSkipInlined
	// transitionEnterInlined enters the inlined call at pc without
	// resuming the target.
	transitionEnterInlined
)

func (tr stepTransition) String() string {
	switch tr {
	case transitionOrdinary:
		return "ordinary"
	case transitionSkipInlined:
		return "skip-inlined"
	case transitionEnterInlined:
		return "enter-inlined"
	}
	return fmt.Sprintf("stepTransition(%d)", uint8(tr))
}

// chooseTransition decides how a step iteration treats inlined calls.
// Skipping is checked before entering: with StepOverCalls an inlined
// call at pc, or later on the same line, is always run over.
func chooseTransition(req StepRequest, inlinedStepping, atCallSite, restOfLine bool) stepTransition {
	if !inlinedStepping || req.Granularity == InstructionGranularity {
		return transitionOrdinary
	}
	if (atCallSite || restOfLine) && req.Policy == StepOverCalls {
		return transitionSkipInlined
	}
	if atCallSite {
		return transitionEnterInlined
	}
	return transitionOrdinary
}

// StepSession holds the state of one step command across the resumes it
// needs.
type StepSession struct {
	req       StepRequest
	remaining int
	state     stepState

	// range and policy of the next resume
	rng    StepRange
	policy CallPolicy

	// frame and line the current iteration started from
	frameID FrameID
	file    string
	line    int

	// set while stepping back out of a function without line
	// information, outerRng and outerPolicy are restored when it returns
	steppingOut bool
	outerRng    StepRange
	outerPolicy CallPolicy

	stop     StopReason
	resumes  int
	returned bool
	warnings []string
	notes    []string

	// done, if set, completes the stop information of the result.
	done func(t *Target, info *StopInfo)
}

func newStepSession(req StepRequest) *StepSession {
	return &StepSession{req: req, remaining: req.Count, state: stepIdle}
}

func (s *StepSession) note(t *Target, msg string) {
	if logflags.Inline() {
		logflags.InlineLogger().Debug(msg)
	}
	if t.conf.DebugInlinedStepping {
		s.notes = append(s.notes, msg)
	}
}

// computeRange runs the Idle state: it decides the transition for the
// current pc and computes the range of the next resume. It returns true
// if the step completed without resuming the target.
func (s *StepSession) computeRange(t *Target) (bool, error) {
	frame, err := t.CurrentFrame()
	if err != nil {
		return false, err
	}
	ist, err := t.InlinedStack()
	if err != nil {
		return false, err
	}
	pc := frame.Current.PC
	s.frameID = frame.ID
	s.file, s.line = frame.Current.File, frame.Current.Line

	_, atCallSite := ist.AtInlinedCallSite(pc)
	var (
		restEnd    uint64
		restOfLine bool
	)
	if t.conf.InlinedStepping && s.req.Granularity == LineGranularity && !atCallSite {
		restEnd, restOfLine = ist.RestOfLineContainsInlinedCall(pc)
	}

	tr := chooseTransition(s.req, t.conf.InlinedStepping, atCallSite, restOfLine)
	if logflags.Stepping() {
		logflags.SteppingLogger().Debugf("pc=%#x frame=%s transition=%s remaining=%d", pc, s.frameID, tr, s.remaining)
	}

	switch tr {
	case transitionSkipInlined:
		end := restEnd
		if atCallSite {
			end, _ = ist.RestOfLineContainsInlinedCall(pc)
		}
		s.rng = StepRange{Start: pc, End: end}
		s.policy = StepOverCalls
		s.note(t, noteSkipInlined)

	case transitionEnterInlined:
		if err := ist.StepIntoCurrentInlinedCall(); err != nil {
			return false, err
		}
		s.note(t, noteEnterInlined)
		s.stop = StopReason{Kind: StopStepped, PC: pc}
		s.remaining--
		if s.remaining <= 0 {
			s.state = stepCompleted
			return true, nil
		}
		s.state = stepIdle
		return false, nil

	default:
		if err := s.ordinaryRange(t, ist, pc); err != nil {
			return false, err
		}
	}
	s.state = stepRangeComputed
	return false, nil
}

// ordinaryRange computes the range for stepping through the line, or
// the instruction, at pc.
func (s *StepSession) ordinaryRange(t *Target, ist *InlinedCallStack, pc uint64) error {
	instructionRange := func() {
		s.rng = StepRange{Start: pc, End: pc + 1}
		s.policy = StepOverNone
		if s.req.Policy == StepOverCalls {
			s.policy = StepOverCalls
		}
	}
	if s.req.Granularity == InstructionGranularity {
		instructionRange()
		return nil
	}
	start, end, _, err := t.bi.LineRangeContaining(pc)
	if err != nil {
		if t.conf.StepStopIfNoDebug {
			instructionRange()
			return nil
		}
		fstart, fend, err := t.bi.FunctionBounds(pc)
		if err != nil {
			return ErrNoFunctionBounds
		}
		s.warnings = append(s.warnings, (&AmbiguousLineInfoError{PC: pc, Function: functionAt(t.bi, pc)}).Error())
		s.rng = StepRange{Start: fstart, End: fend}
		s.policy = StepOverCalls
		return nil
	}
	if t.conf.InlinedStepping {
		// stop at the start of an inlined call made later on this line
		if next, ok := ist.nextInlinedCallOnLine(pc); ok && next > pc && next < end {
			end = next
		}
	}
	s.rng = StepRange{Start: start, End: end}
	s.policy = s.req.Policy
	return nil
}

// onStop runs the Resumed state. It returns true if the step is
// complete, otherwise the session is either back to Idle or has a new
// range to resume with.
func (s *StepSession) onStop(t *Target, stop StopReason) (bool, error) {
	s.stop = stop
	s.state = stepResumed
	switch stop.Kind {
	case StopExited, StopSignal, StopHalted, StopBreakpoint:
		s.state = stepCompleted
		return true, nil
	}

	frame, err := t.CurrentFrame()
	if err != nil {
		return false, err
	}
	ist, err := t.InlinedStack()
	if err != nil {
		return false, err
	}
	pc := frame.Current.PC

	if s.steppingOut {
		s.steppingOut = false
		s.rng, s.policy = s.outerRng, s.outerPolicy
	}

	if frame.ID == s.frameID && s.rng.Contains(pc) {
		if logflags.Stepping() {
			logflags.SteppingLogger().Debugf("spurious stop (%s) inside %s", stop.Kind, s.rng)
		}
		s.state = stepRangeComputed
		return false, nil
	}

	if stop.Kind == StopTrap {
		// a trap outside the range ends the command wherever it happens
		s.state = stepCompleted
		return true, nil
	}

	returned := s.frameID.Inner(frame.ID)
	if s.req.Granularity == InstructionGranularity {
		// inlined frames do not count, only leaving the real frame does
		returned = s.frameID.real().Inner(frame.ID.real())
	}
	if returned {
		// the function, or inlined call, being stepped returned
		s.returned = true
		s.state = stepCompleted
		return true, nil
	}

	if frame.ID.Inner(s.frameID) && s.policy == StepIntoCalls && frame.Kind != InlinedFrame && !t.conf.StepStopIfNoDebug && !hasLineInfo(t.bi, pc) {
		if fstart, fend, err := t.bi.FunctionBounds(pc); err == nil {
			if logflags.Stepping() {
				logflags.SteppingLogger().Debugf("stepping out of %s, no line information", functionAt(t.bi, pc))
			}
			s.steppingOut = true
			s.outerRng, s.outerPolicy = s.rng, s.policy
			s.rng = StepRange{Start: fstart, End: fend}
			s.policy = StepOverCalls
			s.state = stepRangeComputed
			return false, nil
		}
	}

	_, atCallSite := ist.AtInlinedCallSite(pc)

	if s.req.Granularity == LineGranularity && frame.ID == s.frameID && !atCallSite && frame.Current.File == s.file && frame.Current.Line == s.line {
		// another piece of the same line
		if start, end, _, err := t.bi.LineRangeContaining(pc); err == nil {
			s.rng = StepRange{Start: start, End: end}
			s.state = stepRangeComputed
			return false, nil
		}
	}

	if atCallSite && s.req.Granularity == LineGranularity {
		s.note(t, noteReachInlined)
	}

	s.remaining--
	if s.remaining <= 0 {
		s.state = stepCompleted
		return true, nil
	}
	s.state = stepIdle
	return false, nil
}

func (s *StepSession) result(t *Target) Result {
	info := t.stopInfo(s.stop)
	info.FunctionReturned = s.returned
	info.Warnings = append(s.warnings, info.Warnings...)
	info.Notes = s.notes
	info.Resumes = s.resumes
	if s.done != nil {
		s.done(t, &info)
	}
	return Result{Kind: Completed, Stop: info}
}

// driveStep runs s until it completes or, on asynchronous backends,
// until the target is resumed.
func (t *Target) driveStep(s *StepSession) (Result, error) {
	for {
		if s.state == stepIdle {
			done, err := s.computeRange(t)
			if err != nil {
				return Result{}, err
			}
			if done {
				return s.result(t), nil
			}
			if s.state == stepIdle {
				continue
			}
		}
		stop, err := t.resume(s.rng, s.policy)
		if err != nil {
			return Result{}, err
		}
		s.resumes++
		s.state = stepResumed
		if t.async {
			if err := t.queue.scheduleNext(&stepContinuation{s}); err != nil {
				return Result{}, err
			}
			return Result{Kind: Pending}, nil
		}
		done, err := s.onStop(t, stop)
		if err != nil {
			return Result{}, err
		}
		if done {
			return s.result(t), nil
		}
	}
}

// Step executes req. On synchronous backends the returned result is
// always Completed, on asynchronous backends it is Pending as soon as the
// target is resumed and the final result is returned by HandleStop.
func (t *Target) Step(req StepRequest) (Result, error) {
	if req.Count < 1 {
		return Result{}, fmt.Errorf("invalid repeat count %d", req.Count)
	}
	if err := t.checkIdle(); err != nil {
		return Result{}, err
	}
	t.interrupted = false
	if _, err := t.CurrentFrame(); err != nil {
		return Result{}, err
	}
	return t.driveStep(newStepSession(req))
}

// Next steps over count source lines.
func (t *Target) Next(count int) (Result, error) {
	return t.Step(NextRequest(count))
}

// StepIn steps count source lines, entering called functions.
func (t *Target) StepIn(count int) (Result, error) {
	return t.Step(StepInRequest(count))
}

// StepInstruction executes count machine instructions, running over
// calls if over is set.
func (t *Target) StepInstruction(count int, over bool) (Result, error) {
	return t.Step(StepInstructionRequest(count, over))
}
