package proc

import (
	"github.com/go-delve/stepctl/pkg/linetab"
	"github.com/go-delve/stepctl/pkg/logflags"
)

// PendingReturn describes a Finish waiting for the finished frame to
// return.
type PendingReturn struct {
	// TargetFrameID is the frame that must be current when the return
	// address is reached.
	TargetFrameID FrameID
	// Addr is the return address, where the momentary breakpoint is set.
	Addr     uint64
	Function *linetab.Function
}

// NoCallerFrameError is returned when finishing the outermost frame.
type NoCallerFrameError struct {
	Frame Frame
}

func (err *NoCallerFrameError) Error() string {
	return "\"finish\" not meaningful in the outermost frame."
}

type finishState struct {
	bp       *Breakpoint
	pr       *PendingReturn
	stop     StopReason
	resumes  int
	returned bool
	rv       *ReturnValue
}

// PendingReturn returns the return a Finish is waiting for, or nil.
func (t *Target) PendingReturn() *PendingReturn {
	return t.pending
}

// Finish runs the target until f returns. If f is an inlined frame the
// inlined call is left: without resuming the target if its body did not
// start executing, otherwise by stepping over the rest of the body.
func (t *Target) Finish(f Frame) (Result, error) {
	if err := t.checkIdle(); err != nil {
		return Result{}, err
	}
	if err := t.checkFrame(f); err != nil {
		return Result{}, err
	}
	t.interrupted = false
	if f.Kind == InlinedFrame {
		return t.finishInlined(f)
	}

	caller, ok, err := t.PreviousFrame(f)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, &NoCallerFrameError{Frame: f}
	}
	fn := f.Current.Fn
	bp, err := t.Breakpoints.SetMomentary(t.be, t.bi, caller.Current.PC, FinishBreakpoint, caller.ID)
	if err != nil {
		return Result{}, err
	}
	t.pending = &PendingReturn{TargetFrameID: caller.ID, Addr: caller.Current.PC, Function: fn}
	if logflags.Stepping() {
		logflags.SteppingLogger().Debugf("finish %s: breakpoint at %#x for frame %s", functionAt(t.bi, f.Current.PC), caller.Current.PC, caller.ID)
	}
	return t.driveFinish(&finishState{bp: bp, pr: t.pending})
}

// finishInlined leaves the inlined call of frame f.
func (t *Target) finishInlined(f Frame) (Result, error) {
	rec := f.Inlined
	ist, err := t.InlinedStack()
	if err != nil {
		return Result{}, err
	}
	rv := t.inlinedReturnValue(rec)
	if ist.PC() == rec.StartPC {
		s := newStepSession(StepRequest{LineGranularity, StepOverCalls, 1})
		s.note(t, noteFinishInlined)
		ist.popTo(f.ID.Depth - 1)
		info := t.stopInfo(StopReason{Kind: StopStepped, PC: ist.PC()})
		info.Finished = true
		info.ReturnValue = rv
		info.Notes = s.notes
		return Result{Kind: Completed, Stop: info}, nil
	}

	s := newStepSession(StepRequest{LineGranularity, StepOverCalls, 1})
	s.note(t, noteFinishInlined)
	s.frameID = f.ID
	s.file, s.line = f.Current.File, f.Current.Line
	s.rng = StepRange{Ranges: rec.BodyRanges()}
	s.policy = StepOverCalls
	s.state = stepRangeComputed
	s.done = func(t *Target, info *StopInfo) {
		if s.returned {
			info.Finished = true
			info.ReturnValue = rv
		}
	}
	return t.driveStep(s)
}

// inlinedReturnValue describes the value returned by an inlined call.
// Inlined calls leave no trace of their return value.
func (t *Target) inlinedReturnValue(rec *InlinedCallRecord) *ReturnValue {
	fn := t.bi.LookupFunc(rec.Func)
	if fn == nil || fn.Return.Convention == linetab.ReturnVoid {
		return nil
	}
	return &ReturnValue{Type: fn.Return.Name}
}

// driveFinish resumes the target until the finish completes or, on
// asynchronous backends, until the target is resumed.
func (t *Target) driveFinish(fs *finishState) (Result, error) {
	for {
		stop, err := t.resume(StepRange{}, StepOverNone)
		if err != nil {
			t.clearFinish(fs)
			return Result{}, err
		}
		fs.resumes++
		if t.async {
			if err := t.queue.scheduleNext(&finishContinuation{fs}); err != nil {
				return Result{}, err
			}
			return Result{Kind: Pending}, nil
		}
		done, err := t.finishStopped(fs, stop)
		if err != nil {
			return Result{}, err
		}
		if done {
			return fs.result(t), nil
		}
	}
}

// finishStopped handles a stop during a finish. It returns false if the
// target must be resumed again: the breakpoint was hit by a recursive
// activation.
func (t *Target) finishStopped(fs *finishState, stop StopReason) (bool, error) {
	fs.stop = stop
	if stop.Kind == StopBreakpoint && stop.Breakpoint == fs.bp.handle {
		frame, err := t.realFrame()
		if err != nil {
			t.clearFinish(fs)
			return false, err
		}
		switch {
		case frame.ID == fs.pr.TargetFrameID:
			regs, err := t.registers()
			if err != nil {
				t.clearFinish(fs)
				return false, err
			}
			fs.returned = true
			fs.rv = readReturnValue(fs.pr.Function, regs)
		case frame.ID.Inner(fs.pr.TargetFrameID):
			if logflags.Stepping() {
				logflags.SteppingLogger().Debugf("finish breakpoint hit by frame %s, expected %s", frame.ID, fs.pr.TargetFrameID)
			}
			return false, nil
		}
	}
	t.clearFinish(fs)
	return true, nil
}

func (t *Target) clearFinish(fs *finishState) {
	if _, err := t.Breakpoints.Clear(t.be, fs.bp.Addr); err != nil {
		if _, isnobp := err.(NoBreakpointError); !isnobp && logflags.Stepping() {
			logflags.SteppingLogger().Errorf("could not clear finish breakpoint: %v", err)
		}
	}
	if t.pending == fs.pr {
		t.pending = nil
	}
}

func (fs *finishState) result(t *Target) Result {
	info := t.stopInfo(fs.stop)
	info.Resumes = fs.resumes
	info.Finished = fs.returned
	info.ReturnValue = fs.rv
	return Result{Kind: Completed, Stop: info}
}

// readReturnValue reads the value returned by fn from regs, following
// its return convention.
func readReturnValue(fn *linetab.Function, regs Registers) *ReturnValue {
	if fn == nil {
		return nil
	}
	switch fn.Return.Convention {
	case linetab.ReturnVoid:
		return nil
	case linetab.ReturnRegister:
		v, ok := regs.Get(fn.Return.Register)
		if !ok {
			return &ReturnValue{Type: fn.Return.Name}
		}
		return &ReturnValue{Type: fn.Return.Name, Value: v, Available: true}
	}
	return &ReturnValue{Type: fn.Return.Name}
}
