package proc_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/go-delve/stepctl/pkg/proc"
	"github.com/go-delve/stepctl/pkg/proc/sim"
	protest "github.com/go-delve/stepctl/pkg/proc/test"
)

func debugInlineConfig() proc.Config {
	conf := proc.DefaultConfig()
	conf.DebugInlinedStepping = true
	return conf
}

// inlineTarget returns a target stopped at the call site of the nested
// inlined calls on line 21.
func inlineTarget(t *testing.T, conf proc.Config) (*proc.Target, *sim.Machine) {
	p, m := protest.NewTarget(t, "inline", false, conf)
	res, err := p.Next(1)
	info := completed(res, err, t, "Next()")
	if info.Location.PC != 0x1004 {
		t.Fatalf("stopped at %#x, expected 0x1004", info.Location.PC)
	}
	return p, m
}

func TestNextStopsAtInlinedCallSite(t *testing.T) {
	p, _ := inlineTarget(t, debugInlineConfig())
	loc := currentLocation(p, t)
	protest.AssertLocation(t, loc, "main.c", 21)
	if loc.Function != "main" {
		t.Errorf("wrong function %q", loc.Function)
	}
	ist, err := p.InlinedStack()
	assertNoError(err, t, "InlinedStack()")
	if ist.CurrentDepth() != 0 || ist.StackSize() != 2 {
		t.Fatalf("depth %d of %d, expected 0 of 2", ist.CurrentDepth(), ist.StackSize())
	}
	cs, ok := ist.AtInlinedCallSite(0x1004)
	if !ok {
		t.Fatal("not at an inlined call site")
	}
	if cs.Func != "outer" || cs.File != "main.c" || cs.Line != 21 || cs.Column != 3 {
		t.Errorf("wrong call site %#v", cs)
	}
}

func TestStepIntoNestedInlinedCalls(t *testing.T) {
	p, m := inlineTarget(t, debugInlineConfig())
	resumes := m.ResumeCount()

	before, err := p.CurrentFrame()
	assertNoError(err, t, "CurrentFrame()")

	expected := []struct {
		fn     string
		file   string
		line   int
		frames int
	}{
		{"outer", "outer.h", 2, 2},
		{"inner", "inner.h", 2, 3},
	}
	for i, e := range expected {
		res, err := p.StepIn(1)
		info := completed(res, err, t, "Step()")
		if info.InlineDepth != i+1 {
			t.Fatalf("step %d: inline depth %d", i, info.InlineDepth)
		}
		if info.Location.Function != e.fn {
			t.Errorf("step %d: wrong function %q", i, info.Location.Function)
		}
		protest.AssertLocation(t, info.Location, e.file, e.line)
		assertResumes(info, 0, t)
		if !reflect.DeepEqual(info.Notes, []string{"** Simulating stepping into inlined subroutine. **"}) {
			t.Errorf("step %d: wrong notes %q", i, info.Notes)
		}
		frames, err := p.Stacktrace(10)
		assertNoError(err, t, "Stacktrace()")
		if len(frames) != e.frames {
			t.Fatalf("step %d: %d frames, expected %d", i, len(frames), e.frames)
		}
		if frames[0].Kind != proc.InlinedFrame || frames[len(frames)-1].Kind != proc.NormalFrame {
			t.Errorf("step %d: wrong frame kinds %s %s", i, frames[0].Kind, frames[len(frames)-1].Kind)
		}
	}
	if m.ResumeCount() != resumes {
		t.Errorf("target resumed while entering inlined calls")
	}

	if _, _, err := p.PreviousFrame(before); !errors.Is(err, proc.ErrStaleFrame) {
		t.Errorf("frame from before the inlined step is still valid: %v", err)
	}

	frames, err := p.Stacktrace(10)
	assertNoError(err, t, "Stacktrace()")
	protest.AssertLocation(t, frames[1].Current, "outer.h", 2)
	if frames[1].Current.Function != "outer" {
		t.Errorf("wrong function %q", frames[1].Current.Function)
	}
	protest.AssertLocation(t, frames[2].Current, "main.c", 21)
	if frames[2].Current.Function != "main" {
		t.Errorf("wrong function %q", frames[2].Current.Function)
	}
	for i := 1; i < len(frames); i++ {
		if !frames[i-1].ID.Inner(frames[i].ID) {
			t.Errorf("frame %d is not inner of frame %d", i-1, i)
		}
		if frames[i].ID.CFA != frames[0].ID.CFA {
			t.Errorf("inlined frames have different CFAs")
		}
	}
}

func TestStepOutOfInlinedCall(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "inline", "inner.h", 2, false, proc.DefaultConfig())
	ist, err := p.InlinedStack()
	assertNoError(err, t, "InlinedStack()")
	if ist.CurrentDepth() != 0 {
		t.Fatalf("inlined calls entered before stepping")
	}
	for i := 0; i < 2; i++ {
		res, err := p.StepIn(1)
		completed(res, err, t, "Step()")
	}

	res, err := p.StepIn(1)
	info := completed(res, err, t, "Step()")
	protest.AssertLocation(t, info.Location, "inner.h", 3)
	if info.InlineDepth != 2 || info.FunctionReturned {
		t.Fatalf("left inner: depth %d returned %v", info.InlineDepth, info.FunctionReturned)
	}

	res, err = p.StepIn(1)
	info = completed(res, err, t, "Step()")
	protest.AssertLocation(t, info.Location, "outer.h", 3)
	if info.InlineDepth != 1 || !info.FunctionReturned {
		t.Fatalf("expected return to outer: depth %d returned %v", info.InlineDepth, info.FunctionReturned)
	}
	if info.Location.Function != "outer" {
		t.Errorf("wrong function %q", info.Location.Function)
	}

	res, err = p.Next(1)
	info = completed(res, err, t, "Next()")
	protest.AssertLocation(t, info.Location, "main.c", 21)
	if info.InlineDepth != 0 || !info.FunctionReturned || info.Location.PC != 0x1014 {
		t.Fatalf("expected return to main at 0x1014: %s depth %d returned %v", info.Location, info.InlineDepth, info.FunctionReturned)
	}
}

func TestNextOverInlinedCallSite(t *testing.T) {
	p, _ := inlineTarget(t, debugInlineConfig())
	res, err := p.Next(1)
	info := completed(res, err, t, "Next()")
	protest.AssertLocation(t, info.Location, "main.c", 22)
	if info.Location.PC != 0x1018 {
		t.Errorf("stopped at %#x, expected 0x1018", info.Location.PC)
	}
	if info.InlineDepth != 0 {
		t.Errorf("inline depth %d", info.InlineDepth)
	}
	if !reflect.DeepEqual(info.Notes, []string{"** Stepping over inlined function code. **"}) {
		t.Errorf("wrong notes %q", info.Notes)
	}
	assertResumes(info, 1, t)
}

func TestNextOverInlinedCallInLine(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "inline", "main.c", 22, false, debugInlineConfig())
	res, err := p.Next(1)
	info := completed(res, err, t, "Next()")
	protest.AssertLocation(t, info.Location, "main.c", 23)
	if info.Location.PC != 0x1024 {
		t.Errorf("stopped at %#x, expected 0x1024", info.Location.PC)
	}
	if len(info.Notes) != 1 || info.Notes[0] != "** Stepping over inlined function code. **" {
		t.Errorf("wrong notes %q", info.Notes)
	}
	assertResumes(info, 1, t)
}

func TestStepIntoInlinedCallInLine(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "inline", "main.c", 22, false, debugInlineConfig())

	res, err := p.StepIn(1)
	info := completed(res, err, t, "Step()")
	if info.Location.PC != 0x101c || info.InlineDepth != 0 {
		t.Fatalf("expected call site at 0x101c, got %#x depth %d", info.Location.PC, info.InlineDepth)
	}
	protest.AssertLocation(t, info.Location, "main.c", 22)
	if !reflect.DeepEqual(info.Notes, []string{"** Stepping to beginning of inlined subroutine. **"}) {
		t.Errorf("wrong notes %q", info.Notes)
	}

	res, err = p.StepIn(1)
	info = completed(res, err, t, "Step()")
	protest.AssertLocation(t, info.Location, "sq.h", 2)
	if info.InlineDepth != 1 || info.Location.Function != "sq" {
		t.Fatalf("not in sq: %s depth %d", info.Location, info.InlineDepth)
	}
	assertResumes(info, 0, t)

	res, err = p.StepIn(1)
	info = completed(res, err, t, "Step()")
	if !info.FunctionReturned || info.InlineDepth != 0 || info.Location.PC != 0x1020 {
		t.Fatalf("expected return from sq to 0x1020: %s depth %d returned %v", info.Location, info.InlineDepth, info.FunctionReturned)
	}
	protest.AssertLocation(t, info.Location, "main.c", 22)
}

func TestInlinedSteppingDisabled(t *testing.T) {
	conf := proc.DefaultConfig()
	conf.InlinedStepping = false
	withTestTargetConfig("inline", t, conf, func(p *proc.Target, m *sim.Machine) {
		res, err := p.Next(1)
		info := completed(res, err, t, "Next()")
		protest.AssertLocation(t, info.Location, "inner.h", 2)
		if info.Location.Function != "main" {
			t.Errorf("wrong function %q", info.Location.Function)
		}
		frames, err := p.Stacktrace(10)
		assertNoError(err, t, "Stacktrace()")
		if len(frames) != 1 {
			t.Errorf("%d frames, expected 1", len(frames))
		}
		ist, err := p.InlinedStack()
		assertNoError(err, t, "InlinedStack()")
		if ist.StackSize() != 0 {
			t.Errorf("inlined calls recorded with inlined stepping disabled")
		}

		res, err = p.StepIn(1)
		info = completed(res, err, t, "Step()")
		protest.AssertLocation(t, info.Location, "inner.h", 3)
		assertResumes(info, 1, t)
	})
}

func TestStepInstructionIgnoresInlinedCalls(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "inline", "main.c", 20, false, proc.DefaultConfig())
	res, err := p.StepInstruction(1, false)
	info := completed(res, err, t, "StepInstruction()")
	if info.Location.PC != 0x1004 || info.InlineDepth != 0 {
		t.Fatalf("stopped at %#x depth %d", info.Location.PC, info.InlineDepth)
	}
	res, err = p.StepInstruction(1, false)
	info = completed(res, err, t, "StepInstruction()")
	if info.Location.PC != 0x1008 {
		t.Fatalf("stepi did not execute an instruction, pc %#x", info.Location.PC)
	}
	// the first instruction of the inlined calls was executed, both are
	// entered
	if info.InlineDepth != 2 {
		t.Errorf("inline depth %d, expected 2", info.InlineDepth)
	}
	assertResumes(info, 1, t)
}

func TestStepInstructionCountAcrossInlinedExit(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "inline", "inner.h", 3, false, proc.DefaultConfig())
	if loc := currentLocation(p, t); loc.PC != 0x100c {
		t.Fatalf("started at %#x", loc.PC)
	}
	res, err := p.StepInstruction(3, false)
	info := completed(res, err, t, "StepInstruction()")
	// leaves inner, then outer, then executes the rest of line 21
	if info.Location.PC != 0x1018 {
		t.Fatalf("stopped at %#x, expected 0x1018", info.Location.PC)
	}
	protest.AssertLocation(t, info.Location, "main.c", 22)
	if info.FunctionReturned {
		t.Errorf("leaving an inlined body ended the instruction step")
	}
	if info.InlineDepth != 0 {
		t.Errorf("inline depth %d", info.InlineDepth)
	}
	assertResumes(info, 3, t)

	// a line step still completes when the inlined call returns
	p, _ = protest.NewTargetAt(t, "inline", "inner.h", 3, false, proc.DefaultConfig())
	res, err = p.Next(3)
	info = completed(res, err, t, "Next()")
	if !info.FunctionReturned {
		t.Errorf("return from the inlined call not reported")
	}
	assertResumes(info, 1, t)
}

func TestSetConfigRebuildsInlinedStack(t *testing.T) {
	p, _ := inlineTarget(t, proc.DefaultConfig())
	_, err := p.StepIn(1)
	assertNoError(err, t, "Step()")
	if loc := currentLocation(p, t); loc.Function != "outer" {
		t.Fatalf("not in outer: %s", loc)
	}
	conf := p.Config()
	conf.InlinedStepping = false
	p.SetConfig(conf)
	loc := currentLocation(p, t)
	if loc.Function != "main" {
		t.Errorf("inlined frames shown after disabling inlined stepping: %s", loc)
	}
	protest.AssertLocation(t, loc, "inner.h", 2)
}
