package proc_test

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-delve/stepctl/pkg/logflags"
	"github.com/go-delve/stepctl/pkg/proc"
	"github.com/go-delve/stepctl/pkg/proc/sim"
	protest "github.com/go-delve/stepctl/pkg/proc/test"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	if err := logflags.Setup(logConf != "", logConf, ""); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func withTestTarget(name string, t testing.TB, fn func(p *proc.Target, m *sim.Machine)) {
	withTestTargetConfig(name, t, proc.DefaultConfig(), fn)
}

func withTestTargetConfig(name string, t testing.TB, conf proc.Config, fn func(p *proc.Target, m *sim.Machine)) {
	p, m := protest.NewTarget(t, name, false, conf)
	fn(p, m)
}

func assertNoError(err error, t testing.TB, s string) {
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		fname := filepath.Base(file)
		t.Fatalf("failed assertion at %s:%d: %s - %s\n", fname, line, s, err)
	}
}

func currentLocation(p *proc.Target, t testing.TB) proc.Location {
	f, err := p.CurrentFrame()
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		t.Fatalf("could not get current frame at %s:%d: %v", filepath.Base(file), line, err)
	}
	return f.Current
}

// completed checks that the command returned a completed result.
func completed(res proc.Result, err error, t testing.TB, s string) proc.StopInfo {
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		t.Fatalf("failed assertion at %s:%d: %s - %s\n", filepath.Base(file), line, s, err)
	}
	if res.Kind != proc.Completed {
		_, file, line, _ := runtime.Caller(1)
		t.Fatalf("%s at %s:%d: result is %s, expected completed", s, filepath.Base(file), line, res.Kind)
	}
	return res.Stop
}

func assertResumes(info proc.StopInfo, n int, t testing.TB) {
	if info.Resumes != n {
		_, file, line, _ := runtime.Caller(1)
		t.Fatalf("at %s:%d: target resumed %d times, expected %d", filepath.Base(file), line, info.Resumes, n)
	}
}

func TestNextGeneral(t *testing.T) {
	testcases := []struct {
		begin, end int
	}{
		{10, 11},
		{11, 12},
		{12, 13},
		{13, 14},
	}
	withTestTarget("stepping", t, func(p *proc.Target, m *sim.Machine) {
		for _, tc := range testcases {
			protest.AssertLocation(t, currentLocation(p, t), "main.c", tc.begin)
			res, err := p.Next(1)
			info := completed(res, err, t, "Next()")
			protest.AssertLocation(t, info.Location, "main.c", tc.end)
			assertResumes(info, 1, t)
			if info.FunctionReturned {
				t.Errorf("line %d: unexpected function return", tc.begin)
			}
		}
		if m.ResumeCount() != len(testcases) {
			t.Errorf("machine resumed %d times", m.ResumeCount())
		}
	})
}

func TestNextCount(t *testing.T) {
	withTestTarget("stepping", t, func(p *proc.Target, m *sim.Machine) {
		res, err := p.Next(3)
		info := completed(res, err, t, "Next(3)")
		protest.AssertLocation(t, info.Location, "main.c", 13)
		assertResumes(info, 3, t)
	})
}

func TestNextOverCall(t *testing.T) {
	p, m := protest.NewTargetAt(t, "stepping", "main.c", 11, false, proc.DefaultConfig())
	res, err := p.Next(1)
	info := completed(res, err, t, "Next()")
	protest.AssertLocation(t, info.Location, "main.c", 12)
	if info.Location.PC != 0x100c {
		t.Errorf("stopped at %#x, expected 0x100c", info.Location.PC)
	}
	regs, err := p.Registers()
	assertNoError(err, t, "Registers()")
	if rax := regs.Named["rax"]; rax != 5 {
		t.Errorf("add was not executed, rax = %d", rax)
	}
	if m.ResumeCount() != 1 {
		t.Errorf("machine resumed %d times", m.ResumeCount())
	}
}

func TestStepCall(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "stepping", "main.c", 11, false, proc.DefaultConfig())
	res, err := p.StepIn(1)
	info := completed(res, err, t, "Step()")
	protest.AssertLocation(t, info.Location, "add.c", 3)
	if info.Location.Function != "add" {
		t.Errorf("wrong function %q", info.Location.Function)
	}
	frames, err := p.Stacktrace(10)
	assertNoError(err, t, "Stacktrace()")
	if len(frames) != 2 {
		t.Fatalf("wrong number of frames %d", len(frames))
	}
	protest.AssertLocation(t, frames[1].Current, "main.c", 11)
}

func TestNextFunctionReturn(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "stepping", "add.c", 4, false, proc.DefaultConfig())
	res, err := p.Next(5)
	info := completed(res, err, t, "Next(5)")
	if !info.FunctionReturned {
		t.Errorf("function return not reported")
	}
	protest.AssertLocation(t, info.Location, "main.c", 11)
	if info.Location.PC != 0x1008 {
		t.Errorf("stopped at %#x, expected the return address 0x1008", info.Location.PC)
	}
	assertResumes(info, 2, t)
}

func TestNextProgramExit(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "stepping", "main.c", 14, false, proc.DefaultConfig())
	res, err := p.Next(1)
	info := completed(res, err, t, "Next()")
	if info.Reason.Kind != proc.StopExited {
		t.Fatalf("wrong stop reason %s", info.Reason)
	}
	if exited, status := p.Exited(); !exited || status != 0 {
		t.Errorf("Exited() = %v, %d", exited, status)
	}
	_, err = p.CurrentFrame()
	var nse *proc.NoStackError
	if !errors.As(err, &nse) {
		t.Fatalf("expected NoStackError, got %v", err)
	}
	_, err = p.Next(1)
	if !errors.As(err, &nse) {
		t.Fatalf("expected NoStackError stepping an exited target, got %v", err)
	}
}

func TestStepInstruction(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "stepping", "main.c", 11, false, proc.DefaultConfig())
	res, err := p.StepInstruction(1, false)
	info := completed(res, err, t, "StepInstruction()")
	if info.Location.PC != 0x1100 || info.Location.Function != "add" {
		t.Fatalf("stepi stopped at %s, expected the entry point of add", info.Location)
	}

	p, _ = protest.NewTargetAt(t, "stepping", "main.c", 11, false, proc.DefaultConfig())
	res, err = p.StepInstruction(1, true)
	info = completed(res, err, t, "StepInstruction(over)")
	if info.Location.PC != 0x1008 || info.Location.Function != "main" {
		t.Fatalf("nexti stopped at %s, expected 0x1008 in main", info.Location)
	}
}

func TestInvalidCount(t *testing.T) {
	withTestTarget("stepping", t, func(p *proc.Target, m *sim.Machine) {
		if _, err := p.Next(0); err == nil {
			t.Fatal("Next(0) did not fail")
		}
		if m.ResumeCount() != 0 {
			t.Errorf("target resumed")
		}
	})
}

func TestRecursiveNext(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "recursive", "fact.c", 11, false, proc.DefaultConfig())
	res, err := p.StepIn(1)
	info := completed(res, err, t, "Step()")
	protest.AssertLocation(t, info.Location, "fact.c", 2)
	start := info.Frame

	res, err = p.Next(1)
	info = completed(res, err, t, "Next()")
	protest.AssertLocation(t, info.Location, "fact.c", 3)
	if info.Frame != start {
		t.Errorf("Next stopped in frame %s, expected %s", info.Frame, start)
	}
	regs, err := p.Registers()
	assertNoError(err, t, "Registers()")
	if rax := regs.Named["rax"]; rax != 3 {
		t.Errorf("rax = %d, expected 3", rax)
	}
}

func TestRecursiveStep(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "recursive", "fact.c", 11, false, proc.DefaultConfig())
	res, err := p.StepIn(1)
	first := completed(res, err, t, "Step()")
	res, err = p.StepIn(1)
	second := completed(res, err, t, "Step()")
	protest.AssertLocation(t, second.Location, "fact.c", 2)
	if !second.Frame.Inner(first.Frame) {
		t.Fatalf("frame %s is not inner of %s", second.Frame, first.Frame)
	}
	frames, err := p.Stacktrace(10)
	assertNoError(err, t, "Stacktrace()")
	if len(frames) != 3 {
		t.Fatalf("wrong number of frames %d", len(frames))
	}
}

func TestSpuriousStop(t *testing.T) {
	withTestTarget("spurious", t, func(p *proc.Target, m *sim.Machine) {
		res, err := p.Next(1)
		info := completed(res, err, t, "Next()")
		protest.AssertLocation(t, info.Location, "sp.c", 2)
		assertResumes(info, 2, t)
		if m.ResumeCount() != 2 {
			t.Errorf("machine resumed %d times", m.ResumeCount())
		}
	})
}

func TestSignalEndsStep(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "spurious", "sp.c", 3, false, proc.DefaultConfig())
	res, err := p.Next(2)
	info := completed(res, err, t, "Next()")
	if info.Reason.Kind != proc.StopSignal || info.Reason.Signal != 11 {
		t.Fatalf("wrong stop reason %s", info.Reason)
	}
	assertResumes(info, 1, t)

	res, err = p.Continue()
	info = completed(res, err, t, "Continue()")
	if info.Reason.Kind != proc.StopExited {
		t.Fatalf("wrong stop reason %s", info.Reason)
	}
}

func TestStepOutOfFunctionWithoutLines(t *testing.T) {
	withTestTarget("nolines", t, func(p *proc.Target, m *sim.Machine) {
		res, err := p.StepIn(1)
		info := completed(res, err, t, "Step()")
		protest.AssertLocation(t, info.Location, "nl.c", 6)
		assertResumes(info, 2, t)
		if len(info.Warnings) != 0 {
			t.Errorf("unexpected warnings %q", info.Warnings)
		}
	})
}

func TestStepOutOfFunctionWithoutLinesInRange(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "nolines", "helper.c", 40, false, proc.DefaultConfig())
	res, err := p.StepIn(1)
	info := completed(res, err, t, "Step()")
	protest.AssertLocation(t, info.Location, "helper.c", 41)
	assertResumes(info, 3, t)
}

func TestStepStopIfNoDebug(t *testing.T) {
	conf := proc.DefaultConfig()
	conf.StepStopIfNoDebug = true
	withTestTargetConfig("nolines", t, conf, func(p *proc.Target, m *sim.Machine) {
		res, err := p.StepIn(1)
		info := completed(res, err, t, "Step()")
		if info.Location.Function != "opaque" || info.Location.PC != 0x1100 {
			t.Fatalf("stopped at %s, expected the entry point of opaque", info.Location)
		}
		res, err = p.StepIn(1)
		info = completed(res, err, t, "Step()")
		if info.Location.PC != 0x1104 {
			t.Fatalf("stopped at %#x, expected a single instruction step", info.Location.PC)
		}
	})
}

func TestStepWithoutLineInfo(t *testing.T) {
	p, _ := protest.NewTargetAtFunction(t, "nolines", "opaque", false, proc.DefaultConfig())
	res, err := p.Next(1)
	info := completed(res, err, t, "Next()")
	if len(info.Warnings) != 1 {
		t.Fatalf("expected one warning, got %q", info.Warnings)
	}
	const expected = "Single stepping until exit from function opaque,\nwhich has no line number information."
	if info.Warnings[0] != expected {
		t.Errorf("wrong warning %q", info.Warnings[0])
	}
	if !info.FunctionReturned {
		t.Errorf("function return not reported")
	}
	protest.AssertLocation(t, info.Location, "nl.c", 6)
}

func TestStepWithoutFunctionBounds(t *testing.T) {
	p, _ := protest.NewTarget(t, "stripped", false, proc.DefaultConfig())
	res, err := p.StepInstruction(1, false)
	info := completed(res, err, t, "StepInstruction()")
	if info.Location.PC != 0x1100 || info.Location.Fn != nil {
		t.Fatalf("stopped at %s, expected the stripped function", info.Location)
	}

	_, err = p.Next(1)
	if !errors.Is(err, proc.ErrNoFunctionBounds) {
		t.Fatalf("expected ErrNoFunctionBounds, got %v", err)
	}
	if err.Error() != "Cannot find bounds of current function" {
		t.Errorf("wrong error message %q", err)
	}
	if loc := currentLocation(p, t); loc.PC != 0x1100 {
		t.Errorf("target moved to %#x", loc.PC)
	}

	conf := p.Config()
	conf.StepStopIfNoDebug = true
	p.SetConfig(conf)
	res, err = p.Next(1)
	info = completed(res, err, t, "Next()")
	if info.Location.PC != 0x1104 {
		t.Fatalf("stopped at %#x, expected a single instruction step", info.Location.PC)
	}
}

func TestTrapInSteppedOverCall(t *testing.T) {
	withTestTarget("trapcall", t, func(p *proc.Target, m *sim.Machine) {
		res, err := p.Next(2)
		info := completed(res, err, t, "Next()")
		if info.Reason.Kind != proc.StopTrap {
			t.Fatalf("wrong stop reason %s", info.Reason)
		}
		protest.AssertLocation(t, info.Location, "worker.c", 11)
		if info.Location.PC != 0x1108 {
			t.Errorf("stopped at %#x, expected 0x1108", info.Location.PC)
		}
		if info.FunctionReturned {
			t.Errorf("function return reported")
		}
		assertResumes(info, 1, t)
	})
}

func TestSignalInSteppedOverCall(t *testing.T) {
	p, _ := protest.NewTargetAt(t, "trapcall", "tc.c", 2, false, proc.DefaultConfig())
	res, err := p.Next(1)
	info := completed(res, err, t, "Next()")
	if info.Reason.Kind != proc.StopSignal || info.Reason.Signal != 11 {
		t.Fatalf("wrong stop reason %s", info.Reason)
	}
	protest.AssertLocation(t, info.Location, "crash.c", 21)
	if info.Location.Function != "crasher" {
		t.Errorf("wrong function %q", info.Location.Function)
	}
	assertResumes(info, 1, t)
}

// asyncMachine claims to be asynchronous but stops the target before
// returning from every resume.
type asyncMachine struct {
	*sim.Machine
}

func (asyncMachine) IsAsynchronous() bool { return true }

func TestBackendModeMismatch(t *testing.T) {
	m := protest.LoadFixture(t, "stepping")
	p := proc.NewTarget(m.Table(), asyncMachine{m}, proc.DefaultConfig())
	_, err := p.Next(1)
	var merr *proc.BackendModeError
	if !errors.As(err, &merr) {
		t.Fatalf("expected BackendModeError, got %v", err)
	}
	if !merr.Async || merr.Stop.Kind != proc.StopStepped {
		t.Errorf("wrong error %#v", merr)
	}
	if p.CommandInProgress() {
		t.Errorf("command in progress after a failed resume")
	}
}

func TestHaltSynchronousContinue(t *testing.T) {
	p, m := protest.NewTarget(t, "spin", false, proc.DefaultConfig())
	m.MaxSteps = 1 << 40
	if _, ok := p.Backend().(proc.Halter); !ok {
		t.Fatal("machine can not be halted")
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		m.Halt()
	}()
	res, err := p.Continue()
	info := completed(res, err, t, "Continue()")
	if info.Reason.Kind != proc.StopHalted || !info.Interrupted {
		t.Fatalf("wrong stop reason %s (interrupted %v)", info.Reason, info.Interrupted)
	}
	protest.AssertLocation(t, info.Location, "spin.c", 2)

	// the halt request was consumed by the stop
	m.MaxSteps = 100
	if _, err := p.StepInstruction(1, false); !errors.Is(err, sim.ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}
}
