package starbind

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type fakeContext struct {
	cmds       []string
	execs      []ExecCommand
	loc        Location
	failWith   error
	commands   map[string]func(string) error
	interrupts int
	onExec     func()
}

func (ctx *fakeContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	if ctx.commands == nil {
		ctx.commands = map[string]func(string) error{}
	}
	ctx.commands[name] = fn
}

func (ctx *fakeContext) CallCommand(cmdstr string) error {
	ctx.cmds = append(ctx.cmds, cmdstr)
	ctx.loc.Line++
	return ctx.failWith
}

func (ctx *fakeContext) Location() (Location, error) {
	return ctx.loc, nil
}

func (ctx *fakeContext) Exec(cmd ExecCommand, count int) (Stop, error) {
	ctx.execs = append(ctx.execs, cmd)
	if ctx.onExec != nil {
		ctx.onExec()
	}
	if ctx.failWith != nil {
		return Stop{}, ctx.failWith
	}
	switch cmd {
	case Finish:
		return Stop{Location: Location{File: "main.c", Line: 20, Function: "main"}, Reason: "stepped", FunctionReturned: true, ReturnValue: "Value returned is (int) 3"}, nil
	case Continue:
		return Stop{Reason: "exited", Exited: true, ExitCode: 2}, nil
	}
	ctx.loc.Line += count
	return Stop{Location: ctx.loc, Reason: "stepped", Notes: []string{"note"}}, nil
}

func (ctx *fakeContext) Interrupt() {
	ctx.interrupts++
}

func TestStepUntilLine(t *testing.T) {
	ctx := &fakeContext{loc: Location{PC: 0x1000, File: "main.c", Line: 10, Function: "main"}}
	var out bytes.Buffer
	env := New(ctx, &out)
	const script = `
def main():
    while cur_location()["line"] < 13:
        stepctl_command("next")
    loc = cur_location()
    print(loc["file"], loc["line"], loc["function"], loc["inline_depth"])
`
	if _, err := env.Execute("test.star", script, "main", nil); err != nil {
		t.Fatal(err)
	}
	if len(ctx.cmds) != 3 {
		t.Errorf("wrong commands %q", ctx.cmds)
	}
	if got := strings.TrimSpace(out.String()); got != "main.c 13 main 0" {
		t.Errorf("wrong output %q", got)
	}
}

func TestExecBuiltins(t *testing.T) {
	ctx := &fakeContext{loc: Location{PC: 0x1000, File: "main.c", Line: 10, Function: "main"}}
	var out bytes.Buffer
	env := New(ctx, &out)
	const script = `
def main():
    s = next(2)
    print(s["reason"], s["line"], s["function_returned"], s["return_value"], s["notes"])
    s = stepi()
    print(s["line"])
    s = finish()
    print(s["function_returned"], s["return_value"])
    s = cont()
    print(s["exited"], s["exit_code"])
`
	if _, err := env.Execute("test.star", script, "main", nil); err != nil {
		t.Fatal(err)
	}
	want := []ExecCommand{Next, StepInstruction, Finish, Continue}
	if len(ctx.execs) != len(want) {
		t.Fatalf("wrong commands %v", ctx.execs)
	}
	for i := range want {
		if ctx.execs[i] != want[i] {
			t.Fatalf("wrong commands %v", ctx.execs)
		}
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	expected := []string{
		`stepped 12 False None ["note"]`,
		"13",
		"True Value returned is (int) 3",
		"True 2",
	}
	if len(lines) != len(expected) {
		t.Fatalf("wrong output:\n%s", out.String())
	}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], expected[i])
		}
	}
}

func TestExecBuiltinArguments(t *testing.T) {
	ctx := &fakeContext{}
	env := New(ctx, &bytes.Buffer{})
	for _, tc := range []struct {
		src, err string
	}{
		{"step(0)", "count must be positive"},
		{`next("x")`, "for parameter count"},
		{"finish(1)", "got 1 arguments"},
	} {
		_, err := env.Execute("test.star", tc.src, "", nil)
		if err == nil || !strings.Contains(err.Error(), tc.err) {
			t.Errorf("%s: expected error containing %q, got %v", tc.src, tc.err, err)
		}
	}
	if len(ctx.execs) != 0 {
		t.Errorf("commands executed with bad arguments: %v", ctx.execs)
	}
}

func TestCommandError(t *testing.T) {
	ctx := &fakeContext{failWith: errors.New("boom")}
	env := New(ctx, &bytes.Buffer{})
	_, err := env.Execute("test.star", `stepctl_command("step")`, "", nil)
	if err == nil || !strings.Contains(err.Error(), "boom") || !strings.Contains(err.Error(), "test.star:1") {
		t.Fatalf("expected error, got %v", err)
	}
}

func TestCreateCommand(t *testing.T) {
	ctx := &fakeContext{}
	env := New(ctx, &bytes.Buffer{})
	const script = `
def command_twice(cmd, count):
    "Runs a command twice."
    stepctl_command(cmd, count)
    stepctl_command(cmd, count)
`
	if _, err := env.Execute("test.star", script, "", nil); err != nil {
		t.Fatal(err)
	}
	fn := ctx.commands["twice"]
	if fn == nil {
		t.Fatal("command not registered")
	}
	if err := fn("next 2"); err != nil {
		t.Fatal(err)
	}
	if len(ctx.cmds) != 2 || ctx.cmds[0] != "next 2" {
		t.Errorf("wrong commands %q", ctx.cmds)
	}
	if err := fn("next"); err == nil || !strings.Contains(err.Error(), "wrong number of arguments for twice") {
		t.Errorf("expected arity error, got %v", err)
	}
	if len(ctx.cmds) != 2 {
		t.Errorf("command ran with wrong arguments: %q", ctx.cmds)
	}
}

func TestCancel(t *testing.T) {
	ctx := &fakeContext{}
	env := New(ctx, &bytes.Buffer{})
	if env.Cancel() {
		t.Fatal("Cancel reported a running script")
	}
	ctx.onExec = func() {
		if !env.Cancel() {
			t.Error("Cancel did not find the running script")
		}
	}
	const script = `
def main():
    for i in range(100):
        next()
`
	_, err := env.Execute("test.star", script, "main", nil)
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(ctx.execs) != 1 || ctx.interrupts != 1 {
		t.Fatalf("script kept running after Cancel: %d commands, %d interrupts", len(ctx.execs), ctx.interrupts)
	}
	if env.Cancel() {
		t.Fatal("Cancel reported a running script after it ended")
	}
}
