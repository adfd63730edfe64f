// Package starbind makes the debugger commands available to starlark
// scripts, so that stepping sequences can be scripted.
package starbind

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
)

const (
	commandBuiltinName     = "stepctl_command"
	curLocationBuiltinName = "cur_location"
	helpBuiltinName        = "help"
	commandPrefix          = "command_"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowSet = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// ExecCommand is an execution command that scripts can run directly.
type ExecCommand uint8

const (
	Step ExecCommand = iota
	Next
	StepInstruction
	NextInstruction
	Finish
	Continue
)

var execBuiltins = []struct {
	name     string
	cmd      ExecCommand
	counted  bool
	helpText string
}{
	{"step", Step, true, "steps count source lines, entering calls."},
	{"next", Next, true, "steps over count source lines."},
	{"stepi", StepInstruction, true, "executes count instructions."},
	{"nexti", NextInstruction, true, "executes count instructions, stepping over calls."},
	{"finish", Finish, false, "runs until the selected frame returns."},
	{"cont", Continue, false, "resumes the target until it stops."},
}

// Location is the position of the stopped target as seen by scripts.
type Location struct {
	PC          uint64
	File        string
	Line        int
	Function    string
	InlineDepth int
}

// Stop describes how an execution command ended.
type Stop struct {
	Location
	Reason           string
	Exited           bool
	ExitCode         int
	FunctionReturned bool
	Interrupted      bool
	ReturnValue      string
	Notes            []string
	Warnings         []string
}

// Context is the context in which starlark scripts are evaluated.
type Context interface {
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
	Location() (Location, error)
	// Exec runs an execution command and waits for the target to stop.
	Exec(cmd ExecCommand, count int) (Stop, error)
	// Interrupt aborts the execution command in progress, if any.
	Interrupt()
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env starlark.StringDict
	doc map[string]string

	mu     sync.Mutex
	thread *starlark.Thread

	ctx Context
	out io.Writer
}

// New creates a new starlark binding environment.
func New(ctx Context, out io.Writer) *Env {
	env := &Env{ctx: ctx, out: out, env: starlark.StringDict{}, doc: map[string]string{}}

	env.builtin(commandBuiltinName, "(Command, Args...)", "executes a command, as if it was typed at the prompt.", env.command)
	env.builtin(curLocationBuiltinName, "()", "returns a dict describing the current location: pc, file, line, function and inline_depth.", env.curLocation)
	env.builtin(helpBuiltinName, "(Object)", "prints help for Object.", env.help)
	for _, eb := range execBuiltins {
		args := "()"
		if eb.counted {
			args = "(count=1)"
		}
		env.builtin(eb.name, args, eb.helpText+" Returns a dict describing the stop.", env.execBuiltin(eb.cmd, eb.counted))
	}

	return env
}

type builtinFn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, fn)
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

func (env *Env) command(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, decorateError(thread, fmt.Errorf("%s does not accept keyword arguments", b.Name()))
	}
	argstrs := make([]string, len(args))
	for i := range args {
		a, ok := starlark.AsString(args[i])
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("argument %d of %s is not a string", i, b.Name()))
		}
		argstrs[i] = a
	}
	return starlark.None, decorateError(thread, env.ctx.CallCommand(strings.Join(argstrs, " ")))
}

func (env *Env) curLocation(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	loc, err := env.ctx.Location()
	if err != nil {
		return nil, decorateError(thread, err)
	}
	d := starlark.NewDict(5)
	setLocation(d, loc)
	return d, nil
}

func (env *Env) execBuiltin(cmd ExecCommand, counted bool) builtinFn {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		count := 1
		if counted {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "count?", &count); err != nil {
				return nil, err
			}
			if count <= 0 {
				return nil, decorateError(thread, fmt.Errorf("%s: count must be positive", b.Name()))
			}
		} else if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		stop, err := env.ctx.Exec(cmd, count)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return stopValue(stop), nil
	}
}

func (env *Env) help(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	switch len(args) {
	case 0:
		fmt.Fprintln(env.out, "Available builtins:")
		bins := make([]string, 0, len(env.doc))
		for name := range env.doc {
			bins = append(bins, name)
		}
		sort.Strings(bins)
		for _, bin := range bins {
			fmt.Fprintf(env.out, "\t%s\n", bin)
		}
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if doc := env.doc[x.Name()]; doc != "" {
				fmt.Fprintln(env.out, doc)
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if doc := x.Doc(); doc != "" {
				fmt.Fprintln(env.out, doc)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %s\n", args[0].Type())
		}
	default:
		return nil, fmt.Errorf("%s: got %d arguments, want at most 1", b.Name(), len(args))
	}
	return starlark.None, nil
}

func setLocation(d *starlark.Dict, loc Location) {
	set := func(k string, v starlark.Value) {
		// SetKey only fails on frozen dicts or unhashable keys
		_ = d.SetKey(starlark.String(k), v)
	}
	set("pc", starlark.MakeUint64(loc.PC))
	set("file", starlark.String(loc.File))
	set("line", starlark.MakeInt(loc.Line))
	set("function", starlark.String(loc.Function))
	set("inline_depth", starlark.MakeInt(loc.InlineDepth))
}

func stopValue(stop Stop) *starlark.Dict {
	d := starlark.NewDict(13)
	setLocation(d, stop.Location)
	strs := func(v []string) *starlark.List {
		elems := make([]starlark.Value, len(v))
		for i := range v {
			elems[i] = starlark.String(v[i])
		}
		return starlark.NewList(elems)
	}
	var retval starlark.Value = starlark.None
	if stop.ReturnValue != "" {
		retval = starlark.String(stop.ReturnValue)
	}
	for _, kv := range []struct {
		k string
		v starlark.Value
	}{
		{"reason", starlark.String(stop.Reason)},
		{"exited", starlark.Bool(stop.Exited)},
		{"exit_code", starlark.MakeInt(stop.ExitCode)},
		{"function_returned", starlark.Bool(stop.FunctionReturned)},
		{"interrupted", starlark.Bool(stop.Interrupted)},
		{"return_value", retval},
		{"notes", strs(stop.Notes)},
		{"warnings", strs(stop.Warnings)},
	} {
		_ = d.SetKey(starlark.String(kv.k), kv.v)
	}
	return d
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out io.Writer) {
	env.mu.Lock()
	env.out = out
	env.mu.Unlock()
}

func (env *Env) print(_ *starlark.Thread, msg string) {
	env.mu.Lock()
	out := env.out
	env.mu.Unlock()
	fmt.Fprintln(out, msg)
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []string) (starlark.Value, error) {
	return env.run(func(thread *starlark.Thread) (starlark.Value, error) {
		globals, err := starlark.ExecFile(thread, path, source, env.env)
		if err != nil {
			return starlark.None, err
		}
		for name, val := range globals {
			if strings.HasPrefix(name, commandPrefix) {
				if err := env.createCommand(name[len(commandPrefix):], val); err != nil {
					return starlark.None, err
				}
			}
		}
		if mainFnName == "" || globals[mainFnName] == nil {
			return starlark.None, nil
		}
		return env.call(thread, mainFnName, globals[mainFnName], args)
	})
}

// run evaluates fn on a new thread, which becomes the target of Cancel
// until fn returns. Scripts can call commands defined by other scripts,
// so runs nest.
func (env *Env) run(fn func(thread *starlark.Thread) (starlark.Value, error)) (v starlark.Value, err error) {
	thread := &starlark.Thread{Name: "stepctl", Print: env.print}
	env.mu.Lock()
	prev := env.thread
	env.thread = thread
	env.mu.Unlock()
	defer func() {
		env.mu.Lock()
		env.thread = prev
		env.mu.Unlock()
		if ierr := recover(); ierr != nil {
			v, err = starlark.None, fmt.Errorf("panic executing starlark script: %v", ierr)
		}
	}()
	return fn(thread)
}

// Cancel cancels the script currently running, interrupting the
// execution command it is waiting on. It returns false if no script was
// running.
func (env *Env) Cancel() bool {
	if env == nil {
		return false
	}
	env.mu.Lock()
	thread := env.thread
	env.mu.Unlock()
	if thread == nil {
		return false
	}
	thread.Cancel("interrupted")
	env.ctx.Interrupt()
	return true
}

// createCommand registers fnval as a debugger command. The words typed
// after the command name are passed to it as string arguments.
func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}
	if name == "" {
		return fmt.Errorf("%s: empty command name", fnval.Position())
	}
	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}
	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		_, err := env.run(func(thread *starlark.Thread) (starlark.Value, error) {
			return env.call(thread, name, fnval, strings.Fields(args))
		})
		return err
	})
	return nil
}

func (env *Env) call(thread *starlark.Thread, name string, val starlark.Value, args []string) (starlark.Value, error) {
	fn, ok := val.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", name)
	}
	if fn.NumParams() != len(args) && !fn.HasVarargs() {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s: got %d, want %d", name, len(args), fn.NumParams())
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = starlark.String(args[i])
	}
	return starlark.Call(thread, fn, argtuple, nil)
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %v", thread.CallFrame(1).Pos, err)
}
