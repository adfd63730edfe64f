package terminal

import (
	"fmt"

	"github.com/go-delve/stepctl/pkg/proc"
	"github.com/go-delve/stepctl/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	cmdfn := func(t *Term, args string) error {
		return fn(args)
	}
	ctx.term.cmds.Register(name, cmdfn, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}

func (ctx starlarkContext) Location() (starbind.Location, error) {
	f, err := ctx.term.target.CurrentFrame()
	if err != nil {
		return starbind.Location{}, err
	}
	loc := starbind.Location{
		PC:       f.Current.PC,
		File:     f.Current.File,
		Line:     f.Current.Line,
		Function: f.Current.Function,
	}
	if ist, err := ctx.term.target.InlinedStack(); err == nil {
		loc.InlineDepth = ist.CurrentDepth()
	}
	return loc, nil
}

func (ctx starlarkContext) Exec(cmd starbind.ExecCommand, count int) (starbind.Stop, error) {
	t := ctx.term.target
	var fn func() (proc.Result, error)
	switch cmd {
	case starbind.Step:
		fn = func() (proc.Result, error) { return t.StepIn(count) }
	case starbind.Next:
		fn = func() (proc.Result, error) { return t.Next(count) }
	case starbind.StepInstruction, starbind.NextInstruction:
		over := cmd == starbind.NextInstruction
		fn = func() (proc.Result, error) { return t.StepInstruction(count, over) }
	case starbind.Finish:
		f, err := ctx.term.cmds.selectedFrame(ctx.term)
		if err != nil {
			return starbind.Stop{}, err
		}
		fn = func() (proc.Result, error) { return t.Finish(f) }
	case starbind.Continue:
		fn = t.Continue
	default:
		return starbind.Stop{}, fmt.Errorf("unknown execution command %d", cmd)
	}
	info, err := ctx.term.execute(fn)
	if err != nil {
		return starbind.Stop{}, err
	}
	stop := starbind.Stop{
		Location: starbind.Location{
			PC:          info.Location.PC,
			File:        info.Location.File,
			Line:        info.Location.Line,
			Function:    info.Location.Function,
			InlineDepth: info.InlineDepth,
		},
		Reason:           info.Reason.Kind.String(),
		Exited:           info.Reason.Kind == proc.StopExited,
		FunctionReturned: info.FunctionReturned,
		Interrupted:      info.Interrupted,
		Notes:            info.Notes,
		Warnings:         info.Warnings,
	}
	if stop.Exited {
		stop.ExitCode = info.Reason.ExitCode
	}
	if info.Finished && info.ReturnValue != nil {
		stop.ReturnValue = info.ReturnValue.String()
	}
	return stop, nil
}

func (ctx starlarkContext) Interrupt() {
	ctx.term.interrupt()
}
