// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/go-delve/stepctl/pkg/config"
	"github.com/go-delve/stepctl/pkg/proc"
)

type frameDirection int

const (
	frameSet frameDirection = iota
	frameUp
	frameDown
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the stepctl terminal.
type Commands struct {
	cmds []*command
	// lookup maps every alias to its command, it is rebuilt after the
	// aliases change.
	lookup *trie.Trie
	frame  int // Current frame as set by frame/up/down commands.
}

// ExitRequestError is returned by the exit command.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []*command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []*command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: c.cont, helpMsg: "Run until breakpoint or program termination."},
		{aliases: []string{"step", "s"}, group: runCmds, cmdFn: c.step, helpMsg: `Single step through program.

	step [count]

Runs to the next source line, entering called functions and inlined calls.`},
		{aliases: []string{"next", "n"}, group: runCmds, cmdFn: c.next, helpMsg: `Step over to next source line.

	next [count]

Optional [count] argument allows you to skip multiple lines. Calls,
including inlined calls, are stepped over.`},
		{aliases: []string{"stepi", "si", "step-instruction"}, group: runCmds, cmdFn: c.stepInstruction(false), helpMsg: `Single step a single cpu instruction.

	stepi [count]`},
		{aliases: []string{"nexti", "ni"}, group: runCmds, cmdFn: c.stepInstruction(true), helpMsg: `Single step a single cpu instruction, stepping over calls.

	nexti [count]`},
		{aliases: []string{"finish", "stepout", "so"}, group: runCmds, cmdFn: c.finish, helpMsg: `Run until the selected frame returns.

	finish

Prints the value returned by the function, if it can be determined.`},
		{aliases: []string{"frame"}, group: stackCmds, cmdFn: func(t *Term, args string) error {
			return c.frameCommand(t, args, frameSet)
		}, helpMsg: `Set the current frame.

	frame <m>

Frame 0 is the innermost frame, inlined calls have frames of their own.`},
		{aliases: []string{"up"}, group: stackCmds, cmdFn: func(t *Term, args string) error {
			return c.frameCommand(t, args, frameUp)
		}, helpMsg: `Move the current frame up.

	up [<m>]

Move the current frame up by <m>, stopping at the outermost frame.
Without <m> it is an error to move past the outermost frame.`},
		{aliases: []string{"down"}, group: stackCmds, cmdFn: func(t *Term, args string) error {
			return c.frameCommand(t, args, frameDown)
		}, helpMsg: `Move the current frame down.

	down [<m>]

Move the current frame down by <m>, stopping at the innermost frame.
Without <m> it is an error to move past the innermost frame.`},
		{aliases: []string{"stack", "bt"}, group: stackCmds, cmdFn: c.stack, helpMsg: `Print stack trace.

	stack [depth]

If depth is not specified max-stack-depth from the configuration is used.`},
		{aliases: []string{"inline"}, group: stackCmds, cmdFn: inlineStack, helpMsg: "Print the inlined calls covering the current instruction."},
		{aliases: []string{"regs"}, cmdFn: regs, helpMsg: "Print contents of CPU registers."},
		{aliases: []string{"disassemble", "disass"}, cmdFn: c.disassemble, helpMsg: "Disassembler for the function of the selected frame."},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>

Defines <alias> as an alias to <command>.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of stepctl commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the debugger."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			v.cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, &command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.lookup = nil
}

func (c *Commands) buildLookup() {
	c.lookup = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.lookup.Add(alias, cmd)
		}
	}
}

// Find will look up the command function for the given command input.
// Unique prefixes of a command name select that command. If it cannot
// find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}
	if c.lookup == nil {
		c.buildLookup()
	}

	if node, ok := c.lookup.Find(cmdstr); ok {
		return node.Meta().(*command).cmdFn
	}

	var (
		found []*command
		names []string
	)
	for _, key := range c.lookup.PrefixSearch(cmdstr) {
		node, ok := c.lookup.Find(key)
		if !ok {
			continue
		}
		cmd := node.Meta().(*command)
		names = append(names, key)
		if !containsCommand(found, cmd) {
			found = append(found, cmd)
		}
	}
	switch len(found) {
	case 0:
		return noCmdAvailable
	case 1:
		return found[0].cmdFn
	}
	sort.Strings(names)
	return func(t *Term, args string) error {
		return fmt.Errorf("ambiguous command %q: %s", cmdstr, strings.Join(names, ", "))
	}
}

func containsCommand(cmds []*command, cmd *command) bool {
	for _, c := range cmds {
		if c == cmd {
			return true
		}
	}
	return false
}

// complete returns the command names starting with line.
func (c *Commands) complete(line string) []string {
	if c.lookup == nil {
		c.buildLookup()
	}
	r := c.lookup.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for _, cmd := range c.cmds {
		if cmd.builtinAliases != nil {
			cmd.aliases = append(cmd.aliases[:0], cmd.builtinAliases...)
		}
	}
	for _, cmd := range c.cmds {
		if aliases, ok := allAliases[cmd.aliases[0]]; ok {
			if cmd.builtinAliases == nil {
				cmd.builtinAliases = make([]string, len(cmd.aliases))
				copy(cmd.builtinAliases, cmd.aliases)
			}
			cmd.aliases = append(cmd.aliases, aliases...)
		}
	}
	c.lookup = nil
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args the way a shell would.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", args)
	}
	return v[0], nil
}

func parseOptionalCount(arg string) (int, error) {
	if arg == "" {
		return 1, nil
	}
	return strconv.Atoi(arg)
}

func (c *Commands) runCommand(t *Term, fn func() (proc.Result, error)) error {
	info, err := t.execute(fn)
	if err != nil {
		return err
	}
	return t.printStop(info)
}

func (c *Commands) cont(t *Term, args string) error {
	return c.runCommand(t, t.target.Continue)
}

func (c *Commands) step(t *Term, args string) error {
	count, err := parseOptionalCount(args)
	if err != nil {
		return err
	}
	return c.runCommand(t, func() (proc.Result, error) {
		return t.target.StepIn(count)
	})
}

func (c *Commands) next(t *Term, args string) error {
	count, err := parseOptionalCount(args)
	if err != nil {
		return err
	}
	return c.runCommand(t, func() (proc.Result, error) {
		return t.target.Next(count)
	})
}

func (c *Commands) stepInstruction(over bool) cmdfunc {
	return func(t *Term, args string) error {
		count, err := parseOptionalCount(args)
		if err != nil {
			return err
		}
		return c.runCommand(t, func() (proc.Result, error) {
			return t.target.StepInstruction(count, over)
		})
	}
}

func (c *Commands) finish(t *Term, args string) error {
	f, err := c.selectedFrame(t)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Run till exit from %s\n", f.String())
	info, err := t.execute(func() (proc.Result, error) {
		return t.target.Finish(f)
	})
	if err != nil {
		return err
	}
	if err := t.printStop(info); err != nil {
		return err
	}
	if info.Finished && info.ReturnValue != nil {
		fmt.Fprintln(t.stdout, info.ReturnValue.String())
	}
	return nil
}

// selectedFrame returns the frame selected by the frame, up and down
// commands.
func (c *Commands) selectedFrame(t *Term) (proc.Frame, error) {
	cur, err := t.target.CurrentFrame()
	if err != nil {
		return proc.Frame{}, err
	}
	f, _, err := t.target.RelativeFrame(cur, c.frame)
	if err != nil {
		return proc.Frame{}, err
	}
	c.frame = f.Level
	return f, nil
}

// Handle "frame", "up", "down" commands.
func (c *Commands) frameCommand(t *Term, argstr string, direction frameDirection) error {
	counted := argstr != ""
	n := 1
	if counted {
		var err error
		if n, err = strconv.Atoi(argstr); err != nil {
			return err
		}
	} else if direction == frameSet {
		return errors.New("not enough arguments")
	}

	start, err := c.selectedFrame(t)
	if err != nil {
		return err
	}

	var f proc.Frame
	switch direction {
	case frameSet:
		if n < 0 {
			return fmt.Errorf("Invalid frame %d", n)
		}
		cur, err := t.target.CurrentFrame()
		if err != nil {
			return err
		}
		var rem int
		f, rem, err = t.target.RelativeFrame(cur, n)
		if err != nil {
			return err
		}
		if rem != 0 {
			return fmt.Errorf("Invalid frame %d", n)
		}
	case frameUp, frameDown:
		if direction == frameDown {
			n = -n
		}
		var rem int
		f, rem, err = t.target.RelativeFrame(start, n)
		if err != nil {
			return err
		}
		if !counted && rem != 0 {
			if direction == frameUp {
				return errors.New("Initial frame selected; you cannot go up.")
			}
			return errors.New("Bottom (i.e., innermost) frame selected; you cannot go down.")
		}
	}
	c.frame = f.Level
	printFrame(t, f)
	return nil
}

func printFrame(t *Term, f proc.Frame) {
	suffix := ""
	if f.Kind == proc.InlinedFrame {
		suffix = " [inlined]"
	}
	fmt.Fprintf(t.stdout, "Frame %d: %s (PC: %#x)%s\n", f.Level, f.Current, f.Current.PC, suffix)
}

func (c *Commands) stack(t *Term, args string) error {
	depth := t.conf.StackDepth()
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil {
			return fmt.Errorf("depth must be a number: %v", err)
		}
		depth = n
	}
	frames, err := t.target.Stacktrace(depth)
	if err != nil {
		return err
	}
	for _, f := range frames {
		marker := " "
		if f.Level == c.frame {
			marker = "*"
		}
		name := f.Current.Function
		if f.Kind == proc.InlinedFrame {
			name += " (inlined)"
		} else if f.Kind != proc.NormalFrame {
			name += fmt.Sprintf(" (%s)", f.Kind)
		}
		prefix := fmt.Sprintf("%s%-3d", marker, f.Level)
		t.Println(prefix, t.fit(fmt.Sprintf("  %#016x in %s", f.Current.PC, name), len(prefix)))
		if f.Current.File != "" {
			fmt.Fprintln(t.stdout, t.fit(fmt.Sprintf("      at %s:%d", f.Current.File, f.Current.Line), 0))
		}
	}
	return nil
}

func inlineStack(t *Term, args string) error {
	ist, err := t.target.InlinedStack()
	if err != nil {
		return err
	}
	if ist.StackSize() == 0 {
		fmt.Fprintf(t.stdout, "No inlined calls at %#x\n", ist.PC())
		return nil
	}
	fmt.Fprintf(t.stdout, "Inlined calls at %#x (depth %d of %d):\n", ist.PC(), ist.CurrentDepth(), ist.StackSize())
	for i, rec := range ist.Records() {
		state := "not entered"
		if rec.SteppedInto {
			state = "entered"
		}
		fmt.Fprintf(t.stdout, "%d  %s called at %s:%d:%d [%#x, %#x) %s\n", i+1, rec.Func, rec.CallFile, rec.CallLine, rec.CallColumn, rec.StartPC, rec.EndPC, state)
	}
	if cs, ok := ist.AtInlinedCallSite(ist.PC()); ok {
		fmt.Fprintf(t.stdout, "Stopped at the call site of %s (%s:%d)\n", cs.Func, cs.File, cs.Line)
	}
	return nil
}

func regs(t *Term, args string) error {
	r, err := t.target.Registers()
	if err != nil {
		return err
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "pc\t%#016x\n", r.PC)
	fmt.Fprintf(w, "sp\t%#016x\n", r.SP)
	fmt.Fprintf(w, "bp\t%#016x\n", r.BP)
	names := make([]string, 0, len(r.Named))
	for name := range r.Named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%#016x\n", name, r.Named[name])
	}
	return w.Flush()
}

type disassembler interface {
	Disassemble(pc uint64) ([]string, error)
}

func (c *Commands) disassemble(t *Term, args string) error {
	d, ok := t.target.Backend().(disassembler)
	if !ok {
		return errors.New("the backend can not disassemble")
	}
	f, err := c.selectedFrame(t)
	if err != nil {
		return err
	}
	text, err := d.Disassemble(f.Current.PC)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "TEXT %s\n", f.Current.Function)
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 8, 1, ' ', 0)
	for _, l := range text {
		fmt.Fprintln(w, l)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, l := range strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n") {
		fmt.Fprintln(t.stdout, t.fit(l, 0))
	}
	return nil
}

func configureCmd(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	switch {
	case len(fields) == 0 || (len(fields) == 1 && fields[0] == "-list"):
		return configureList(t)
	case len(fields) == 1 && fields[0] == "-save":
		if err := config.SaveConfig(t.conf); err != nil {
			return err
		}
		fmt.Fprintln(t.stdout, "Config saved")
		return nil
	case fields[0] == "alias":
		if len(fields) != 3 {
			return errors.New("wrong number of arguments to config alias")
		}
		return configureAlias(t, fields[1], fields[2])
	case len(fields) == 2:
		if err := t.conf.Set(fields[0], fields[1]); err != nil {
			return err
		}
		t.applyConfig()
		return nil
	}
	return errors.New("wrong number of arguments to config")
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "inlined-stepping\t%v\n", t.conf.InlinedSteppingEnabled())
	fmt.Fprintf(w, "debug-inlined-stepping\t%v\n", t.conf.DebugInlinedStepping)
	fmt.Fprintf(w, "step-stop-if-no-debug\t%v\n", t.conf.StepStopIfNoDebug)
	fmt.Fprintf(w, "max-stack-depth\t%d\n", t.conf.StackDepth())
	fmt.Fprintf(w, "source-list-line-color\t%d\n", t.conf.SourceListLineColor)
	names := make([]string, 0, len(t.conf.Aliases))
	for name := range t.conf.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "aliases\t%s: %s\n", name, strings.Join(t.conf.Aliases[name], ", "))
	}
	return w.Flush()
}

func configureAlias(t *Term, cmdname, alias string) error {
	var cmd *command
	for _, c := range t.cmds.cmds {
		if c.match(cmdname) {
			cmd = c
			break
		}
	}
	if cmd == nil {
		return fmt.Errorf("command %q does not exist", cmdname)
	}
	if t.conf.Aliases == nil {
		t.conf.Aliases = map[string][]string{}
	}
	name := cmd.aliases[0]
	if cmd.builtinAliases != nil {
		name = cmd.builtinAliases[0]
	}
	t.conf.Aliases[name] = append(t.conf.Aliases[name], alias)
	t.cmds.Merge(t.conf.Aliases)
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return errors.New("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(t, args)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}
