// Package sim implements a simulated target: a small machine executing a
// symbolic instruction set, with a frame pointer calling convention and a
// line table describing normal and inlined code. It is the backend used by
// the tests, the terminal and the DAP server.
package sim

import (
	"errors"
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/stepctl/pkg/linetab"
)

const (
	insnSize  = 4
	funcAlign = 0x100

	// DefaultBase is the address of the first function.
	DefaultBase = 0x1000
	// DefaultStack is the initial stack pointer.
	DefaultStack = 0x7fff0000
	stackSize    = 0x10000
)

// Program is the description of a simulated program.
type Program struct {
	Entry     string            `yaml:"entry"`
	Base      uint64            `yaml:"base"`
	Stack     uint64            `yaml:"stack"`
	Registers map[string]uint64 `yaml:"registers"`
	Functions []FuncDesc        `yaml:"functions"`
}

// FuncDesc describes a function.
type FuncDesc struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
	// Kind is one of normal, dummy or sigtramp.
	Kind string `yaml:"kind"`
	// NoLines functions have no line table entries.
	NoLines bool `yaml:"nolines"`
	// Stripped functions have neither line table entries nor a symbol,
	// they can only be reached by a call.
	Stripped bool        `yaml:"stripped"`
	Return   *ReturnDesc `yaml:"return"`
	Code     []Block     `yaml:"code"`
}

// ReturnDesc describes the return value of a function.
type ReturnDesc struct {
	Type string `yaml:"type"`
	// Convention is one of void, register or struct.
	Convention string `yaml:"convention"`
	Register   string `yaml:"register"`
}

// Block is a sequence of instructions belonging to one line, or an
// inlined call.
type Block struct {
	Line   int         `yaml:"line"`
	Column int         `yaml:"column"`
	Insns  []string    `yaml:"insns"`
	Inline *InlineDesc `yaml:"inline"`
	// Caller blocks appear inside the body of an inlined call and contain
	// code of the calling line, they make the body non-contiguous.
	Caller bool `yaml:"caller"`
}

// InlineDesc describes a call inlined at the position of its block.
type InlineDesc struct {
	Func string  `yaml:"func"`
	File string  `yaml:"file"`
	Line int     `yaml:"line"`
	Body []Block `yaml:"body"`
}

// Parse parses a program description.
func Parse(data []byte) (*Program, error) {
	var prog Program
	if err := yaml.Unmarshal(data, &prog); err != nil {
		return nil, fmt.Errorf("unable to decode program: %v", err)
	}
	return &prog, nil
}

// LoadProgram reads the program description at path.
func LoadProgram(path string) (*Program, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read program: %v", err)
	}
	return Parse(data)
}

type opcode uint8

const (
	opNop opcode = iota
	opCall
	opRet
	opSet
	opAdd
	opRecurse
	opTrap
	opSignal
	opExit
	opSpin
)

type insn struct {
	op     opcode
	reg    string
	val    uint64
	target string
	dest   uint64
	text   string
}

func parseInsn(s string) (insn, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return insn{}, errors.New("empty instruction")
	}
	in := insn{text: s}
	nargs := func(n int) error {
		if len(fields)-1 != n {
			return fmt.Errorf("%q: wrong number of arguments", s)
		}
		return nil
	}
	num := func(arg string) (uint64, error) {
		v, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%q: %v", s, err)
		}
		return v, nil
	}
	var err error
	switch fields[0] {
	case "nop":
		in.op, err = opNop, nargs(0)
	case "ret":
		in.op, err = opRet, nargs(0)
	case "trap":
		in.op, err = opTrap, nargs(0)
	case "spin":
		in.op, err = opSpin, nargs(0)
	case "call":
		in.op = opCall
		if err = nargs(1); err == nil {
			in.target = fields[1]
		}
	case "set", "add":
		in.op = opSet
		if fields[0] == "add" {
			in.op = opAdd
		}
		if err = nargs(2); err == nil {
			in.reg = fields[1]
			in.val, err = num(fields[2])
		}
	case "recurse":
		in.op = opRecurse
		if err = nargs(2); err == nil {
			in.reg, in.target = fields[1], fields[2]
		}
	case "signal", "exit":
		in.op = opSignal
		if fields[0] == "exit" {
			in.op = opExit
		}
		if err = nargs(1); err == nil {
			in.val, err = num(fields[1])
		}
	default:
		err = fmt.Errorf("unknown instruction %q", s)
	}
	return in, err
}

// image is an assembled program.
type image struct {
	table *linetab.Table
	insns map[uint64]insn
	funcs map[string]uint64
}

type pendingInline struct {
	call     linetab.CallSite
	fn, file string
	declLine int
	ranges   []linetab.AddrRange
}

type assembler struct {
	b       *linetab.Builder
	addr    uint64
	insns   map[uint64]insn
	funcs   map[string]uint64
	inlines []*pendingInline
	nolines bool
}

// scope is the position code is being emitted at: the file lines are
// attributed to and, inside an inlined body, the pieces of the body.
type scope struct {
	file     string
	callFile string
	callLine int
	inl      *pendingInline
	start    uint64
}

func assemble(prog *Program) (*image, error) {
	base := prog.Base
	if base == 0 {
		base = DefaultBase
	}
	as := &assembler{
		b:     linetab.NewBuilder(),
		addr:  base,
		insns: make(map[uint64]insn),
		funcs: make(map[string]uint64),
	}
	for i := range prog.Functions {
		if err := as.function(&prog.Functions[i]); err != nil {
			return nil, err
		}
	}
	for addr, in := range as.insns {
		if in.target == "" {
			continue
		}
		dest, ok := as.funcs[in.target]
		if !ok {
			return nil, fmt.Errorf("%#x: %q: unknown function %s", addr, in.text, in.target)
		}
		in.dest = dest
		as.insns[addr] = in
	}
	for _, inl := range as.inlines {
		if err := as.b.AddInlinedCall(inl.call, inl.fn, inl.file, inl.declLine, inl.ranges); err != nil {
			return nil, fmt.Errorf("inlined call of %s at %s:%d: %v", inl.fn, inl.call.File, inl.call.Line, err)
		}
	}
	table, err := as.b.Build()
	if err != nil {
		return nil, err
	}
	return &image{table: table, insns: as.insns, funcs: as.funcs}, nil
}

func (as *assembler) function(fd *FuncDesc) error {
	if _, dup := as.funcs[fd.Name]; dup {
		return fmt.Errorf("function %s defined twice", fd.Name)
	}
	if rem := as.addr % funcAlign; rem != 0 {
		as.addr += funcAlign - rem
	}
	entry := as.addr
	as.funcs[fd.Name] = entry
	as.nolines = fd.NoLines || fd.Stripped
	if err := as.blocks(fd.Code, &scope{file: fd.File}); err != nil {
		return fmt.Errorf("function %s: %v", fd.Name, err)
	}
	if as.addr == entry {
		return fmt.Errorf("function %s has no code", fd.Name)
	}
	if fd.Stripped {
		return nil
	}
	fn := linetab.Function{Name: fd.Name, Entry: entry, End: as.addr, File: fd.File}
	switch fd.Kind {
	case "", "normal":
	case "dummy":
		fn.Kind = linetab.DummyFunc
	case "sigtramp":
		fn.Kind = linetab.SigtrampFunc
	default:
		return fmt.Errorf("function %s: unknown kind %q", fd.Name, fd.Kind)
	}
	if fd.Return != nil {
		fn.Return.Name = fd.Return.Type
		switch fd.Return.Convention {
		case "", "void":
		case "register":
			fn.Return.Convention = linetab.ReturnRegister
			fn.Return.Register = fd.Return.Register
			if fn.Return.Register == "" {
				fn.Return.Register = "rax"
			}
		case "struct":
			fn.Return.Convention = linetab.ReturnStruct
		default:
			return fmt.Errorf("function %s: unknown return convention %q", fd.Name, fd.Return.Convention)
		}
	}
	as.b.AddFunction(fn)
	return nil
}

func (as *assembler) blocks(blocks []Block, sc *scope) error {
	for i := range blocks {
		blk := &blocks[i]
		switch {
		case blk.Inline != nil:
			if err := as.inline(blk, sc); err != nil {
				return err
			}
		case blk.Caller:
			if sc.inl == nil {
				return fmt.Errorf("caller block outside of an inlined body")
			}
			as.closePiece(sc)
			line := blk.Line
			if line == 0 {
				line = sc.callLine
			}
			if err := as.code(blk, sc.callFile, line); err != nil {
				return err
			}
			sc.start = as.addr
		default:
			if err := as.code(blk, sc.file, blk.Line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (as *assembler) code(blk *Block, file string, line int) error {
	if len(blk.Insns) == 0 {
		return fmt.Errorf("line %d: empty block", line)
	}
	start := as.addr
	for _, s := range blk.Insns {
		in, err := parseInsn(s)
		if err != nil {
			return fmt.Errorf("line %d: %v", line, err)
		}
		as.insns[as.addr] = in
		as.addr += insnSize
	}
	if !as.nolines {
		as.b.AddLine(file, line, blk.Column, start, as.addr)
	}
	return nil
}

func (as *assembler) inline(blk *Block, sc *scope) error {
	d := blk.Inline
	inl := &pendingInline{
		call:     linetab.CallSite{File: sc.file, Line: blk.Line, Column: blk.Column},
		fn:       d.Func,
		file:     d.File,
		declLine: d.Line,
	}
	// outer inlined calls must be added to the table before the calls
	// nested in them
	as.inlines = append(as.inlines, inl)
	inner := &scope{file: d.File, callFile: sc.file, callLine: blk.Line, inl: inl, start: as.addr}
	if err := as.blocks(d.Body, inner); err != nil {
		return fmt.Errorf("inlined %s: %v", d.Func, err)
	}
	as.closePiece(inner)
	if len(inl.ranges) == 0 {
		return fmt.Errorf("inlined %s has no code", d.Func)
	}
	return nil
}

func (as *assembler) closePiece(sc *scope) {
	if as.addr > sc.start {
		sc.inl.ranges = append(sc.inl.ranges, linetab.AddrRange{Start: sc.start, End: as.addr})
	}
}
