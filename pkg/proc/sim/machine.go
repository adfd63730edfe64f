package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-delve/stepctl/pkg/linetab"
	"github.com/go-delve/stepctl/pkg/logflags"
	"github.com/go-delve/stepctl/pkg/proc"
)

const (
	defaultMaxSteps = 1000000

	sigsegv = 11
)

var (
	// ErrExited is returned when the machine is used after the program
	// exited.
	ErrExited = errors.New("program exited")
	// ErrStepLimit is returned when a resume executes too many
	// instructions without stopping.
	ErrStepLimit = errors.New("instruction limit exceeded")
)

// Machine executes a simulated program. It implements proc.Backend as a
// synchronous backend and proc.Halter.
type Machine struct {
	mu sync.Mutex

	img   *image
	regs  proc.Registers
	stack []byte
	// stackLo is the address of stack[0].
	stackLo uint64

	bps        map[uint64]proc.BreakpointHandle
	tags       map[proc.BreakpointHandle]proc.FrameID
	nextHandle proc.BreakpointHandle

	resumes  int
	halt     int32
	exited   bool
	exitCode int

	// MaxSteps is the maximum number of instructions a resume may execute.
	MaxSteps int

	log logflags.Logger
}

// New assembles prog and returns a machine stopped at its entry point.
func New(prog *Program) (*Machine, error) {
	img, err := assemble(prog)
	if err != nil {
		return nil, err
	}
	entry, ok := img.funcs[prog.Entry]
	if !ok {
		return nil, fmt.Errorf("entry point %q not found", prog.Entry)
	}
	top := prog.Stack
	if top == 0 {
		top = DefaultStack
	}
	m := &Machine{
		img:      img,
		stack:    make([]byte, stackSize),
		stackLo:  top - stackSize,
		bps:      make(map[uint64]proc.BreakpointHandle),
		tags:     make(map[proc.BreakpointHandle]proc.FrameID),
		MaxSteps: defaultMaxSteps,
		log:      logflags.SimLogger(),
	}
	m.regs.Named = map[string]uint64{"rax": 0}
	for name, v := range prog.Registers {
		m.regs.Named[name] = v
	}
	m.regs.SP = top
	// the outermost frame returns to address 0
	m.push(0)
	m.push(0)
	m.regs.BP = m.regs.SP
	m.regs.PC = entry
	return m, nil
}

// Load reads, assembles and loads the program at path.
func Load(path string) (*Machine, error) {
	prog, err := LoadProgram(path)
	if err != nil {
		return nil, err
	}
	return New(prog)
}

// Table returns the line table of the program.
func (m *Machine) Table() *linetab.Table {
	return m.img.table
}

// FunctionEntry returns the entry point of the named function.
func (m *Machine) FunctionEntry(name string) (uint64, bool) {
	addr, ok := m.img.funcs[name]
	return addr, ok
}

// ResumeCount returns the number of times the machine was resumed.
func (m *Machine) ResumeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumes
}

// Disassemble returns the instructions of the function containing pc.
func (m *Machine) Disassemble(pc uint64) ([]string, error) {
	fn := m.img.table.PCToFunc(pc)
	if fn == nil {
		return nil, &linetab.NoFunctionError{PC: pc}
	}
	var addrs []uint64
	for addr := range m.img.insns {
		if addr >= fn.Entry && addr < fn.End {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	r := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		marker := "  "
		if addr == pc {
			marker = "=>"
		}
		r = append(r, fmt.Sprintf("%s %#x\t%s", marker, addr, m.img.insns[addr].text))
	}
	return r, nil
}

func (m *Machine) push(v uint64) {
	m.regs.SP -= 8
	binary.LittleEndian.PutUint64(m.stack[m.regs.SP-m.stackLo:], v)
}

func (m *Machine) pop() (uint64, error) {
	if m.regs.SP < m.stackLo || m.regs.SP+8 > m.stackLo+uint64(len(m.stack)) {
		return 0, fmt.Errorf("stack pointer %#x out of bounds", m.regs.SP)
	}
	v := binary.LittleEndian.Uint64(m.stack[m.regs.SP-m.stackLo:])
	m.regs.SP += 8
	return v, nil
}

// ReadRegisters returns a copy of the registers.
func (m *Machine) ReadRegisters() (proc.Registers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return proc.Registers{}, ErrExited
	}
	regs := m.regs
	regs.Named = make(map[string]uint64, len(m.regs.Named))
	for k, v := range m.regs.Named {
		regs.Named[k] = v
	}
	return regs, nil
}

// ReadMemory reads stack memory.
func (m *Machine) ReadMemory(buf []byte, addr uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return 0, ErrExited
	}
	if addr < m.stackLo || addr+uint64(len(buf)) > m.stackLo+uint64(len(m.stack)) {
		return 0, fmt.Errorf("address %#x is not mapped", addr)
	}
	return copy(buf, m.stack[addr-m.stackLo:]), nil
}

// SetMomentaryBreakpoint sets a breakpoint at addr.
func (m *Machine) SetMomentaryBreakpoint(addr uint64, tag proc.FrameID) (proc.BreakpointHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.img.insns[addr]; !ok {
		return 0, proc.InvalidAddressError{Address: addr}
	}
	if _, ok := m.bps[addr]; ok {
		return 0, proc.BreakpointExistsError{Addr: addr}
	}
	m.nextHandle++
	m.bps[addr] = m.nextHandle
	m.tags[m.nextHandle] = tag
	return m.nextHandle, nil
}

// RemoveBreakpoint removes the breakpoint with handle h.
func (m *Machine) RemoveBreakpoint(h proc.BreakpointHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, h2 := range m.bps {
		if h2 == h {
			delete(m.bps, addr)
			delete(m.tags, h)
			return nil
		}
	}
	return fmt.Errorf("no breakpoint with handle %d", h)
}

// Breakpoints returns the number of breakpoints currently set.
func (m *Machine) Breakpoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bps)
}

// IsAsynchronous returns false, resumes block until the machine stops.
func (m *Machine) IsAsynchronous() bool {
	return false
}

func (m *Machine) halted() bool {
	return atomic.LoadInt32(&m.halt) != 0
}

func (m *Machine) setHalt(v bool) {
	var n int32
	if v {
		n = 1
	}
	atomic.StoreInt32(&m.halt, n)
}

// Halt stops the machine with a StopHalted reason. If the machine is not
// running the next resume stops before executing any instruction.
func (m *Machine) Halt() error {
	m.setHalt(true)
	return nil
}

// ResumeUntilStopOrRange runs the program while the pc is inside rng. With
// StepOverCalls functions called from inside rng run to completion, with
// StepIntoCalls the machine stops at the entry point of called functions.
// A zero rng runs until a breakpoint, a trap, a signal or the end of the
// program.
func (m *Machine) ResumeUntilStopOrRange(rng proc.StepRange, policy proc.CallPolicy) (proc.StopReason, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return proc.StopReason{}, ErrExited
	}
	m.resumes++
	stop, err := m.run(rng, policy)
	if err == nil && m.log != nil && logflags.Sim() {
		m.log.Debugf("resume %d range=%s policy=%s: %s", m.resumes, rng, policy, stop)
	}
	return stop, err
}

func (m *Machine) run(rng proc.StepRange, policy proc.CallPolicy) (proc.StopReason, error) {
	// overSP is the stack pointer before the call being stepped over, 0
	// when running code inside rng
	var overSP uint64
	for n := 0; ; n++ {
		pc := m.regs.PC
		if m.halted() {
			m.setHalt(false)
			return proc.StopReason{Kind: proc.StopHalted, PC: pc}, nil
		}
		if n > 0 {
			if h, ok := m.bps[pc]; ok {
				return proc.StopReason{Kind: proc.StopBreakpoint, PC: pc, Breakpoint: h}, nil
			}
			if overSP == 0 && !rng.IsZero() && !rng.Contains(pc) {
				return proc.StopReason{Kind: proc.StopStepped, PC: pc}, nil
			}
		}
		if n >= m.MaxSteps {
			return proc.StopReason{}, ErrStepLimit
		}
		in, ok := m.img.insns[pc]
		if !ok {
			return proc.StopReason{Kind: proc.StopSignal, PC: pc, Signal: sigsegv}, nil
		}
		switch in.op {
		case opNop:
			m.regs.PC += insnSize
		case opSet:
			m.regs.Named[in.reg] = in.val
			m.regs.PC += insnSize
		case opAdd:
			m.regs.Named[in.reg] += in.val
			m.regs.PC += insnSize
		case opRecurse:
			if m.regs.Named[in.reg] == 0 {
				m.regs.PC += insnSize
				break
			}
			m.regs.Named[in.reg]--
			overSP = m.call(in.dest, rng, policy, overSP)
			if policy == proc.StepIntoCalls && !rng.IsZero() {
				return proc.StopReason{Kind: proc.StopStepped, PC: in.dest}, nil
			}
		case opCall:
			overSP = m.call(in.dest, rng, policy, overSP)
			if policy == proc.StepIntoCalls && !rng.IsZero() {
				// entering a function always leaves the range
				return proc.StopReason{Kind: proc.StopStepped, PC: in.dest}, nil
			}
		case opRet:
			m.regs.SP = m.regs.BP
			bp, err := m.pop()
			if err != nil {
				return proc.StopReason{}, err
			}
			ret, err := m.pop()
			if err != nil {
				return proc.StopReason{}, err
			}
			m.regs.BP = bp
			m.regs.PC = ret
			if ret == 0 {
				return m.exit(int(m.regs.Named["rax"])), nil
			}
			if overSP != 0 && m.regs.SP >= overSP {
				overSP = 0
			}
		case opSpin:
			// loops until halted
		case opTrap:
			m.regs.PC += insnSize
			return proc.StopReason{Kind: proc.StopTrap, PC: m.regs.PC}, nil
		case opSignal:
			m.regs.PC += insnSize
			return proc.StopReason{Kind: proc.StopSignal, PC: m.regs.PC, Signal: int(in.val)}, nil
		case opExit:
			return m.exit(int(in.val)), nil
		}
	}
}

// call executes a call to dest, it returns the new value of overSP.
func (m *Machine) call(dest uint64, rng proc.StepRange, policy proc.CallPolicy, overSP uint64) uint64 {
	if overSP == 0 && policy == proc.StepOverCalls && !rng.IsZero() {
		overSP = m.regs.SP
	}
	m.push(m.regs.PC + insnSize)
	m.push(m.regs.BP)
	m.regs.BP = m.regs.SP
	m.regs.PC = dest
	return overSP
}

func (m *Machine) exit(code int) proc.StopReason {
	m.exited = true
	m.exitCode = code
	return proc.StopReason{Kind: proc.StopExited, ExitCode: code}
}

// RunTo runs the program until pc reaches addr, without counting as a
// resume and ignoring breakpoints.
func (m *Machine) RunTo(addr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n := 0; n < m.MaxSteps; n++ {
		if m.exited {
			return ErrExited
		}
		if m.regs.PC == addr {
			return nil
		}
		bps := m.bps
		m.bps = nil
		stop, err := m.run(proc.StepRange{Start: m.regs.PC, End: m.regs.PC + 1}, proc.StepOverNone)
		m.bps = bps
		if err != nil {
			return err
		}
		if stop.Kind == proc.StopExited {
			return ErrExited
		}
	}
	return ErrStepLimit
}
