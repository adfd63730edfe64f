package proc

import (
	"fmt"
)

// Breakpoint represents a breakpoint set by the stepping engine.
type Breakpoint struct {
	// File & line information for printing.
	FunctionName string
	File         string
	Line         int

	Addr uint64 // Address breakpoint is set for.
	ID   int

	// Kind describes why the breakpoint was set.
	Kind BreakpointKind

	// Tag is the frame that must be current when the breakpoint is hit
	// for the hit to be meaningful.
	Tag FrameID

	handle BreakpointHandle
}

// BreakpointKind determines the behavior of the stepping engine when the
// breakpoint is reached.
type BreakpointKind uint16

const (
	// FinishBreakpoint is a momentary breakpoint set by Finish on the
	// return address of the finished frame.
	FinishBreakpoint BreakpointKind = (1 << iota)
	// StepOutBreakpoint is a momentary breakpoint set while stepping back
	// out of a function without line information.
	StepOutBreakpoint
)

func (k BreakpointKind) String() string {
	switch k {
	case FinishBreakpoint:
		return "finish"
	case StepOutBreakpoint:
		return "step-out"
	}
	return fmt.Sprintf("BreakpointKind(%d)", uint16(k))
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint %d (%s) at %#x %s:%d frame %s", bp.ID, bp.Kind, bp.Addr, bp.File, bp.Line, bp.Tag)
}

// BreakpointExistsError is returned when trying to set a breakpoint at
// an address that already has a breakpoint set for it.
type BreakpointExistsError struct {
	File string
	Line int
	Addr uint64
}

func (bpe BreakpointExistsError) Error() string {
	return fmt.Sprintf("Breakpoint exists at %s:%d at %x", bpe.File, bpe.Line, bpe.Addr)
}

// InvalidAddressError represents the result of
// attempting to set a breakpoint at an invalid address.
type InvalidAddressError struct {
	Address uint64
}

func (iae InvalidAddressError) Error() string {
	return fmt.Sprintf("Invalid address %#v\n", iae.Address)
}

// NoBreakpointError is returned when trying to
// clear a breakpoint that does not exist.
type NoBreakpointError struct {
	Addr uint64
}

func (nbp NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint at %#v", nbp.Addr)
}

// BreakpointMap represents an (address, breakpoint) map.
type BreakpointMap struct {
	M map[uint64]*Breakpoint

	breakpointIDCounter int
}

// NewBreakpointMap creates a new BreakpointMap.
func NewBreakpointMap() BreakpointMap {
	return BreakpointMap{
		M: make(map[uint64]*Breakpoint),
	}
}

// SetMomentary sets a breakpoint of the given kind at addr through be.
func (bpmap *BreakpointMap) SetMomentary(be Backend, bi LineTable, addr uint64, kind BreakpointKind, tag FrameID) (*Breakpoint, error) {
	if bp, ok := bpmap.M[addr]; ok {
		return bp, BreakpointExistsError{bp.File, bp.Line, bp.Addr}
	}
	fn := bi.PCToFunc(addr)
	if fn == nil {
		return nil, InvalidAddressError{Address: addr}
	}
	h, err := be.SetMomentaryBreakpoint(addr, tag)
	if err != nil {
		return nil, err
	}
	f, l, _ := bi.PCToLine(addr)
	bpmap.breakpointIDCounter++
	bp := &Breakpoint{
		FunctionName: fn.Name,
		File:         f,
		Line:         l,
		Addr:         addr,
		ID:           bpmap.breakpointIDCounter,
		Kind:         kind,
		Tag:          tag,
		handle:       h,
	}
	bpmap.M[addr] = bp
	return bp, nil
}

// Clear removes the breakpoint at addr.
func (bpmap *BreakpointMap) Clear(be Backend, addr uint64) (*Breakpoint, error) {
	bp, ok := bpmap.M[addr]
	if !ok {
		return nil, NoBreakpointError{Addr: addr}
	}
	if err := be.RemoveBreakpoint(bp.handle); err != nil {
		return nil, err
	}
	delete(bpmap.M, addr)
	return bp, nil
}

// ClearMomentary removes all breakpoints from the map, calling
// RemoveBreakpoint on the backend for each one.
func (bpmap *BreakpointMap) ClearMomentary(be Backend) error {
	for addr, bp := range bpmap.M {
		if err := be.RemoveBreakpoint(bp.handle); err != nil {
			return err
		}
		delete(bpmap.M, addr)
	}
	return nil
}

// HasMomentary returns true if bpmap has at least one breakpoint set.
func (bpmap *BreakpointMap) HasMomentary() bool {
	return len(bpmap.M) > 0
}

// ByHandle returns the breakpoint with the given backend handle.
func (bpmap *BreakpointMap) ByHandle(h BreakpointHandle) *Breakpoint {
	for _, bp := range bpmap.M {
		if bp.handle == h {
			return bp
		}
	}
	return nil
}
