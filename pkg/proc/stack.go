package proc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-delve/stepctl/pkg/linetab"
)

const ptrSize = 8

// FrameKind describes how a frame was created.
type FrameKind uint8

const (
	// NormalFrame is a frame of a function called normally.
	NormalFrame FrameKind = iota
	// DummyFrame is a frame pushed by the debugger to call a function in
	// the target.
	DummyFrame
	// SignalTrampolineFrame is the frame of a signal trampoline.
	SignalTrampolineFrame
	// InlinedFrame is a virtual frame for the body of an inlined
	// subroutine. It shares CFA and return address with the real frame
	// hosting it.
	InlinedFrame
)

func (k FrameKind) String() string {
	switch k {
	case NormalFrame:
		return "normal"
	case DummyFrame:
		return "dummy"
	case SignalTrampolineFrame:
		return "sigtramp"
	case InlinedFrame:
		return "inlined"
	}
	return fmt.Sprintf("FrameKind(%d)", uint8(k))
}

func frameKindOf(fn *linetab.Function) FrameKind {
	if fn == nil {
		return NormalFrame
	}
	switch fn.Kind {
	case linetab.DummyFunc:
		return DummyFrame
	case linetab.SigtrampFunc:
		return SignalTrampolineFrame
	}
	return NormalFrame
}

// FrameID identifies a frame across resumes of the target.
// Frames of the same function activation have the same CFA and return
// address, inlined frames are told apart by their inline depth.
type FrameID struct {
	CFA   uint64
	Ret   uint64
	Depth int
}

// Inner returns true if id is a frame called, directly or not, by other.
func (id FrameID) Inner(other FrameID) bool {
	if id.CFA != other.CFA {
		return id.CFA < other.CFA
	}
	return id.Depth > other.Depth
}

// real returns the id of the real frame hosting id.
func (id FrameID) real() FrameID {
	id.Depth = 0
	return id
}

// Outer returns true if id is a caller, directly or not, of other.
func (id FrameID) Outer(other FrameID) bool {
	return other.Inner(id)
}

func (id FrameID) String() string {
	if id.Depth > 0 {
		return fmt.Sprintf("{cfa=%#x ret=%#x inline=%d}", id.CFA, id.Ret, id.Depth)
	}
	return fmt.Sprintf("{cfa=%#x ret=%#x}", id.CFA, id.Ret)
}

// Location is a position in the program.
type Location struct {
	PC       uint64
	File     string
	Line     int
	Function string
	Fn       *linetab.Function
}

func (loc Location) String() string {
	name := loc.Function
	if name == "" {
		name = "??"
	}
	if loc.File == "" {
		return fmt.Sprintf("%#x in %s", loc.PC, name)
	}
	return fmt.Sprintf("%s() %s:%d", name, loc.File, loc.Line)
}

// Frame is a frame of the stack of the stopped target. Frames are only
// valid until the target is resumed or the inlined call stack changes.
type Frame struct {
	ID    FrameID
	Kind  FrameKind
	Level int
	// Current is the location the frame is executing: the pc for the
	// innermost frame, the return address for its callers.
	Current Location
	// Inlined is the record of the inlined call for InlinedFrame frames.
	Inlined *InlinedCallRecord

	bp    uint64
	epoch uint64
}

func (f *Frame) String() string {
	return fmt.Sprintf("#%d %#x in %s", f.Level, f.Current.PC, f.Current)
}

// NoStackError is returned when frames are requested and there is no
// stopped target to read them from.
type NoStackError struct {
	Err error
}

func (err *NoStackError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("No stack: %v", err.Err)
	}
	return "No stack."
}

func (err *NoStackError) Unwrap() error {
	return err.Err
}

// ErrStaleFrame is returned when a frame obtained before the last resume
// is used.
var ErrStaleFrame = errors.New("frame is no longer valid, the target was resumed")

// frameCache holds the frames unwound since the last stop.
type frameCache struct {
	frames []Frame
	it     *stackIterator
}

// stackIterator walks the chain of real frames using frame pointers.
type stackIterator struct {
	pc, bp, sp uint64
	level      int
	top        bool
	atend      bool
	frame      Frame
	bi         LineTable
	mem        Backend
	err        error
	epoch      uint64
}

func newStackIterator(bi LineTable, mem Backend, regs Registers, level int, epoch uint64) *stackIterator {
	return &stackIterator{pc: regs.PC, bp: regs.BP, sp: regs.SP, level: level, top: true, bi: bi, mem: mem, epoch: epoch}
}

// Next points the iterator to the next stack frame.
func (it *stackIterator) Next() bool {
	if it.err != nil || it.atend {
		return false
	}
	it.frame, it.err = it.frameInfo()
	if it.err != nil {
		return false
	}
	if it.frame.ID.Ret == 0 {
		it.atend = true
		return true
	}
	callerBP, err := it.readPtr(it.bp)
	if err != nil {
		it.err = err
		return true
	}
	if callerBP != 0 && callerBP <= it.bp {
		it.err = fmt.Errorf("frame pointer chain corrupted at %#x", it.bp)
		return true
	}
	it.top = false
	it.pc = it.frame.ID.Ret
	it.sp = it.frame.ID.CFA
	it.bp = callerBP
	it.level++
	return true
}

// Frame returns the frame the iterator is pointing at.
func (it *stackIterator) Frame() Frame {
	return it.frame
}

// Err returns the error encountered during stack iteration.
func (it *stackIterator) Err() error {
	return it.err
}

func (it *stackIterator) frameInfo() (Frame, error) {
	var cfa, ret uint64
	if it.bp != 0 {
		var err error
		ret, err = it.readPtr(it.bp + ptrSize)
		if err != nil {
			return Frame{}, err
		}
		cfa = it.bp + 2*ptrSize
	} else {
		cfa = it.sp
	}
	lookup := it.pc
	if !it.top && lookup > 0 {
		// return addresses belong to the instruction after the call
		lookup--
	}
	file, line, fn := it.bi.PCToLine(lookup)
	loc := Location{PC: it.pc, File: file, Line: line, Fn: fn}
	if fn != nil {
		loc.Function = fn.Name
	}
	return Frame{
		ID:      FrameID{CFA: cfa, Ret: ret},
		Kind:    frameKindOf(fn),
		Level:   it.level,
		Current: loc,
		bp:      it.bp,
		epoch:   it.epoch,
	}, nil
}

func (it *stackIterator) readPtr(addr uint64) (uint64, error) {
	var buf [ptrSize]byte
	if _, err := it.mem.ReadMemory(buf[:], addr); err != nil {
		return 0, fmt.Errorf("could not read frame at %#x: %v", addr, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// topFrames builds the frames hosted by the real frame executing pc: one
// InlinedFrame for every inlined call the simulator considers entered,
// followed by the real frame.
func (t *Target) topFrames() error {
	regs, err := t.registers()
	if err != nil {
		return err
	}
	ist, err := t.InlinedStack()
	if err != nil {
		return err
	}
	it := newStackIterator(t.bi, t.be, regs, ist.CurrentDepth(), t.epoch)
	if !it.Next() {
		if it.Err() != nil {
			return it.Err()
		}
		return &NoStackError{}
	}
	real := it.Frame()
	depth := ist.CurrentDepth()
	frames := make([]Frame, 0, depth+1)
	for i := depth - 1; i >= 0; i-- {
		rec := ist.records[i]
		frames = append(frames, Frame{
			ID:      FrameID{CFA: real.ID.CFA, Ret: real.ID.Ret, Depth: i + 1},
			Kind:    InlinedFrame,
			Level:   depth - 1 - i,
			Current: t.logicalLocation(regs.PC, ist, i+1),
			Inlined: &rec,
			bp:      real.bp,
			epoch:   t.epoch,
		})
	}
	real.Current = t.logicalLocation(regs.PC, ist, 0)
	frames = append(frames, real)
	t.frames.frames = frames
	if it.Err() != nil {
		// the real frame is valid, unwinding its caller failed
		t.frames.it = &stackIterator{err: it.Err()}
	} else {
		t.frames.it = it
	}
	return nil
}

// logicalLocation returns the location shown for the frame at inline
// depth k of the real frame executing pc: the call site of the next
// inlined call if one covers pc, the line of pc otherwise.
func (t *Target) logicalLocation(pc uint64, ist *InlinedCallStack, k int) Location {
	loc := Location{PC: pc}
	fn := t.bi.PCToFunc(pc)
	loc.Fn = fn
	if k == 0 {
		if fn != nil {
			loc.Function = fn.Name
		}
	} else {
		loc.Function = ist.records[k-1].Func
	}
	if k < len(ist.records) {
		rec := ist.records[k]
		loc.File, loc.Line = rec.CallFile, rec.CallLine
		return loc
	}
	loc.File, loc.Line, _ = t.bi.PCToLine(pc)
	return loc
}

// frameAt returns the frame at the given level, unwinding as needed. The
// boolean is false if the stack has fewer frames.
func (t *Target) frameAt(level int) (Frame, bool, error) {
	if t.frames.frames == nil {
		if err := t.topFrames(); err != nil {
			return Frame{}, false, err
		}
	}
	for len(t.frames.frames) <= level {
		it := t.frames.it
		if it.Err() != nil {
			return Frame{}, false, it.Err()
		}
		if !it.Next() {
			if it.Err() != nil {
				return Frame{}, false, it.Err()
			}
			return Frame{}, false, nil
		}
		t.frames.frames = append(t.frames.frames, it.Frame())
	}
	return t.frames.frames[level], true, nil
}

func (t *Target) checkFrame(f Frame) error {
	if f.epoch != t.epoch {
		return ErrStaleFrame
	}
	return nil
}

// CurrentFrame returns the innermost frame of the stopped target.
func (t *Target) CurrentFrame() (Frame, error) {
	f, ok, err := t.frameAt(0)
	if err != nil {
		return Frame{}, err
	}
	if !ok {
		return Frame{}, &NoStackError{}
	}
	return f, nil
}

// PreviousFrame returns the caller of f. The boolean is false if f is
// the outermost frame.
func (t *Target) PreviousFrame(f Frame) (Frame, bool, error) {
	if err := t.checkFrame(f); err != nil {
		return Frame{}, false, err
	}
	return t.frameAt(f.Level + 1)
}

// NextFrame returns the frame called by f. The boolean is false if f is
// the innermost frame.
func (t *Target) NextFrame(f Frame) (Frame, bool, error) {
	if err := t.checkFrame(f); err != nil {
		return Frame{}, false, err
	}
	if f.Level == 0 {
		return Frame{}, false, nil
	}
	return t.frameAt(f.Level - 1)
}

// RelativeFrame moves offset frames away from start: outwards for
// positive offsets, inwards for negative ones. When the end of the stack
// is reached it returns the last frame it could reach together with the
// part of offset that could not be applied.
func (t *Target) RelativeFrame(start Frame, offset int) (Frame, int, error) {
	if err := t.checkFrame(start); err != nil {
		return Frame{}, offset, err
	}
	f := start
	for offset > 0 {
		prev, ok, err := t.PreviousFrame(f)
		if err != nil {
			return f, offset, err
		}
		if !ok {
			break
		}
		f = prev
		offset--
	}
	for offset < 0 {
		next, ok, err := t.NextFrame(f)
		if err != nil {
			return f, offset, err
		}
		if !ok {
			break
		}
		f = next
		offset++
	}
	return f, offset, nil
}

// Stacktrace returns up to depth+1 frames starting from the innermost.
func (t *Target) Stacktrace(depth int) ([]Frame, error) {
	if depth < 0 {
		return nil, errors.New("negative maximum stack depth")
	}
	frames := make([]Frame, 0, depth+1)
	for level := 0; level <= depth; level++ {
		f, ok, err := t.frameAt(level)
		if err != nil {
			if level == 0 {
				return nil, err
			}
			return frames, err
		}
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// realFrame returns the innermost frame that is not an inlined frame.
func (t *Target) realFrame() (Frame, error) {
	for level := 0; ; level++ {
		f, ok, err := t.frameAt(level)
		if err != nil {
			return Frame{}, err
		}
		if !ok {
			return Frame{}, &NoStackError{}
		}
		if f.Kind != InlinedFrame {
			return f, nil
		}
	}
}
