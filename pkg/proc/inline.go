package proc

import (
	"fmt"

	"github.com/go-delve/stepctl/pkg/linetab"
	"github.com/go-delve/stepctl/pkg/logflags"
)

// InlinedCallRecord describes one inlined call covering the current pc.
type InlinedCallRecord struct {
	// StartPC and EndPC delimit the hull of the inlined body.
	StartPC, EndPC uint64
	// Func is the name of the inlined function, File and DeclLine the
	// position of its declaration.
	Func     string
	File     string
	DeclLine int

	CallFile   string
	CallLine   int
	CallColumn int

	// Ranges lists the pieces of a non-contiguous body, it is empty when
	// the body is exactly [StartPC, EndPC).
	Ranges []linetab.AddrRange

	// SteppedInto is true if the inlined call is logically entered: the
	// frames of the target include a virtual frame for it.
	SteppedInto bool
}

// Contains returns true if pc is inside the body of the inlined call.
func (rec *InlinedCallRecord) Contains(pc uint64) bool {
	if pc < rec.StartPC || pc >= rec.EndPC {
		return false
	}
	if len(rec.Ranges) == 0 {
		return true
	}
	for _, r := range rec.Ranges {
		if r.Contains(pc) {
			return true
		}
	}
	return false
}

// BodyRanges returns the pieces of the inlined body.
func (rec *InlinedCallRecord) BodyRanges() []linetab.AddrRange {
	if len(rec.Ranges) != 0 {
		return rec.Ranges
	}
	return []linetab.AddrRange{{Start: rec.StartPC, End: rec.EndPC}}
}

func (rec *InlinedCallRecord) String() string {
	return fmt.Sprintf("%s at %s:%d:%d [%#x, %#x) stepped=%v", rec.Func, rec.CallFile, rec.CallLine, rec.CallColumn, rec.StartPC, rec.EndPC, rec.SteppedInto)
}

// CallSiteInfo is the position of an inlined call the target is stopped
// at but has not entered yet.
type CallSiteInfo struct {
	Func   string
	File   string
	Line   int
	Column int
	// Depth is the inline depth the call would have once entered.
	Depth int
}

// InlinedCallStack tracks which inlined calls covering the current pc are
// logically entered. Records are ordered outermost first, the entered
// records are always a prefix of the stack.
type InlinedCallStack struct {
	records []InlinedCallRecord
	pc      uint64

	bi               LineTable
	invalidateFrames func()
}

// newInlinedCallStack builds the stack for pc. Inlined calls that start
// exactly at pc are not considered entered, every other inlined call
// covering pc is.
func newInlinedCallStack(bi LineTable, pc uint64, enabled bool, invalidateFrames func()) *InlinedCallStack {
	ist := &InlinedCallStack{pc: pc, bi: bi, invalidateFrames: invalidateFrames}
	if !enabled || bi.EntryKind(pc) == linetab.Normal {
		return ist
	}
	for _, e := range bi.EntriesAt(pc) {
		if e.Kind != linetab.InlinedSubroutine {
			continue
		}
		ist.records = append(ist.records, InlinedCallRecord{
			StartPC:     e.PC,
			EndPC:       e.End,
			Func:        e.Func,
			File:        e.File,
			DeclLine:    e.Line,
			CallFile:    e.CallFile,
			CallLine:    e.CallLine,
			CallColumn:  e.CallColumn,
			Ranges:      e.Ranges,
			SteppedInto: pc != e.PC,
		})
	}
	// an inlined call can not be entered before the calls enclosing it
	entered := true
	for i := range ist.records {
		if !ist.records[i].SteppedInto {
			entered = false
		}
		ist.records[i].SteppedInto = entered && ist.records[i].SteppedInto
	}
	if logflags.Inline() && len(ist.records) > 0 {
		logflags.InlineLogger().Debugf("inlined call stack at %#x: depth %d of %d", pc, ist.CurrentDepth(), len(ist.records))
	}
	return ist
}

// CurrentDepth returns the number of inlined calls that are logically
// entered.
func (ist *InlinedCallStack) CurrentDepth() int {
	for i := range ist.records {
		if !ist.records[i].SteppedInto {
			return i
		}
	}
	return len(ist.records)
}

// StackSize returns the number of inlined calls covering pc, entered or
// not.
func (ist *InlinedCallStack) StackSize() int {
	return len(ist.records)
}

// Records returns a copy of the records, outermost first.
func (ist *InlinedCallStack) Records() []InlinedCallRecord {
	r := make([]InlinedCallRecord, len(ist.records))
	copy(r, ist.records)
	return r
}

// PC returns the address the stack was built for.
func (ist *InlinedCallStack) PC() uint64 {
	return ist.pc
}

// current returns the innermost entered record, or nil.
func (ist *InlinedCallStack) current() *InlinedCallRecord {
	d := ist.CurrentDepth()
	if d == 0 {
		return nil
	}
	return &ist.records[d-1]
}

// AtInlinedCallSite returns the call site of the inlined call that starts
// at pc and has not been entered yet.
func (ist *InlinedCallStack) AtInlinedCallSite(pc uint64) (CallSiteInfo, bool) {
	if pc != ist.pc || ist.bi.EntryKind(pc) != linetab.InlinedCallSite {
		return CallSiteInfo{}, false
	}
	d := ist.CurrentDepth()
	if d >= len(ist.records) {
		return CallSiteInfo{}, false
	}
	rec := &ist.records[d]
	if rec.StartPC != pc || rec.SteppedInto {
		return CallSiteInfo{}, false
	}
	return CallSiteInfo{Func: rec.Func, File: rec.CallFile, Line: rec.CallLine, Column: rec.CallColumn, Depth: d + 1}, true
}

// RestOfLineContainsInlinedCall returns true if running to the end of the
// line executing pc enters an inlined call made from that line. The
// returned address is the end of the line, inlined bodies included.
func (ist *InlinedCallStack) RestOfLineContainsInlinedCall(pc uint64) (uint64, bool) {
	eol, _, found := ist.scanLine(pc)
	return eol, found
}

// nextInlinedCallOnLine returns the start of the first inlined call made
// from the line executing pc that starts after pc.
func (ist *InlinedCallStack) nextInlinedCallOnLine(pc uint64) (uint64, bool) {
	_, start, found := ist.scanLine(pc)
	return start, found
}

// scanLine follows the line executing pc past its end: adjacent entries
// for the same line and inlined calls made from it are considered part
// of the line. It returns the end of the line, the start of the first
// inlined call found and whether one was found. The scan never leaves the
// body of the innermost entered inlined call.
func (ist *InlinedCallStack) scanLine(pc uint64) (eol, firstCall uint64, found bool) {
	var (
		file string
		line int
	)
	if cs, ok := ist.AtInlinedCallSite(pc); ok {
		// the line is the one making the call, the scan starts with it
		file, line, eol = cs.File, cs.Line, pc
	} else {
		var err error
		file, line, _ = ist.bi.PCToLine(pc)
		_, eol, _, err = ist.bi.LineRangeContaining(pc)
		if err != nil || file == "" {
			return 0, 0, false
		}
	}
	limit := uint64(0)
	if rec := ist.current(); rec != nil {
		limit = rec.EndPC
	}
	for limit == 0 || eol < limit {
		next, isCall := ist.lineContinuation(eol, file, line)
		if next <= eol {
			break
		}
		if isCall && !found {
			found = true
			firstCall = eol
		}
		eol = next
	}
	if limit != 0 && eol > limit {
		eol = limit
	}
	return eol, firstCall, found
}

// lineContinuation looks at the entries starting at addr and returns the
// end of the one continuing file:line, preferring inlined calls made from
// that line.
func (ist *InlinedCallStack) lineContinuation(addr uint64, file string, line int) (uint64, bool) {
	entries := ist.bi.EntriesAt(addr)
	for _, e := range entries {
		if e.PC == addr && e.Kind == linetab.InlinedCallSite && e.CallFile == file && e.CallLine == line {
			return e.End, true
		}
	}
	for _, e := range entries {
		if e.PC == addr && e.Kind == linetab.Normal && e.File == file && e.Line == line {
			return e.End, false
		}
	}
	return addr, false
}

// StepIntoCurrentInlinedCall enters the inlined call starting at the
// current pc. No code is executed: the frames of the target gain a
// virtual frame for the inlined function.
func (ist *InlinedCallStack) StepIntoCurrentInlinedCall() error {
	d := ist.CurrentDepth()
	if d >= len(ist.records) || ist.records[d].StartPC != ist.pc {
		return fmt.Errorf("no inlined call starts at %#x", ist.pc)
	}
	ist.records[d].SteppedInto = true
	if logflags.Inline() {
		logflags.InlineLogger().Debugf("entered %s, depth %d", ist.records[d].String(), d+1)
	}
	if ist.invalidateFrames != nil {
		ist.invalidateFrames()
	}
	return nil
}

// popTo leaves every inlined call at index depth or deeper. Only records
// starting at the current pc can be left without executing code.
func (ist *InlinedCallStack) popTo(depth int) {
	for i := depth; i < len(ist.records); i++ {
		ist.records[i].SteppedInto = false
	}
	if logflags.Inline() {
		logflags.InlineLogger().Debugf("popped inlined call stack to depth %d", depth)
	}
	if ist.invalidateFrames != nil {
		ist.invalidateFrames()
	}
}
