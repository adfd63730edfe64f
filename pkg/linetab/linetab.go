// Package linetab implements an in-memory line table: the mapping between
// program counters, source lines, functions and inlined subroutines that
// the stepping engine consults.
package linetab

import (
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"
)

// EntryKind classifies line table entries.
type EntryKind uint8

const (
	// Normal entries map an address range to a source line.
	Normal EntryKind = iota
	// InlinedCallSite entries cover the body of an inlined subroutine and
	// carry the location of the call in the caller.
	InlinedCallSite
	// InlinedSubroutine entries cover the body of an inlined subroutine
	// and carry the location of the inlined function itself.
	InlinedSubroutine
)

func (k EntryKind) String() string {
	switch k {
	case Normal:
		return "normal"
	case InlinedCallSite:
		return "inlined-call-site"
	case InlinedSubroutine:
		return "inlined-subroutine"
	}
	return fmt.Sprintf("EntryKind(%d)", uint8(k))
}

// AddrRange is the half open address range [Start, End).
type AddrRange struct {
	Start, End uint64
}

// Contains returns true if pc is inside r.
func (r AddrRange) Contains(pc uint64) bool {
	return pc >= r.Start && pc < r.End
}

// Entry is a line table entry.
type Entry struct {
	PC, End uint64
	File    string
	Line    int
	Column  int
	Kind    EntryKind

	// Fields below are only set for InlinedCallSite and InlinedSubroutine
	// entries.

	// Func is the name of the inlined function.
	Func string
	// CallFile, CallLine and CallColumn are the position of the call that
	// was inlined.
	CallFile   string
	CallLine   int
	CallColumn int
	// Ranges lists the pieces of a non-contiguous inlined body, it is
	// empty when the body is exactly [PC, End).
	Ranges []AddrRange

	order int
}

// Covers returns true if the entry covers pc.
func (e *Entry) Covers(pc uint64) bool {
	if pc < e.PC || pc >= e.End {
		return false
	}
	if len(e.Ranges) == 0 {
		return true
	}
	for _, r := range e.Ranges {
		if r.Contains(pc) {
			return true
		}
	}
	return false
}

// FuncKind describes how frames of a function must be treated by the
// unwinder.
type FuncKind uint8

const (
	NormalFunc FuncKind = iota
	// DummyFunc is a function injected by the debugger to call code in
	// the target.
	DummyFunc
	// SigtrampFunc is a signal trampoline.
	SigtrampFunc
)

// ReturnConvention describes where a function leaves its return value.
type ReturnConvention uint8

const (
	// ReturnVoid functions do not return a value.
	ReturnVoid ReturnConvention = iota
	// ReturnRegister functions return their value in a register.
	ReturnRegister
	// ReturnStruct functions return their value in memory whose address
	// is not known after the function returns.
	ReturnStruct
)

// ReturnType describes the value returned by a function.
type ReturnType struct {
	Name       string
	Convention ReturnConvention
	// Register holding the value when Convention is ReturnRegister.
	Register string
}

// Function describes a function of the program.
type Function struct {
	Name       string
	Entry, End uint64
	File       string
	Kind       FuncKind
	Return     ReturnType
}

// NoLineInfoError is returned when an address has no line information.
type NoLineInfoError struct {
	PC uint64
}

func (err *NoLineInfoError) Error() string {
	return fmt.Sprintf("no line information for address %#x", err.PC)
}

// NoFunctionError is returned when an address does not belong to any
// known function.
type NoFunctionError struct {
	PC uint64
}

func (err *NoFunctionError) Error() string {
	return fmt.Sprintf("could not find function for address %#x", err.PC)
}

const entriesCacheSize = 512

// Table is an immutable line table.
type Table struct {
	entries []Entry
	// maxEnd[i] is the largest End of entries[:i+1].
	maxEnd []uint64
	funcs  []*Function
	cache  *lru.Cache
}

func newTable(entries []Entry, funcs []*Function) *Table {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		if a.PC != b.PC {
			return a.PC < b.PC
		}
		if a.End != b.End {
			return a.End > b.End
		}
		if (a.Kind == Normal) != (b.Kind == Normal) {
			// inlined entries enclose the lines of their body
			return b.Kind == Normal
		}
		return a.order < b.order
	})
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Entry < funcs[j].Entry })
	cache, err := lru.New(entriesCacheSize)
	if err != nil {
		panic(err)
	}
	maxEnd := make([]uint64, len(entries))
	var end uint64
	for i := range entries {
		if entries[i].End > end {
			end = entries[i].End
		}
		maxEnd[i] = end
	}
	return &Table{entries: entries, maxEnd: maxEnd, funcs: funcs, cache: cache}
}

// Entries returns all entries of the table sorted by address.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Functions returns all functions sorted by entry point.
func (t *Table) Functions() []*Function {
	return t.funcs
}

// EntriesAt returns all entries covering pc, outermost first. Entries
// starting at the same address are ordered by decreasing size, inlined
// entries before normal ones, remaining ties broken by insertion order.
// The returned slice belongs to the caller.
func (t *Table) EntriesAt(pc uint64) []Entry {
	cached := t.entriesAt(pc)
	if cached == nil {
		return nil
	}
	r := make([]Entry, len(cached))
	for i := range cached {
		r[i] = cached[i]
		if cached[i].Ranges != nil {
			r[i].Ranges = append([]AddrRange(nil), cached[i].Ranges...)
		}
	}
	return r
}

// entriesAt is EntriesAt without the copy, the result must not be
// modified.
func (t *Table) entriesAt(pc uint64) []Entry {
	if v, ok := t.cache.Get(pc); ok {
		return v.([]Entry)
	}
	// entries before lo end at or before pc, entries from hi on start
	// after it
	lo := sort.Search(len(t.maxEnd), func(i int) bool { return t.maxEnd[i] > pc })
	hi := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].PC > pc })
	var r []Entry
	for i := lo; i < hi; i++ {
		if t.entries[i].Covers(pc) {
			r = append(r, t.entries[i])
		}
	}
	t.cache.Add(pc, r)
	return r
}

// LineRangeContaining returns the address range and line of the
// innermost normal entry covering pc.
func (t *Table) LineRangeContaining(pc uint64) (start, end uint64, line int, err error) {
	e := t.innermost(pc, Normal)
	if e == nil {
		return 0, 0, 0, &NoLineInfoError{pc}
	}
	return e.PC, e.End, e.Line, nil
}

// EntryKind classifies pc: InlinedCallSite if an inlined call starts at
// pc, InlinedSubroutine if pc is inside the body of an inlined call,
// Normal otherwise.
func (t *Table) EntryKind(pc uint64) EntryKind {
	kind := Normal
	for _, e := range t.entriesAt(pc) {
		if e.Kind != InlinedCallSite {
			continue
		}
		if e.PC == pc {
			return InlinedCallSite
		}
		kind = InlinedSubroutine
	}
	return kind
}

// FunctionBounds returns the entry point and end address of the function
// containing pc.
func (t *Table) FunctionBounds(pc uint64) (start, end uint64, err error) {
	fn := t.PCToFunc(pc)
	if fn == nil {
		return 0, 0, &NoFunctionError{pc}
	}
	return fn.Entry, fn.End, nil
}

// PCToFunc returns the function containing pc or nil.
func (t *Table) PCToFunc(pc uint64) *Function {
	i := sort.Search(len(t.funcs), func(i int) bool { return t.funcs[i].End > pc })
	if i < len(t.funcs) && t.funcs[i].Entry <= pc {
		return t.funcs[i]
	}
	return nil
}

// PCToLine returns the file and line of the innermost normal entry
// covering pc and the function containing it.
func (t *Table) PCToLine(pc uint64) (string, int, *Function) {
	fn := t.PCToFunc(pc)
	e := t.innermost(pc, Normal)
	if e == nil {
		return "", 0, fn
	}
	return e.File, e.Line, fn
}

// LookupFunc returns the function called name or nil.
func (t *Table) LookupFunc(name string) *Function {
	for _, fn := range t.funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// LineToPC returns the first address of the given line.
func (t *Table) LineToPC(file string, line int) (uint64, error) {
	for _, e := range t.entries {
		if e.Kind == Normal && e.File == file && e.Line == line {
			return e.PC, nil
		}
	}
	return 0, fmt.Errorf("could not find %s:%d", file, line)
}

func (t *Table) innermost(pc uint64, kind EntryKind) *Entry {
	entries := t.entriesAt(pc)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == kind {
			e := entries[i]
			return &e
		}
	}
	return nil
}
