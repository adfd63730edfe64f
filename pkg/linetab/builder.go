package linetab

import (
	"errors"
	"fmt"
)

// CallSite is the position of a call that was inlined.
type CallSite struct {
	File   string
	Line   int
	Column int
}

// Builder accumulates entries and functions for a Table.
type Builder struct {
	entries []Entry
	funcs   []*Function
	order   int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddFunction adds a function.
func (b *Builder) AddFunction(fn Function) {
	b.funcs = append(b.funcs, &fn)
}

// AddLine adds a normal entry mapping [start, end) to file:line.
func (b *Builder) AddLine(file string, line, column int, start, end uint64) {
	b.add(Entry{PC: start, End: end, File: file, Line: line, Column: column, Kind: Normal})
}

// AddInlinedCall adds the pair of entries describing a call to fn, declared
// at file:declLine, inlined at call. The body of the inlined call is
// described by ranges, which must be sorted and non overlapping.
// Inlined calls nested inside this one must be added after it.
func (b *Builder) AddInlinedCall(call CallSite, fn, file string, declLine int, ranges []AddrRange) error {
	if len(ranges) == 0 {
		return errors.New("inlined call without ranges")
	}
	start, end := ranges[0].Start, ranges[len(ranges)-1].End
	var body []AddrRange
	if len(ranges) > 1 {
		body = append(body, ranges...)
	}
	b.add(Entry{
		PC: start, End: end,
		File: call.File, Line: call.Line, Column: call.Column,
		Kind: InlinedCallSite,
		Func: fn, CallFile: call.File, CallLine: call.Line, CallColumn: call.Column,
		Ranges: body,
	})
	b.add(Entry{
		PC: start, End: end,
		File: file, Line: declLine,
		Kind: InlinedSubroutine,
		Func: fn, CallFile: call.File, CallLine: call.Line, CallColumn: call.Column,
		Ranges: body,
	})
	return nil
}

func (b *Builder) add(e Entry) {
	e.order = b.order
	b.order++
	b.entries = append(b.entries, e)
}

// Build validates the accumulated data and returns the table.
func (b *Builder) Build() (*Table, error) {
	for _, e := range b.entries {
		if e.End <= e.PC {
			return nil, fmt.Errorf("empty entry for %s:%d at %#x", e.File, e.Line, e.PC)
		}
	}
	for i, fn := range b.funcs {
		if fn.End <= fn.Entry {
			return nil, fmt.Errorf("function %s has no body", fn.Name)
		}
		for _, fn2 := range b.funcs[i+1:] {
			if fn.Entry < fn2.End && fn2.Entry < fn.End {
				return nil, fmt.Errorf("functions %s and %s overlap", fn.Name, fn2.Name)
			}
		}
	}
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	funcs := make([]*Function, len(b.funcs))
	copy(funcs, b.funcs)
	return newTable(entries, funcs), nil
}
