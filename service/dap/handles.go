package dap

const startHandle = 1000

// handlesMap maps arbitrary values to unique sequential ids.
// This provides convenient abstraction of references, offering
// opacity and allowing simplification of complex identifiers.
type handlesMap struct {
	nextHandle  int
	handleToVal map[int]interface{}
}

func newHandlesMap() *handlesMap {
	return &handlesMap{startHandle, make(map[int]interface{})}
}

func (hs *handlesMap) reset() {
	hs.nextHandle = startHandle
	hs.handleToVal = make(map[int]interface{})
}

func (hs *handlesMap) create(value interface{}) int {
	next := hs.nextHandle
	hs.nextHandle++
	hs.handleToVal[next] = value
	return next
}

func (hs *handlesMap) get(handle int) (interface{}, bool) {
	v, ok := hs.handleToVal[handle]
	return v, ok
}

// stackFrame is the position of a frame in the stack of the stopped
// target, it is only meaningful until the target is resumed.
type stackFrame struct {
	level   int
	inlined bool
}

type frameHandlesMap struct {
	m *handlesMap
}

func newFrameHandlesMap() *frameHandlesMap {
	return &frameHandlesMap{newHandlesMap()}
}

func (hs *frameHandlesMap) create(sf stackFrame) int {
	return hs.m.create(sf)
}

func (hs *frameHandlesMap) get(handle int) (stackFrame, bool) {
	v, ok := hs.m.get(handle)
	if !ok {
		return stackFrame{}, false
	}
	return v.(stackFrame), true
}

func (hs *frameHandlesMap) reset() {
	hs.m.reset()
}
