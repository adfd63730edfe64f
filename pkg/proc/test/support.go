package test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-delve/stepctl/pkg/proc"
	"github.com/go-delve/stepctl/pkg/proc/sim"
)

// Fixture is a test program.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the program description.
	Path string
}

var (
	fixtures   = map[string]Fixture{}
	fixturesMu sync.Mutex
)

// FindFixturesDir returns the path to the _fixtures directory.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// FindFixture returns the fixture called name.
func FindFixture(name string) Fixture {
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := fixtures[name]; ok {
		return f
	}
	path, _ := filepath.Abs(filepath.Join(FindFixturesDir(), name+".yml"))
	fixtures[name] = Fixture{Name: name, Path: path}
	return fixtures[name]
}

// LoadFixture loads the fixture called name into a new machine.
func LoadFixture(t testing.TB, name string) *sim.Machine {
	t.Helper()
	m, err := sim.Load(FindFixture(name).Path)
	if err != nil {
		t.Fatalf("could not load fixture %s: %v", name, err)
	}
	return m
}

// NewTarget returns a target running the fixture called name. If async
// is set the machine is driven through sim.Async.
func NewTarget(t testing.TB, name string, async bool, conf proc.Config) (*proc.Target, *sim.Machine) {
	t.Helper()
	m := LoadFixture(t, name)
	return newTarget(m, async, conf), m
}

// NewTargetAt is like NewTarget but runs the fixture to the first address
// of file:line first.
func NewTargetAt(t testing.TB, name, file string, line int, async bool, conf proc.Config) (*proc.Target, *sim.Machine) {
	t.Helper()
	m := LoadFixture(t, name)
	RunToLine(t, m, file, line)
	return newTarget(m, async, conf), m
}

// NewTargetAtFunction is like NewTarget but runs the fixture to the entry
// point of the named function first.
func NewTargetAtFunction(t testing.TB, name, fn string, async bool, conf proc.Config) (*proc.Target, *sim.Machine) {
	t.Helper()
	m := LoadFixture(t, name)
	addr, ok := m.FunctionEntry(fn)
	if !ok {
		t.Fatalf("function %s not found in %s", fn, name)
	}
	if err := m.RunTo(addr); err != nil {
		t.Fatalf("could not run to %s: %v", fn, err)
	}
	return newTarget(m, async, conf), m
}

func newTarget(m *sim.Machine, async bool, conf proc.Config) *proc.Target {
	var be proc.Backend = m
	if async {
		be = sim.NewAsync(m)
	}
	return proc.NewTarget(m.Table(), be, conf)
}

// RunToLine runs m until the first address of file:line.
func RunToLine(t testing.TB, m *sim.Machine, file string, line int) {
	t.Helper()
	addr, err := m.Table().LineToPC(file, line)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RunTo(addr); err != nil {
		t.Fatalf("could not run to %s:%d: %v", file, line, err)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(err error, t testing.TB, s string) {
	t.Helper()
	if err != nil {
		t.Fatalf("failed assertion %s: %v", s, err)
	}
}

// AssertLocation fails the test if loc is not at file:line.
func AssertLocation(t testing.TB, loc proc.Location, file string, line int) {
	t.Helper()
	if loc.File != file || loc.Line != line {
		t.Fatalf("wrong location %s:%d (%#x), expected %s:%d", loc.File, loc.Line, loc.PC, file, line)
	}
}
