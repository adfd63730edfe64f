// Package version reports the stepctl release and the build it came from.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version is a stepctl release. Build is the revision the binary was
// built from, the linker sets it for release builds.
type Version struct {
	Major, Minor, Patch int
	Build               string
}

// StepctlVersion is the current version of stepctl.
var StepctlVersion = Version{Major: 0, Minor: 3, Patch: 0}

func (v Version) String() string {
	build := v.Build
	if build == "" {
		build = readRevision(debug.ReadBuildInfo)
	}
	return fmt.Sprintf("Version: %d.%d.%d\nBuild: %s", v.Major, v.Minor, v.Patch, build)
}

// BuildInfo returns the Go version and the modules stepctl was built
// with, one per line.
func BuildInfo() string {
	return runtime.Version() + "\n" + modules(debug.ReadBuildInfo)
}

type buildInfoFunc func() (*debug.BuildInfo, bool)

// readRevision returns the vcs revision stamped by the go command, or
// "unknown" for binaries built outside a checkout.
func readRevision(read buildInfoFunc) string {
	info, ok := read()
	if !ok {
		return "unknown"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return "unknown"
}

func modules(read buildInfoFunc) string {
	info, ok := read()
	if !ok {
		return "not built in module mode"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, " mod\t%s\t%s\n", info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		fmt.Fprintf(&sb, " dep\t%s\t%s", dep.Path, dep.Version)
		if r := dep.Replace; r != nil {
			fmt.Fprintf(&sb, "\t=> %s\t%s", r.Path, r.Version)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
