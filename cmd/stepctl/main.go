package main

import (
	"github.com/go-delve/stepctl/cmd/stepctl/cmds"
	"github.com/go-delve/stepctl/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.StepctlVersion.Build = Build
	}
	cmds.New(false).Execute()
}
