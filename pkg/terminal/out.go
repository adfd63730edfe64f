package terminal

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// stdoutWriter returns the writer the terminal prints to and whether
// colour escapes must be avoided.
func stdoutWriter() (io.Writer, bool) {
	if strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd()) {
		return os.Stdout, true
	}
	return colorable.NewColorableStdout(), false
}
