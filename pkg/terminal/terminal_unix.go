//go:build !windows
// +build !windows

package terminal

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

func notifyInterrupt(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGINT)
}

// terminalWidth returns the number of columns of the terminal f is
// connected to, 0 if f is not a terminal.
func terminalWidth(f *os.File) int {
	ws, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return 0
	}
	return int(ws.Col)
}
