package terminal

import (
	"os"
	"os/signal"

	"golang.org/x/sys/windows"
)

func notifyInterrupt(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}

// terminalWidth returns the width of the console window f is attached
// to, 0 if f is not a console.
func terminalWidth(f *os.File) int {
	var info windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(windows.Handle(f.Fd()), &info); err != nil {
		return 0
	}
	return int(info.Window.Right-info.Window.Left) + 1
}
