package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var stepping = false
var inline = false
var target = false
var dap = false
var sim = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(flag, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = &textFormatter{}
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.ErrorLevel
	}
	return &logrusLogger{logger}
}

// Stepping returns true if the stepping engine should log the decisions
// it takes while stepping.
func Stepping() bool {
	return stepping
}

// SteppingLogger returns a logger for the stepping engine.
func SteppingLogger() Logger {
	return makeLogger(stepping, Fields{"layer": "proc", "kind": "step"})
}

// Inline returns true if the inlined call stack simulator should log.
func Inline() bool {
	return inline
}

// InlineLogger returns a logger for the inlined call stack simulator.
func InlineLogger() Logger {
	return makeLogger(inline, Fields{"layer": "proc", "kind": "inline"})
}

// Target returns true if resume and stop traffic should be logged.
func Target() bool {
	return target
}

// TargetLogger returns a logger for resume and stop traffic.
func TargetLogger() Logger {
	return makeLogger(target, Fields{"layer": "target"})
}

// DAP returns true if dap package should log.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for dap package.
func DAPLogger() Logger {
	return makeLogger(dap, Fields{"layer": "dap"})
}

// Sim returns true if the simulated backend should log every resume.
func Sim() bool {
	return sim
}

func SimLogger() Logger {
	return makeLogger(sim, Fields{"layer": "sim"})
}

// WriteDAPListeningMessage writes the "DAP server listening" message.
func WriteDAPListeningMessage(addr string) {
	fmt.Fprintf(os.Stdout, "DAP server listening at: %s\n", addr)
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr string, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "stepctl-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "stepping"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "help" in commands.go
		switch strings.TrimSpace(logcmd) {
		case "stepping":
			stepping = true
		case "inline":
			inline = true
		case "target":
			target = true
		case "dap":
			dap = true
		case "sim":
			sim = true
		default:
			return fmt.Errorf("unknown log output %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// reset restores the default flag values, used by tests.
func reset() {
	stepping, inline, target, dap, sim = false, false, false, false, false
	logOut = nil
	loggerFactory = nil
}

type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", entry.Time.Format("2006-01-02T15:04:05Z07:00"), strings.ToLower(entry.Level.String()))
	for _, k := range []string{"layer", "kind"} {
		if v, ok := entry.Data[k]; ok {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
	}
	fmt.Fprintf(&b, " %s\n", entry.Message)
	return []byte(b.String()), nil
}
