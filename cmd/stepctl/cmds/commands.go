package cmds

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/stepctl/pkg/config"
	"github.com/go-delve/stepctl/pkg/logflags"
	"github.com/go-delve/stepctl/pkg/proc"
	"github.com/go-delve/stepctl/pkg/proc/sim"
	"github.com/go-delve/stepctl/pkg/terminal"
	"github.com/go-delve/stepctl/pkg/version"
	"github.com/go-delve/stepctl/service"
	"github.com/go-delve/stepctl/service/dap"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// addr is the debugging server listen address.
	addr string
	// initFile is the path to initialization file.
	initFile string
	// async drives the target through the asynchronous backend.
	async bool
	// instructionLimit is the maximum number of instructions executed by a
	// single resume of the target.
	instructionLimit int
	// verbose prints the module versions stepctl was built with.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const stepctlCommandLongDesc = `stepctl is a source level stepping debugger.

stepctl loads a program description, a set of functions made of source
lines, inlined calls and instructions, and lets you control its execution
with the step, next, stepi and finish family of commands, honoring inlined
calls as if they were real calls.

The same stepping engine can be driven by an editor through the Debug
Adapter Protocol, see 'stepctl help dap'.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	if docCall {
		conf = &config.Config{}
	} else {
		conf = config.LoadConfig()
	}

	// Main stepctl root command.
	rootCommand = &cobra.Command{
		Use:   "stepctl",
		Short: "stepctl is a stepping debugger for simulated programs.",
		Long:  stepctlCommandLongDesc,
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "Debugging server listen address.")

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'stepctl help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'stepctl help log').")

	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")

	// 'debug' subcommand.
	debugCommand := &cobra.Command{
		Use:   "debug <program.yml>",
		Short: "Load a program and begin debugging it.",
		Long: `Loads the program described by the given file, stops it at its entry
point and starts a terminal session to control its execution.

With --async the program runs on the asynchronous backend: every resume
returns immediately and the terminal waits for the stop, press ^C to
interrupt a command that does not terminate.`,
		Args: cobra.ExactArgs(1),
		Run:  debugCmd,
	}
	addBackendFlags(debugCommand.Flags())
	rootCommand.AddCommand(debugCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap",
		Short: "Starts a TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a TCP server communicating via Debug Adaptor Protocol (DAP).

The server loads the program named by the 'program' attribute of the launch
request. Other launch attributes:

	stopOnEntry		stop at the entry point of the program
	async			drive the program asynchronously (default true)
	stackTraceDepth		maximum number of frames in stack traces
	inlinedStepping		step into inlined calls as if they were real calls
	debugInlinedStepping	report inlined stepping decisions as output
	stepStopIfNoDebug	step one instruction at a time through code without line information
	instructionLimit	maximum number of instructions executed by a single resume

Stepping options default to the values of the configuration file.
The server does not accept multiple client connections.`,
		Args: cobra.NoArgs,
		Run:  dapCmd,
	}
	rootCommand.AddCommand(dapCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stepctl\n%s\n", version.StepctlVersion)
			if verbose {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	stepping	Log stepping decisions and momentary breakpoints
	inline		Log inlined call stack computations
	target		Log resumes, stops and interruptions of the target
	dap		Log all DAP messages
	sim		Log the simulated backend

Additionally --log-dest can be used to specify where the logs should be
written. If the argument is a number it will be interpreted as a file
descriptor, otherwise as a file path.`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// addBackendFlags registers the flags selecting how the program is run.
func addBackendFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&async, "async", false, "Drive the program asynchronously.")
	fs.IntVar(&instructionLimit, "instruction-limit", 0, "Maximum number of instructions executed by a single resume (0 means the backend default).")
}

func debugCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(args[0], conf))
}

// execute loads program and runs a terminal session on it, it returns
// the exit status of stepctl.
func execute(program string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	m, err := sim.Load(program)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not launch process: %v\n", err)
		return 1
	}
	if instructionLimit > 0 {
		m.MaxSteps = instructionLimit
	}
	var be proc.Backend = m
	if async {
		be = sim.NewAsync(m)
	}
	target := proc.NewTarget(m.Table(), be, proc.DefaultConfig())

	term := terminal.New(target, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

func dapCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with dap\n")
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Printf("couldn't start listener: %s\n", err)
			return 1
		}
		stepping := proc.DefaultConfig()
		stepping.InlinedStepping = conf.InlinedSteppingEnabled()
		stepping.DebugInlinedStepping = conf.DebugInlinedStepping
		stepping.StepStopIfNoDebug = conf.StepStopIfNoDebug

		disconnectChan := make(chan struct{})
		server := dap.NewServer(&service.Config{
			Listener:        listener,
			DisconnectChan:  disconnectChan,
			Stepping:        stepping,
			StackTraceDepth: conf.StackDepth(),
		})
		defer server.Stop()

		server.Run()
		waitForDisconnectSignal(disconnectChan)
		return 0
	}()
	os.Exit(status)
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) or a signal from the service layer that the client
// disconnected.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	if runtime.GOOS == "windows" {
		// On windows Ctrl-C is delivered to every process attached to the
		// console, only the client can end the session.
		<-disconnectChan
		return
	}
	select {
	case <-ch:
	case <-disconnectChan:
	}
}
