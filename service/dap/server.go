// Package dap implements VSCode's Debug Adaptor Protocol (DAP).
// This allows stepctl to communicate with frontends using DAP
// without a separate adaptor. The frontend will run stepctl
// in server mode listening on a port and communicating over TCP.
// Execution requests are acknowledged as soon as the command is
// scheduled, the stopped event follows when the stepping engine
// reports that the command completed.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/google/go-dap"

	"github.com/go-delve/stepctl/pkg/logflags"
	"github.com/go-delve/stepctl/pkg/proc"
	"github.com/go-delve/stepctl/pkg/proc/sim"
	"github.com/go-delve/stepctl/service"
)

// Server implements a DAP server that can accept a single client for
// a single debug session. It does not support restarting.
// The server operates via three goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// processes each request and each stop of the target, issuing commands
// to the stepping engine and sending back events and responses.
// (3) Read goroutine that decodes requests and hands them to the run
// goroutine.
// Only the run goroutine touches the target.
type Server struct {
	// config is all the information necessary to start the server.
	config *service.Config
	// listener is used to accept the client connection.
	listener net.Listener
	// conn is the accepted client connection.
	conn net.Conn
	// stopChan is closed when the server is Stop()-ed. This can be used to signal
	// to goroutines run by the server that it's time to quit.
	stopChan chan struct{}
	// reader is used to read requests from the connection.
	reader *bufio.Reader
	// target is the program being debugged, nil until launch.
	target *proc.Target
	// log is used for structured logging.
	log logflags.Logger
	// stackFrameHandles maps frames of the stopped target to unique ids.
	stackFrameHandles *frameHandlesMap
	// args tracks special settings for handling debug session requests.
	args launchArgs
	// stopReason is the reason reported to the client when the current
	// execution command completes normally.
	stopReason string
	// disconnected is set once the client asked to disconnect.
	disconnected bool
}

// launchArgs captures arguments from the launch request that
// impact handling of subsequent requests.
type launchArgs struct {
	// stopOnEntry is set to automatically stop the debugee after start.
	stopOnEntry bool
	// stackTraceDepth is the maximum length of the returned list of stack frames.
	stackTraceDepth int
}

// defaultArgs borrows the defaults for the arguments from the original vscode-go adapter.
var defaultArgs = launchArgs{
	stopOnEntry:     false,
	stackTraceDepth: 50,
}

// NewServer creates a new DAP Server. It takes an opened Listener
// via config and assumes its ownership. config.DisconnectChan has to be set;
// it will be closed by the server when the client disconnects or requests
// shutdown. Once DisconnectChan is closed, Server.Stop() must be called.
func NewServer(config *service.Config) *Server {
	logger := logflags.DAPLogger()
	logflags.WriteDAPListeningMessage(config.Listener.Addr().String())
	logger.Debug("DAP server pid = ", os.Getpid())
	args := defaultArgs
	if config.StackTraceDepth > 0 {
		args.stackTraceDepth = config.StackTraceDepth
	}
	return &Server{
		config:            config,
		listener:          config.Listener,
		stopChan:          make(chan struct{}),
		log:               logger,
		stackFrameHandles: newFrameHandlesMap(),
		args:              args,
	}
}

// Stop stops the DAP server, closes the listener and the client
// connection. This method mustn't be called more than once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	if s.conn != nil {
		// Unless Stop() was called after serveDAPCodec()
		// returned, this will result in closed connection error
		// on next read, breaking out of the read loop and
		// allowing the run goroutine to exit.
		s.conn.Close()
	}
}

// signalDisconnect closes config.DisconnectChan if not nil, which
// signals that the client disconnected or there was a client
// connection failure. Since the server currently services only one
// client, this can be used as a signal to the entire server via
// Stop(). The function can be called multiple times, it is only called
// from the run goroutine.
func (s *Server) signalDisconnect() {
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
// The server does not support multiple clients, serially or in parallel.
// The server should be restarted for every new debug session.
// The target won't be loaded until the launch request is received.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Errorf("Error accepting client connection: %s\n", err)
			}
			s.signalDisconnect()
			return
		}
		s.conn = conn
		s.serveDAPCodec()
	}()
}

// serveDAPCodec processes requests from the client and stops of the
// target until the client disconnects, the connection fails or the
// server is stopped. It then sends the disconnect signal and returns.
func (s *Server) serveDAPCodec() {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(s.conn)

	done := make(chan struct{})
	defer close(done)
	requests := make(chan dap.Message)
	go s.readRequests(requests, done)

	defer s.haltTarget()

	for {
		select {
		case request, ok := <-requests:
			if !ok {
				return
			}
			s.handleRequest(request)
			if s.disconnected {
				return
			}
		case stop := <-s.events():
			res, err := s.target.HandleStop(stop)
			s.handleResult(res, err)
		case <-s.stopChan:
			return
		}
	}
}

// readRequests decodes requests from the client until it encounters an
// error or EOF.
func (s *Server) readRequests(requests chan<- dap.Message, done <-chan struct{}) {
	defer close(requests)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			case <-done:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				s.log.Error("DAP error: ", err)
			}
			return
		}
		select {
		case requests <- request:
		case <-done:
			return
		}
	}
}

// events returns the channel stops of an asynchronous target are
// delivered on, nil if there is none.
func (s *Server) events() <-chan proc.StopReason {
	if s.target == nil {
		return nil
	}
	if src, ok := s.target.Backend().(proc.EventSource); ok {
		return src.Events()
	}
	return nil
}

// haltTarget interrupts the command in progress, if any.
func (s *Server) haltTarget() {
	if s.target == nil || !s.target.CommandInProgress() {
		return
	}
	if err := s.target.Interrupt(); err != nil {
		s.log.Error(err)
	}
}

func (s *Server) handleRequest(request dap.Message) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	jsonmsg, _ := json.Marshal(request)
	s.log.Debug("[<- from client]", string(jsonmsg))

	switch request := request.(type) {
	case *dap.InitializeRequest:
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		s.onLaunchRequest(request)
	case *dap.DisconnectRequest:
		s.onDisconnectRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		s.onSetExceptionBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDoneRequest(request)
	case *dap.ContinueRequest:
		s.onContinueRequest(request)
	case *dap.NextRequest:
		s.onNextRequest(request)
	case *dap.StepInRequest:
		s.onStepInRequest(request)
	case *dap.StepOutRequest:
		s.onStepOutRequest(request)
	case *dap.PauseRequest:
		s.onPauseRequest(request)
	case *dap.StackTraceRequest:
		s.onStackTraceRequest(request)
	case *dap.ThreadsRequest:
		s.onThreadsRequest(request)
	case *dap.AttachRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetBreakpointsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetFunctionBreakpointsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ScopesRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.VariablesRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.EvaluateRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SourceRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepBackRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ReverseContinueRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.RestartRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.TerminateRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.DisassembleRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ReadMemoryRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	default:
		// This is a DAP message that go-dap has a struct for, so
		// decoding succeeded, but this function does not know how
		// to handle.
		var req dap.Request
		if err := json.Unmarshal(jsonmsg, &req); err == nil && req.Command != "" {
			s.sendUnsupportedErrorResponse(req)
			return
		}
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v\n", request))
	}
}

func (s *Server) send(message dap.Message) {
	jsonmsg, _ := json.Marshal(message)
	s.log.Debug("[-> to client]", string(jsonmsg))
	if err := dap.WriteProtocolMessage(s.conn, message); err != nil {
		s.log.Debug(err)
	}
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsSteppingGranularity = true
	response.Body.SupportsSetVariable = false
	response.Body.SupportsTerminateRequest = false
	response.Body.SupportsRestartRequest = false
	response.Body.SupportsFunctionBreakpoints = false
	response.Body.SupportsStepBack = false
	response.Body.SupportsSetExpression = false
	response.Body.SupportsLoadedSourcesRequest = false
	response.Body.SupportsReadMemoryRequest = false
	response.Body.SupportsDisassembleRequest = false
	s.send(response)
}

func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	if s.target != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
			"debug session already in progress")
		return
	}

	var args LaunchConfig
	if err := unmarshalLaunchArgs(request.Arguments, &args); err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
			fmt.Sprintf("invalid debug configuration - %v", err))
		return
	}
	if args.Program == "" {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
			"The program attribute is missing in debug configuration.")
		return
	}

	m, err := sim.Load(args.Program)
	if err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch", err.Error())
		return
	}

	conf := s.config.Stepping
	if args.InlinedStepping != nil {
		conf.InlinedStepping = *args.InlinedStepping
	}
	conf.DebugInlinedStepping = conf.DebugInlinedStepping || args.DebugInlinedStepping
	conf.StepStopIfNoDebug = conf.StepStopIfNoDebug || args.StepStopIfNoDebug

	if args.InstructionLimit > 0 {
		m.MaxSteps = args.InstructionLimit
	}

	var be proc.Backend = m
	if args.async() {
		be = sim.NewAsync(m)
	}
	s.target = proc.NewTarget(m.Table(), be, conf)

	s.args.stopOnEntry = args.StopOnEntry
	if args.StackTraceDepth > 0 {
		s.args.stackTraceDepth = args.StackTraceDepth
	}
	s.log.Debugf("launched %s async=%v", args.Program, args.async())

	// Notify the client that the debugger is ready to start accepting
	// configuration requests. The client will end the configuration
	// sequence with 'configurationDone'.
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.LaunchResponse{Response: *newResponse(request.Request)})
}

// onDisconnectRequest handles the DisconnectRequest. Per the DAP spec,
// it disconnects the debuggee and signals that the debug adaptor
// (in our case this TCP server) can be terminated.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	s.haltTarget()
	s.disconnected = true
}

func (s *Server) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	// Unlike what DAP documentation claims, this request is always sent
	// even though we specified no filters at initialization. Handle as no-op.
	s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	if s.args.stopOnEntry {
		e := &dap.StoppedEvent{
			Event: *newEvent("stopped"),
			Body:  dap.StoppedEventBody{Reason: "entry", ThreadId: 1, AllThreadsStopped: true},
		}
		s.send(e)
	}
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
	if !s.args.stopOnEntry && s.target != nil {
		s.stopReason = ""
		s.handleResult(s.target.Continue())
	}
}

func (s *Server) onContinueRequest(request *dap.ContinueRequest) {
	if s.target == nil {
		s.sendErrorResponse(request.Request, UnableToContinue, "Unable to continue", "no debug session")
		return
	}
	res, err := s.target.Continue()
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToContinue, "Unable to continue", err.Error())
		return
	}
	response := &dap.ContinueResponse{Response: *newResponse(request.Request)}
	response.Body.AllThreadsContinued = true
	s.send(response)
	s.stopReason = ""
	s.handleResult(res, nil)
}

func (s *Server) onNextRequest(request *dap.NextRequest) {
	s.stepUntilStop(request.Request, &dap.NextResponse{Response: *newResponse(request.Request)}, func() (proc.Result, error) {
		if request.Arguments.Granularity == "instruction" {
			return s.target.StepInstruction(1, true)
		}
		return s.target.Next(1)
	})
}

func (s *Server) onStepInRequest(request *dap.StepInRequest) {
	s.stepUntilStop(request.Request, &dap.StepInResponse{Response: *newResponse(request.Request)}, func() (proc.Result, error) {
		if request.Arguments.Granularity == "instruction" {
			return s.target.StepInstruction(1, false)
		}
		return s.target.StepIn(1)
	})
}

func (s *Server) onStepOutRequest(request *dap.StepOutRequest) {
	s.stepUntilStop(request.Request, &dap.StepOutResponse{Response: *newResponse(request.Request)}, func() (proc.Result, error) {
		f, err := s.target.CurrentFrame()
		if err != nil {
			return proc.Result{}, err
		}
		return s.target.Finish(f)
	})
}

// stepUntilStop starts an execution command and acknowledges the request.
// The stopped event is sent when the command completes, immediately for
// synchronous targets or once the last stop of the command is delivered
// for asynchronous ones.
func (s *Server) stepUntilStop(request dap.Request, response dap.Message, fn func() (proc.Result, error)) {
	if s.target == nil {
		s.sendErrorResponse(request, UnableToStep, "Unable to step", "no debug session")
		return
	}
	res, err := fn()
	if err != nil {
		s.sendErrorResponse(request, UnableToStep, "Unable to step", err.Error())
		return
	}
	s.send(response)
	s.stopReason = "step"
	s.handleResult(res, nil)
}

func (s *Server) onPauseRequest(request *dap.PauseRequest) {
	s.send(&dap.PauseResponse{Response: *newResponse(request.Request)})
	if s.target == nil || !s.target.CommandInProgress() {
		return
	}
	running := s.target.Running()
	if err := s.target.Interrupt(); err != nil {
		s.log.Error(err)
		return
	}
	if !running {
		// No stop will be delivered for this command.
		s.stopReason = ""
		s.clearProcessStateHandles()
		s.send(&dap.StoppedEvent{
			Event: *newEvent("stopped"),
			Body:  dap.StoppedEventBody{Reason: "pause", ThreadId: 1, AllThreadsStopped: true},
		})
	}
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	// The DAP spec states that "even if a debug adapter does not
	// support multiple threads, it must implement the threads request
	// and return a single (dummy) thread".
	threads := []dap.Thread{{Id: 1, Name: "main"}}
	if s.target != nil && !s.target.CommandInProgress() {
		if exited, _ := s.target.Exited(); !exited {
			if f, err := s.target.CurrentFrame(); err == nil && f.Current.Function != "" {
				threads[0].Name = f.Current.Function
			}
		}
	}
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: threads},
	}
	s.send(response)
}

// onStackTraceRequest handles ‘stackTrace’ requests.
// Inlined calls are reported as separate frames.
func (s *Server) onStackTraceRequest(request *dap.StackTraceRequest) {
	if s.target == nil {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace", "no debug session")
		return
	}
	frames, err := s.target.Stacktrace(s.args.stackTraceDepth)
	if err != nil && len(frames) == 0 {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace", err.Error())
		return
	}

	stackFrames := make([]dap.StackFrame, len(frames))
	for i, f := range frames {
		loc := f.Current
		uniqueStackFrameID := s.stackFrameHandles.create(stackFrame{level: f.Level, inlined: f.Kind == proc.InlinedFrame})
		stackFrames[i] = dap.StackFrame{Id: uniqueStackFrameID, Line: loc.Line}
		stackFrames[i].Name = frameName(f)
		stackFrames[i].InstructionPointerReference = fmt.Sprintf("%#x", loc.PC)
		if loc.File != "" {
			stackFrames[i].Source = &dap.Source{Name: filepath.Base(loc.File), Path: loc.File}
		}
		if f.Kind != proc.NormalFrame && f.Kind != proc.InlinedFrame {
			stackFrames[i].PresentationHint = "subtle"
		}
	}
	if request.Arguments.StartFrame > 0 {
		stackFrames = stackFrames[min(request.Arguments.StartFrame, len(stackFrames)):]
	}
	if request.Arguments.Levels > 0 {
		stackFrames = stackFrames[:min(request.Arguments.Levels, len(stackFrames))]
	}
	response := &dap.StackTraceResponse{
		Response: *newResponse(request.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: stackFrames, TotalFrames: len(frames)},
	}
	s.send(response)
}

func frameName(f proc.Frame) string {
	name := f.Current.Function
	if name == "" {
		name = fmt.Sprintf("%#x", f.Current.PC)
	}
	if f.Kind == proc.InlinedFrame {
		name += " (inlined)"
	}
	return name
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{
		Id:     id,
		Format: fmt.Sprintf("%s: %s", summary, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

// sendInternalErrorResponse sends an "internal error" response back to the client.
// We only take a seq here because we don't want to make assumptions about the
// kind of message received by the server that this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error = &dap.ErrorMessage{
		Id:     InternalError,
		Format: fmt.Sprintf("%s: %s", er.Message, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func (s *Server) clearProcessStateHandles() {
	s.stackFrameHandles.reset()
}

// handleResult reports the outcome of an execution command to the
// client. Nothing is sent while the command is pending.
func (s *Server) handleResult(res proc.Result, err error) {
	if err != nil {
		s.handleStopOnError(err)
		return
	}
	if res.Kind == proc.Pending {
		return
	}
	s.handleStop(res.Stop)
}

// handleStopOnError resets the stage for refreshing debuggee state
// and sends an apropriate event to the client, followed by
// an output event with the details of the error.
func (s *Server) handleStopOnError(err error) {
	s.log.Error("runtime error: ", err)
	s.clearProcessStateHandles()
	s.stopReason = ""

	var exited proc.ErrProcessExited
	if errors.As(err, &exited) {
		s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
		return
	}
	e := &dap.StoppedEvent{Event: *newEvent("stopped")}
	e.Body.AllThreadsStopped = true
	e.Body.ThreadId = 1
	e.Body.Reason = "runtime error"
	e.Body.Text = err.Error()
	s.send(e)
	s.output("stderr", fmt.Sprintf("ERROR: %s\n", e.Body.Text))
}

// handleStop resets the stage for refreshing debuggee state
// and sends an apropriate event to the client when execution stops
// due to normal causes (termination, step, interruption, etc).
func (s *Server) handleStop(info proc.StopInfo) {
	s.clearProcessStateHandles()
	reason := s.stopReason
	s.stopReason = ""

	for _, note := range info.Notes {
		s.output("console", note+"\n")
	}
	for _, w := range info.Warnings {
		s.output("stderr", fmt.Sprintf("Warning: %s\n", w))
	}

	if info.Reason.Kind == proc.StopExited {
		s.send(&dap.ExitedEvent{
			Event: *newEvent("exited"),
			Body:  dap.ExitedEventBody{ExitCode: info.Reason.ExitCode},
		})
		s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
		return
	}

	if info.Finished && info.ReturnValue != nil {
		s.output("console", info.ReturnValue.String()+"\n")
	}

	e := &dap.StoppedEvent{Event: *newEvent("stopped")}
	e.Body.Reason = stoppedEventReason(info, reason)
	e.Body.AllThreadsStopped = true
	e.Body.ThreadId = 1
	if info.Reason.Kind == proc.StopSignal {
		e.Body.Description = fmt.Sprintf("signal %d", info.Reason.Signal)
	}
	s.send(e)
}

func stoppedEventReason(info proc.StopInfo, reason string) string {
	switch {
	case info.Interrupted || info.Reason.Kind == proc.StopHalted:
		return "pause"
	case info.Reason.Kind == proc.StopSignal:
		return "exception"
	case reason != "":
		return reason
	case info.Reason.Kind == proc.StopBreakpoint || info.Reason.Kind == proc.StopTrap:
		return "breakpoint"
	}
	return "step"
}

func (s *Server) output(category, msg string) {
	s.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body: dap.OutputEventBody{
			Output:   msg,
			Category: category,
		}})
}
