// Package daptest provides a sample client with utilities
// for DAP mode testing.
package daptest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"testing"
	"time"

	"github.com/google/go-dap"
)

// readTimeout bounds the time a test waits for a message.
const readTimeout = 10 * time.Second

// Client is a debugger service client that uses Debug Adaptor Protocol.
// All client methods are synchronous.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	// seq is used to track the sequence number of each
	// requests that the client sends to the server
	seq int
}

// NewClient creates a new Client over a TCP connection.
// Call Close() to close the connection.
func NewClient(addr string) *Client {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatal("dialing:", err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn), seq: 1}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.conn.Close()
}

func (c *Client) send(request dap.Message) {
	dap.WriteProtocolMessage(c.conn, request)
}

// ReadMessage reads the next message sent by the server.
func (c *Client) ReadMessage() (dap.Message, error) {
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	return dap.ReadProtocolMessage(c.reader)
}

// ExpectMessage reads the next message, failing the test on error.
func (c *Client) ExpectMessage(t *testing.T) dap.Message {
	t.Helper()
	m, err := c.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func unexpected(t *testing.T, m dap.Message, want string) {
	t.Helper()
	jsonmsg, _ := json.Marshal(m)
	t.Fatalf("got %s, want %s", jsonmsg, want)
}

func (c *Client) ExpectInitializeResponse(t *testing.T) *dap.InitializeResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	initResp, ok := m.(*dap.InitializeResponse)
	if !ok {
		unexpected(t, m, "initialize response")
	}
	if !initResp.Body.SupportsConfigurationDoneRequest {
		t.Errorf("got %#v, want SupportsConfigurationDoneRequest=true", initResp)
	}
	return initResp
}

func (c *Client) ExpectInitializedEvent(t *testing.T) *dap.InitializedEvent {
	t.Helper()
	m := c.ExpectMessage(t)
	e, ok := m.(*dap.InitializedEvent)
	if !ok {
		unexpected(t, m, "initialized event")
	}
	return e
}

func (c *Client) ExpectLaunchResponse(t *testing.T) *dap.LaunchResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.LaunchResponse)
	if !ok {
		unexpected(t, m, "launch response")
	}
	return r
}

func (c *Client) ExpectConfigurationDoneResponse(t *testing.T) *dap.ConfigurationDoneResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.ConfigurationDoneResponse)
	if !ok {
		unexpected(t, m, "configurationDone response")
	}
	return r
}

func (c *Client) ExpectThreadsResponse(t *testing.T) *dap.ThreadsResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.ThreadsResponse)
	if !ok {
		unexpected(t, m, "threads response")
	}
	return r
}

func (c *Client) ExpectStackTraceResponse(t *testing.T) *dap.StackTraceResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.StackTraceResponse)
	if !ok {
		unexpected(t, m, "stackTrace response")
	}
	return r
}

func (c *Client) ExpectNextResponse(t *testing.T) *dap.NextResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.NextResponse)
	if !ok {
		unexpected(t, m, "next response")
	}
	return r
}

func (c *Client) ExpectStepInResponse(t *testing.T) *dap.StepInResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.StepInResponse)
	if !ok {
		unexpected(t, m, "stepIn response")
	}
	return r
}

func (c *Client) ExpectStepOutResponse(t *testing.T) *dap.StepOutResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.StepOutResponse)
	if !ok {
		unexpected(t, m, "stepOut response")
	}
	return r
}

func (c *Client) ExpectContinueResponse(t *testing.T) *dap.ContinueResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.ContinueResponse)
	if !ok {
		unexpected(t, m, "continue response")
	}
	return r
}

func (c *Client) ExpectPauseResponse(t *testing.T) *dap.PauseResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.PauseResponse)
	if !ok {
		unexpected(t, m, "pause response")
	}
	return r
}

func (c *Client) ExpectDisconnectResponse(t *testing.T) *dap.DisconnectResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.DisconnectResponse)
	if !ok {
		unexpected(t, m, "disconnect response")
	}
	return r
}

func (c *Client) ExpectErrorResponse(t *testing.T) *dap.ErrorResponse {
	t.Helper()
	m := c.ExpectMessage(t)
	r, ok := m.(*dap.ErrorResponse)
	if !ok {
		unexpected(t, m, "error response")
	}
	return r
}

func (c *Client) ExpectExitedEvent(t *testing.T) *dap.ExitedEvent {
	t.Helper()
	m := c.ExpectMessage(t)
	e, ok := m.(*dap.ExitedEvent)
	if !ok {
		unexpected(t, m, "exited event")
	}
	return e
}

func (c *Client) ExpectTerminatedEvent(t *testing.T) *dap.TerminatedEvent {
	t.Helper()
	m := c.ExpectMessage(t)
	e, ok := m.(*dap.TerminatedEvent)
	if !ok {
		unexpected(t, m, "terminated event")
	}
	return e
}

// ExpectStoppedEvent reads messages until a stopped event arrives,
// the text of the output events read in the meantime is returned.
func (c *Client) ExpectStoppedEvent(t *testing.T) (*dap.StoppedEvent, []string) {
	t.Helper()
	var output []string
	for {
		m := c.ExpectMessage(t)
		switch m := m.(type) {
		case *dap.OutputEvent:
			output = append(output, m.Body.Output)
		case *dap.StoppedEvent:
			return m, output
		default:
			unexpected(t, m, "stopped event")
		}
	}
}

// InitializeRequest sends an 'initialize' request.
func (c *Client) InitializeRequest() {
	request := &dap.InitializeRequest{Request: *c.newRequest("initialize")}
	request.Arguments = dap.InitializeRequestArguments{
		AdapterID:       "stepctl",
		PathFormat:      "path",
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
	}
	c.send(request)
}

// LaunchRequestWithArgs sends a 'launch' request with the specified arguments.
func (c *Client) LaunchRequestWithArgs(arguments map[string]interface{}) {
	request := &dap.LaunchRequest{Request: *c.newRequest("launch")}
	request.Arguments = toRawMessage(arguments)
	c.send(request)
}

// ConfigurationDoneRequest sends a 'configurationDone' request.
func (c *Client) ConfigurationDoneRequest() {
	c.send(&dap.ConfigurationDoneRequest{Request: *c.newRequest("configurationDone")})
}

// ThreadsRequest sends a 'threads' request.
func (c *Client) ThreadsRequest() {
	c.send(&dap.ThreadsRequest{Request: *c.newRequest("threads")})
}

// StackTraceRequest sends a 'stackTrace' request.
func (c *Client) StackTraceRequest(threadID, startFrame, levels int) {
	request := &dap.StackTraceRequest{Request: *c.newRequest("stackTrace")}
	request.Arguments.ThreadId = threadID
	request.Arguments.StartFrame = startFrame
	request.Arguments.Levels = levels
	c.send(request)
}

// NextRequest sends a 'next' request.
func (c *Client) NextRequest(thread int) {
	request := &dap.NextRequest{Request: *c.newRequest("next")}
	request.Arguments.ThreadId = thread
	c.send(request)
}

// NextInstructionRequest sends a 'next' request with granularity 'instruction'.
func (c *Client) NextInstructionRequest(thread int) {
	request := &dap.NextRequest{Request: *c.newRequest("next")}
	request.Arguments.ThreadId = thread
	request.Arguments.Granularity = "instruction"
	c.send(request)
}

// StepInRequest sends a 'stepIn' request.
func (c *Client) StepInRequest(thread int) {
	request := &dap.StepInRequest{Request: *c.newRequest("stepIn")}
	request.Arguments.ThreadId = thread
	c.send(request)
}

// StepOutRequest sends a 'stepOut' request.
func (c *Client) StepOutRequest(thread int) {
	request := &dap.StepOutRequest{Request: *c.newRequest("stepOut")}
	request.Arguments.ThreadId = thread
	c.send(request)
}

// ContinueRequest sends a 'continue' request.
func (c *Client) ContinueRequest(thread int) {
	request := &dap.ContinueRequest{Request: *c.newRequest("continue")}
	request.Arguments.ThreadId = thread
	c.send(request)
}

// PauseRequest sends a 'pause' request.
func (c *Client) PauseRequest(thread int) {
	request := &dap.PauseRequest{Request: *c.newRequest("pause")}
	request.Arguments.ThreadId = thread
	c.send(request)
}

// EvaluateRequest sends an 'evaluate' request.
func (c *Client) EvaluateRequest(expr string, fid int, context string) {
	request := &dap.EvaluateRequest{Request: *c.newRequest("evaluate")}
	request.Arguments.Expression = expr
	request.Arguments.FrameId = fid
	request.Arguments.Context = context
	c.send(request)
}

// DisconnectRequest sends a 'disconnect' request.
func (c *Client) DisconnectRequest() {
	c.send(&dap.DisconnectRequest{Request: *c.newRequest("disconnect")})
}

func (c *Client) newRequest(command string) *dap.Request {
	request := &dap.Request{}
	request.Type = "request"
	request.Command = command
	request.Seq = c.seq
	c.seq++
	return request
}

func toRawMessage(in interface{}) json.RawMessage {
	out, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("could not encode %v: %v", in, err))
	}
	return out
}
