package dap

import (
	"flag"
	"net"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-dap"

	"github.com/go-delve/stepctl/pkg/logflags"
	"github.com/go-delve/stepctl/pkg/proc"
	protest "github.com/go-delve/stepctl/pkg/proc/test"
	"github.com/go-delve/stepctl/service"
	"github.com/go-delve/stepctl/service/dap/daptest"
)

const stopOnEntry bool = true

func TestMain(m *testing.M) {
	var logOutput string
	flag.StringVar(&logOutput, "log-output", "", "configures log output")
	flag.Parse()
	logflags.Setup(logOutput != "", logOutput, "")
	os.Exit(m.Run())
}

// name is for _fixtures/<name>.yml
func runTest(t *testing.T, name string, test func(c *daptest.Client, f protest.Fixture)) {
	fixture := protest.FindFixture(name)

	// Start the DAP server.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	disconnectChan := make(chan struct{})
	server := NewServer(&service.Config{
		Listener:       listener,
		DisconnectChan: disconnectChan,
		Stepping:       proc.DefaultConfig(),
	})
	server.Run()

	var stopOnce sync.Once
	// Run a goroutine that stops the server when disconnectChan is signaled.
	// This helps us test that certain events cause the server to stop as
	// expected.
	go func() {
		<-disconnectChan
		stopOnce.Do(func() { server.Stop() })
	}()

	client := daptest.NewClient(listener.Addr().String())
	defer client.Close()

	defer func() {
		stopOnce.Do(func() { server.Stop() })
	}()

	test(client, fixture)
}

func launchArguments(f protest.Fixture, stopOnEntry, async bool) map[string]interface{} {
	return map[string]interface{}{
		"program":     f.Path,
		"stopOnEntry": stopOnEntry,
		"async":       async,
	}
}

// launch runs the initialization sequence of a debug session.
func launch(t *testing.T, client *daptest.Client, args map[string]interface{}) {
	t.Helper()
	client.InitializeRequest()
	client.ExpectInitializeResponse(t)

	client.LaunchRequestWithArgs(args)
	client.ExpectInitializedEvent(t)
	client.ExpectLaunchResponse(t)

	client.ConfigurationDoneRequest()
	if args["stopOnEntry"] == true {
		se, _ := client.ExpectStoppedEvent(t)
		if se.Body.Reason != "entry" || se.Body.ThreadId != 1 {
			t.Errorf("got %#v, want Reason=\"entry\", ThreadId=1", se)
		}
	}
	client.ExpectConfigurationDoneResponse(t)
}

func expectStop(t *testing.T, client *daptest.Client, reason string) []string {
	t.Helper()
	se, output := client.ExpectStoppedEvent(t)
	if se.Body.Reason != reason || se.Body.ThreadId != 1 || !se.Body.AllThreadsStopped {
		t.Errorf("got %#v, want Reason=%q, ThreadId=1, AllThreadsStopped=true", se, reason)
	}
	return output
}

func expectTopFrame(t *testing.T, client *daptest.Client, name, file string, line int) *dap.StackTraceResponse {
	t.Helper()
	client.StackTraceRequest(1, 0, 20)
	st := client.ExpectStackTraceResponse(t)
	if len(st.Body.StackFrames) == 0 {
		t.Fatalf("got %#v, want at least one frame", st)
	}
	top := st.Body.StackFrames[0]
	if top.Name != name || top.Line != line || top.Source == nil || top.Source.Name != file {
		t.Fatalf("got %#v, want %s at %s:%d", top, name, file, line)
	}
	return st
}

// TestLaunchStopOnEntry emulates the message exchange that can be observed with
// VS Code for the most basic launch debug session with "stopOnEntry" enabled:
// - User selects "Start Debugging":  1 >> initialize
//                                 :  1 << initialize
//                                 :  2 >> launch
//                                 :    << initialized event
//                                 :  2 << launch
//                                 :  3 >> configurationDone
// - Program stops upon launching  :    << stopped event
//                                 :  3 << configurationDone
//                                 :  4 >> threads
//                                 :  4 << threads
//                                 :  5 >> stackTrace
//                                 :  5 << stackTrace
// - User selects "Continue"       :  6 >> continue
//                                 :  6 << continue
// - Program runs to completion    :    << exited event
//                                 :    << terminated event
//                                 :  7 >> disconnect
//                                 :  7 << disconnect
// This test exhaustively tests Seq and RequestSeq on all messages from the
// server. Other tests do not necessarily need to repeat all these checks.
func TestLaunchStopOnEntry(t *testing.T) {
	runTest(t, "stepping", func(client *daptest.Client, fixture protest.Fixture) {
		// 1 >> initialize, << initialize
		client.InitializeRequest()
		initResp := client.ExpectInitializeResponse(t)
		if initResp.Seq != 0 || initResp.RequestSeq != 1 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=1", initResp)
		}

		// 2 >> launch, << initialized, << launch
		client.LaunchRequestWithArgs(launchArguments(fixture, stopOnEntry, true))
		initEvent := client.ExpectInitializedEvent(t)
		if initEvent.Seq != 0 {
			t.Errorf("\ngot %#v\nwant Seq=0", initEvent)
		}
		launchResp := client.ExpectLaunchResponse(t)
		if launchResp.Seq != 0 || launchResp.RequestSeq != 2 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=2", launchResp)
		}

		// 3 >> configurationDone, << stopped, << configurationDone
		client.ConfigurationDoneRequest()
		stopEvent, _ := client.ExpectStoppedEvent(t)
		if stopEvent.Seq != 0 ||
			stopEvent.Body.Reason != "entry" ||
			stopEvent.Body.ThreadId != 1 ||
			!stopEvent.Body.AllThreadsStopped {
			t.Errorf("\ngot %#v\nwant Seq=0, Body={Reason=\"entry\", ThreadId=1, AllThreadsStopped=true}", stopEvent)
		}
		cdResp := client.ExpectConfigurationDoneResponse(t)
		if cdResp.Seq != 0 || cdResp.RequestSeq != 3 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=3", cdResp)
		}

		// 4 >> threads, << threads
		client.ThreadsRequest()
		tResp := client.ExpectThreadsResponse(t)
		if tResp.Seq != 0 || tResp.RequestSeq != 4 || len(tResp.Body.Threads) != 1 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=4 len(Threads)=1", tResp)
		}
		if tResp.Body.Threads[0].Id != 1 || tResp.Body.Threads[0].Name != "main" {
			t.Errorf("\ngot %#v\nwant Id=1, Name=\"main\"", tResp)
		}

		// 5 >> stackTrace, << stackTrace
		st := expectTopFrame(t, client, "main", "main.c", 10)
		if st.RequestSeq != 5 || st.Body.TotalFrames != 1 {
			t.Errorf("\ngot %#v\nwant RequestSeq=5, TotalFrames=1", st)
		}
		if st.Body.StackFrames[0].InstructionPointerReference != "0x1000" {
			t.Errorf("got %#v, want InstructionPointerReference=0x1000", st.Body.StackFrames[0])
		}

		// 6 >> continue, << continue, << exited, << terminated
		client.ContinueRequest(1)
		contResp := client.ExpectContinueResponse(t)
		if contResp.Seq != 0 || contResp.RequestSeq != 6 || !contResp.Body.AllThreadsContinued {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=6, AllThreadsContinued=true", contResp)
		}
		exitEvent := client.ExpectExitedEvent(t)
		if exitEvent.Body.ExitCode != 0 {
			t.Errorf("\ngot %#v\nwant ExitCode=0", exitEvent)
		}
		client.ExpectTerminatedEvent(t)

		// 7 >> disconnect, << disconnect
		client.DisconnectRequest()
		dResp := client.ExpectDisconnectResponse(t)
		if dResp.Seq != 0 || dResp.RequestSeq != 7 {
			t.Errorf("\ngot %#v\nwant Seq=0, RequestSeq=7", dResp)
		}
	})
}

// TestLaunchRunToExit checks that without stopOnEntry the program runs
// as soon as the configuration is done.
func TestLaunchRunToExit(t *testing.T) {
	runTest(t, "stepping", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, launchArguments(fixture, !stopOnEntry, true))
		client.ExpectExitedEvent(t)
		client.ExpectTerminatedEvent(t)

		client.NextRequest(1)
		er := client.ExpectErrorResponse(t)
		if er.Body.Error.Id != UnableToStep {
			t.Errorf("got %#v, want Id=%d", er, UnableToStep)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func testStepping(t *testing.T, async bool) {
	runTest(t, "stepping", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, launchArguments(fixture, stopOnEntry, async))

		client.NextRequest(1)
		client.ExpectNextResponse(t)
		expectStop(t, client, "step")
		expectTopFrame(t, client, "main", "main.c", 11)

		client.StepInRequest(1)
		client.ExpectStepInResponse(t)
		expectStop(t, client, "step")
		st := expectTopFrame(t, client, "add", "add.c", 3)
		if st.Body.TotalFrames != 2 || st.Body.StackFrames[1].Name != "main" || st.Body.StackFrames[1].Line != 11 {
			t.Errorf("got %#v, want add called by main at line 11", st.Body.StackFrames)
		}

		client.StepOutRequest(1)
		client.ExpectStepOutResponse(t)
		output := expectStop(t, client, "step")
		if !containsLine(output, "Value returned is (int) 5") {
			t.Errorf("return value not reported: %q", output)
		}
		expectTopFrame(t, client, "main", "main.c", 11)

		client.NextRequest(1)
		client.ExpectNextResponse(t)
		expectStop(t, client, "step")
		expectTopFrame(t, client, "main", "main.c", 12)

		client.NextRequest(1)
		client.ExpectNextResponse(t)
		expectStop(t, client, "step")
		expectTopFrame(t, client, "main", "main.c", 13)

		client.StepOutRequest(1)
		er := client.ExpectErrorResponse(t)
		if er.Body.Error.Id != UnableToStep {
			t.Errorf("got %#v, want Id=%d", er, UnableToStep)
		}

		client.ContinueRequest(1)
		client.ExpectContinueResponse(t)
		client.ExpectExitedEvent(t)
		client.ExpectTerminatedEvent(t)

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestSteppingSynchronous(t *testing.T) {
	testStepping(t, false)
}

func TestSteppingAsynchronous(t *testing.T) {
	testStepping(t, true)
}

func TestStepInstruction(t *testing.T) {
	runTest(t, "stepping", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, launchArguments(fixture, stopOnEntry, true))

		client.NextInstructionRequest(1)
		client.ExpectNextResponse(t)
		expectStop(t, client, "step")
		st := expectTopFrame(t, client, "main", "main.c", 11)
		if got := st.Body.StackFrames[0].InstructionPointerReference; got != "0x1004" {
			t.Errorf("got pc %s, want 0x1004", got)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestStepIntoInlinedCall(t *testing.T) {
	runTest(t, "inline", func(client *daptest.Client, fixture protest.Fixture) {
		args := launchArguments(fixture, stopOnEntry, true)
		args["debugInlinedStepping"] = true
		launch(t, client, args)

		client.NextRequest(1)
		client.ExpectNextResponse(t)
		expectStop(t, client, "step")
		expectTopFrame(t, client, "main", "main.c", 21)

		client.StepInRequest(1)
		client.ExpectStepInResponse(t)
		output := expectStop(t, client, "step")
		if !containsLine(output, "** Simulating stepping into inlined subroutine. **") {
			t.Errorf("inlined stepping note not reported: %q", output)
		}
		st := expectTopFrame(t, client, "outer (inlined)", "outer.h", 2)
		if len(st.Body.StackFrames) < 2 || st.Body.StackFrames[1].Name != "main" {
			t.Errorf("got %#v, want outer inlined into main", st.Body.StackFrames)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestPause(t *testing.T) {
	runTest(t, "spin", func(client *daptest.Client, fixture protest.Fixture) {
		args := launchArguments(fixture, !stopOnEntry, true)
		args["instructionLimit"] = 1 << 40
		launch(t, client, args)

		client.StackTraceRequest(1, 0, 20)
		er := client.ExpectErrorResponse(t)
		if er.Body.Error.Id != UnableToProduceStackTrace {
			t.Errorf("got %#v, want Id=%d", er, UnableToProduceStackTrace)
		}

		client.PauseRequest(1)
		client.ExpectPauseResponse(t)
		expectStop(t, client, "pause")
		expectTopFrame(t, client, "main", "spin.c", 2)

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestBadLaunchRequests(t *testing.T) {
	runTest(t, "stepping", func(client *daptest.Client, fixture protest.Fixture) {
		client.InitializeRequest()
		client.ExpectInitializeResponse(t)

		expectFailedToLaunch := func(details string) {
			t.Helper()
			er := client.ExpectErrorResponse(t)
			if er.Command != "launch" || er.Body.Error.Id != FailedToLaunch {
				t.Errorf("got %#v, want Command=launch, Id=%d", er, FailedToLaunch)
			}
			if !strings.Contains(er.Body.Error.Format, details) {
				t.Errorf("got %q, want it to contain %q", er.Body.Error.Format, details)
			}
		}

		client.LaunchRequestWithArgs(map[string]interface{}{})
		expectFailedToLaunch("The program attribute is missing in debug configuration.")

		client.LaunchRequestWithArgs(map[string]interface{}{"program": 12})
		expectFailedToLaunch("invalid debug configuration - cannot unmarshal number into \"program\" of type string")

		client.LaunchRequestWithArgs(map[string]interface{}{"program": fixture.Path + ".missing"})
		expectFailedToLaunch("Failed to launch")

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestUnsupportedRequests(t *testing.T) {
	runTest(t, "stepping", func(client *daptest.Client, fixture protest.Fixture) {
		client.InitializeRequest()
		client.ExpectInitializeResponse(t)

		client.StepInRequest(1)
		er := client.ExpectErrorResponse(t)
		if er.Body.Error.Id != UnableToStep || er.Body.Error.Format != "Unable to step: no debug session" {
			t.Errorf("got %#v, want Id=%d", er, UnableToStep)
		}

		client.EvaluateRequest("x", 1000, "repl")
		er = client.ExpectErrorResponse(t)
		if er.Command != "evaluate" || er.Body.Error.Id != UnsupportedCommand {
			t.Errorf("got %#v, want Command=evaluate, Id=%d", er, UnsupportedCommand)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func containsLine(output []string, s string) bool {
	for _, o := range output {
		if strings.TrimSpace(o) == s {
			return true
		}
	}
	return false
}
