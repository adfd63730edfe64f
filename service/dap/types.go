package dap

import (
	"encoding/json"
	"fmt"
)

// LaunchConfig is the collection of launch request attributes recognized
// by the stepctl DAP implementation.
type LaunchConfig struct {
	// Required. Path to the program description to load.
	Program string `json:"program,omitempty"`

	// Automatically stop program after launch.
	StopOnEntry bool `json:"stopOnEntry,omitempty"`

	// Drive the target asynchronously: execution requests are
	// acknowledged before the target stops.
	// (Default: true)
	Async *bool `json:"async,omitempty"`

	// Maximum depth of stack trace returned to the client.
	// (Default: `50`)
	StackTraceDepth int `json:"stackTraceDepth,omitempty"`

	// Step into inlined calls as if they were real calls.
	InlinedStepping *bool `json:"inlinedStepping,omitempty"`

	// Report inlined stepping decisions as console output.
	DebugInlinedStepping bool `json:"debugInlinedStepping,omitempty"`

	// Step one instruction at a time through code without line
	// information.
	StepStopIfNoDebug bool `json:"stepStopIfNoDebug,omitempty"`

	// Maximum number of instructions a single resume of the target may
	// execute.
	// (Default: 1000000)
	InstructionLimit int `json:"instructionLimit,omitempty"`
}

func (c *LaunchConfig) async() bool {
	return c.Async == nil || *c.Async
}

// unmarshalLaunchArgs wraps unmarshalling of the launch request's
// arguments attribute. Upon unmarshal failure, it returns an error
// massaged to be suitable for end-users.
func unmarshalLaunchArgs(input interface{}, config *LaunchConfig) error {
	buf, err := json.Marshal(input)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(buf, config); err != nil {
		if uerr, ok := err.(*json.UnmarshalTypeError); ok {
			// "json: cannot unmarshal number into Go struct field LaunchConfig.program of type string"
			//   => "cannot unmarshal number into 'program' of type string"
			return fmt.Errorf("cannot unmarshal %v into %q of type %v", uerr.Value, uerr.Field, uerr.Type.String())
		}
		return err
	}
	return nil
}
