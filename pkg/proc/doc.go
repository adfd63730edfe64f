// Package proc is the stepping engine: it decides how a stopped target is
// resumed to execute step, next, stepi and finish commands.
//
// proc implements:
//   - the frame model, including virtual frames for inlined calls
//   - line, instruction and function-return stepping on top of a Backend
//   - continuations, so that asynchronous backends can complete a command
//     over several stops
//
// A Backend only has to resume the target within an address range and
// report why it stopped, see package sim for the reference backend.
package proc
