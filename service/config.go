package service

import (
	"net"

	"github.com/go-delve/stepctl/pkg/proc"
)

// Config provides the configuration to start a stepping engine and
// expose it with a service.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// Stepping is the configuration of the targets created by the
	// service, launch requests can override parts of it.
	Stepping proc.Config

	// StackTraceDepth is the default number of frames returned by stack
	// trace requests.
	StackTraceDepth int

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
