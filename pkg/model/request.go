package model

import (
	"time"
)

// CommandCode identifies the command carried by a remote request.
type CommandCode int

const (
	// Heartbeat is the liveness probe command
	Heartbeat CommandCode = iota
	// Elect is the vote request command
	Elect
)

func (c CommandCode) String() string {
	switch c {
	case Heartbeat:
		return "heartbeat"
	case Elect:
		return "elect"
	default:
		return "unknown"
	}
}

// DefaultCommandTimeout is applied to requests that do not carry
// an explicit timeout, such as elect requests.
const DefaultCommandTimeout = 10 * time.Second

// RemoteRequest describes one outbound command of a scatter-gather round.
// It is immutable once issued.
type RemoteRequest struct {
	// Target is the host:port of the remote member
	Target string
	// DBName is the logical database the command is addressed to
	DBName string
	// Code is the command code
	Code CommandCode
	// Command is the request document
	Command any
	// Timeout bounds the remote call; zero means DefaultCommandTimeout
	Timeout time.Duration
}

// RemoteResponse is the outcome of a single remote request. Exactly one
// response, or a cancellation, is delivered per request. Err is non-nil for
// transport failures, timeouts and cancellations; Doc is only meaningful
// when Err is nil.
type RemoteResponse struct {
	Doc any
	Err error
}
