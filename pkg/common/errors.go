package common

import (
	"errors"
)

var (
	// ErrNodeNotFound indicates that not enough live, electable or voting
	// nodes responded for the proposed configuration to be adopted.
	ErrNodeNotFound = errors.New("node not found")
	// ErrConfigIncompatible indicates a veto: a remote node proved the new
	// replica set configuration cannot be safe, overriding any majority math.
	ErrConfigIncompatible = errors.New("new replica set configuration incompatible")
	// ErrCanceled indicates the round was aborted by executor shutdown
	// before it completed naturally.
	ErrCanceled = errors.New("callback canceled")
	// ErrShutdownInProgress is returned when work is scheduled on an
	// executor that has already been shut down.
	ErrShutdownInProgress = errors.New("shutdown in progress")
	// ErrBadCommand is returned when a command document cannot be decoded.
	ErrBadCommand = errors.New("bad command")
)
