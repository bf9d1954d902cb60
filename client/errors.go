package client

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("Transaction timed out waiting for a reply")
	ErrConnectionClosed = errors.New("Connection closed before the transaction completed")
	ErrNotConnected     = errors.New("Connection has no transport attached")
)

// TransportError wraps a socket level failure. It is always fatal to the
// Connection it happened on.
type TransportError struct {
	Role Role
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Role, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is raised when the peer sends something the decoder cannot
// make sense of. It is fatal to the Connection.
type ProtocolError struct {
	Role Role
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s protocol error: %v", e.Role, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
