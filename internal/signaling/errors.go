package signaling

import (
	"errors"
	"fmt"
)

var (
	// ErrJoinRejected is reported when the relay answers join-room with false.
	ErrJoinRejected = errors.New("invalid token or invalid protocol version")
	// ErrClosed is returned by emits on a closed or disconnected channel.
	ErrClosed = errors.New("signaling channel closed")
)

// ConnectionError is a channel-level failure. It is fatal to the client that
// owns the channel.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
