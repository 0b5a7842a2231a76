package rtcclient

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a client after Close.
	ErrClosed = errors.New("rtc client closed")
	// ErrAlreadyConnected is returned by Connect while a relay session is
	// being established or is already joined.
	ErrAlreadyConnected = errors.New("rtc client already connected")
	// ErrNotConnected is returned by relay requests made without a joined
	// session.
	ErrNotConnected = errors.New("rtc client not connected")
	// ErrInvalidDataChannelConfig wraps data channel configuration errors.
	ErrInvalidDataChannelConfig = errors.New("invalid data channel configuration")
)

// NegotiationError reports a failed offer, answer or candidate operation for
// one remote participant. Only the connection to ID is torn down.
type NegotiationError struct {
	ID  string
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %q: %s: %v", e.ID, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
