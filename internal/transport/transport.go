package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is wrapped by every terminal Receive error and by Send after Close.
	ErrClosed = errors.New("transport: closed")
)

// Transport is one physical duplex connection carrying whole frames.
type Transport interface {
	// Receive blocks until one complete frame is read. Any error is terminal
	// and wraps ErrClosed.
	Receive() ([]byte, error)
	// Send writes one complete frame. Safe for concurrent use.
	Send(ctx context.Context, raw []byte) error
	// Close releases the connection and unblocks a pending Receive.
	Close() error
}

func closedErr(cause error) error {
	if cause == nil || errors.Is(cause, ErrClosed) {
		return ErrClosed
	}
	return errors.Join(ErrClosed, cause)
}
