package arbiter

import (
	"errors"
	"fmt"

	"github.com/danmuck/callmux/internal/transport"
)

var (
	// ErrClosed is the transport closed error; every closed error from this
	// package matches it with errors.Is.
	ErrClosed = transport.ErrClosed

	ErrDuplicateSequence = errors.New("arbiter: duplicate sequence")
	ErrTimeout           = errors.New("arbiter: call timed out")
	ErrConcurrentReceive = errors.New("arbiter: receive already in progress")
	ErrUnknownCall       = errors.New("arbiter: call not registered with this arbiter")
	ErrWithdrawn         = errors.New("arbiter: call withdrawn")
)

// RemoteError is the outcome of a reply the peer flagged as an error.
type RemoteError struct {
	Sequence uint64
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("arbiter: remote error seq=%d: %s", e.Sequence, e.Message)
}

func closedError(cause error) error {
	if cause == nil {
		return ErrClosed
	}
	if errors.Is(cause, ErrClosed) {
		return cause
	}
	return errors.Join(ErrClosed, cause)
}
