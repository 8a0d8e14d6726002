package arbiter

import (
	"time"

	"github.com/danmuck/callmux/internal/protocol"
)

// PendingCall is the wait record for one outstanding request. It is settled
// exactly once, by whichever of reply, drain or withdrawal removes it from
// the registry first. A timed out or canceled call is settled too, so every
// waiter on Done wakes.
type PendingCall struct {
	seq          uint64
	owner        *Registry
	registeredAt time.Time
	done         chan struct{}

	// written once before done is closed
	msg protocol.Message
	err error
}

func newPendingCall(seq uint64, owner *Registry) *PendingCall {
	return &PendingCall{
		seq:          seq,
		owner:        owner,
		registeredAt: time.Now(),
		done:         make(chan struct{}),
	}
}

func (c *PendingCall) Sequence() uint64 {
	return c.seq
}

// Done is closed once the call has an outcome. Any number of goroutines may
// wait on it.
func (c *PendingCall) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome. It must only be called after Done is closed.
func (c *PendingCall) Result() (protocol.Message, error) {
	if c.err != nil {
		return protocol.Message{}, c.err
	}
	if c.msg.IsError {
		return protocol.Message{}, &RemoteError{Sequence: c.seq, Message: string(c.msg.Payload)}
	}
	return c.msg, nil
}

// settle must be called with the registry lock held, after the call has been
// removed from the map.
func (c *PendingCall) settle(msg protocol.Message, err error) {
	c.msg = msg
	c.err = err
	close(c.done)
}
