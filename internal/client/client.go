package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/danmuck/callmux/internal/arbiter"
	"github.com/danmuck/callmux/internal/protocol"
)

// Sequencer hands out call sequence numbers. Values are unique among the
// 2^64-1 most recent allocations; zero is never returned.
type Sequencer struct {
	next atomic.Uint64
}

// NewSequencer seeds from the clock so a reconnecting process does not reuse
// the low sequence range of its previous connection.
func NewSequencer() *Sequencer {
	s := &Sequencer{}
	s.next.Store(uint64(time.Now().UnixNano()))
	return s
}

// NewSequencerAt starts allocation just after start.
func NewSequencerAt(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	for {
		if v := s.next.Add(1); v != 0 {
			return v
		}
	}
}

// Client is the call-site side of an arbitrator: allocate, register, send, await.
type Client struct {
	arb     *arbiter.Arbitrator
	seq     *Sequencer
	timeout time.Duration
}

type Option func(*Client)

// WithTimeout sets the per-call timeout. Zero disables it; the caller's
// context still applies.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithSequencer(s *Sequencer) Option {
	return func(c *Client) { c.seq = s }
}

func New(arb *arbiter.Arbitrator, opts ...Option) *Client {
	c := &Client{
		arb:     arb,
		seq:     NewSequencer(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends payload as an invocation and returns the reply payload.
func (c *Client) Call(ctx context.Context, payload []byte) ([]byte, error) {
	msg, err := c.CallMessage(ctx, payload)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

// CallMessage is Call returning the whole reply message.
func (c *Client) CallMessage(ctx context.Context, payload []byte) (protocol.Message, error) {
	return c.arb.Call(ctx, c.seq.Next(), payload, c.timeout)
}

// Notify sends payload as a oneway.
func (c *Client) Notify(ctx context.Context, payload []byte) error {
	return c.arb.Notify(ctx, c.seq.Next(), payload)
}
