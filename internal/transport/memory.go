package transport

import (
	"context"
	"sync"
)

// Memory is an in-process Transport. Frames sent on one end of a pair are
// received on the other in order. Send never blocks on the peer's reader
// while the buffer has room.
type Memory struct {
	in   chan []byte
	peer *Memory

	once   sync.Once
	closed chan struct{}
}

var _ Transport = (*Memory)(nil)

// NewMemoryPair returns two connected ends with the given per-direction buffer.
func NewMemoryPair(buffer int) (*Memory, *Memory) {
	a := &Memory{in: make(chan []byte, buffer), closed: make(chan struct{})}
	b := &Memory{in: make(chan []byte, buffer), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (m *Memory) Receive() ([]byte, error) {
	select {
	case raw := <-m.in:
		return raw, nil
	case <-m.closed:
		return nil, ErrClosed
	case <-m.peer.closed:
		// drain what the peer sent before it hung up
		select {
		case raw := <-m.in:
			return raw, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (m *Memory) Send(ctx context.Context, raw []byte) error {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	select {
	case <-m.closed:
		return ErrClosed
	case <-m.peer.closed:
		return ErrClosed
	default:
	}
	select {
	case m.peer.in <- buf:
		return nil
	case <-m.closed:
		return ErrClosed
	case <-m.peer.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes this end; the peer observes ErrClosed once its buffer drains.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
