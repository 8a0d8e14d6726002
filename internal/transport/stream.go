package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/callmux/internal/protocol/frame"
)

// Stream is a Transport over a byte stream. Receive must only be called by
// one goroutine at a time; Send may be called concurrently.
type Stream struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	cfg    Config

	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

var _ Transport = (*Stream)(nil)

func NewStream(rwc io.ReadWriteCloser, cfg Config) *Stream {
	return &Stream{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
		cfg:    cfg.WithDefaults(),
		closed: make(chan struct{}),
	}
}

// RemoteAddr reports the peer address when the stream wraps a net.Conn.
func (s *Stream) RemoteAddr() string {
	if c, ok := s.rwc.(net.Conn); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}
	return ""
}

func (s *Stream) Receive() ([]byte, error) {
	select {
	case <-s.closed:
		return nil, ErrClosed
	default:
	}
	raw, err := frame.ReadRaw(s.reader, s.cfg.Limits)
	if err != nil {
		return nil, closedErr(err)
	}
	return raw, nil
}

func (s *Stream) Send(ctx context.Context, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if conn, ok := s.rwc.(net.Conn); ok {
		if err := conn.SetWriteDeadline(s.writeDeadline(ctx)); err != nil {
			return closedErr(err)
		}
	}
	n, err := s.rwc.Write(raw)
	if err == nil {
		return nil
	}
	if n > 0 || isTimeout(err) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		// The peer may hold part of this frame; nothing written after it
		// would parse, so the stream is done.
		_ = s.Close()
		return closedErr(err)
	}
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

func (s *Stream) writeDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}

// Close is idempotent; every call returns the first close result.
// It does not take the write lock.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}
