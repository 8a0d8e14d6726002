package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/callmux/internal/arbiter"
	"github.com/danmuck/callmux/internal/client"
	"github.com/danmuck/callmux/internal/config"
	"github.com/danmuck/callmux/internal/observability"
	"github.com/danmuck/callmux/internal/protocol"
	"github.com/danmuck/callmux/internal/service"
	"github.com/danmuck/callmux/internal/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownSession matches observability.ErrSessionNotFound so the admin
// router answers 404.
var ErrUnknownSession = fmt.Errorf("server: %w", observability.ErrSessionNotFound)

// Server accepts connections and runs one arbitrator and service loop per
// connection.
type Server struct {
	cfg     config.Config
	handler service.Handler
	logger  zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*arbiter.Arbitrator
	accepted atomic.Uint64
	seq      *client.Sequencer
}

func New(cfg config.Config, handler service.Handler, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		handler:  handler,
		logger:   logger.With().Str("component", "server").Str("node", cfg.Name).Logger(),
		sessions: make(map[string]*arbiter.Arbitrator),
		seq:      client.NewSequencer(),
	}
}

// Serve accepts on ln until ctx is done or ln fails. On return every session
// has been closed and its service loop has exited.
func (s *Server) Serve(ctx context.Context, ln *transport.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		s.closeAll()
		return nil
	})
	g.Go(func() error {
		for {
			stream, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) || gctx.Err() != nil {
					return gctx.Err()
				}
				return fmt.Errorf("server: accept: %w", err)
			}
			arb := s.open(stream)
			g.Go(func() error {
				s.run(gctx, arb)
				return nil
			})
		}
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) open(stream *transport.Stream) *arbiter.Arbitrator {
	id := s.accepted.Add(1)
	name := fmt.Sprintf("%s#%d", s.cfg.Name, id)
	if addr := stream.RemoteAddr(); addr != "" {
		name = fmt.Sprintf("%s#%d@%s", s.cfg.Name, id, addr)
	}
	arb := arbiter.New(stream, protocol.FrameCodec{Limits: s.cfg.Limits()},
		arbiter.WithName(name),
		arbiter.WithLogger(s.logger),
	)
	s.mu.Lock()
	s.sessions[name] = arb
	s.mu.Unlock()
	s.logger.Info().Str("session", name).Msg("session opened")
	return arb
}

func (s *Server) run(ctx context.Context, arb *arbiter.Arbitrator) {
	defer func() {
		_ = arb.Close()
		s.mu.Lock()
		delete(s.sessions, arb.Name())
		s.mu.Unlock()
		s.logger.Info().Str("session", arb.Name()).Msg("session closed")
	}()
	loop := service.NewLoop(arb, s.handler, s.cfg.Service(), s.logger)
	if err := loop.Run(ctx); err != nil {
		s.logger.Warn().Err(err).Str("session", arb.Name()).Msg("service loop failed")
	}
}

func (s *Server) closeAll() {
	s.mu.RLock()
	open := make([]*arbiter.Arbitrator, 0, len(s.sessions))
	for _, arb := range s.sessions {
		open = append(open, arb)
	}
	s.mu.RUnlock()
	for _, arb := range open {
		_ = arb.Close()
	}
}

// Session returns the live arbitrator named id. id is either the full name or
// the part before the remote address, e.g. "node#3" for "node#3@10.0.0.2:5100".
func (s *Server) Session(id string) (*arbiter.Arbitrator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if arb, ok := s.sessions[id]; ok {
		return arb, true
	}
	for name, arb := range s.sessions {
		if strings.HasPrefix(name, id+"@") {
			return arb, true
		}
	}
	return nil, false
}

// Call sends payload to the peer of session id over its existing connection
// and returns the reply payload.
func (s *Server) Call(ctx context.Context, id string, payload []byte) ([]byte, error) {
	arb, ok := s.Session(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	c := client.New(arb, client.WithSequencer(s.seq), client.WithTimeout(s.cfg.CallTimeout))
	return c.Call(ctx, payload)
}

// Status lists every live session ordered by name.
func (s *Server) Status() []arbiter.Status {
	s.mu.RLock()
	out := make([]arbiter.Status, 0, len(s.sessions))
	for _, arb := range s.sessions {
		out = append(out, arb.Status())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b arbiter.Status) int { return strings.Compare(a.Name, b.Name) })
	return out
}
