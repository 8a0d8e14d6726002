package service

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/callmux/internal/arbiter"
	"github.com/danmuck/callmux/internal/protocol"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const busyMessage = "service: too many in-flight invocations"

// Handler answers one invocation or consumes one oneway.
type Handler interface {
	Handle(ctx context.Context, payload []byte) ([]byte, error)
}

type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// Echo replies with the request payload.
var Echo = HandlerFunc(func(_ context.Context, payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
})

type Config struct {
	// MaxInFlight bounds concurrently running handlers. Invocations over the
	// bound get an immediate error reply instead of stalling the receive loop.
	MaxInFlight  int
	ReplyTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxInFlight:  64,
		ReplyTimeout: 15 * time.Second,
	}
}

// Loop is the service side of an arbitrator.
type Loop struct {
	arb     *arbiter.Arbitrator
	handler Handler
	cfg     Config
	logger  zerolog.Logger
}

func NewLoop(arb *arbiter.Arbitrator, handler Handler, cfg Config, logger zerolog.Logger) *Loop {
	d := DefaultConfig()
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = d.MaxInFlight
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = d.ReplyTimeout
	}
	return &Loop{
		arb:     arb,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With().Str("component", "service").Str("arbiter", arb.Name()).Logger(),
	}
}

// Run pumps the arbitrator until its transport closes, then waits for
// running handlers. Cancelling ctx closes the arbitrator. A closed transport
// is a clean exit and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.arb.Close() })
	defer stop()

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var g errgroup.Group
	g.SetLimit(l.cfg.MaxInFlight)

	for {
		msg, err := l.arb.Receive()
		if err != nil {
			cancel()
			_ = g.Wait()
			if errors.Is(err, arbiter.ErrClosed) {
				l.logger.Debug().Err(err).Msg("service loop stopped")
				return nil
			}
			return err
		}

		if !g.TryGo(func() error {
			l.dispatch(handlerCtx, msg)
			return nil
		}) {
			l.reject(ctx, msg)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, msg protocol.Message) {
	out, err := l.handler.Handle(ctx, msg.Payload)
	switch msg.Kind {
	case protocol.KindOneway:
		if err != nil {
			l.logger.Warn().Err(err).Uint64("seq", msg.Sequence).Msg("oneway handler failed")
		}
		return
	case protocol.KindInvocation:
	default:
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ReplyTimeout)
	defer cancel()
	if err != nil {
		err = l.arb.ReplyError(sendCtx, msg.Sequence, err.Error())
	} else {
		err = l.arb.Reply(sendCtx, msg.Sequence, out)
	}
	if err != nil {
		l.logger.Warn().Err(err).Uint64("seq", msg.Sequence).Msg("reply not sent")
	}
}

func (l *Loop) reject(ctx context.Context, msg protocol.Message) {
	l.logger.Warn().Uint64("seq", msg.Sequence).Stringer("kind", msg.Kind).Msg(busyMessage)
	if msg.Kind != protocol.KindInvocation {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ReplyTimeout)
	defer cancel()
	if err := l.arb.ReplyError(sendCtx, msg.Sequence, busyMessage); err != nil {
		l.logger.Warn().Err(err).Uint64("seq", msg.Sequence).Msg("busy reply not sent")
	}
}
