package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/callmux/internal/observability"
	"github.com/danmuck/callmux/internal/protocol"
	"github.com/danmuck/callmux/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the arbitrator lifecycle. It only moves forward.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Status is a point-in-time view for admin reporting.
type Status struct {
	Name      string   `json:"name"`
	State     string   `json:"state"`
	Pending   int      `json:"pending"`
	Sequences []uint64 `json:"sequences"`
}

type Option func(*Arbitrator)

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Arbitrator) { a.logger = logger }
}

// WithName labels logs and metrics for this arbitrator.
func WithName(name string) Option {
	return func(a *Arbitrator) { a.name = name }
}

// WithMetrics toggles prometheus recording. It is on by default.
func WithMetrics(enabled bool) Option {
	return func(a *Arbitrator) { a.metrics = enabled }
}

// Arbitrator owns the read side of one Transport.
type Arbitrator struct {
	name      string
	transport transport.Transport
	codec     protocol.Codec
	registry  *Registry
	logger    zerolog.Logger
	metrics   bool

	state     atomic.Int32
	receiving atomic.Bool

	shutdownOnce sync.Once
	closeErr     error
	done         chan struct{}
}

func New(t transport.Transport, c protocol.Codec, opts ...Option) *Arbitrator {
	a := &Arbitrator{
		name:      "arbiter",
		transport: t,
		codec:     c,
		registry:  NewRegistry(),
		logger:    log.Logger,
		metrics:   true,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "arbiter").Str("arbiter", a.name).Logger()
	a.state.Store(int32(StateOpen))
	return a
}

func (a *Arbitrator) Name() string {
	return a.name
}

func (a *Arbitrator) State() State {
	return State(a.state.Load())
}

// Done is closed once the arbitrator reaches StateClosed.
func (a *Arbitrator) Done() <-chan struct{} {
	return a.done
}

func (a *Arbitrator) Pending() int {
	return a.registry.Len()
}

func (a *Arbitrator) Status() Status {
	return Status{
		Name:      a.name,
		State:     a.State().String(),
		Pending:   a.registry.Len(),
		Sequences: a.registry.Sequences(),
	}
}

// Receive pumps the transport until an invocation or oneway arrives, which it
// returns. Replies are handed to their waiting callers without returning.
// Unmatched replies and malformed frames are logged and skipped. When the
// transport fails every pending call is settled with the closed error, which
// is also returned here and from every later Receive or Register.
func (a *Arbitrator) Receive() (protocol.Message, error) {
	if a.State() != StateOpen {
		return protocol.Message{}, a.closedErr()
	}
	if !a.receiving.CompareAndSwap(false, true) {
		return protocol.Message{}, ErrConcurrentReceive
	}
	defer a.receiving.Store(false)

	for {
		raw, err := a.transport.Receive()
		if err != nil {
			return protocol.Message{}, a.shutdown(err)
		}
		msg, err := a.codec.Decode(raw)
		if err != nil {
			a.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed frame")
			a.recordMessage("unknown", observability.OutcomeMalformed)
			continue
		}

		switch msg.Kind {
		case protocol.KindInvocation, protocol.KindOneway:
			a.recordMessage(msg.Kind.String(), observability.OutcomeDelivered)
			return msg, nil
		case protocol.KindReply:
			if !a.registry.Resolve(msg.Sequence, msg) {
				a.logger.Warn().Uint64("seq", msg.Sequence).Msg("unmatched reply")
				a.recordMessage(msg.Kind.String(), observability.OutcomeUnmatched)
				continue
			}
			a.recordMessage(msg.Kind.String(), observability.OutcomeResolved)
			a.recordPending()
		default:
			a.logger.Warn().Stringer("kind", msg.Kind).Uint64("seq", msg.Sequence).Msg("dropping message of unhandled kind")
			a.recordMessage(msg.Kind.String(), observability.OutcomeMalformed)
		}
	}
}

// Register records a pending call for seq. It must complete before the
// matching request is sent.
func (a *Arbitrator) Register(seq uint64) (*PendingCall, error) {
	if a.State() != StateOpen {
		return nil, a.closedErr()
	}
	call, err := a.registry.Insert(seq)
	if err != nil {
		return nil, err
	}
	a.recordPending()
	return call, nil
}

// Unregister withdraws a call the caller no longer wants and settles it with
// ErrWithdrawn. It reports false if the call already has an outcome.
func (a *Arbitrator) Unregister(call *PendingCall) bool {
	return a.withdraw(call, ErrWithdrawn)
}

func (a *Arbitrator) withdraw(call *PendingCall, reason error) bool {
	if call == nil || call.owner != a.registry || !a.registry.withdraw(call, reason) {
		return false
	}
	a.recordPending()
	return true
}

// Await blocks until call has an outcome, timeout elapses, or ctx is done.
// A timeout of zero or less waits without a local deadline. If the call is
// resolved concurrently with a timeout the resolution wins, so a reply that
// arrived is never discarded.
func (a *Arbitrator) Await(ctx context.Context, call *PendingCall, timeout time.Duration) (protocol.Message, error) {
	if call == nil || call.owner != a.registry {
		return protocol.Message{}, ErrUnknownCall
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-call.Done():
		return a.finish(call)
	case <-expired:
		return a.abandon(call, fmt.Errorf("%w: seq=%d after %s", ErrTimeout, call.seq, timeout))
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return a.abandon(call, fmt.Errorf("%w: seq=%d: %w", ErrTimeout, call.seq, err))
		}
		return a.abandon(call, fmt.Errorf("arbiter: call seq=%d abandoned: %w", call.seq, err))
	}
}

// Call registers seq, sends payload as an invocation, and waits for the reply.
func (a *Arbitrator) Call(ctx context.Context, seq uint64, payload []byte, timeout time.Duration) (protocol.Message, error) {
	raw, err := a.codec.EncodeRequest(seq, payload)
	if err != nil {
		return protocol.Message{}, err
	}
	call, err := a.Register(seq)
	if err != nil {
		return protocol.Message{}, err
	}
	if err := a.transport.Send(ctx, raw); err != nil {
		if a.withdraw(call, fmt.Errorf("arbiter: send seq=%d: %w", seq, err)) {
			a.recordCall(call, observability.ResultClosed)
		}
		<-call.Done()
		return a.finish(call)
	}
	return a.Await(ctx, call, timeout)
}

// Notify sends payload as a oneway. Nothing is registered.
func (a *Arbitrator) Notify(ctx context.Context, seq uint64, payload []byte) error {
	if a.State() != StateOpen {
		return a.closedErr()
	}
	raw, err := a.codec.EncodeOneway(seq, payload)
	if err != nil {
		return err
	}
	return a.transport.Send(ctx, raw)
}

// Reply answers an invocation received from Receive.
func (a *Arbitrator) Reply(ctx context.Context, seq uint64, payload []byte) error {
	raw, err := a.codec.EncodeReply(seq, payload)
	if err != nil {
		return err
	}
	return a.transport.Send(ctx, raw)
}

// ReplyError answers an invocation with an error the caller sees as *RemoteError.
func (a *Arbitrator) ReplyError(ctx context.Context, seq uint64, msg string) error {
	raw, err := a.codec.EncodeErrorReply(seq, msg)
	if err != nil {
		return err
	}
	return a.transport.Send(ctx, raw)
}

// Close closes the transport and settles every pending call with the closed
// error. It does not wait for an in-flight Receive to return.
func (a *Arbitrator) Close() error {
	err := a.transport.Close()
	a.shutdown(ErrClosed)
	return err
}

func (a *Arbitrator) shutdown(cause error) error {
	a.shutdownOnce.Do(func() {
		a.closeErr = closedError(cause)
		a.state.Store(int32(StateClosing))
		drained := a.registry.DrainAll(a.closeErr)
		a.state.Store(int32(StateClosed))
		a.logger.Info().Err(cause).Int("drained", len(drained)).Msg("arbiter closed")
		for _, call := range drained {
			a.recordCall(call, observability.ResultClosed)
		}
		a.recordPending()
		close(a.done)
	})
	return a.closeErr
}

// closedErr is only valid once state has left StateOpen; closeErr is written
// before the state store that publishes it.
func (a *Arbitrator) closedErr() error {
	if a.closeErr == nil {
		return ErrClosed
	}
	return a.closeErr
}

func (a *Arbitrator) finish(call *PendingCall) (protocol.Message, error) {
	msg, err := call.Result()
	var remote *RemoteError
	switch {
	case err == nil:
		a.recordCall(call, observability.ResultOK)
	case errors.As(err, &remote):
		a.recordCall(call, observability.ResultRemote)
	}
	return msg, err
}

func (a *Arbitrator) abandon(call *PendingCall, reason error) (protocol.Message, error) {
	if a.withdraw(call, reason) {
		result := observability.ResultCancel
		if errors.Is(reason, ErrTimeout) {
			result = observability.ResultTimeout
		}
		a.logger.Debug().Uint64("seq", call.seq).Str("result", result).Msg("call abandoned")
		a.recordCall(call, result)
	}
	// Whoever won settled the call under the registry lock, so Done is closed
	// and every waiter reads the same outcome.
	<-call.Done()
	return a.finish(call)
}

func (a *Arbitrator) recordMessage(kind, outcome string) {
	if a.metrics {
		observability.RecordMessage(a.name, kind, outcome)
	}
}

func (a *Arbitrator) recordPending() {
	if a.metrics {
		observability.SetPending(a.name, a.registry.Len())
	}
}

func (a *Arbitrator) recordCall(call *PendingCall, result string) {
	if a.metrics {
		observability.RecordCall(a.name, result, time.Since(call.registeredAt))
	}
}
