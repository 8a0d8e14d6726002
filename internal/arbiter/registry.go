package arbiter

import (
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/callmux/internal/protocol"
)

// Registry maps sequence numbers to pending calls. Every method takes the
// lock once and never blocks while holding it.
type Registry struct {
	mu     sync.Mutex
	calls  map[uint64]*PendingCall
	closed error
}

func NewRegistry() *Registry {
	return &Registry{
		calls: make(map[uint64]*PendingCall),
	}
}

// Insert registers a new unresolved call. It fails if seq is already
// outstanding, or with the drain error once DrainAll has run.
func (r *Registry) Insert(seq uint64) (*PendingCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return nil, r.closed
	}
	if _, ok := r.calls[seq]; ok {
		return nil, fmt.Errorf("%w: seq=%d", ErrDuplicateSequence, seq)
	}
	call := newPendingCall(seq, r)
	r.calls[seq] = call
	return call, nil
}

// Resolve removes the call for seq and settles it with msg. It returns false,
// with no side effect, when no such call is outstanding.
func (r *Registry) Resolve(seq uint64, msg protocol.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[seq]
	if !ok {
		return false
	}
	delete(r.calls, seq)
	call.settle(msg, nil)
	return true
}

// DrainAll settles every outstanding call with err and rejects later inserts
// with the first drain error. Calling it again drains nothing.
func (r *Registry) DrainAll(err error) []*PendingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed == nil {
		r.closed = err
	}
	drained := make([]*PendingCall, 0, len(r.calls))
	for seq, call := range r.calls {
		delete(r.calls, seq)
		call.settle(protocol.Message{}, err)
		drained = append(drained, call)
	}
	return drained
}

// Remove withdraws the call for seq and settles it with err. It reports
// whether this caller won; false means the call was already resolved, drained
// or withdrawn, and err is discarded.
func (r *Registry) Remove(seq uint64, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[seq]
	if !ok {
		return false
	}
	delete(r.calls, seq)
	call.settle(protocol.Message{}, err)
	return true
}

// withdraw is Remove bound to one call, so a caller that gave up never removes
// a newer call that reused its sequence.
func (r *Registry) withdraw(call *PendingCall, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.calls[call.seq]; !ok || cur != call {
		return false
	}
	delete(r.calls, call.seq)
	call.settle(protocol.Message{}, err)
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Sequences returns the outstanding sequence numbers in ascending order.
func (r *Registry) Sequences() []uint64 {
	r.mu.Lock()
	out := make([]uint64, 0, len(r.calls))
	for seq := range r.calls {
		out = append(out, seq)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}
