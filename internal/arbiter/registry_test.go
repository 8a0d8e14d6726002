package arbiter

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/callmux/internal/protocol"
	"github.com/danmuck/callmux/internal/testutil/testlog"
)

func TestRegistryInsertRejectsDuplicate(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	first, err := r.Insert(1)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := r.Insert(1); !errors.Is(err, ErrDuplicateSequence) {
		t.Fatalf("expected ErrDuplicateSequence, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("duplicate insert must not overwrite: len=%d", r.Len())
	}
	select {
	case <-first.Done():
		t.Fatalf("original call must stay pending")
	default:
	}
}

func TestRegistryResolveOnce(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	call, _ := r.Insert(4)
	if !r.Resolve(4, protocol.Message{Kind: protocol.KindReply, Sequence: 4, Payload: []byte("a")}) {
		t.Fatalf("first resolve should win")
	}
	if r.Resolve(4, protocol.Message{Kind: protocol.KindReply, Sequence: 4, Payload: []byte("b")}) {
		t.Fatalf("second resolve must report no match")
	}
	<-call.Done()
	msg, err := call.Result()
	if err != nil || string(msg.Payload) != "a" {
		t.Fatalf("unexpected result: %+v %v", msg, err)
	}
	if r.Resolve(77, protocol.Message{}) {
		t.Fatalf("resolve of unknown sequence must be false")
	}
}

func TestRegistryDrainAllIsIdempotentAndSeals(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	calls := make([]*PendingCall, 0, 3)
	for seq := uint64(1); seq <= 3; seq++ {
		c, err := r.Insert(seq)
		if err != nil {
			t.Fatalf("insert %d: %v", seq, err)
		}
		calls = append(calls, c)
	}
	cause := errors.Join(ErrClosed, errors.New("peer hung up"))
	if drained := r.DrainAll(cause); len(drained) != 3 {
		t.Fatalf("drained=%d want 3", len(drained))
	}
	for _, c := range calls {
		<-c.Done()
		if _, err := c.Result(); !errors.Is(err, ErrClosed) {
			t.Fatalf("seq %d: expected ErrClosed, got %v", c.Sequence(), err)
		}
	}
	if drained := r.DrainAll(errors.New("second")); len(drained) != 0 {
		t.Fatalf("second drain should be empty, got %d", len(drained))
	}
	if _, err := r.Insert(9); !errors.Is(err, ErrClosed) {
		t.Fatalf("insert after drain must fail with first drain error, got %v", err)
	}
}

func TestRegistryRemoveVersusResolveHasOneWinner(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	for i := 0; i < 500; i++ {
		seq := uint64(i)
		call, err := r.Insert(seq)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			if r.Remove(seq, ErrWithdrawn) {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if r.Resolve(seq, protocol.Message{Kind: protocol.KindReply, Sequence: seq}) {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if r.withdraw(call, ErrTimeout) {
				wins.Add(1)
			}
		}()
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("seq %d: wins=%d want exactly 1", seq, wins.Load())
		}
		select {
		case <-call.Done():
		default:
			t.Fatalf("seq %d: call not settled by the winner", seq)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("registry should be empty, len=%d", r.Len())
	}
}

func TestRegistryWithdrawIgnoresReusedSequence(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	old, _ := r.Insert(5)
	r.Resolve(5, protocol.Message{Kind: protocol.KindReply, Sequence: 5})
	fresh, err := r.Insert(5)
	if err != nil {
		t.Fatalf("reinsert after resolve: %v", err)
	}
	if r.withdraw(old, ErrTimeout) {
		t.Fatalf("stale call must not withdraw the newer registration")
	}
	select {
	case <-fresh.Done():
		t.Fatalf("newer registration settled by a stale withdraw")
	default:
	}
	if !r.withdraw(fresh, ErrTimeout) {
		t.Fatalf("fresh call should withdraw itself")
	}
	<-fresh.Done()
	if _, err := fresh.Result(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected withdraw error as result, got %v", err)
	}
}

func TestRegistryRemoveSettlesWithGivenError(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	call, _ := r.Insert(6)
	if !r.Remove(6, ErrWithdrawn) {
		t.Fatalf("remove of outstanding call should win")
	}
	select {
	case <-call.Done():
	default:
		t.Fatalf("removed call must be settled")
	}
	if _, err := call.Result(); !errors.Is(err, ErrWithdrawn) {
		t.Fatalf("expected ErrWithdrawn, got %v", err)
	}
	if r.Remove(6, errors.New("again")) {
		t.Fatalf("second remove must report no match")
	}
	if _, err := call.Result(); !errors.Is(err, ErrWithdrawn) {
		t.Fatalf("losing remove must not overwrite the outcome, got %v", err)
	}
}

func TestRegistrySequencesSorted(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	for _, seq := range []uint64{30, 10, 20} {
		if _, err := r.Insert(seq); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	got := r.Sequences()
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Fatalf("unexpected sequences: %v", got)
	}
}
