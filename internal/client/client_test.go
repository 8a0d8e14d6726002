package client

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/callmux/internal/arbiter"
	"github.com/danmuck/callmux/internal/protocol"
	"github.com/danmuck/callmux/internal/testutil/testlog"
	"github.com/danmuck/callmux/internal/transport"
)

func TestSequencerSkipsZeroOnWrap(t *testing.T) {
	testlog.Start(t)
	s := NewSequencerAt(math.MaxUint64 - 1)
	if got := s.Next(); got != math.MaxUint64 {
		t.Fatalf("got %d want max", got)
	}
	if got := s.Next(); got != 1 {
		t.Fatalf("wrap should skip zero, got %d", got)
	}
}

func TestSequencerUniqueUnderConcurrency(t *testing.T) {
	testlog.Start(t)
	s := NewSequencer()
	var mu sync.Mutex
	seen := make(map[uint64]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				v := s.Next()
				mu.Lock()
				if _, dup := seen[v]; dup {
					mu.Unlock()
					t.Errorf("duplicate sequence %d", v)
					return
				}
				seen[v] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 16*500 {
		t.Fatalf("got %d unique values", len(seen))
	}
}

func TestClientTimeoutWithSilentPeer(t *testing.T) {
	testlog.Start(t)
	local, peer := transport.NewMemoryPair(8)
	defer peer.Close()
	arb := arbiter.New(local, protocol.NewFrameCodec(), arbiter.WithMetrics(false))
	defer arb.Close()
	go func() {
		for {
			if _, err := arb.Receive(); err != nil {
				return
			}
		}
	}()

	c := New(arb, WithTimeout(20*time.Millisecond), WithSequencer(NewSequencerAt(0)))
	start := time.Now()
	_, err := c.Call(context.Background(), []byte("anyone?"))
	if !errors.Is(err, arbiter.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not honoured promptly")
	}
	if arb.Pending() != 0 {
		t.Fatalf("timed out call leaked")
	}

	raw, err := peer.Receive()
	if err != nil {
		t.Fatalf("peer receive: %v", err)
	}
	req, err := protocol.NewFrameCodec().Decode(raw)
	if err != nil || req.Kind != protocol.KindInvocation || req.Sequence != 1 {
		t.Fatalf("unexpected request on wire: %+v %v", req, err)
	}
}
