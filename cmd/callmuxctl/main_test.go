package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/callmux/internal/config"
	"github.com/danmuck/callmux/internal/observability"
	"github.com/danmuck/callmux/internal/server"
	"github.com/danmuck/callmux/internal/service"
	"github.com/danmuck/callmux/internal/testutil/testlog"
	"github.com/danmuck/callmux/internal/transport"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

func startPeer(t *testing.T) (addr string, srv *server.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Name = "peer"
	ln, err := transport.Listen("127.0.0.1:0", cfg.Transport())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv = server.New(cfg, service.Echo, log.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String(), srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCallCommandPrintsReply(t *testing.T) {
	testlog.Start(t)
	addr, _ := startPeer(t)
	out, err := execute(t, "call", "hello", "--addr", addr, "-o", "json")
	if err != nil {
		t.Fatalf("call: %v\n%s", err, out)
	}
	var res callResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if res.Reply != "hello" || res.Sequence == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCallCommandOneway(t *testing.T) {
	testlog.Start(t)
	addr, _ := startPeer(t)
	out, err := execute(t, "call", "fire", "--oneway", "--addr", addr)
	if err != nil {
		t.Fatalf("oneway: %v", err)
	}
	if strings.TrimSpace(out) != "sent" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestBenchCommandReportsNoErrors(t *testing.T) {
	testlog.Start(t)
	addr, _ := startPeer(t)
	out, err := execute(t, "bench", "--calls", "200", "--concurrency", "8", "--addr", addr, "-o", "yaml")
	if err != nil {
		t.Fatalf("bench: %v\n%s", err, out)
	}
	var res benchResult
	if err := yaml.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if res.Calls != 200 || res.Errors != 0 {
		t.Fatalf("unexpected bench result: %+v", res)
	}
}

func TestCallCommandFailsWithoutPeer(t *testing.T) {
	testlog.Start(t)
	if _, err := execute(t, "call", "x", "--addr", "127.0.0.1:1"); err == nil {
		t.Fatalf("expected connect failure")
	}
}

func TestStatusCommandReadsAdmin(t *testing.T) {
	testlog.Start(t)
	addr, srv := startPeer(t)
	admin := httptest.NewServer(observability.NewAdminRouter(observability.AdminConfig{
		Node:   "peer",
		Status: func() any { return srv.Status() },
		Logger: log.Logger,
	}))
	defer admin.Close()

	s, err := (&rootState{cfg: func() config.Config {
		c := config.DefaultConfig()
		c.PeerAddr = addr
		c.CallTimeout = 2 * time.Second
		return c
	}()}).connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if _, err := s.client.Call(context.Background(), []byte("warm")); err != nil {
		t.Fatalf("warm call: %v", err)
	}

	out, err := execute(t, "status", "--admin", admin.URL)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "peer#") || !strings.Contains(out, "open") {
		t.Fatalf("unexpected status table:\n%s", out)
	}
}

func TestCallbackCommandCallsDialer(t *testing.T) {
	testlog.Start(t)
	addr, srv := startPeer(t)
	admin := httptest.NewServer(observability.NewAdminRouter(observability.AdminConfig{
		Node:   "peer",
		Status: func() any { return srv.Status() },
		Call:   srv.Call,
		Logger: log.Logger,
	}))
	defer admin.Close()

	st := &rootState{cfg: config.DefaultConfig()}
	st.cfg.PeerAddr = addr
	s, err := st.connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	waitSession := time.Now().Add(2 * time.Second)
	for len(srv.Status()) == 0 {
		if time.Now().After(waitSession) {
			t.Fatalf("session never registered")
		}
		time.Sleep(time.Millisecond)
	}

	// The ctl side refuses calls, so the callback surfaces as a remote error.
	out, err := execute(t, "callback", "peer#1", "hi", "--admin", admin.URL)
	if err == nil || !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), errNoHandler.Error()) {
		t.Fatalf("expected remote refusal, got %v\n%s", err, out)
	}
	if _, err := execute(t, "callback", "peer#42", "hi", "--admin", admin.URL); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 for unknown session, got %v", err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "callmux.toml")
	if _, err := execute(t, "config", "init", "--path", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := execute(t, "config", "init", "--path", path); err == nil {
		t.Fatalf("second init without --force should fail")
	}
	if _, err := execute(t, "config", "validate", path); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := os.WriteFile(path, []byte("max_in_flight = -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "config", "validate", path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestTableFormatterEmptySlice(t *testing.T) {
	testlog.Start(t)
	if got := NewFormatter("table").Format([]callResult{}); got != "No sessions.\n" {
		t.Fatalf("unexpected output %q", got)
	}
}
