package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/callmux/internal/testutil/testlog"
)

func TestTemplateParsesToDefaultsWithAdmin(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse(Template())
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	if cfg.AdminAddr != "127.0.0.1:7401" || cfg.CallTimeout != 30*time.Second || cfg.Backoff.MaxDelay != 5*time.Second {
		t.Fatalf("unexpected template config: %+v", cfg)
	}
	if len(cfg.CorsOrigins) != 1 {
		t.Fatalf("cors origins not loaded: %v", cfg.CorsOrigins)
	}
}

func TestOverlayKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse(`
name = "edge-a"
call_timeout = "250ms"

[backoff]
jitter = false
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def := DefaultConfig()
	if cfg.Name != "edge-a" || cfg.CallTimeout != 250*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ListenAddr != def.ListenAddr || cfg.MaxInFlight != def.MaxInFlight || cfg.Backoff.InitialDelay != def.Backoff.InitialDelay {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.Backoff.Jitter {
		t.Fatalf("explicit jitter=false ignored")
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"duration": `call_timeout = "soon"`,
		"unknown":  `colour = "blue"`,
		"name":     `name = "  "`,
		"payload":  `max_payload_bytes = 0`,
		"backoff":  "[backoff]\nmultiplier = 0.5",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(data); err == nil {
				t.Fatalf("expected error for %q", data)
			}
		})
	}
	if _, err := Parse(`colour = "blue"`); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("unknown key should be ErrInvalidConfig, got %v", err)
	}
}

func TestWriteTemplateAndLoad(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "callmux.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tc := cfg.Transport()
	if tc.Limits.MaxPayloadBytes != 8388608 || tc.MaxConnectAttempts != 5 {
		t.Fatalf("unexpected transport config: %+v", tc)
	}
	if cfg.Service().MaxInFlight != 64 {
		t.Fatalf("unexpected service config: %+v", cfg.Service())
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
