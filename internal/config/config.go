package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var (
	ErrInvalidConfig = errors.New("config: invalid")
)

// Config is the on-disk shape for callmuxd and callmuxctl.
type Config struct {
	Name               string
	ListenAddr         string
	PeerAddr           string
	AdminAddr          string
	CorsOrigins        []string
	CallTimeout        time.Duration
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	MaxPayloadBytes    uint64
	MaxInFlight        int
	LogLevel           string
	Backoff            BackoffConfig
}

type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type fileConfig struct {
	Name               string      `toml:"name"`
	ListenAddr         string      `toml:"listen_addr"`
	PeerAddr           string      `toml:"peer_addr"`
	AdminAddr          string      `toml:"admin_addr"`
	CorsOrigins        []string    `toml:"cors_origins"`
	CallTimeout        string      `toml:"call_timeout"`
	ConnectTimeout     string      `toml:"connect_timeout"`
	WriteTimeout       string      `toml:"write_timeout"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	MaxPayloadBytes    int64       `toml:"max_payload_bytes"`
	MaxInFlight        int         `toml:"max_in_flight"`
	LogLevel           string      `toml:"log_level"`
	Backoff            fileBackoff `toml:"backoff"`
}

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

func DefaultConfig() Config {
	return Config{
		Name:               "callmux",
		ListenAddr:         "127.0.0.1:7400",
		PeerAddr:           "127.0.0.1:7400",
		AdminAddr:          "",
		CallTimeout:        30 * time.Second,
		ConnectTimeout:     5 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxConnectAttempts: 5,
		MaxPayloadBytes:    8 * 1024 * 1024,
		MaxInFlight:        64,
		LogLevel:           "info",
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// Load reads path and overlays every key it defines onto DefaultConfig.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := overlay(DefaultConfig(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	cfg, err := overlay(DefaultConfig(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("peer_addr") {
		cfg.PeerAddr = strings.TrimSpace(raw.PeerAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"call_timeout", raw.CallTimeout, &cfg.CallTimeout},
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"backoff.initial_delay", raw.Backoff.InitialDelay, &cfg.Backoff.InitialDelay},
		{"backoff.max_delay", raw.Backoff.MaxDelay, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 {
			return Config{}, fmt.Errorf("%w: max_payload_bytes must be positive", ErrInvalidConfig)
		}
		cfg.MaxPayloadBytes = uint64(raw.MaxPayloadBytes)
	}
	if meta.IsDefined("max_in_flight") {
		cfg.MaxInFlight = raw.MaxInFlight
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" && strings.TrimSpace(cfg.PeerAddr) == "" {
		return fmt.Errorf("%w: listen_addr or peer_addr required", ErrInvalidConfig)
	}
	if cfg.CallTimeout < 0 || cfg.ConnectTimeout < 0 || cfg.WriteTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if cfg.MaxInFlight < 0 {
		return fmt.Errorf("%w: max_in_flight must not be negative", ErrInvalidConfig)
	}
	if cfg.Backoff.Multiplier != 0 && cfg.Backoff.Multiplier < 1.0 {
		return fmt.Errorf("%w: backoff.multiplier must be >= 1", ErrInvalidConfig)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
