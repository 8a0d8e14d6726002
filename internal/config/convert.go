package config

import (
	"github.com/danmuck/callmux/internal/protocol/frame"
	"github.com/danmuck/callmux/internal/service"
	"github.com/danmuck/callmux/internal/transport"
)

func (c Config) Transport() transport.Config {
	return transport.Config{
		ConnectTimeout:     c.ConnectTimeout,
		WriteTimeout:       c.WriteTimeout,
		MaxConnectAttempts: c.MaxConnectAttempts,
		Limits:             frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes},
		Backoff: transport.BackoffConfig{
			InitialDelay: c.Backoff.InitialDelay,
			Multiplier:   c.Backoff.Multiplier,
			MaxDelay:     c.Backoff.MaxDelay,
			Jitter:       c.Backoff.Jitter,
		},
	}.WithDefaults()
}

func (c Config) Service() service.Config {
	return service.Config{
		MaxInFlight:  c.MaxInFlight,
		ReplyTimeout: c.WriteTimeout,
	}
}

func (c Config) Limits() frame.Limits {
	return frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
}
