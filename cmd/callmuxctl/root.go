package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/callmux/internal/arbiter"
	"github.com/danmuck/callmux/internal/client"
	"github.com/danmuck/callmux/internal/config"
	"github.com/danmuck/callmux/internal/logging"
	"github.com/danmuck/callmux/internal/protocol"
	"github.com/danmuck/callmux/internal/service"
	"github.com/danmuck/callmux/internal/transport"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "callmux.toml"

var errNoHandler = errors.New("callmuxctl does not serve calls")

// rootState is shared by every subcommand and filled in PersistentPreRunE.
type rootState struct {
	cfgFile      string
	outputFormat string
	addr         string
	timeout      time.Duration

	cfg       config.Config
	formatter Formatter
}

func newRootCmd() *cobra.Command {
	st := &rootState{}
	root := &cobra.Command{
		Use:           "callmuxctl",
		Short:         "Issue calls against a callmux peer",
		Long:          "callmuxctl dials a callmux peer, multiplexes calls over one connection, and reports peer status.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(st.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if st.addr != "" {
				cfg.PeerAddr = st.addr
			}
			if st.timeout > 0 {
				cfg.CallTimeout = st.timeout
			}
			st.cfg = cfg
			st.formatter = NewFormatter(st.outputFormat)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&st.cfgFile, "config", "", "config file (default is ./callmux.toml when present)")
	root.PersistentFlags().StringVarP(&st.outputFormat, "output", "o", "", "output format: table, json, yaml (default \"table\")")
	root.PersistentFlags().StringVar(&st.addr, "addr", "", "peer address, overrides peer_addr")
	root.PersistentFlags().DurationVar(&st.timeout, "timeout", 0, "per-call timeout, overrides call_timeout")

	root.AddCommand(newCallCmd(st), newBenchCmd(st), newConfigCmd(), newStatusCmd(st), newCallbackCmd(st))
	return root
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.DefaultConfig(), nil
		}
		path = defaultConfigPath
	}
	return config.Load(path)
}

// session is one dialed connection with its arbitrator and receive loop.
type session struct {
	arb    *arbiter.Arbitrator
	client *client.Client
	loop   chan error
}

func (st *rootState) connect(ctx context.Context) (*session, error) {
	logger := logging.Component("callmuxctl")
	stream, err := transport.Dial(ctx, st.cfg.PeerAddr, st.cfg.Transport(), logger)
	if err != nil {
		return nil, err
	}
	arb := arbiter.New(stream, protocol.FrameCodec{Limits: st.cfg.Limits()},
		arbiter.WithName("callmuxctl"),
		arbiter.WithLogger(logger),
		arbiter.WithMetrics(false),
	)
	refuse := service.HandlerFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, errNoHandler
	})
	s := &session{
		arb:    arb,
		client: client.New(arb, client.WithTimeout(st.cfg.CallTimeout)),
		loop:   make(chan error, 1),
	}
	go func() {
		s.loop <- service.NewLoop(arb, refuse, st.cfg.Service(), logger).Run(context.Background())
	}()
	return s, nil
}

func (s *session) Close() error {
	err := s.arb.Close()
	<-s.loop
	return err
}
