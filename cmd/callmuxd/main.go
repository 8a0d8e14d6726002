package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/callmux/internal/config"
	"github.com/danmuck/callmux/internal/logging"
	"github.com/danmuck/callmux/internal/observability"
	"github.com/danmuck/callmux/internal/server"
	"github.com/danmuck/callmux/internal/service"
	"github.com/danmuck/callmux/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "cmd/callmuxd/config.toml", "path to config file (missing file uses defaults)")
	listen := flag.String("listen", "", "override listen_addr")
	admin := flag.String("admin", "", "override admin_addr")
	flag.Parse()

	logging.ConfigureRuntime()
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "callmuxd: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *admin != "" {
		cfg.AdminAddr = *admin
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callmuxd: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config not found, using defaults")
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.Component("callmuxd")
	ln, err := transport.Listen(cfg.ListenAddr, cfg.Transport())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	srv := server.New(cfg, service.Echo, logger)
	logger.Info().Str("listen", ln.Addr().String()).Str("node", cfg.Name).Msg("callmuxd started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	if strings.TrimSpace(cfg.AdminAddr) != "" {
		httpSrv := &http.Server{
			Addr: cfg.AdminAddr,
			Handler: observability.NewAdminRouter(observability.AdminConfig{
				Node:        cfg.Name,
				CorsOrigins: cfg.CorsOrigins,
				Status:      func() any { return srv.Status() },
				Call:        srv.Call,
				Logger:      logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("admin", cfg.AdminAddr).Msg("admin listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}
	err = g.Wait()
	logger.Info().Msg("callmuxd stopped")
	return err
}
