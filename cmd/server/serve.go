package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/Sketch/internal/adapters/http"
	wsignal "github.com/dkeye/Sketch/internal/adapters/signal"
	"github.com/dkeye/Sketch/internal/app"
	"github.com/dkeye/Sketch/internal/app/orch"
	"github.com/dkeye/Sketch/internal/cache"
	"github.com/dkeye/Sketch/internal/config"
	"github.com/dkeye/Sketch/internal/metrics"
)

type serveOptions struct {
	env  string
	port int
}

func bindServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVar(&opts.env, "env", "", "config environment (config/config.<env>.yaml), overrides CONFIG_ENV")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "listen port, overrides the config")
}

func serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	bindServeFlags(cmd, &opts)
	return cmd
}

// setupLogger writes JSON in release mode and console text otherwise.
func setupLogger(mode string, out io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if mode == "release" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	level := zerolog.InfoLevel
	if mode == "debug" {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

func runServe(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console output until the config says otherwise.
	setupLogger("", os.Stderr)

	if opts.env != "" {
		if err := os.Setenv("CONFIG_ENV", opts.env); err != nil {
			return fmt.Errorf("set CONFIG_ENV: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.port > 0 {
		cfg.Port = opts.port
	}
	setupLogger(cfg.Mode, os.Stderr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	presence, closePresence := setupPresence(ctx, cfg)
	defer closePresence()

	manager := app.NewRoomManager(wsignal.JSONCodec{})
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    manager,
		Policy:   app.NewPolicy(cfg.Strict),
		Presence: presence,
		Metrics:  metrics.New(reg),
	}

	janitor := &app.Janitor{
		Rooms:    manager,
		TTL:      cfg.Rooms.IdleTTL,
		Interval: cfg.Rooms.SweepInterval,
		OnEvict:  o.OnEvicted,
	}
	go janitor.Run(ctx)

	r := router.SetupRouter(ctx, cfg, o, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("version", version).Bool("strict", cfg.Strict).Msg("Sketch server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

// setupPresence connects the redis presence mirror when redis.addr is set.
// An unreachable redis only disables the mirror.
func setupPresence(ctx context.Context, cfg *config.Config) (cache.Presence, func()) {
	if cfg.Redis.Addr == "" {
		return cache.NopPresence{}, func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("module", "cache").Str("addr", cfg.Redis.Addr).Msg("redis unreachable, presence disabled")
		_ = rdb.Close()
		return cache.NopPresence{}, func() {}
	}
	log.Info().Str("module", "cache").Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.TTL).Msg("redis presence enabled")
	return cache.NewRedisPresence(rdb, cfg.Redis.TTL), func() { _ = rdb.Close() }
}
