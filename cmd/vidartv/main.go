/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/vidar_tv/internal/cache"
	"github.com/friendsincode/vidar_tv/internal/config"
	"github.com/friendsincode/vidar_tv/internal/db"
	"github.com/friendsincode/vidar_tv/internal/eventbus"
	"github.com/friendsincode/vidar_tv/internal/events"
	"github.com/friendsincode/vidar_tv/internal/ffmpeg"
	"github.com/friendsincode/vidar_tv/internal/logging"
	"github.com/friendsincode/vidar_tv/internal/playout"
	"github.com/friendsincode/vidar_tv/internal/server"
	"github.com/friendsincode/vidar_tv/internal/sources"
	"github.com/friendsincode/vidar_tv/internal/status"
	"github.com/friendsincode/vidar_tv/internal/store"
	"github.com/friendsincode/vidar_tv/internal/telemetry"
	"github.com/friendsincode/vidar_tv/internal/throttle"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vidartv",
	Short: "Vidar TV - Linear TV playout engine",
	Long:  "Vidar TV turns media libraries into continuously running linear TV channels and serves them as live MPEG-TS streams.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Vidar TV server",
	Long:  "Start the HTTP video server and playout engine",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	logger.Info().Msg("migrations applied")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Msg("Vidar TV starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "vidar-tv",
		ServiceVersion: "0.0.1-alpha",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	playbackCache := cache.New(cache.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}, logger)
	defer playbackCache.Close()

	bus := eventbus.NewNATSBus(cfg.NATSURL, events.NewBus(), logger)
	defer bus.Close()

	// Schedule edits invalidate recorded playout decisions.
	go func() {
		sub := bus.Subscribe(events.EventChannelUpdated)
		for payload := range sub {
			if id, ok := payload["channel_id"].(string); ok {
				playbackCache.Clear(id)
			}
		}
	}()

	channelStore := store.NewChannelStore(database)
	guard := throttle.New(cfg.ThrottleThreshold, cfg.ThrottleWindow)
	transcoder := ffmpeg.New(cfg.FFmpegBin, cfg.FFmpegLogLevel, logger)
	registry := sources.NewRegistry(database, logger)
	scheduler := status.NewScheduler(logger)
	defer scheduler.StopAll()

	orchestrator := playout.New(
		channelStore,
		playbackCache,
		guard,
		transcoder,
		registry,
		scheduler,
		status.NewPlexReporter(logger),
		bus,
		playout.Config{
			Slack:                  cfg.StreamSlack,
			StatusReportingEnabled: cfg.StatusReportingEnabled,
		},
		logger,
	)

	srv := server.New(cfg, orchestrator, channelStore, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-quit:
	}

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("Vidar TV stopped")
	return nil
}
