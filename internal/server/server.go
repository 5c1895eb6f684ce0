/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes the playout engine over HTTP: the MPEG-TS video
// endpoint, a channel listing API, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/vidar_tv/internal/config"
	"github.com/friendsincode/vidar_tv/internal/models"
	"github.com/friendsincode/vidar_tv/internal/playout"
	"github.com/friendsincode/vidar_tv/internal/telemetry"
)

// ChannelLister feeds the channel listing API. Stealth channels are
// filtered by the store.
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]models.Channel, error)
}

// Server bundles the public HTTP listener and the private metrics listener.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server

	playout  *playout.Orchestrator
	channels ChannelLister
}

// New wires the router and listeners. Streaming routes bypass the request
// timeout; a live stream has no natural deadline.
func New(cfg *config.Config, orchestrator *playout.Orchestrator, channels ChannelLister, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/video" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	s := &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		router:   router,
		playout:  orchestrator,
		channels: channels,
	}

	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0: the video endpoint streams indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	s.metricsServer = &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	return s
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Get("/video", s.handleVideo)
	s.router.Get("/api/channels", s.handleListChannels)
}

// handleVideo resolves what the channel is airing right now and streams it
// until the client disconnects or playback ends.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.URL.Query().Get("channel"))
	if err != nil {
		http.Error(w, "channel query parameter must be a number", http.StatusBadRequest)
		return
	}

	session := r.URL.Query().Get("session")
	if session == "" {
		session = r.RemoteAddr
	}

	handle, serr := s.playout.StartStream(r.Context(), playout.StreamRequest{
		ChannelNumber: number,
		SessionID:     session,
		AllowSkip:     true,
	})
	if serr != nil {
		http.Error(w, serr.Message, serr.Status)
		return
	}
	defer handle.Stop()

	w.Header().Set("Content-Type", "video/mp2t")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	// Unblock the reader when the client goes away.
	go func() {
		<-r.Context().Done()
		handle.Stop()
	}()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := handle.Reader.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return
		}
	}
}

type channelSummary struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Name   string `json:"name"`
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.channels.ListChannels(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("channel listing failed")
		http.Error(w, "channel listing failed", http.StatusInternalServerError)
		return
	}

	summaries := make([]channelSummary, 0, len(channels))
	for _, ch := range channels {
		summaries = append(summaries, channelSummary{ID: ch.ID, Number: ch.Number, Name: ch.Name})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summaries)
}

// Start runs both listeners and blocks until both exit.
func (s *Server) Start() error {
	var g errgroup.Group

	g.Go(func() error {
		s.logger.Info().Str("addr", s.metricsServer.Addr).Msg("metrics listener started")
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http listener started")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Shutdown drains both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.metricsServer.Shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}
