/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout turns a channel and a wall-clock instant into a live,
// fault-tolerant byte stream.
package playout

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/vidar_tv/internal/cache"
	"github.com/friendsincode/vidar_tv/internal/events"
	"github.com/friendsincode/vidar_tv/internal/lineup"
	"github.com/friendsincode/vidar_tv/internal/models"
	"github.com/friendsincode/vidar_tv/internal/player"
	"github.com/friendsincode/vidar_tv/internal/status"
	"github.com/friendsincode/vidar_tv/internal/telemetry"
	"github.com/friendsincode/vidar_tv/internal/throttle"
)

const (
	// permanentOfflineDuration stands in for "off forever" on single-slot
	// offline lineups, whose configured slot duration cannot be trusted.
	permanentOfflineDuration = 365 * 24 * time.Hour

	// maxSkipAhead bounds the offline skip loop. Each pass strictly
	// advances the timestamp past a nearly-finished offline slot.
	maxSkipAhead = 10

	throttledItemDuration = time.Minute
)

// ChannelStore is the persisted schedule collaborator. Lookups return
// (nil, nil) for channels that do not exist.
type ChannelStore interface {
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	GetChannelByNumber(ctx context.Context, number int) (*models.Channel, error)
	LoadLineup(ctx context.Context, channelID string) ([]models.Program, error)
	LoadChannelAndLineup(ctx context.Context, id string) (*models.Channel, []models.Program, error)
}

// Publisher is the event fanout the orchestrator reports to.
type Publisher interface {
	Publish(eventType events.EventType, payload events.Payload)
}

// StreamRequest asks for what a channel is airing at an instant.
type StreamRequest struct {
	ChannelNumber int
	SessionID     string
	At            time.Time
	AllowSkip     bool
}

// StreamHandle is a live stream plus its idempotent stop function.
type StreamHandle struct {
	Reader io.ReadCloser
	Item   models.PlayableItem
	Stop   func()
}

// StreamError is a request-level failure, mapped by the HTTP layer.
type StreamError struct {
	Status  int
	Message string
}

// Config carries playout policy knobs.
type Config struct {
	Slack                  time.Duration
	StatusReportingEnabled bool
}

// Orchestrator wires resolution, caching, throttling, and player supervision
// into the startStream entry point.
type Orchestrator struct {
	store      ChannelStore
	cache      *cache.PlaybackCache
	guard      *throttle.Guard
	transcoder player.Transcoder
	sources    player.SourceRegistry
	status     *status.Scheduler
	reporter   player.NowPlayingReporter
	bus        Publisher
	logger     zerolog.Logger
	cfg        Config
}

// New constructs the orchestrator.
func New(store ChannelStore, pc *cache.PlaybackCache, guard *throttle.Guard, transcoder player.Transcoder, registry player.SourceRegistry, scheduler *status.Scheduler, reporter player.NowPlayingReporter, bus Publisher, cfg Config, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		cache:      pc,
		guard:      guard,
		transcoder: transcoder,
		sources:    registry,
		status:     scheduler,
		reporter:   reporter,
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With().Str("component", "playout").Logger(),
	}
}

func (o *Orchestrator) playerDeps(channel *models.Channel) player.Deps {
	return player.Deps{
		Transcoder:             o.transcoder,
		Sources:                o.sources,
		Status:                 o.status,
		Reporter:               o.reporter,
		Logger:                 o.logger,
		Channel:                channel,
		Slack:                  o.cfg.Slack,
		StatusReportingEnabled: o.cfg.StatusReportingEnabled,
	}
}

// StartStream resolves what the channel is airing and starts streaming it.
// Failures after a stream begins degrade into an on-air error slate; only
// structural failures surface as a StreamError.
func (o *Orchestrator) StartStream(ctx context.Context, req StreamRequest) (*StreamHandle, *StreamError) {
	ctx, span := otel.Tracer("playout").Start(ctx, "playout.start_stream")
	span.SetAttributes(attribute.Int("channel.number", req.ChannelNumber))
	defer span.End()

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	channel, err := o.store.GetChannelByNumber(ctx, req.ChannelNumber)
	if err != nil {
		return nil, &StreamError{Status: http.StatusInternalServerError, Message: "channel lookup failed"}
	}
	if channel == nil {
		return nil, &StreamError{Status: http.StatusNotFound, Message: "channel not found"}
	}

	item, finalChannel, serr := o.resolveItem(ctx, channel, at, req.AllowSkip)
	if serr != nil {
		return nil, serr
	}

	if o.guard.Check(req.SessionID, item) {
		telemetry.ThrottledStreamsTotal.Inc()
		o.logger.Warn().Str("session", req.SessionID).Int("channel", req.ChannelNumber).Msg("session throttled")
		item = models.ErrorItem("too many playback attempts", throttledItemDuration)
	}

	return o.play(ctx, req, channel, finalChannel, item)
}

// resolveItem runs the redirect walk, the offline policy, and redirect bound
// propagation. The returned channel is the one whose program actually plays.
func (o *Orchestrator) resolveItem(ctx context.Context, channel *models.Channel, at time.Time, allowSkip bool) (models.PlayableItem, *models.Channel, *StreamError) {
	for attempt := 0; attempt < maxSkipAhead; attempt++ {
		if cached, ok := o.cache.Get(channel.ID, at); ok {
			return cached, channel, nil
		}

		programs, err := o.store.LoadLineup(ctx, channel.ID)
		if err != nil {
			return models.PlayableItem{}, nil, &StreamError{Status: http.StatusInternalServerError, Message: "lineup load failed"}
		}
		if len(programs) == 0 {
			o.logger.Error().Str("channel", channel.ID).Msg("channel has an empty lineup")
			return models.PlayableItem{}, nil, &StreamError{Status: http.StatusInternalServerError, Message: "channel has no programming"}
		}

		walk, err := o.followRedirects(ctx, channel, programs, at)
		if err != nil {
			o.logger.Error().Err(err).Str("channel", channel.ID).Msg("redirect walk failed")
			return models.PlayableItem{}, nil, &StreamError{Status: http.StatusInternalServerError, Message: "program resolution failed"}
		}

		if walk.ErrorItem != nil {
			return *walk.ErrorItem, channel, nil
		}

		resolved := walk.Resolved
		if resolved.Program.Type == models.ProgramFlex {
			if len(walk.Lineup) == 1 && len(walk.Hops) == 0 {
				// A directly tuned channel whose whole lineup is one offline
				// slot is off for good; the configured duration is
				// meaningless. Reached through a redirect the slot plays out
				// normally below so the hop bounds still cap it.
				item := offlineItem(permanentOfflineDuration, 0)
				o.cache.Put(ctx, walk.Channel.ID, at, item)
				return item, walk.Channel, nil
			}

			remaining := resolved.Program.Duration - resolved.Elapsed
			if allowSkip && remaining <= o.cfg.Slack {
				at = at.Add(remaining + time.Millisecond)
				continue
			}

			item := offlineItem(remaining, resolved.Elapsed)
			item = o.applyBounds(ctx, at, item, walk)
			return item, walk.Channel, nil
		}

		item := buildItem(resolved)
		item = o.applyBounds(ctx, at, item, walk)
		return item, walk.Channel, nil
	}

	return models.PlayableItem{}, nil, &StreamError{Status: http.StatusInternalServerError, Message: "offline skip did not converge"}
}

// applyBounds unwinds the redirect bounds stack from the deepest hop
// outward, recording a progressively bounded cache entry for every hop so a
// viewer tuning into an intermediate channel sees a consistent decision.
func (o *Orchestrator) applyBounds(ctx context.Context, at time.Time, item models.PlayableItem, walk *WalkResult) models.PlayableItem {
	o.cache.Put(ctx, walk.Channel.ID, at, item)

	effective := item.Duration
	for i := len(walk.Hops) - 1; i >= 0; i-- {
		bound := walk.Hops[i].Remaining + item.BeginningOffset
		if effective == 0 || bound < effective {
			effective = bound
		}
		bounded := item
		bounded.Duration = effective
		o.cache.Put(ctx, walk.Hops[i].ChannelID, at, bounded)
	}

	item.Duration = effective
	return item
}

// play spawns the player for the item and wires lifecycle events.
func (o *Orchestrator) play(ctx context.Context, req StreamRequest, origin, finalChannel *models.Channel, item models.PlayableItem) (*StreamHandle, *StreamError) {
	deps := o.playerDeps(finalChannel)

	pr, pw := io.Pipe()

	plr, evs, err := o.startPlayer(ctx, deps, item, pw)
	if err != nil {
		o.guard.RecordFailure(req.SessionID)
		telemetry.StreamErrorsTotal.WithLabelValues("spawn").Inc()
		o.logger.Warn().Err(err).Int("channel", req.ChannelNumber).Msg("playback start failed, substituting error item")

		// Degrade to an error slate; only a failure to produce even that is
		// structural.
		item = models.ErrorItem(err.Error(), errorSlotDuration)
		plr, evs, err = o.startPlayer(ctx, deps, item, pw)
		if err != nil {
			_ = pw.Close()
			return nil, &StreamError{Status: http.StatusInternalServerError, Message: "unable to start playback: " + err.Error()}
		}
	}

	if !item.IsError() {
		o.guard.Reset(req.SessionID)
	}

	telemetry.StreamsStartedTotal.WithLabelValues(string(item.Kind)).Inc()
	telemetry.ActiveStreams.Inc()
	o.bus.Publish(events.EventStreamStarted, events.Payload{
		"channel_id": origin.ID,
		"session_id": req.SessionID,
		"kind":       string(item.Kind),
	})
	o.publishNowPlaying(origin, finalChannel, item)

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			plr.Cleanup()
			_ = pw.Close()
			telemetry.ActiveStreams.Dec()
			o.bus.Publish(events.EventStreamEnded, events.Payload{
				"channel_id": origin.ID,
				"session_id": req.SessionID,
			})
		})
	}

	go func() {
		for ev := range evs {
			switch ev.Type {
			case player.EventEnd:
				stop()
			case player.EventError:
				// The player already substituted an error slate; log only.
				telemetry.StreamErrorsTotal.WithLabelValues("subprocess").Inc()
				o.logger.Warn().Err(ev.Err).Int("channel", req.ChannelNumber).Msg("stream degraded to error slate")
				o.bus.Publish(events.EventStreamError, events.Payload{
					"channel_id": origin.ID,
					"error":      ev.Err.Error(),
				})
			}
		}
		// The player closes the channel on every terminal path; make sure
		// the handle's resources go with it.
		stop()
	}()

	return &StreamHandle{Reader: pr, Item: item, Stop: stop}, nil
}

func (o *Orchestrator) startPlayer(ctx context.Context, deps player.Deps, item models.PlayableItem, sink io.Writer) (player.Player, <-chan player.Event, error) {
	plr, err := player.New(deps, item)
	if err != nil {
		return nil, nil, err
	}
	evs, err := plr.Play(ctx, sink)
	if err != nil {
		plr.Cleanup()
		return nil, nil, err
	}
	return plr, evs, nil
}

func (o *Orchestrator) publishNowPlaying(origin, finalChannel *models.Channel, item models.PlayableItem) {
	payload := events.Payload{
		"channel_id":     origin.ID,
		"channel_number": origin.Number,
		"kind":           string(item.Kind),
		"title":          item.Title,
		"duration_ms":    item.Duration.Milliseconds(),
	}
	if finalChannel != nil && finalChannel.ID != origin.ID {
		payload["via_channel_id"] = finalChannel.ID
	}
	o.bus.Publish(events.EventNowPlaying, payload)
}

// buildItem converts the resolved program into the unit the player streams.
// Seek is the elapsed offset into the slot; Duration is the air time left in
// it, so the item ends exactly when the next slot begins.
func buildItem(resolved *lineup.Resolved) models.PlayableItem {
	p := resolved.Program
	remaining := p.Duration - resolved.Elapsed

	if p.Type == models.ProgramError {
		item := models.ErrorItem(p.ErrorMessage, remaining)
		item.BeginningOffset = resolved.Elapsed
		return item
	}

	return models.PlayableItem{
		Kind:            models.KindForSource(p.SourceType),
		Title:           p.Title,
		Seek:            resolved.Elapsed,
		Duration:        remaining,
		BeginningOffset: resolved.Elapsed,
		SourceType:      p.SourceType,
		SourceName:      p.SourceName,
		ExternalKey:     p.ExternalKey,
		FilePath:        p.FilePath,
	}
}

func offlineItem(d, beginningOffset time.Duration) models.PlayableItem {
	return models.PlayableItem{
		Kind:            models.ItemOffline,
		Title:           "Channel Offline",
		Duration:        d,
		BeginningOffset: beginningOffset,
	}
}
