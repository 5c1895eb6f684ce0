/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player supervises the transcoding subprocess for one resolved
// playable item and keeps the caller's sink fed across subprocess failures.
package player

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/vidar_tv/internal/ffmpeg"
	"github.com/friendsincode/vidar_tv/internal/models"
	"github.com/friendsincode/vidar_tv/internal/sources"
	"github.com/friendsincode/vidar_tv/internal/status"
)

// EventType enumerates player lifecycle events.
type EventType string

const (
	// EventEnd fires when playback reached its natural or bounded end.
	EventEnd EventType = "end"
	// EventError fires when a subprocess failed; the player substitutes an
	// error slate on the same sink, so this is informational.
	EventError EventType = "error"
)

// Event is one lifecycle notification. The channel returned by Play stays
// valid across error-slate substitution.
type Event struct {
	Type EventType
	Err  error
}

// Player streams exactly one playable item into a sink. Not shared across
// requests; destroyed via Cleanup.
type Player interface {
	Play(ctx context.Context, sink io.Writer) (<-chan Event, error)
	Cleanup()
}

// Transcoder spawns ffmpeg subprocesses. Narrow consumer-side view of
// internal/ffmpeg, fakeable in tests.
type Transcoder interface {
	Spawn(req ffmpeg.SpawnRequest) (ffmpeg.Process, error)
	SpawnErrorSlate(title, message string, d time.Duration) (ffmpeg.Process, error)
	SpawnOfflineSlate(d time.Duration) (ffmpeg.Process, error)
}

// SourceRegistry locates backend connections and their negotiators.
type SourceRegistry interface {
	FindSource(ctx context.Context, typ models.SourceType, name string) (*models.MediaSource, error)
	NegotiatorFor(typ models.SourceType) (sources.Negotiator, error)
}

// NowPlayingReporter posts playback position to a backend.
type NowPlayingReporter interface {
	Report(ctx context.Context, src *models.MediaSource, item models.PlayableItem, position time.Duration, state string) error
}

// Deps bundles the collaborators a player variant may need.
type Deps struct {
	Transcoder Transcoder
	Sources    SourceRegistry
	Status     *status.Scheduler
	Reporter   NowPlayingReporter
	Logger     zerolog.Logger

	// Channel-level transcode configuration.
	Channel *models.Channel

	// Slack guards against cutting content off early due to rounding.
	Slack time.Duration

	StatusReportingEnabled bool
}

// New selects the player variant for the item's kind. The set is closed:
// content backends, local file, offline filler, error slate.
func New(deps Deps, item models.PlayableItem) (Player, error) {
	switch item.Kind {
	case models.ItemPlex, models.ItemJellyfin:
		return newContentPlayer(deps, item), nil
	case models.ItemFile:
		return newFilePlayer(deps, item), nil
	case models.ItemOffline:
		return newOfflinePlayer(deps, item), nil
	case models.ItemError:
		return newErrorPlayer(deps, item), nil
	default:
		return nil, fmt.Errorf("no player for item kind %q", item.Kind)
	}
}
