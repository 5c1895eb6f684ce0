/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/vidar_tv/internal/ffmpeg"
	"github.com/friendsincode/vidar_tv/internal/models"
)

// statusInterval is how often the now-playing reporter fires.
const statusInterval = 10 * time.Second

// contentPlayer streams an item backed by an external media source.
type contentPlayer struct {
	deps Deps
	item models.PlayableItem
	sup  *supervisor
}

func newContentPlayer(deps Deps, item models.PlayableItem) *contentPlayer {
	return &contentPlayer{
		deps: deps,
		item: item,
		sup:  newSupervisor(deps.Transcoder, deps.Logger.With().Str("player", string(item.Kind)).Logger()),
	}
}

func (p *contentPlayer) Play(ctx context.Context, sink io.Writer) (<-chan Event, error) {
	p.sup.mu.Lock()
	p.sup.state = stateSpawning
	p.sup.mu.Unlock()

	src, err := p.deps.Sources.FindSource(ctx, p.item.SourceType, p.item.SourceName)
	if err != nil {
		return nil, err
	}

	negotiator, err := p.deps.Sources.NegotiatorFor(p.item.SourceType)
	if err != nil {
		return nil, err
	}

	info, err := negotiator.GetStream(ctx, src, p.item)
	if err != nil {
		return nil, fmt.Errorf("negotiate stream: %w", err)
	}

	seek := p.item.Seek
	if info.SeekHandled {
		seek = 0
	}

	req := ffmpeg.SpawnRequest{
		URL:      info.URL,
		Details:  info.Details,
		Seek:     seek,
		Duration: effectiveDuration(p.item.Seek, p.item.Duration, info.Details.Duration, p.deps.Slack),
		Headers:  info.Headers,
	}
	if p.deps.Channel != nil {
		req.AudioOnly = p.deps.Channel.AudioOnly
		if p.deps.Channel.WatermarkURL != "" {
			req.Watermark = &ffmpeg.WatermarkOptions{
				URL:      p.deps.Channel.WatermarkURL,
				Position: p.deps.Channel.WatermarkPosition,
			}
		}
	}

	process, err := p.deps.Transcoder.Spawn(req)
	if err != nil {
		return nil, fmt.Errorf("spawn transcoder: %w", err)
	}

	p.startStatusTask(src)

	return p.sup.begin(process, sink, p.item.Title, p.item.Duration), nil
}

// startStatusTask begins periodic now-playing reporting when the deployment
// and backend support it. The task is stopped exactly once on cleanup.
func (p *contentPlayer) startStatusTask(src *models.MediaSource) {
	if !p.deps.StatusReportingEnabled || p.deps.Status == nil || p.deps.Reporter == nil {
		return
	}
	if p.item.Kind != models.ItemPlex {
		return
	}

	taskID := "status-" + uuid.NewString()
	task := &nowPlayingTask{
		sup:          p.sup,
		reporter:     p.deps.Reporter,
		logger:       p.sup.logger,
		src:          src,
		item:         p.item,
		started:      time.Now(),
		lastPosition: p.item.Seek,
	}
	p.deps.Status.Schedule(taskID, statusInterval, task.run)

	scheduler := p.deps.Status
	p.sup.registerCleanup(func() { scheduler.Stop(taskID) })
}

// nowPlayingTask posts playback position to the backend. Once the supervisor
// substitutes the error slate the content is no longer on air, so the task
// reports a single "stopped" at the last known position and then goes quiet
// until cleanup cancels it.
type nowPlayingTask struct {
	sup      *supervisor
	reporter NowPlayingReporter
	logger   zerolog.Logger
	src      *models.MediaSource
	item     models.PlayableItem
	started  time.Time

	// Mutated only by run, which the scheduler never invokes concurrently.
	lastPosition time.Duration
	stoppedSent  bool
}

func (t *nowPlayingTask) run(ctx context.Context, first bool) {
	if t.sup.isDegraded() {
		if t.stoppedSent {
			return
		}
		t.stoppedSent = true
		if err := t.reporter.Report(ctx, t.src, t.item, t.lastPosition, "stopped"); err != nil {
			t.logger.Debug().Err(err).Msg("now playing report failed")
		}
		return
	}

	position := t.item.Seek + time.Since(t.started)
	if first {
		position = t.item.Seek
	}
	t.lastPosition = position
	if err := t.reporter.Report(ctx, t.src, t.item, position, "playing"); err != nil {
		t.logger.Debug().Err(err).Msg("now playing report failed")
	}
}

func (p *contentPlayer) Cleanup() { p.sup.cleanup() }

// effectiveDuration decides whether to pass a duration cap to the
// transcoder. When the cap would land within slack of the natural end, the
// input runs out on its own instead of being cut a few hundred milliseconds
// early.
func effectiveDuration(seek, streamDuration, totalDuration, slack time.Duration) time.Duration {
	if streamDuration <= 0 {
		return 0
	}
	if totalDuration > 0 && seek+streamDuration+slack >= totalDuration {
		return 0
	}
	return streamDuration
}
