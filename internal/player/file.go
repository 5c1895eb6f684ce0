/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"fmt"
	"io"

	"github.com/friendsincode/vidar_tv/internal/ffmpeg"
	"github.com/friendsincode/vidar_tv/internal/models"
)

// filePlayer streams a local media file through the transcoder.
type filePlayer struct {
	deps Deps
	item models.PlayableItem
	sup  *supervisor
}

func newFilePlayer(deps Deps, item models.PlayableItem) *filePlayer {
	return &filePlayer{
		deps: deps,
		item: item,
		sup:  newSupervisor(deps.Transcoder, deps.Logger.With().Str("player", "file").Logger()),
	}
}

func (p *filePlayer) Play(ctx context.Context, sink io.Writer) (<-chan Event, error) {
	if p.item.FilePath == "" {
		return nil, fmt.Errorf("file item %q has no path", p.item.Title)
	}

	req := ffmpeg.SpawnRequest{
		URL:      p.item.FilePath,
		Seek:     p.item.Seek,
		Duration: p.item.Duration,
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

	return p.sup.begin(process, sink, p.item.Title, p.item.Duration), nil
}

func (p *filePlayer) Cleanup() { p.sup.cleanup() }
