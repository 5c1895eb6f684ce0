/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"fmt"
	"io"

	"github.com/friendsincode/vidar_tv/internal/models"
)

// offlinePlayer renders channel filler for flex and offline slots.
type offlinePlayer struct {
	deps Deps
	item models.PlayableItem
	sup  *supervisor
}

func newOfflinePlayer(deps Deps, item models.PlayableItem) *offlinePlayer {
	return &offlinePlayer{
		deps: deps,
		item: item,
		sup:  newSupervisor(deps.Transcoder, deps.Logger.With().Str("player", "offline").Logger()),
	}
}

func (p *offlinePlayer) Play(ctx context.Context, sink io.Writer) (<-chan Event, error) {
	process, err := p.deps.Transcoder.SpawnOfflineSlate(p.item.Duration)
	if err != nil {
		return nil, fmt.Errorf("spawn offline slate: %w", err)
	}
	return p.sup.begin(process, sink, p.item.Title, p.item.Duration), nil
}

func (p *offlinePlayer) Cleanup() { p.sup.cleanup() }

// errorPlayer renders a synthetic error card.
type errorPlayer struct {
	deps Deps
	item models.PlayableItem
	sup  *supervisor
}

func newErrorPlayer(deps Deps, item models.PlayableItem) *errorPlayer {
	return &errorPlayer{
		deps: deps,
		item: item,
		sup:  newSupervisor(deps.Transcoder, deps.Logger.With().Str("player", "error").Logger()),
	}
}

func (p *errorPlayer) Play(ctx context.Context, sink io.Writer) (<-chan Event, error) {
	title := p.item.Title
	if title == "" {
		title = "Error"
	}

	process, err := p.deps.Transcoder.SpawnErrorSlate(title, p.item.ErrorMessage, p.item.Duration)
	if err != nil {
		return nil, fmt.Errorf("spawn error slate: %w", err)
	}
	return p.sup.begin(process, sink, p.item.Title, p.item.Duration), nil
}

func (p *errorPlayer) Cleanup() { p.sup.cleanup() }
