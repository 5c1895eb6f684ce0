/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/vidar_tv/internal/lineup"
	"github.com/friendsincode/vidar_tv/internal/models"
	"github.com/friendsincode/vidar_tv/internal/telemetry"
)

// errorSlotDuration bounds synthetic error items produced during the walk.
const errorSlotDuration = time.Minute

// Hop is one traversed redirect: the redirecting channel and the air time
// left in its redirect slot, which caps everything resolved beneath it.
type Hop struct {
	ChannelID string
	Remaining time.Duration
}

// WalkResult is the outcome of following a redirect chain.
type WalkResult struct {
	// Channel/Lineup/Resolved describe the final, non-redirect program.
	Channel  *models.Channel
	Lineup   []models.Program
	Resolved *lineup.Resolved

	// Hops lists traversed redirects, outermost first.
	Hops []Hop

	// ErrorItem is set instead of Resolved when the walk terminated on a
	// cycle or an unloadable target.
	ErrorItem *models.PlayableItem
}

// followRedirects resolves the channel's lineup at the given instant and
// chases redirect programs until a concrete program, a cycle, or a dead
// target. The walk is bounded: every visited channel id is recorded and a
// revisit terminates it.
func (o *Orchestrator) followRedirects(ctx context.Context, ch *models.Channel, programs []models.Program, at time.Time) (*WalkResult, error) {
	origin := ch
	visited := make(map[string]bool)
	var names []string
	var hops []Hop

	for {
		resolved, err := lineup.Resolve(ch, programs, at)
		if err != nil {
			return nil, fmt.Errorf("resolve lineup for channel %s: %w", ch.ID, err)
		}

		if resolved.Program.Type != models.ProgramRedirect {
			return &WalkResult{Channel: ch, Lineup: programs, Resolved: resolved, Hops: hops}, nil
		}

		visited[ch.ID] = true
		names = append(names, ch.Name)
		hops = append(hops, Hop{
			ChannelID: ch.ID,
			Remaining: resolved.Program.Duration - resolved.Elapsed,
		})

		targetID := resolved.Program.RedirectChannelID
		if visited[targetID] {
			telemetry.RedirectCyclesTotal.Inc()
			item := models.ErrorItem(models.CycleMessage(names), errorSlotDuration)
			// Cache the verdict for the originating channel so repeated
			// requests against the same cycle skip the walk entirely.
			o.cache.Put(ctx, origin.ID, at, item)
			o.logger.Warn().Str("channel", origin.ID).Strs("chain", names).Msg("redirect cycle detected")
			return &WalkResult{Channel: ch, Hops: hops, ErrorItem: &item}, nil
		}

		target, targetPrograms, err := o.store.LoadChannelAndLineup(ctx, targetID)
		if err != nil {
			return nil, fmt.Errorf("load redirect target %s: %w", targetID, err)
		}
		if target == nil {
			item := models.ErrorItem(fmt.Sprintf("redirect target channel %s not found", targetID), errorSlotDuration)
			return &WalkResult{Channel: ch, Hops: hops, ErrorItem: &item}, nil
		}

		ch, programs = target, targetPrograms
	}
}
