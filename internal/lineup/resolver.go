/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lineup maps wall-clock time onto a channel's cyclic program lineup.
package lineup

import (
	"errors"
	"time"

	"github.com/friendsincode/vidar_tv/internal/models"
)

// ErrEmptyLineup indicates a channel with no scheduled slots.
var ErrEmptyLineup = errors.New("lineup has no programs")

// Resolved is the program airing at a point in time plus the elapsed offset
// within it. Derived, never persisted.
type Resolved struct {
	Program models.Program
	Elapsed time.Duration
	Index   int
}

// Total returns the summed duration of all slots in the lineup.
func Total(programs []models.Program) time.Duration {
	var total time.Duration
	for _, p := range programs {
		total += p.Duration
	}
	return total
}

// Resolve computes the currently airing slot for a channel at the given
// instant. Resolution is periodic: Resolve(t) == Resolve(t + Total(lineup)).
func Resolve(channel *models.Channel, programs []models.Program, at time.Time) (*Resolved, error) {
	if len(programs) == 0 {
		return nil, ErrEmptyLineup
	}

	total := Total(programs)
	if total <= 0 {
		// A single permanently-offline slot carries no duration; the channel
		// is simply off.
		return &Resolved{Program: programs[0], Elapsed: 0, Index: 0}, nil
	}

	elapsed := at.Sub(channel.StartTime) % total
	if elapsed < 0 {
		elapsed += total
	}

	var before time.Duration
	for i, p := range programs {
		if elapsed < before+p.Duration {
			return &Resolved{Program: p, Elapsed: elapsed - before, Index: i}, nil
		}
		before += p.Duration
	}

	// Unreachable given the modulo, kept as a guard against duration drift.
	last := len(programs) - 1
	return &Resolved{Program: programs[last], Elapsed: programs[last].Duration, Index: last}, nil
}
