/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package throttle suppresses real playback attempts for sessions that keep
// failing, so an unreachable backend is not hammered on every retune.
package throttle

import (
	"sync"
	"time"

	"github.com/friendsincode/vidar_tv/internal/models"
)

// DefaultSession buckets attempts from callers that supply no session id.
const DefaultSession = "default"

// Guard tracks recent failed playback starts per session.
type Guard struct {
	threshold int
	window    time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures map[string][]time.Time
}

// New creates a guard that trips once threshold failures land inside the
// sliding window.
func New(threshold int, window time.Duration) *Guard {
	return &Guard{
		threshold: threshold,
		window:    window,
		now:       time.Now,
		failures:  make(map[string][]time.Time),
	}
}

// Check records the item if it resolved to an error and reports whether the
// session has exceeded the failure threshold within the window.
func (g *Guard) Check(sessionID string, item models.PlayableItem) bool {
	if sessionID == "" {
		sessionID = DefaultSession
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	recent := g.prune(sessionID)
	if item.IsError() {
		recent = append(recent, g.now())
		g.failures[sessionID] = recent
	}

	return len(recent) >= g.threshold
}

// RecordFailure counts a failure that happened after resolution, such as a
// subprocess spawn error.
func (g *Guard) RecordFailure(sessionID string) {
	if sessionID == "" {
		sessionID = DefaultSession
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[sessionID] = append(g.prune(sessionID), g.now())
}

// Reset clears the window for a session after a successful playback start.
func (g *Guard) Reset(sessionID string) {
	if sessionID == "" {
		sessionID = DefaultSession
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, sessionID)
}

// prune drops attempts that slid out of the window. Caller holds the lock.
func (g *Guard) prune(sessionID string) []time.Time {
	cutoff := g.now().Add(-g.window)
	recent := g.failures[sessionID][:0:len(g.failures[sessionID])]
	for _, at := range g.failures[sessionID] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) == 0 {
		delete(g.failures, sessionID)
		return nil
	}
	g.failures[sessionID] = recent
	return recent
}
