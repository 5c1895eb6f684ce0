/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// playState tracks the subprocess lifecycle.
type playState string

const (
	stateIdle         playState = "idle"
	stateSpawning     playState = "spawning"
	stateStreaming    playState = "streaming"
	stateSubstituting playState = "substituting"
	stateEnded        playState = "ended"
)

// slateCeiling bounds how long a substituted error slate may run.
const slateCeiling = time.Minute

// proc is the subset of ffmpeg.Process the supervisor drives.
type proc interface {
	Output() io.Reader
	Done() <-chan error
	Kill()
}

// supervisor owns one live subprocess handle at a time, pumps its output
// into the sink without ever closing the sink, and swaps in an error slate
// when the subprocess fails so the sink keeps flowing.
type supervisor struct {
	transcoder Transcoder
	logger     zerolog.Logger
	events     chan Event

	mu         sync.Mutex
	state      playState
	current    proc
	terminated bool
	closed     bool
	degraded   bool
	startedAt  time.Time
	bound      time.Duration // original duration bound, zero = unbounded
	title      string
	onCleanup  []func()
}

func newSupervisor(transcoder Transcoder, logger zerolog.Logger) *supervisor {
	return &supervisor{
		transcoder: transcoder,
		logger:     logger,
		events:     make(chan Event, 8),
		state:      stateIdle,
	}
}

// begin installs the first subprocess and starts pumping it into the sink.
func (s *supervisor) begin(p proc, sink io.Writer, title string, bound time.Duration) <-chan Event {
	s.mu.Lock()
	s.state = stateStreaming
	s.current = p
	s.startedAt = time.Now()
	s.bound = bound
	s.title = title
	s.mu.Unlock()

	go s.pump(p, sink, true)
	return s.events
}

// pump copies subprocess output into the sink and reacts to its exit.
// allowSubstitute is false for the slate itself so a failing slate cannot
// recurse.
func (s *supervisor) pump(p proc, sink io.Writer, allowSubstitute bool) {
	_, copyErr := io.Copy(sink, p.Output())
	exitErr := <-p.Done()

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}

	if exitErr == nil {
		s.state = stateEnded
		s.current = nil
		s.mu.Unlock()
		s.emit(Event{Type: EventEnd})
		s.closeEvents()
		return
	}

	if copyErr != nil {
		s.logger.Debug().Err(copyErr).Msg("sink copy interrupted")
	}

	if !allowSubstitute {
		s.state = stateEnded
		s.current = nil
		s.mu.Unlock()
		s.emit(Event{Type: EventError, Err: exitErr})
		s.emit(Event{Type: EventEnd})
		s.closeEvents()
		return
	}

	s.state = stateSubstituting
	s.degraded = true
	remaining := s.slateBudget()
	title := s.title
	s.mu.Unlock()

	s.emit(Event{Type: EventError, Err: exitErr})
	s.logger.Warn().Err(exitErr).Msg("transcode failed, substituting error slate")

	slate, err := s.transcoder.SpawnErrorSlate(title, "Playback failed: "+exitErr.Error(), remaining)
	if err != nil {
		s.mu.Lock()
		s.state = stateEnded
		s.current = nil
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("error slate spawn failed")
		s.emit(Event{Type: EventEnd})
		s.closeEvents()
		return
	}

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		slate.Kill()
		return
	}
	s.state = stateStreaming
	s.current = slate
	s.mu.Unlock()

	s.pump(slate, sink, false)
}

// slateBudget is the remainder of the original bound, capped at the slate
// ceiling. Caller holds the lock.
func (s *supervisor) slateBudget() time.Duration {
	budget := slateCeiling
	if s.bound > 0 {
		remaining := s.bound - time.Since(s.startedAt)
		if remaining < budget {
			budget = remaining
		}
	}
	if budget < time.Second {
		budget = time.Second
	}
	return budget
}

// cleanup marks the player terminated, kills any live subprocess, and runs
// registered hooks. Safe to call repeatedly or concurrently with a pump.
func (s *supervisor) cleanup() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.state = stateEnded
	current := s.current
	s.current = nil
	hooks := s.onCleanup
	s.onCleanup = nil
	s.mu.Unlock()

	if current != nil {
		current.Kill()
	}
	for _, hook := range hooks {
		hook()
	}
	s.closeEvents()
}

// isDegraded reports whether playback fell back to the error slate.
func (s *supervisor) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// registerCleanup adds a hook run exactly once during cleanup.
func (s *supervisor) registerCleanup(fn func()) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		fn()
		return
	}
	s.onCleanup = append(s.onCleanup, fn)
	s.mu.Unlock()
}

// emit delivers an event without blocking a departed consumer. No-op once
// the channel has closed.
func (s *supervisor) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// closeEvents closes the event channel so ranging consumers exit. Every
// terminal path goes through here; safe to call more than once.
func (s *supervisor) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
