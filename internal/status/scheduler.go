/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package status runs periodic "now playing" reporter tasks against backends
// that track playback position.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler owns the reporter tasks keyed by id. One task per playing stream.
type Scheduler struct {
	logger zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates an empty task scheduler.
func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "status").Logger(),
		tasks:  make(map[string]*task),
	}
}

// Schedule starts a periodic task. The function runs immediately with
// first=true, then every interval with first=false, until Stop. Scheduling an
// id twice replaces the previous task.
func (s *Scheduler) Schedule(id string, interval time.Duration, fn func(ctx context.Context, first bool)) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.tasks[id]; ok {
		prev.cancel()
	}
	s.tasks[id] = t
	s.mu.Unlock()

	go func() {
		defer close(t.done)

		fn(ctx, true)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx, false)
			}
		}
	}()

	s.logger.Debug().Str("task", id).Dur("interval", interval).Msg("reporter task scheduled")
}

// Stop cancels a task and waits for its loop to exit. Stopping an unknown or
// already-stopped id is a no-op.
func (s *Scheduler) Stop(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	t.cancel()
	<-t.done
	s.logger.Debug().Str("task", id).Msg("reporter task stopped")
}

// StopAll cancels every task, used at shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
		<-t.done
	}
}
