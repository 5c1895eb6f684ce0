/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps the most recently resolved playable item per channel
// and timestamp, so overlapping requests and redirect unwinds reuse one
// decision instead of re-resolving.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/vidar_tv/internal/models"
)

const keyPrefix = "vidar:playback:"

// Config contains playback cache configuration. Redis is an optional
// best-effort mirror for sibling instances; the in-memory map is
// authoritative within the process.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MirrorTTL     time.Duration
}

// PlaybackCache records playout decisions keyed by (channel id, timestamp).
// Entries are never time-expired here; invalidation is caller-driven.
type PlaybackCache struct {
	logger zerolog.Logger
	config Config

	mu      sync.RWMutex
	entries map[string]models.PlayableItem

	client   *redis.Client
	disabled bool
}

// New creates a playback cache. When cfg.RedisAddr is empty or Redis is
// unreachable the cache runs memory-only.
func New(cfg Config, logger zerolog.Logger) *PlaybackCache {
	if cfg.MirrorTTL <= 0 {
		cfg.MirrorTTL = time.Hour
	}

	c := &PlaybackCache{
		logger:  logger.With().Str("component", "playback_cache").Logger(),
		config:  cfg,
		entries: make(map[string]models.PlayableItem),
	}

	if cfg.RedisAddr == "" {
		c.disabled = true
		return c
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis unavailable, playback cache running memory-only")
		c.disabled = true
		return c
	}

	c.logger.Info().Str("addr", cfg.RedisAddr).Msg("playback cache mirror initialized")
	c.client = client
	return c
}

// Close releases the Redis connection if one was established.
func (c *PlaybackCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func key(channelID string, at time.Time) string {
	return fmt.Sprintf("%s%s@%d", keyPrefix, channelID, at.UnixMilli())
}

// Get returns the recorded decision for the exact channel and timestamp.
func (c *PlaybackCache) Get(channelID string, at time.Time) (models.PlayableItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.entries[key(channelID, at)]
	return item, ok
}

// Put records a decision. Last write wins; concurrent writers for the same
// key are producing the same pure-functional result.
func (c *PlaybackCache) Put(ctx context.Context, channelID string, at time.Time, item models.PlayableItem) {
	k := key(channelID, at)

	c.mu.Lock()
	c.entries[k] = item
	c.mu.Unlock()

	c.mirror(ctx, k, item)
}

// Clear drops every recorded decision for a channel, typically after a
// schedule edit.
func (c *PlaybackCache) Clear(channelID string) {
	prefix := keyPrefix + channelID + "@"

	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *PlaybackCache) mirror(ctx context.Context, k string, item models.PlayableItem) {
	if c.disabled || c.client == nil {
		return
	}

	data, err := json.Marshal(item)
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, k, data, c.config.MirrorTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("playback cache mirror write failed")
		c.disabled = true
		c.logger.Warn().Msg("disabling playback cache mirror after Redis error")
	}
}
