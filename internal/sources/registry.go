/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sources resolves external media backend connections and negotiates
// playable stream URLs from them.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/vidar_tv/internal/models"
)

// ErrSourceNotFound indicates the named backend is not registered.
var ErrSourceNotFound = errors.New("media source not found")

// StreamInfo is the result of negotiating playback with a backend.
type StreamInfo struct {
	URL      string
	Details  models.StreamDetails
	Duration time.Duration     // zero when the backend did not report one
	Headers  map[string]string // auth headers the transcoder must send

	// SeekHandled is set when the backend already applied the seek offset
	// server-side, so the transcoder must not seek again.
	SeekHandled bool
}

// Negotiator requests a direct or transcoded stream for a playable item from
// one backend type.
type Negotiator interface {
	GetStream(ctx context.Context, src *models.MediaSource, item models.PlayableItem) (*StreamInfo, error)
}

// Registry looks up media source connection settings and the negotiator for
// each backend type.
type Registry struct {
	db     *gorm.DB
	logger zerolog.Logger

	plex     Negotiator
	jellyfin Negotiator
}

// NewRegistry creates a registry backed by the persisted MediaSource table.
func NewRegistry(db *gorm.DB, logger zerolog.Logger) *Registry {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	return &Registry{
		db:       db,
		logger:   logger.With().Str("component", "sources").Logger(),
		plex:     newPlexNegotiator(httpClient),
		jellyfin: newJellyfinNegotiator(httpClient),
	}
}

// FindSource returns connection settings for a backend by type and name.
func (r *Registry) FindSource(ctx context.Context, typ models.SourceType, name string) (*models.MediaSource, error) {
	var src models.MediaSource
	err := r.db.WithContext(ctx).
		Where("type = ? AND name = ? AND enabled = ?", typ, name, true).
		First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrSourceNotFound, typ, name)
	}
	if err != nil {
		return nil, fmt.Errorf("query media source: %w", err)
	}
	return &src, nil
}

// NegotiatorFor selects the backend negotiator for a source type.
func (r *Registry) NegotiatorFor(typ models.SourceType) (Negotiator, error) {
	switch typ {
	case models.SourcePlex:
		return r.plex, nil
	case models.SourceJellyfin:
		return r.jellyfin, nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", typ)
	}
}
