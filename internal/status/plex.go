/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package status

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/vidar_tv/internal/models"
)

// PlexReporter posts playback position to the Plex timeline endpoint so the
// item shows as "now playing" on the server.
type PlexReporter struct {
	client *http.Client
	logger zerolog.Logger
}

// NewPlexReporter creates a timeline reporter.
func NewPlexReporter(logger zerolog.Logger) *PlexReporter {
	return &PlexReporter{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "plex_status").Logger(),
	}
}

// Report sends one timeline update for the item at the given position.
func (r *PlexReporter) Report(ctx context.Context, src *models.MediaSource, item models.PlayableItem, position time.Duration, state string) error {
	base := strings.TrimRight(src.URI, "/")

	params := url.Values{}
	params.Set("ratingKey", item.ExternalKey)
	params.Set("key", "/library/metadata/"+item.ExternalKey)
	params.Set("state", state)
	params.Set("time", fmt.Sprintf("%d", position.Milliseconds()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/:/timeline?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Plex-Token", src.AccessToken)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("plex timeline request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("plex timeline returned status %d", resp.StatusCode)
	}
	return nil
}
