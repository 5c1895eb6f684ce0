/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/friendsincode/vidar_tv/internal/models"
)

// ticksPerSecond is Jellyfin's 100ns tick unit.
const ticksPerSecond = 10_000_000

// jellyfinNegotiator asks the Jellyfin server for a server-side seeked
// transcode session, unlike Plex direct play.
type jellyfinNegotiator struct {
	client *http.Client
}

func newJellyfinNegotiator(client *http.Client) *jellyfinNegotiator {
	return &jellyfinNegotiator{client: client}
}

type jellyfinItem struct {
	Name         string `json:"Name"`
	RunTimeTicks int64  `json:"RunTimeTicks"`
	Container    string `json:"Container"`
	MediaSources []struct {
		Container    string `json:"Container"`
		MediaStreams []struct {
			Type  string `json:"Type"`
			Codec string `json:"Codec"`
		} `json:"MediaStreams"`
	} `json:"MediaSources"`
}

func (n *jellyfinNegotiator) GetStream(ctx context.Context, src *models.MediaSource, item models.PlayableItem) (*StreamInfo, error) {
	base := strings.TrimRight(src.URI, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/Items/%s?api_key=%s", base, item.ExternalKey, url.QueryEscape(src.AccessToken)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jellyfin item request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jellyfin returned status %d for item %s", resp.StatusCode, item.ExternalKey)
	}

	var ji jellyfinItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(&ji); err != nil {
		return nil, fmt.Errorf("parse jellyfin item: %w", err)
	}

	details := models.StreamDetails{
		Container: ji.Container,
		Duration:  time.Duration(ji.RunTimeTicks/ticksPerSecond) * time.Second,
	}
	if len(ji.MediaSources) > 0 {
		if details.Container == "" {
			details.Container = ji.MediaSources[0].Container
		}
		for _, stream := range ji.MediaSources[0].MediaStreams {
			switch stream.Type {
			case "Video":
				details.VideoCodec = stream.Codec
			case "Audio":
				details.AudioCodec = stream.Codec
			}
		}
	}

	// The server performs the seek: StartTimeTicks shifts the transcode
	// session, so the local transcoder must not apply -ss again.
	params := url.Values{}
	params.Set("api_key", src.AccessToken)
	params.Set("Static", "false")
	params.Set("Container", "ts")
	params.Set("VideoCodec", "h264")
	params.Set("AudioCodec", "aac")
	if item.Seek > 0 {
		params.Set("StartTimeTicks", fmt.Sprintf("%d", item.Seek.Nanoseconds()/100))
	}

	return &StreamInfo{
		URL:         fmt.Sprintf("%s/Videos/%s/stream.ts?%s", base, item.ExternalKey, params.Encode()),
		Details:     details,
		Duration:    details.Duration,
		SeekHandled: item.Seek > 0,
	}, nil
}
