/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/friendsincode/vidar_tv/internal/models"
)

// plexNegotiator direct-plays Plex library parts. Plex exposes the raw media
// file behind the part key, so no server-side transcode session is needed;
// the local transcoder handles seek and format.
type plexNegotiator struct {
	client *http.Client
}

func newPlexNegotiator(client *http.Client) *plexNegotiator {
	return &plexNegotiator{client: client}
}

type plexMediaContainer struct {
	Videos []struct {
		Title string `xml:"title,attr"`
		Media []struct {
			DurationMs int64  `xml:"duration,attr"`
			Container  string `xml:"container,attr"`
			VideoCodec string `xml:"videoCodec,attr"`
			AudioCodec string `xml:"audioCodec,attr"`
			Parts      []struct {
				Key        string `xml:"key,attr"`
				DurationMs int64  `xml:"duration,attr"`
			} `xml:"Part"`
		} `xml:"Media"`
	} `xml:"Video"`
}

func (n *plexNegotiator) GetStream(ctx context.Context, src *models.MediaSource, item models.PlayableItem) (*StreamInfo, error) {
	base := strings.TrimRight(src.URI, "/")
	url := fmt.Sprintf("%s/library/metadata/%s", base, item.ExternalKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Plex-Token", src.AccessToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plex metadata request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex returned status %d for key %s", resp.StatusCode, item.ExternalKey)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}

	var container plexMediaContainer
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, fmt.Errorf("parse plex metadata: %w", err)
	}
	if len(container.Videos) == 0 || len(container.Videos[0].Media) == 0 || len(container.Videos[0].Media[0].Parts) == 0 {
		return nil, fmt.Errorf("plex item %s has no playable parts", item.ExternalKey)
	}

	media := container.Videos[0].Media[0]
	part := media.Parts[0]

	duration := time.Duration(media.DurationMs) * time.Millisecond
	if part.DurationMs > 0 {
		duration = time.Duration(part.DurationMs) * time.Millisecond
	}

	return &StreamInfo{
		URL: base + part.Key,
		Details: models.StreamDetails{
			Container:  media.Container,
			VideoCodec: media.VideoCodec,
			AudioCodec: media.AudioCodec,
			Duration:   duration,
		},
		Duration: duration,
		Headers:  map[string]string{"X-Plex-Token": src.AccessToken},
	}, nil
}
