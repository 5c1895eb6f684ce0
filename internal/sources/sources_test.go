/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/vidar_tv/internal/models"
)

const plexMetadataXML = `<?xml version="1.0" encoding="UTF-8"?>
<MediaContainer size="1">
  <Video title="Movie Night">
    <Media duration="5400000" container="mkv" videoCodec="h264" audioCodec="aac">
      <Part key="/library/parts/123/file.mkv" duration="5400000"/>
    </Media>
  </Video>
</MediaContainer>`

func TestPlexNegotiatorDirectPlays(t *testing.T) {
	var gotToken, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Plex-Token")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(plexMetadataXML))
	}))
	defer srv.Close()

	n := newPlexNegotiator(srv.Client())
	src := &models.MediaSource{Type: models.SourcePlex, URI: srv.URL, AccessToken: "tok"}

	info, err := n.GetStream(context.Background(), src, models.PlayableItem{
		Kind:        models.ItemPlex,
		ExternalKey: "4711",
		Seek:        10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}

	if gotPath != "/library/metadata/4711" {
		t.Fatalf("unexpected metadata path: %s", gotPath)
	}
	if gotToken != "tok" {
		t.Fatalf("expected the plex token header, got %q", gotToken)
	}
	if info.URL != srv.URL+"/library/parts/123/file.mkv" {
		t.Fatalf("expected the direct part URL, got %s", info.URL)
	}
	if info.SeekHandled {
		t.Fatal("plex direct play leaves the seek to the local transcoder")
	}
	if info.Details.Duration != 90*time.Minute {
		t.Fatalf("unexpected duration: %s", info.Details.Duration)
	}
	if info.Details.VideoCodec != "h264" || info.Details.AudioCodec != "aac" {
		t.Fatalf("unexpected codecs: %+v", info.Details)
	}
	if info.Headers["X-Plex-Token"] != "tok" {
		t.Fatal("the transcoder must receive the plex token header")
	}
}

func TestPlexNegotiatorRejectsEmptyContainer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<MediaContainer size="0"></MediaContainer>`))
	}))
	defer srv.Close()

	n := newPlexNegotiator(srv.Client())
	src := &models.MediaSource{Type: models.SourcePlex, URI: srv.URL}

	if _, err := n.GetStream(context.Background(), src, models.PlayableItem{ExternalKey: "404"}); err == nil {
		t.Fatal("expected an error for an item with no parts")
	}
}

const jellyfinItemJSON = `{
  "Name": "Movie Night",
  "RunTimeTicks": 54000000000,
  "Container": "mkv",
  "MediaSources": [{
    "Container": "mkv",
    "MediaStreams": [
      {"Type": "Video", "Codec": "hevc"},
      {"Type": "Audio", "Codec": "ac3"}
    ]
  }]
}`

func TestJellyfinNegotiatorSeeksServerSide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jellyfinItemJSON))
	}))
	defer srv.Close()

	n := newJellyfinNegotiator(srv.Client())
	src := &models.MediaSource{Type: models.SourceJellyfin, URI: srv.URL, AccessToken: "key"}

	info, err := n.GetStream(context.Background(), src, models.PlayableItem{
		Kind:        models.ItemJellyfin,
		ExternalKey: "abc",
		Seek:        15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}

	if !info.SeekHandled {
		t.Fatal("a seeked jellyfin stream must mark the seek handled")
	}
	if !strings.Contains(info.URL, "/Videos/abc/stream.ts?") {
		t.Fatalf("unexpected stream URL: %s", info.URL)
	}
	wantTicks := "StartTimeTicks=9000000000"
	if !strings.Contains(info.URL, wantTicks) {
		t.Fatalf("expected %s in %s", wantTicks, info.URL)
	}
	if info.Details.Duration != 90*time.Minute {
		t.Fatalf("unexpected duration: %s", info.Details.Duration)
	}
	if info.Details.VideoCodec != "hevc" || info.Details.AudioCodec != "ac3" {
		t.Fatalf("unexpected codecs: %+v", info.Details)
	}
}

func TestJellyfinNegotiatorWithoutSeek(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(jellyfinItemJSON))
	}))
	defer srv.Close()

	n := newJellyfinNegotiator(srv.Client())
	src := &models.MediaSource{Type: models.SourceJellyfin, URI: srv.URL, AccessToken: "key"}

	info, err := n.GetStream(context.Background(), src, models.PlayableItem{ExternalKey: "abc"})
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}

	if info.SeekHandled {
		t.Fatal("no seek requested, none handled")
	}
	if strings.Contains(info.URL, "StartTimeTicks") {
		t.Fatalf("no StartTimeTicks expected in %s", info.URL)
	}
}

func TestNegotiatorForUnknownType(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())

	if _, err := r.NegotiatorFor(models.SourceType("vhs")); err == nil {
		t.Fatal("expected an error for an unknown source type")
	}
}
