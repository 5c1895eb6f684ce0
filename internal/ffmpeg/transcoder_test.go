/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ffmpeg

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testTranscoder() *Transcoder {
	return New("ffmpeg", "error", zerolog.Nop())
}

func argsContain(args []string, sub ...string) bool {
	joined := " " + strings.Join(args, " ") + " "
	return strings.Contains(joined, " "+strings.Join(sub, " ")+" ")
}

func TestSpawnArgsCopyByDefault(t *testing.T) {
	args := testTranscoder().spawnArgs(SpawnRequest{
		URL:      "/media/movie.mkv",
		Seek:     90 * time.Second,
		Duration: 30 * time.Minute,
	})

	if !argsContain(args, "-ss", "90.000") {
		t.Fatalf("missing seek: %v", args)
	}
	if !argsContain(args, "-i", "/media/movie.mkv") {
		t.Fatalf("missing input: %v", args)
	}
	if !argsContain(args, "-t", "1800.000") {
		t.Fatalf("missing duration cap: %v", args)
	}
	if !argsContain(args, "-c:v", "copy") {
		t.Fatalf("expected codec copy: %v", args)
	}
	if !argsContain(args, "-f", "mpegts", "pipe:1") {
		t.Fatalf("output must be mpegts on stdout: %v", args)
	}
}

func TestSpawnArgsOmitSeekAndCapWhenZero(t *testing.T) {
	args := testTranscoder().spawnArgs(SpawnRequest{URL: "/media/movie.mkv"})

	for _, flag := range []string{"-ss", "-t"} {
		for _, a := range args {
			if a == flag {
				t.Fatalf("unexpected %s in %v", flag, args)
			}
		}
	}
}

func TestSpawnArgsAudioOnly(t *testing.T) {
	args := testTranscoder().spawnArgs(SpawnRequest{URL: "/media/movie.mkv", AudioOnly: true})

	if !argsContain(args, "-vn", "-c:a", "aac") {
		t.Fatalf("audio-only must drop video: %v", args)
	}
}

func TestSpawnArgsWatermarkForcesTranscode(t *testing.T) {
	args := testTranscoder().spawnArgs(SpawnRequest{
		URL:       "/media/movie.mkv",
		Watermark: &WatermarkOptions{URL: "/media/logo.png", Position: "bottom-right"},
	})

	if !argsContain(args, "-i", "/media/logo.png") {
		t.Fatalf("missing watermark input: %v", args)
	}
	if !argsContain(args, "-filter_complex", "[0:v][1:v]overlay=W-w-10:H-h-10") {
		t.Fatalf("missing overlay filter: %v", args)
	}
	if !argsContain(args, "-c:v", "libx264") {
		t.Fatalf("an overlay cannot stream copy: %v", args)
	}
}

func TestSpawnArgsHeaders(t *testing.T) {
	args := testTranscoder().spawnArgs(SpawnRequest{
		URL: "http://plex/part",
		Headers: map[string]string{
			"X-Plex-Token": "tok",
			"Accept":       "video/*",
		},
	})

	var block string
	for i, a := range args {
		if a == "-headers" && i+1 < len(args) {
			block = args[i+1]
		}
	}
	// Keys are sorted so the command line is deterministic.
	if block != "Accept: video/*\r\nX-Plex-Token: tok\r\n" {
		t.Fatalf("unexpected header block: %q", block)
	}
}

func TestHeaderOrderIsDeterministic(t *testing.T) {
	headers := map[string]string{"B": "2", "A": "1", "C": "3"}

	first := headerBlock(headers)
	for i := 0; i < 10; i++ {
		if headerBlock(headers) != first {
			t.Fatal("header block order must be stable")
		}
	}
	if !strings.HasPrefix(first, "A: 1\r\n") {
		t.Fatalf("expected sorted keys, got %q", first)
	}
}

func TestSanitizeDrawtext(t *testing.T) {
	got := sanitizeDrawtext("it's 100%: done")
	if strings.Contains(got, "'") && !strings.Contains(got, `\'`) {
		t.Fatalf("quotes must be escaped: %q", got)
	}
	if !strings.Contains(got, `\%`) {
		t.Fatalf("percent must be escaped: %q", got)
	}
	if !strings.Contains(got, `\:`) {
		t.Fatalf("colon must be escaped: %q", got)
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(90*time.Second + 500*time.Millisecond); got != "90.500" {
		t.Fatalf("got %q", got)
	}
	if got := formatSeconds(0); got != "0.000" {
		t.Fatalf("got %q", got)
	}
}
