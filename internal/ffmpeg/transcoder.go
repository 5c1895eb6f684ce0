/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ffmpeg spawns and supervises ffmpeg subprocesses that emit MPEG-TS
// on stdout.
package ffmpeg

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/vidar_tv/internal/models"
)

// Process is a handle to one running transcode subprocess.
type Process interface {
	// Output is the MPEG-TS byte stream.
	Output() io.Reader
	// Done is closed after the subprocess exits; a non-nil receive means it
	// exited abnormally.
	Done() <-chan error
	// Kill terminates the subprocess. Idempotent.
	Kill()
}

// WatermarkOptions places an image overlay on the video.
type WatermarkOptions struct {
	URL      string
	Position string // top-left, top-right, bottom-left, bottom-right
}

// SpawnRequest describes one transcode run.
type SpawnRequest struct {
	URL       string
	Details   models.StreamDetails
	Seek      time.Duration
	Duration  time.Duration // zero lets the input run to its natural end
	AudioOnly bool
	Watermark *WatermarkOptions
	Headers   map[string]string
}

// Transcoder builds and launches ffmpeg commands.
type Transcoder struct {
	bin      string
	logLevel string
	logger   zerolog.Logger
}

// New creates a transcoder using the given ffmpeg binary.
func New(bin, logLevel string, logger zerolog.Logger) *Transcoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	if logLevel == "" {
		logLevel = "error"
	}
	return &Transcoder{
		bin:      bin,
		logLevel: logLevel,
		logger:   logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// Spawn launches an ffmpeg process streaming the request's source.
func (t *Transcoder) Spawn(req SpawnRequest) (Process, error) {
	return t.start(t.spawnArgs(req))
}

func (t *Transcoder) spawnArgs(req SpawnRequest) []string {
	args := []string{"-hide_banner", "-loglevel", t.logLevel, "-re"}

	if len(req.Headers) > 0 {
		args = append(args, "-headers", headerBlock(req.Headers))
	}
	if req.Seek > 0 {
		args = append(args, "-ss", formatSeconds(req.Seek))
	}
	args = append(args, "-i", req.URL)
	if req.Duration > 0 {
		args = append(args, "-t", formatSeconds(req.Duration))
	}

	if req.AudioOnly {
		args = append(args, "-vn", "-c:a", "aac")
	} else if req.Watermark != nil && req.Watermark.URL != "" {
		args = append(args,
			"-i", req.Watermark.URL,
			"-filter_complex", overlayFilter(req.Watermark.Position),
			"-c:v", "libx264", "-preset", "veryfast",
			"-c:a", "aac",
		)
	} else {
		// Copy when the container already carries TS-compatible codecs.
		args = append(args, "-c:v", "copy", "-c:a", "copy")
	}

	args = append(args, "-f", "mpegts", "pipe:1")
	return args
}

// SpawnErrorSlate renders a bounded error card with the given message.
func (t *Transcoder) SpawnErrorSlate(title, message string, d time.Duration) (Process, error) {
	if d <= 0 {
		d = time.Minute
	}

	text := sanitizeDrawtext(title)
	if message != "" {
		text += "\n" + sanitizeDrawtext(message)
	}

	args := []string{
		"-hide_banner", "-loglevel", t.logLevel, "-re",
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=1280x720:d=%s", formatSeconds(d)),
		"-f", "lavfi", "-i", fmt.Sprintf("anullsrc=r=48000:cl=stereo:d=%s", formatSeconds(d)),
		"-vf", fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=36:x=(w-text_w)/2:y=(h-text_h)/2", text),
		"-c:v", "libx264", "-preset", "veryfast",
		"-c:a", "aac",
		"-t", formatSeconds(d),
		"-f", "mpegts", "pipe:1",
	}
	return t.start(args)
}

// SpawnOfflineSlate renders channel filler for the given duration.
func (t *Transcoder) SpawnOfflineSlate(d time.Duration) (Process, error) {
	if d <= 0 {
		d = time.Minute
	}

	args := []string{
		"-hide_banner", "-loglevel", t.logLevel, "-re",
		"-f", "lavfi", "-i", fmt.Sprintf("smptebars=s=1280x720:d=%s", formatSeconds(d)),
		"-f", "lavfi", "-i", fmt.Sprintf("anullsrc=r=48000:cl=stereo:d=%s", formatSeconds(d)),
		"-c:v", "libx264", "-preset", "veryfast",
		"-c:a", "aac",
		"-t", formatSeconds(d),
		"-f", "mpegts", "pipe:1",
	}
	return t.start(args)
}

func (t *Transcoder) start(args []string) (Process, error) {
	cmd := exec.Command(t.bin, args...)
	cmd.Stderr = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	t.logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("ffmpeg spawned")

	p := &process{
		cmd:    cmd,
		stdout: stdout,
		done:   make(chan error, 1),
		logger: t.logger,
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			p.logger.Debug().Err(err).Int("pid", cmd.Process.Pid).Msg("ffmpeg exited")
		}
		p.done <- err
		close(p.done)
	}()

	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	done   chan error
	logger zerolog.Logger

	killOnce sync.Once
}

func (p *process) Output() io.Reader  { return p.stdout }
func (p *process) Done() <-chan error { return p.done }

// Kill interrupts the subprocess, escalating to SIGKILL if it does not exit
// within the grace period.
func (p *process) Kill() {
	p.killOnce.Do(func() {
		if p.cmd.Process == nil {
			return
		}
		_ = p.cmd.Process.Signal(os.Interrupt)

		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			_ = p.cmd.Process.Kill()
		}
	})
}

func headerBlock(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, headers[k])
	}
	return b.String()
}

func overlayFilter(position string) string {
	var xy string
	switch position {
	case "top-left":
		xy = "10:10"
	case "bottom-left":
		xy = "10:H-h-10"
	case "bottom-right":
		xy = "W-w-10:H-h-10"
	default:
		xy = "W-w-10:10"
	}
	return fmt.Sprintf("[0:v][1:v]overlay=%s", xy)
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func sanitizeDrawtext(s string) string {
	r := strings.NewReplacer(`'`, `\'`, `:`, `\:`, `\`, `\\`, `%`, `\%`)
	return r.Replace(s)
}
