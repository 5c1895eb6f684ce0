/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/vidar_tv/internal/ffmpeg"
	"github.com/friendsincode/vidar_tv/internal/models"
	"github.com/friendsincode/vidar_tv/internal/sources"
)

// fakeProcess feeds canned output and exits with the configured error.
type fakeProcess struct {
	output  string
	exitErr error

	mu     sync.Mutex
	killed int
	done   chan error
}

func newFakeProcess(output string, exitErr error) *fakeProcess {
	done := make(chan error, 1)
	done <- exitErr
	return &fakeProcess{output: output, exitErr: exitErr, done: done}
}

func (p *fakeProcess) Output() io.Reader { return strings.NewReader(p.output) }

func (p *fakeProcess) Done() <-chan error { return p.done }

func (p *fakeProcess) Kill() {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()

	select {
	case p.done <- errors.New("killed"):
	default:
	}
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeTranscoder hands out queued processes and records spawn requests.
type fakeTranscoder struct {
	mu          sync.Mutex
	spawned     []ffmpeg.SpawnRequest
	slateTitles []string
	slateErrs   []string
	queue       []*fakeProcess
	spawnErr    error
	slateErr    error
}

func (t *fakeTranscoder) next() *fakeProcess {
	if len(t.queue) == 0 {
		return newFakeProcess("", nil)
	}
	p := t.queue[0]
	t.queue = t.queue[1:]
	return p
}

func (t *fakeTranscoder) Spawn(req ffmpeg.SpawnRequest) (ffmpeg.Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.spawnErr != nil {
		return nil, t.spawnErr
	}
	t.spawned = append(t.spawned, req)
	return t.next(), nil
}

func (t *fakeTranscoder) SpawnErrorSlate(title, message string, d time.Duration) (ffmpeg.Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slateErr != nil {
		return nil, t.slateErr
	}
	t.slateTitles = append(t.slateTitles, title)
	t.slateErrs = append(t.slateErrs, message)
	return t.next(), nil
}

func (t *fakeTranscoder) SpawnOfflineSlate(d time.Duration) (ffmpeg.Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next(), nil
}

func (t *fakeTranscoder) slateCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slateTitles)
}

// fakeRegistry serves one canned source and negotiator.
type fakeRegistry struct {
	src        *models.MediaSource
	findErr    error
	negotiator sources.Negotiator
}

func (r *fakeRegistry) FindSource(ctx context.Context, typ models.SourceType, name string) (*models.MediaSource, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.src, nil
}

func (r *fakeRegistry) NegotiatorFor(typ models.SourceType) (sources.Negotiator, error) {
	return r.negotiator, nil
}

type fakeNegotiator struct {
	info sources.StreamInfo
	err  error
}

func (n *fakeNegotiator) GetStream(ctx context.Context, src *models.MediaSource, item models.PlayableItem) (*sources.StreamInfo, error) {
	if n.err != nil {
		return nil, n.err
	}
	info := n.info
	return &info, nil
}

// fakeReporter records every now-playing report it receives.
type fakeReporter struct {
	mu        sync.Mutex
	states    []string
	positions []time.Duration
}

func (r *fakeReporter) Report(ctx context.Context, src *models.MediaSource, item models.PlayableItem, position time.Duration, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	r.positions = append(r.positions, position)
	return nil
}

func (r *fakeReporter) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func testDeps(t *fakeTranscoder) Deps {
	return Deps{
		Transcoder: t,
		Logger:     zerolog.Nop(),
		Slack:      700 * time.Millisecond,
	}
}

func waitEvent(t *testing.T, evs <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-evs:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestFilePlayerStreamsToSink(t *testing.T) {
	trans := &fakeTranscoder{queue: []*fakeProcess{newFakeProcess("tsdata", nil)}}
	plr, err := New(testDeps(trans), models.PlayableItem{
		Kind:     models.ItemFile,
		Title:    "Movie",
		FilePath: "/media/movie.mkv",
		Seek:     5 * time.Minute,
		Duration: 20 * time.Minute,
	})
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	defer plr.Cleanup()

	var sink safeBuffer
	evs, err := plr.Play(context.Background(), &sink)
	if err != nil {
		t.Fatalf("play: %v", err)
	}

	waitEvent(t, evs, EventEnd)

	if sink.String() != "tsdata" {
		t.Fatalf("sink got %q", sink.String())
	}
	if len(trans.spawned) != 1 {
		t.Fatalf("expected one spawn, got %d", len(trans.spawned))
	}
	req := trans.spawned[0]
	if req.URL != "/media/movie.mkv" || req.Seek != 5*time.Minute || req.Duration != 20*time.Minute {
		t.Fatalf("unexpected spawn request: %+v", req)
	}
}

func TestFilePlayerRequiresPath(t *testing.T) {
	trans := &fakeTranscoder{}
	plr, _ := New(testDeps(trans), models.PlayableItem{Kind: models.ItemFile})

	if _, err := plr.Play(context.Background(), &safeBuffer{}); err == nil {
		t.Fatal("expected an error for a file item with no path")
	}
}

func TestSupervisorSubstitutesErrorSlate(t *testing.T) {
	failing := newFakeProcess("first", errors.New("transcoder crashed"))
	slate := newFakeProcess("slate", nil)
	trans := &fakeTranscoder{queue: []*fakeProcess{failing, slate}}

	plr, _ := New(testDeps(trans), models.PlayableItem{
		Kind:     models.ItemFile,
		Title:    "Movie",
		FilePath: "/media/movie.mkv",
		Duration: 30 * time.Minute,
	})
	defer plr.Cleanup()

	var sink safeBuffer
	evs, err := plr.Play(context.Background(), &sink)
	if err != nil {
		t.Fatalf("play: %v", err)
	}

	errEv := waitEvent(t, evs, EventError)
	if errEv.Err == nil || !strings.Contains(errEv.Err.Error(), "transcoder crashed") {
		t.Fatalf("unexpected error event: %v", errEv.Err)
	}
	waitEvent(t, evs, EventEnd)

	if got := sink.String(); got != "firstslate" {
		t.Fatalf("sink must receive both payloads on the same writer, got %q", got)
	}
	if trans.slateCount() != 1 {
		t.Fatalf("expected one slate spawn, got %d", trans.slateCount())
	}
	if !strings.Contains(trans.slateErrs[0], "transcoder crashed") {
		t.Fatalf("slate message must carry the cause, got %q", trans.slateErrs[0])
	}
}

func TestFailingSlateDoesNotRecurse(t *testing.T) {
	failing := newFakeProcess("", errors.New("crash one"))
	badSlate := newFakeProcess("", errors.New("crash two"))
	trans := &fakeTranscoder{queue: []*fakeProcess{failing, badSlate}}

	plr, _ := New(testDeps(trans), models.PlayableItem{
		Kind:     models.ItemFile,
		FilePath: "/media/movie.mkv",
	})
	defer plr.Cleanup()

	evs, err := plr.Play(context.Background(), &safeBuffer{})
	if err != nil {
		t.Fatalf("play: %v", err)
	}

	waitEvent(t, evs, EventEnd)

	if trans.slateCount() != 1 {
		t.Fatalf("a failing slate must not spawn another slate, got %d spawns", trans.slateCount())
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	// The process never exits on its own so the supervisor still owns it at
	// cleanup time.
	longRunning := &fakeProcess{output: "", done: make(chan error, 1)}
	trans := &fakeTranscoder{queue: []*fakeProcess{longRunning}}

	plr, _ := New(testDeps(trans), models.PlayableItem{
		Kind:     models.ItemFile,
		FilePath: "/media/movie.mkv",
	})

	if _, err := plr.Play(context.Background(), &safeBuffer{}); err != nil {
		t.Fatalf("play: %v", err)
	}

	plr.Cleanup()
	plr.Cleanup()

	if longRunning.killCount() != 1 {
		t.Fatalf("expected exactly one kill, got %d", longRunning.killCount())
	}
}

func TestCleanupReleasesEventConsumer(t *testing.T) {
	// The process never exits on its own, so without cleanup the event
	// channel would stay open forever.
	longRunning := &fakeProcess{output: "", done: make(chan error, 1)}
	trans := &fakeTranscoder{queue: []*fakeProcess{longRunning}}

	plr, _ := New(testDeps(trans), models.PlayableItem{
		Kind:     models.ItemFile,
		FilePath: "/media/movie.mkv",
	})

	evs, err := plr.Play(context.Background(), &safeBuffer{})
	if err != nil {
		t.Fatalf("play: %v", err)
	}

	consumerDone := make(chan struct{})
	go func() {
		for range evs {
		}
		close(consumerDone)
	}()

	plr.Cleanup()

	select {
	case <-consumerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup must close the event channel so a ranging consumer exits")
	}
}

func TestNaturalEndClosesEventChannel(t *testing.T) {
	trans := &fakeTranscoder{queue: []*fakeProcess{newFakeProcess("tsdata", nil)}}

	plr, _ := New(testDeps(trans), models.PlayableItem{
		Kind:     models.ItemFile,
		FilePath: "/media/movie.mkv",
	})
	defer plr.Cleanup()

	evs, err := plr.Play(context.Background(), &safeBuffer{})
	if err != nil {
		t.Fatalf("play: %v", err)
	}

	waitEvent(t, evs, EventEnd)

	select {
	case _, open := <-evs:
		if open {
			t.Fatal("no events may follow the end of playback")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("the event channel must close after playback ends")
	}
}

func TestCleanupRunsHooksOnce(t *testing.T) {
	sup := newSupervisor(&fakeTranscoder{}, zerolog.Nop())

	var calls int
	sup.registerCleanup(func() { calls++ })

	sup.cleanup()
	sup.cleanup()

	if calls != 1 {
		t.Fatalf("cleanup hook ran %d times", calls)
	}
}

func TestRegisterCleanupAfterTerminationRunsImmediately(t *testing.T) {
	sup := newSupervisor(&fakeTranscoder{}, zerolog.Nop())
	sup.cleanup()

	var calls int
	sup.registerCleanup(func() { calls++ })

	if calls != 1 {
		t.Fatalf("late hook must run immediately, ran %d times", calls)
	}
}

func TestNowPlayingStopsAfterSlateSubstitution(t *testing.T) {
	// Only the slate spawn goes through the transcoder; the failing content
	// process is handed to the supervisor directly.
	liveSlate := &fakeProcess{output: "", done: make(chan error, 1)}
	trans := &fakeTranscoder{queue: []*fakeProcess{liveSlate}}
	sup := newSupervisor(trans, zerolog.Nop())
	defer sup.cleanup()

	reporter := &fakeReporter{}
	task := &nowPlayingTask{
		sup:          sup,
		reporter:     reporter,
		logger:       zerolog.Nop(),
		item:         models.PlayableItem{Kind: models.ItemPlex, Seek: 5 * time.Minute},
		started:      time.Now(),
		lastPosition: 5 * time.Minute,
	}

	task.run(context.Background(), true)

	failing := newFakeProcess("", errors.New("transcoder crashed"))
	evs := sup.begin(failing, &safeBuffer{}, "Movie", 30*time.Minute)
	waitEvent(t, evs, EventError)

	task.run(context.Background(), false)
	task.run(context.Background(), false)

	got := reporter.recorded()
	want := []string{"playing", "stopped"}
	if len(got) != len(want) {
		t.Fatalf("expected reports %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected reports %v, got %v", want, got)
		}
	}
	if reporter.positions[1] != 5*time.Minute {
		t.Fatalf("the stop report must carry the last known position, got %s", reporter.positions[1])
	}
}

func TestContentPlayerSkipsLocalSeekWhenBackendSeeks(t *testing.T) {
	trans := &fakeTranscoder{queue: []*fakeProcess{newFakeProcess("", nil)}}
	deps := testDeps(trans)
	deps.Sources = &fakeRegistry{
		src: &models.MediaSource{Type: models.SourceJellyfin, Name: "jf"},
		negotiator: &fakeNegotiator{info: sources.StreamInfo{
			URL:         "http://jf/stream.ts",
			SeekHandled: true,
		}},
	}

	plr, _ := New(deps, models.PlayableItem{
		Kind:       models.ItemJellyfin,
		SourceType: models.SourceJellyfin,
		SourceName: "jf",
		Seek:       10 * time.Minute,
		Duration:   30 * time.Minute,
	})
	defer plr.Cleanup()

	evs, err := plr.Play(context.Background(), &safeBuffer{})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	waitEvent(t, evs, EventEnd)

	if trans.spawned[0].Seek != 0 {
		t.Fatalf("transcoder must not seek again when the backend already did, got %s", trans.spawned[0].Seek)
	}
}

func TestContentPlayerFailsFastOnMissingSource(t *testing.T) {
	trans := &fakeTranscoder{}
	deps := testDeps(trans)
	deps.Sources = &fakeRegistry{findErr: sources.ErrSourceNotFound}

	plr, _ := New(deps, models.PlayableItem{
		Kind:       models.ItemPlex,
		SourceType: models.SourcePlex,
		SourceName: "plex",
	})

	if _, err := plr.Play(context.Background(), &safeBuffer{}); !errors.Is(err, sources.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	if len(trans.spawned) != 0 {
		t.Fatal("no subprocess may spawn when the source is missing")
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New(testDeps(&fakeTranscoder{}), models.PlayableItem{Kind: "vhs"}); err == nil {
		t.Fatal("expected an error for an unknown item kind")
	}
}

func TestEffectiveDuration(t *testing.T) {
	slack := 700 * time.Millisecond

	// Cap lands within slack of the natural end: run to natural end.
	if got := effectiveDuration(10*time.Minute, 20*time.Minute, 30*time.Minute, slack); got != 0 {
		t.Fatalf("expected unbounded, got %s", got)
	}

	// Cap ends well before the natural end: keep it.
	if got := effectiveDuration(0, 20*time.Minute, 60*time.Minute, slack); got != 20*time.Minute {
		t.Fatalf("expected 20m, got %s", got)
	}

	// No cap requested.
	if got := effectiveDuration(5*time.Minute, 0, 60*time.Minute, slack); got != 0 {
		t.Fatalf("expected unbounded, got %s", got)
	}

	// Unknown natural length: keep the cap.
	if got := effectiveDuration(0, 20*time.Minute, 0, slack); got != 20*time.Minute {
		t.Fatalf("expected 20m, got %s", got)
	}
}

// safeBuffer is a bytes.Buffer safe for cross-goroutine use.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
