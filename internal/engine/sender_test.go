package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/tsfeed/internal/media"
	"github.com/zsiec/tsfeed/internal/tsbuild"
)

// recordingSink captures every delivered frame.
type recordingSink struct {
	mu     sync.Mutex
	frames []*media.Frame
}

func (s *recordingSink) Send(f *media.Frame, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) tags() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.frames))
	for i, f := range s.frames {
		out[i] = tag(f)
	}
	return out
}

func TestSenderExitCommand(t *testing.T) {
	t.Parallel()

	clip := writeClip(t, t.TempDir(), "a.ts", 0x10)
	m := newTestManager(t)
	if err := m.Initialize(context.Background(), clip); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	q := NewQueue(4, nil)
	s := NewSender(m, q, media.NullSink{}, 1000, nil, nil)
	q.Push(Command{Type: CommandExit})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop on exit command")
	}
}

func TestSenderDeliversFramesAtCadence(t *testing.T) {
	t.Parallel()

	clip := writeClip(t, t.TempDir(), "a.ts", 0x10)
	m := newTestManager(t)
	if err := m.Initialize(context.Background(), clip); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	sink := &recordingSink{}
	q := NewQueue(4, nil)
	s := NewSender(m, q, sink, 1000, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := sink.tags()
	if len(got) < 4 {
		t.Fatalf("delivered %d frames, want at least 4", len(got))
	}
	if s.FramesSent() != int64(len(got)) {
		t.Errorf("FramesSent = %d, sink saw %d", s.FramesSent(), len(got))
	}
	// The single-file source loops its two units in order.
	for i, w := range got {
		want := byte(0x10)
		if i%2 == 1 {
			want = 0x11
		}
		if w != want {
			t.Fatalf("frame %d: tag = 0x%02X, want 0x%02X", i, w, want)
		}
	}
}

func TestSenderSwitchCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clipA := writeClip(t, dir, "a.ts", 0x10)
	clipB := writeClip(t, dir, "b.ts", 0x50)

	m := newTestManager(t)
	if err := m.Initialize(context.Background(), clipA); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	sink := &recordingSink{}
	q := NewQueue(4, nil)
	s := NewSender(m, q, sink, 1000, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	q.Push(Command{Type: CommandSwitchVideo, Source: clipB})

	deadline := time.After(2 * time.Second)
	for m.CurrentSource() != clipB {
		select {
		case <-deadline:
			t.Fatal("switch never applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Let a few post-switch frames flow, then stop.
	time.Sleep(20 * time.Millisecond)
	q.Push(Command{Type: CommandExit})
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := sink.tags()
	sawB := false
	for i, w := range got {
		if w == 0x50 || w == 0x51 {
			sawB = true
		} else if sawB {
			t.Fatalf("frame %d: old-source tag 0x%02X after switch", i, w)
		}
	}
	if !sawB {
		t.Fatal("no frames from the new source were delivered")
	}
}

func TestSenderPreloadFailureKeepsSending(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clipA := writeClip(t, dir, "a.ts", 0x10)

	m := newTestManager(t)
	if err := m.Initialize(context.Background(), clipA); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	sink := &recordingSink{}
	q := NewQueue(4, nil)
	s := NewSender(m, q, sink, 1000, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	q.Push(Command{Type: CommandSwitchVideo, Source: dir + "/missing.m3u8"})

	time.Sleep(50 * time.Millisecond)
	q.Push(Command{Type: CommandExit})
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if m.CurrentSource() != clipA {
		t.Errorf("CurrentSource = %q, want %q", m.CurrentSource(), clipA)
	}
	for i, w := range sink.tags() {
		if w != 0x10 && w != 0x11 {
			t.Fatalf("frame %d: unexpected tag 0x%02X", i, w)
		}
	}
	if len(sink.tags()) == 0 {
		t.Fatal("sending stopped after failed preload")
	}
}

func TestSenderOverlappingSwitches(t *testing.T) {
	t.Parallel()

	clipA := writeClip(t, t.TempDir(), "a.ts", 0x10)
	clipB := tsbuild.Source(0x0101, [][]byte{
		tsbuild.AccessUnit(true, 0x50, 300),
		tsbuild.AccessUnit(false, 0x51, 300),
	})

	// The first switch target fails after a short delay; the second
	// resolves successfully, but only after the first has already failed.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/vba/missing.ts":
			time.Sleep(50 * time.Millisecond)
			http.Error(w, "broken upstream", http.StatusInternalServerError)
		case "/vba/b.ts":
			time.Sleep(150 * time.Millisecond)
			w.Write(clipB)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := newTestManager(t)
	if err := m.Initialize(context.Background(), clipA); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	sink := &recordingSink{}
	q := NewQueue(4, nil)
	s := NewSender(m, q, sink, 1000, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	newSource := srv.URL + "/vba/b.ts"
	q.Push(Command{Type: CommandSwitchVideo, Source: srv.URL + "/vba/missing.ts"})
	q.Push(Command{Type: CommandSwitchVideo, Source: newSource})

	// The second switch must still be applied once its preload lands,
	// even though the first one failed while it was in flight.
	deadline := time.After(5 * time.Second)
	for m.CurrentSource() != newSource {
		select {
		case <-deadline:
			t.Fatal("surviving switch was never applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	q.Push(Command{Type: CommandExit})
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != "sending" {
		t.Errorf("State = %q after applied switch, want sending", s.State())
	}

	sawB := false
	for _, w := range sink.tags() {
		if w == 0x50 || w == 0x51 {
			sawB = true
		}
	}
	if !sawB {
		t.Fatal("no frames from the new source were delivered")
	}
}

func TestSenderDroppedPendingReturnsToSending(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clipA := writeClip(t, dir, "a.ts", 0x10)
	// Preload succeeds (the document parses) but the switch must be
	// dropped: the only segment is not a transport stream.
	if err := os.WriteFile(filepath.Join(dir, "bad.ts"), make([]byte, 512), 0o644); err != nil {
		t.Fatal(err)
	}
	docBad := writePlaylist(t, dir, "bad.m3u8", "bad.ts")

	m := newTestManager(t)
	if err := m.Initialize(context.Background(), clipA); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	q := NewQueue(4, nil)
	s := NewSender(m, q, media.NullSink{}, 1000, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	q.Push(Command{Type: CommandSwitchVideo, Source: docBad})

	// Once the unusable pending source is consumed and dropped, the
	// loop must settle back into steady sending.
	time.Sleep(200 * time.Millisecond)
	if s.State() != "sending" {
		t.Errorf("State = %q after dropped switch, want sending", s.State())
	}
	if m.CurrentSource() != clipA {
		t.Errorf("CurrentSource = %q, want %q", m.CurrentSource(), clipA)
	}

	q.Push(Command{Type: CommandExit})
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSenderContextCancel(t *testing.T) {
	t.Parallel()

	clip := writeClip(t, t.TempDir(), "a.ts", 0x10)
	m := newTestManager(t)
	if err := m.Initialize(context.Background(), clip); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	q := NewQueue(4, nil)
	s := NewSender(m, q, media.NullSink{}, 30, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop on context cancellation")
	}
}
