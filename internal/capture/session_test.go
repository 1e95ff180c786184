package capture

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AndrewMead10/discord-call-transcriber/internal/call"
)

// fakeHandle is an in-memory call platform for testing. Events pushed via
// emit are fanned out to registered listeners; audio pushed via pushAudio
// is delivered to the participant's subscriber, if any.
type fakeHandle struct {
	mu        sync.Mutex
	listeners map[int]func(call.Event)
	nextID    int
	subs      map[string]func([]byte)
	left      bool
	leaveErr  error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		listeners: make(map[int]func(call.Event)),
		subs:      make(map[string]func([]byte)),
	}
}

func (f *fakeHandle) Notify(fn func(call.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeHandle) Subscribe(participant string, fn func([]byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[participant] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, participant)
	}, nil
}

func (f *fakeHandle) Leave(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = true
	return f.leaveErr
}

func (f *fakeHandle) emit(ev call.Event) {
	f.mu.Lock()
	fns := make([]func(call.Event), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeHandle) pushAudio(participant string, data []byte) bool {
	f.mu.Lock()
	fn := f.subs[participant]
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(data)
	return true
}

func (f *fakeHandle) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeHandle) hasLeft() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.left
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func speechStart(participant string, at time.Time) call.Event {
	return call.Event{Participant: participant, Type: call.SpeechStart, Timestamp: at}
}

func TestSessionCapturesSpeechBurst(t *testing.T) {
	handle := newFakeHandle()
	root := t.TempDir()
	resolver := func(participant string) string { return "Label-" + participant }

	session, err := Open(context.Background(), handle, "ctx-1", resolver, Options{Root: root}, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer session.Destroy()

	started := time.Now()
	handle.emit(speechStart("alice", started))

	if session.OpenStreamCount() != 1 {
		t.Fatalf("Expected 1 open stream, got %d", session.OpenStreamCount())
	}

	audio := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !handle.pushAudio("alice", audio) {
		t.Fatal("No audio subscriber registered for alice")
	}

	if err := session.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	manifest := session.Manifest()
	recs := manifest.Recordings["alice"]
	if len(recs) != 1 {
		t.Fatalf("Expected 1 recording, got %d", len(recs))
	}
	if recs[0].StartMillis != started.UnixMilli() {
		t.Errorf("Expected start millis %d, got %d", started.UnixMilli(), recs[0].StartMillis)
	}
	if manifest.Label("alice") != "Label-alice" {
		t.Errorf("Expected resolved label, got %q", manifest.Label("alice"))
	}

	data, err := os.ReadFile(recs[0].Path)
	if err != nil {
		t.Fatalf("Failed to read capture file: %v", err)
	}
	if len(data) != len(audio) {
		t.Errorf("Expected %d captured bytes, got %d", len(audio), len(data))
	}
}

func TestSessionIgnoresDuplicateSpeechStart(t *testing.T) {
	handle := newFakeHandle()
	session, err := Open(context.Background(), handle, "ctx-1", nil, Options{Root: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer session.Destroy()

	at := time.Now()
	handle.emit(speechStart("alice", at))
	handle.emit(speechStart("alice", at.Add(100*time.Millisecond)))

	if session.OpenStreamCount() != 1 {
		t.Errorf("Expected 1 open stream after duplicate start, got %d", session.OpenStreamCount())
	}

	manifest := session.Manifest()
	if len(manifest.Recordings["alice"]) != 1 {
		t.Errorf("Expected 1 recording after duplicate start, got %d", len(manifest.Recordings["alice"]))
	}
}

func TestSessionTrailingSilenceClosesStream(t *testing.T) {
	handle := newFakeHandle()
	session, err := Open(context.Background(), handle, "ctx-1", nil,
		Options{Root: t.TempDir(), SilenceTimeout: 30 * time.Millisecond}, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer session.Destroy()

	handle.emit(speechStart("alice", time.Now()))
	handle.pushAudio("alice", []byte{1, 2, 3, 4})

	deadline := time.Now().Add(2 * time.Second)
	for session.OpenStreamCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Stream did not close on trailing silence")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if handle.subscriberCount() != 0 {
		t.Error("Audio subscription not cancelled when stream closed")
	}

	// A new burst after silence opens a second recording.
	handle.emit(speechStart("alice", time.Now().Add(time.Second)))
	if session.OpenStreamCount() != 1 {
		t.Fatalf("Expected new stream after silence, got %d open", session.OpenStreamCount())
	}
	if got := len(session.Manifest().Recordings["alice"]); got != 2 {
		t.Errorf("Expected 2 recordings, got %d", got)
	}
}

func TestSessionLabelFrozenOnFirstSighting(t *testing.T) {
	handle := newFakeHandle()
	label := "Old Name"
	var mu sync.Mutex
	resolver := func(participant string) string {
		mu.Lock()
		defer mu.Unlock()
		return label
	}

	session, err := Open(context.Background(), handle, "ctx-1", resolver, Options{Root: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer session.Destroy()

	at := time.Now()
	handle.emit(speechStart("alice", at))

	mu.Lock()
	label = "New Name"
	mu.Unlock()

	// Second burst after the rename must keep the frozen label.
	session.closeStream(session.open["alice"], "test")
	handle.emit(speechStart("alice", at.Add(2*time.Second)))

	if got := session.Manifest().Label("alice"); got != "Old Name" {
		t.Errorf("Expected label frozen at first sighting, got %q", got)
	}
}

func TestSessionDestroyIsIdempotentAndStopsEvents(t *testing.T) {
	handle := newFakeHandle()
	session, err := Open(context.Background(), handle, "ctx-1", nil, Options{Root: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	handle.emit(speechStart("alice", time.Now()))
	handle.pushAudio("alice", []byte{9, 9})

	if err := session.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if err := session.Destroy(); err != nil {
		t.Fatalf("Second Destroy failed: %v", err)
	}

	if handle.subscriberCount() != 0 {
		t.Error("Audio subscriptions survived Destroy")
	}

	// Events after teardown must not open new streams.
	handle.emit(speechStart("bob", time.Now()))
	if session.OpenStreamCount() != 0 {
		t.Error("Stream opened after Destroy")
	}
	if len(session.Manifest().Recordings["bob"]) != 0 {
		t.Error("Recording registered after Destroy")
	}
}

func TestNewSessionIDMonotonic(t *testing.T) {
	prev := newSessionID()
	for i := 0; i < 100; i++ {
		next := newSessionID()
		if next <= prev {
			t.Fatalf("Session ids not strictly increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(context.Background(), nil, "ctx", nil, Options{Root: t.TempDir()}, testLogger()); err == nil {
		t.Error("Expected error for nil handle")
	}
	if _, err := Open(context.Background(), newFakeHandle(), "", nil, Options{Root: t.TempDir()}, testLogger()); err == nil {
		t.Error("Expected error for empty context id")
	}
}

func TestSessionDirectoryLayout(t *testing.T) {
	handle := newFakeHandle()
	root := t.TempDir()
	session, err := Open(context.Background(), handle, "guild-42", nil, Options{Root: root}, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer session.Destroy()

	expected := filepath.Join(root, "guild-42", session.ID)
	if session.Dir != expected {
		t.Errorf("Expected session dir %s, got %s", expected, session.Dir)
	}
	if _, err := os.Stat(expected); err != nil {
		t.Errorf("Session directory not created: %v", err)
	}
}
