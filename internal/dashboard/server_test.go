package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AndrewMead10/discord-call-transcriber/internal/capture"
	"github.com/AndrewMead10/discord-call-transcriber/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, sessions *store.Store, audioRoot string) *Server {
	t.Helper()
	registry := capture.NewManager(testLogger(), capture.Options{Root: t.TempDir()}, 0, nil)
	return NewServer(Config{Address: "127.0.0.1", Port: 0, AudioRoot: audioRoot}, testLogger(), sessions, registry, nil, nil)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveTestSession(t *testing.T, s *store.Store, id string) {
	t.Helper()
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	err := s.SaveSession(context.Background(), store.SessionRecord{
		ID:         id,
		ContextID:  "guild-1",
		StartedAt:  started,
		EndedAt:    started.Add(time.Minute),
		Transcript: "Alice: hello",
	}, []store.ParticipantRecord{
		{SessionID: id, Participant: "u1", Label: "Alice"},
	}, []store.SegmentRecord{
		{SessionID: id, Participant: "u1", Label: "Alice", StartMillis: 1000, Text: "hello"},
	})
	if err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil, "")
	rec := doRequest(t, s, http.MethodGet, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, "")
	rec := doRequest(t, s, http.MethodGet, "/stats")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["active_sessions"] != float64(0) {
		t.Errorf("Expected 0 active sessions, got %v", body["active_sessions"])
	}
}

func TestListSessions(t *testing.T) {
	st := openTestStore(t)
	saveTestSession(t, st, "1000")
	saveTestSession(t, st, "1001")

	s := newTestServer(t, st, "")
	rec := doRequest(t, s, http.MethodGet, "/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Sessions []store.SessionRecord `json:"sessions"`
		Count    int                   `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("Expected 2 sessions, got %d", body.Count)
	}
}

func TestListSessionsBadLimit(t *testing.T) {
	s := newTestServer(t, openTestStore(t), "")
	if rec := doRequest(t, s, http.MethodGet, "/sessions?limit=zero"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/sessions?limit=-5"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestGetSession(t *testing.T) {
	st := openTestStore(t)
	saveTestSession(t, st, "1000")

	s := newTestServer(t, st, "")
	rec := doRequest(t, s, http.MethodGet, "/sessions/1000")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var detail store.SessionDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if detail.Session.ID != "1000" {
		t.Errorf("Expected session 1000, got %q", detail.Session.ID)
	}
	if len(detail.Segments) != 1 {
		t.Errorf("Expected 1 segment, got %d", len(detail.Segments))
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestServer(t, openTestStore(t), "")
	if rec := doRequest(t, s, http.MethodGet, "/sessions/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	st := openTestStore(t)
	saveTestSession(t, st, "1000")

	s := newTestServer(t, st, "")
	if rec := doRequest(t, s, http.MethodDelete, "/sessions/1000"); rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/sessions/1000"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodDelete, "/sessions/1000"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on double delete, got %d", rec.Code)
	}
}

func TestSessionEndpointsWithoutStore(t *testing.T) {
	s := newTestServer(t, nil, "")
	for _, path := range []string{"/sessions", "/sessions/1000"} {
		if rec := doRequest(t, s, http.MethodGet, path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s: expected 503 without store, got %d", path, rec.Code)
		}
	}
	if rec := doRequest(t, s, http.MethodDelete, "/sessions/1000"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without store, got %d", rec.Code)
	}
}

func TestAudioStaticFiles(t *testing.T) {
	audioRoot := t.TempDir()
	content := []byte("RIFF fake wav payload")
	if err := os.WriteFile(filepath.Join(audioRoot, "mixdown.wav"), content, 0o644); err != nil {
		t.Fatalf("Failed to write audio file: %v", err)
	}

	s := newTestServer(t, nil, audioRoot)
	rec := doRequest(t, s, http.MethodGet, "/audio/mixdown.wav")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != string(content) {
		t.Error("Served audio does not match file content")
	}

	if rec := doRequest(t, s, http.MethodGet, "/audio/absent.wav"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing audio, got %d", rec.Code)
	}
}
