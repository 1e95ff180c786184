package summary

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/AndrewMead10/discord-call-transcriber/internal/segment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnabled(t *testing.T) {
	if New(Config{}, testLogger()).Enabled() {
		t.Error("Expected summarizer without api key to be disabled")
	}
	if !New(Config{APIKey: "sk-test"}, testLogger()).Enabled() {
		t.Error("Expected summarizer with api key to be enabled")
	}
}

func TestSummarizeDisabled(t *testing.T) {
	s := New(Config{}, testLogger())
	if _, err := s.Summarize(context.Background(), Input{}); err == nil {
		t.Error("Expected error from disabled summarizer")
	}
}

func TestBuildPrompt(t *testing.T) {
	in := Input{
		ContextID: "guild-1",
		SessionID: "1000",
		Labels:    map[string]string{"u1": "Alice", "u2": "Bob"},
		Segments: []segment.Segment{
			{Label: "Alice", StartMillis: 1000, Text: "hello"},
			{Label: "Bob", StartMillis: 1500, Text: "hi there"},
			{Label: "Alice", StartMillis: 2000, Text: "how are you"},
		},
		Transcript: "Alice: hello\nBob: hi there\nAlice: how are you",
	}

	prompt := buildPrompt(in)

	if !strings.Contains(prompt, "Channel: guild-1") {
		t.Error("Prompt missing channel")
	}
	if !strings.Contains(prompt, "Session: 1000") {
		t.Error("Prompt missing session id")
	}
	if !strings.Contains(prompt, "Participants: Alice, Bob") {
		t.Errorf("Prompt missing sorted participants:\n%s", prompt)
	}
	if !strings.Contains(prompt, in.Transcript) {
		t.Error("Prompt missing transcript")
	}
	if !strings.Contains(prompt, "Recent excerpts per speaker:") {
		t.Error("Prompt missing excerpts section")
	}
}

func TestRecentExcerpts(t *testing.T) {
	segments := []segment.Segment{
		{Label: "Alice", Text: "one"},
		{Label: "Alice", Text: "two"},
		{Label: "Alice", Text: "three"},
		{Label: "Bob", Text: "only"},
	}

	lines := recentExcerpts(segments, 2)

	expected := []string{"Alice: two", "Alice: three", "Bob: only"}
	if len(lines) != len(expected) {
		t.Fatalf("Expected %d excerpt lines, got %d: %v", len(expected), len(lines), lines)
	}
	for i, want := range expected {
		if lines[i] != want {
			t.Errorf("Line %d: expected %q, got %q", i, want, lines[i])
		}
	}
}

func TestRecentExcerptsEmpty(t *testing.T) {
	if lines := recentExcerpts(nil, 2); len(lines) != 0 {
		t.Errorf("Expected no excerpts, got %v", lines)
	}
}
