// Package summary produces a free-text summary of a session transcript
// via an OpenAI-compatible chat completion endpoint.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/AndrewMead10/discord-call-transcriber/internal/segment"
)

const systemPrompt = "You summarize transcripts of group voice calls. " +
	"Write a concise summary of what was discussed, who said what, and any " +
	"decisions or action items. Use the speaker labels as given."

// Config contains summarizer configuration. An empty APIKey disables
// summarization; the feature degrades to skipped.
type Config struct {
	BaseURL string // OpenAI-compatible endpoint; empty uses the default
	APIKey  string
	Model   string
}

// Input carries the transcript plus the structured session metadata sent
// alongside it.
type Input struct {
	ContextID  string
	SessionID  string
	Labels     map[string]string
	Segments   []segment.Segment
	Transcript string
}

// Summarizer calls the chat completion collaborator.
type Summarizer struct {
	config Config
	client openai.Client
	logger *slog.Logger
}

// New creates a summarizer. The client is constructed even when disabled;
// Enabled gates actual use.
func New(config Config, logger *slog.Logger) *Summarizer {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	return &Summarizer{
		config: config,
		client: openai.NewClient(opts...),
		logger: logger,
	}
}

// Enabled reports whether summarization credentials are configured.
func (s *Summarizer) Enabled() bool {
	return s.config.APIKey != ""
}

// Summarize sends the transcript and session metadata and returns the
// summary content.
func (s *Summarizer) Summarize(ctx context.Context, in Input) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("summarization not configured")
	}

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(in)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)

	s.logger.Info("Session summarized",
		slog.String("session_id", in.SessionID),
		slog.Int("summary_chars", len(summary)),
	)

	return summary, nil
}

// buildPrompt assembles the user message: session metadata, recent
// per-speaker excerpts, then the full transcript.
func buildPrompt(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Channel: %s\nSession: %s\n", in.ContextID, in.SessionID)

	if len(in.Labels) > 0 {
		labels := make([]string, 0, len(in.Labels))
		for _, label := range in.Labels {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(labels, ", "))
	}

	if excerpts := recentExcerpts(in.Segments, 2); len(excerpts) > 0 {
		b.WriteString("\nRecent excerpts per speaker:\n")
		for _, line := range excerpts {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nTranscript:\n")
	b.WriteString(in.Transcript)

	return b.String()
}

// recentExcerpts returns up to perSpeaker trailing lines per speaker, in
// transcript order.
func recentExcerpts(segments []segment.Segment, perSpeaker int) []string {
	bySpeaker := make(map[string][]segment.Segment)
	for _, seg := range segments {
		bySpeaker[seg.Label] = append(bySpeaker[seg.Label], seg)
	}

	speakers := make([]string, 0, len(bySpeaker))
	for label := range bySpeaker {
		speakers = append(speakers, label)
	}
	sort.Strings(speakers)

	var lines []string
	for _, label := range speakers {
		segs := bySpeaker[label]
		if len(segs) > perSpeaker {
			segs = segs[len(segs)-perSpeaker:]
		}
		for _, seg := range segs {
			lines = append(lines, fmt.Sprintf("%s: %s", label, seg.Text))
		}
	}
	return lines
}
