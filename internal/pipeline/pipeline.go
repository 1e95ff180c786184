// Package pipeline drives the post-session flow: a finalized manifest is
// segmented and transcribed, then summarized, mixed down and persisted.
// Only total transcription failure is fatal; every later stage is
// best-effort.
package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/AndrewMead10/discord-call-transcriber/internal/capture"
	"github.com/AndrewMead10/discord-call-transcriber/internal/metrics"
	"github.com/AndrewMead10/discord-call-transcriber/internal/mixdown"
	"github.com/AndrewMead10/discord-call-transcriber/internal/segment"
	"github.com/AndrewMead10/discord-call-transcriber/internal/store"
	"github.com/AndrewMead10/discord-call-transcriber/internal/summary"
)

// Summarizer is the summarization collaborator.
type Summarizer interface {
	Enabled() bool
	Summarize(ctx context.Context, in summary.Input) (string, error)
}

// Recorder is the persistence collaborator.
type Recorder interface {
	SaveSession(ctx context.Context, rec store.SessionRecord, participants []store.ParticipantRecord, segments []store.SegmentRecord) error
}

// Outcome is the user-facing result of processing one session.
type Outcome struct {
	SessionID   string            `json:"session_id"`
	Status      string            `json:"status"`
	Transcript  string            `json:"transcript"`
	Summary     string            `json:"summary,omitempty"`
	MixdownPath string            `json:"mixdown_path,omitempty"`
	Segments    []segment.Segment `json:"segments"`
	Failures    []segment.Failure `json:"failures,omitempty"`
}

// Pipeline wires the post-session stages together.
type Pipeline struct {
	logger     *slog.Logger
	engine     *segment.Engine
	mixer      *mixdown.Engine
	summarizer Summarizer
	recorder   Recorder
	metrics    *metrics.Metrics
}

// New creates a pipeline. summarizer, recorder and m may be nil; the
// corresponding stages are then skipped.
func New(logger *slog.Logger, engine *segment.Engine, mixer *mixdown.Engine, summarizer Summarizer, recorder Recorder, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		logger:     logger,
		engine:     engine,
		mixer:      mixer,
		summarizer: summarizer,
		recorder:   recorder,
		metrics:    m,
	}
}

// Run processes one finalized manifest end to end. A total transcription
// failure is returned as an error; summarization, mixdown and persistence
// failures are logged and never block the transcript.
func (p *Pipeline) Run(ctx context.Context, m *capture.Manifest) (*Outcome, error) {
	started := time.Now()

	if p.metrics != nil {
		p.metrics.RecordingsOpened.Add(float64(m.RecordingCount()))
	}

	result, err := p.engine.Process(ctx, m)
	if p.metrics != nil && result != nil {
		p.metrics.SegmentsGenerated.Add(float64(len(result.Segments)))
		p.metrics.SegmentFailures.Add(float64(len(result.Failures)))
		p.metrics.TranscriptionSuccesses.Add(float64(len(result.Segments)))
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.TranscriptionFailures.Inc()
		}
		return nil, err
	}

	outcome := &Outcome{
		SessionID:  m.SessionID,
		Status:     result.Status,
		Transcript: result.Transcript,
		Segments:   result.Segments,
		Failures:   result.Failures,
	}

	if p.summarizer != nil && p.summarizer.Enabled() && result.Status == "sent" {
		summaryText, err := p.summarizer.Summarize(ctx, summary.Input{
			ContextID:  m.ContextID,
			SessionID:  m.SessionID,
			Labels:     m.Labels,
			Segments:   result.Segments,
			Transcript: result.Transcript,
		})
		if err != nil {
			p.logger.Warn("Summarization failed, continuing without summary",
				slog.String("session_id", m.SessionID),
				slog.String("error", err.Error()),
			)
		} else {
			outcome.Summary = summaryText
		}
	}

	if p.mixer != nil {
		mixPath, err := p.mixer.Mix(m)
		if err != nil {
			p.logger.Warn("Mixdown failed, continuing without mixdown",
				slog.String("session_id", m.SessionID),
				slog.String("error", err.Error()),
			)
			if p.metrics != nil {
				p.metrics.MixdownFailures.Inc()
			}
		} else if mixPath != "" {
			outcome.MixdownPath = mixPath
			if p.metrics != nil {
				p.metrics.MixdownsWritten.Inc()
			}
		}
	}

	p.persist(ctx, m, outcome)

	if p.metrics != nil {
		p.metrics.PipelineDuration.Observe(time.Since(started).Seconds())
	}

	p.logger.Info("Session pipeline complete",
		slog.String("session_id", m.SessionID),
		slog.String("status", outcome.Status),
		slog.Int("segments", len(outcome.Segments)),
		slog.Duration("elapsed", time.Since(started)),
	)

	return outcome, nil
}

// persist writes the finalized session record best-effort.
func (p *Pipeline) persist(ctx context.Context, m *capture.Manifest, outcome *Outcome) {
	if p.recorder == nil {
		return
	}

	startedAt := time.Now()
	if id, err := strconv.ParseInt(m.SessionID, 10, 64); err == nil {
		startedAt = time.UnixMilli(id)
	}

	rec := store.SessionRecord{
		ID:          m.SessionID,
		ContextID:   m.ContextID,
		StartedAt:   startedAt,
		EndedAt:     time.Now(),
		Transcript:  outcome.Transcript,
		Summary:     outcome.Summary,
		MixdownPath: outcome.MixdownPath,
	}

	participants := make([]store.ParticipantRecord, 0, len(m.Labels))
	for participant, label := range m.Labels {
		participants = append(participants, store.ParticipantRecord{
			SessionID:   m.SessionID,
			Participant: participant,
			Label:       label,
		})
	}

	segments := make([]store.SegmentRecord, 0, len(outcome.Segments))
	for _, seg := range outcome.Segments {
		segments = append(segments, store.SegmentRecord{
			SessionID:   m.SessionID,
			Participant: seg.Participant,
			Label:       seg.Label,
			StartMillis: seg.StartMillis,
			Text:        seg.Text,
			AudioPath:   seg.AudioPath,
		})
	}

	if err := p.recorder.SaveSession(ctx, rec, participants, segments); err != nil {
		p.logger.Warn("Failed to persist session, transcript already delivered",
			slog.String("session_id", m.SessionID),
			slog.String("error", err.Error()),
		)
	}
}
