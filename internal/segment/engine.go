package segment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AndrewMead10/discord-call-transcriber/internal/capture"
	"github.com/AndrewMead10/discord-call-transcriber/internal/pcm"
	"github.com/AndrewMead10/discord-call-transcriber/internal/transcribe"
)

// Default tuning constants. These are heuristics, not derived values, so
// they are exposed as configuration.
const (
	// DefaultMinPadding keeps split points away from recording edges and
	// from each other, preventing degenerate micro-segments.
	DefaultMinPadding = 50 * time.Millisecond

	// DefaultMinPartDuration flags suspiciously short parts. Short parts
	// are still kept as long as they contain at least one full frame: a
	// cut at a true boundary can legitimately yield a short trailing word.
	DefaultMinPartDuration = 80 * time.Millisecond
)

// Config contains segmentation engine configuration.
type Config struct {
	SourceRate      int           // raw capture rate, e.g. 48000
	TargetRate      int           // transcription rate, e.g. 16000
	MinPadding      time.Duration // minimum distance between split points and edges
	MinPartDuration time.Duration // parts shorter than this are logged
}

// Segment is one transcribed, time-bounded, single-speaker slice.
type Segment struct {
	Participant string `json:"participant"`
	Label       string `json:"label"`
	StartMillis int64  `json:"start_millis"`
	Text        string `json:"text"`
	AudioPath   string `json:"audio_path"`
}

// Failure records one per-recording or per-part error. Failures never
// abort sibling work.
type Failure struct {
	Participant string `json:"participant"`
	Label       string `json:"label"`
	Path        string `json:"path"`
	StartMillis int64  `json:"start_millis"`
	Reason      string `json:"reason"`
}

// Result is the outcome of processing one manifest.
type Result struct {
	// Status is "sent" when at least one segment was transcribed, or
	// "skipped" when no transcription endpoint is configured.
	Status     string    `json:"status"`
	Segments   []Segment `json:"segments"`
	Failures   []Failure `json:"failures,omitempty"`
	Transcript string    `json:"transcript"`
}

// Uploader is the transcription collaborator the engine drives.
type Uploader interface {
	Enabled() bool
	Transcribe(ctx context.Context, file transcribe.File) (string, error)
	TranscribeBatch(ctx context.Context, files []transcribe.File) transcribe.BatchOutcome
}

// part is one sliced, resampled, persisted piece of a recording awaiting
// transcription. Upload results correlate back to parts by Filename.
type part struct {
	participant string
	label       string
	startMillis int64
	filename    string
	path        string
	data        []byte
}

// Engine computes speech-turn boundaries, slices and resamples recordings,
// and drives the upload strategy.
type Engine struct {
	config   Config
	uploader Uploader
	logger   *slog.Logger
}

// NewEngine creates a segmentation engine.
func NewEngine(config Config, uploader Uploader, logger *slog.Logger) *Engine {
	if config.MinPadding <= 0 {
		config.MinPadding = DefaultMinPadding
	}
	if config.MinPartDuration <= 0 {
		config.MinPartDuration = DefaultMinPartDuration
	}
	return &Engine{
		config:   config,
		uploader: uploader,
		logger:   logger,
	}
}

// Process segments every recording in the manifest, uploads all resulting
// parts, and assembles the transcript ordered by start time. Partial
// success returns status "sent" with a non-fatal failures list; an error
// is returned only when zero segments succeed.
func (e *Engine) Process(ctx context.Context, m *capture.Manifest) (*Result, error) {
	parts, failures := e.buildParts(m)

	if e.uploader == nil || !e.uploader.Enabled() {
		e.logger.Warn("Transcription endpoint not configured, skipping upload",
			slog.String("session_id", m.SessionID),
			slog.Int("parts", len(parts)),
		)
		return &Result{Status: "skipped", Failures: failures}, nil
	}

	if len(parts) == 0 {
		return &Result{Status: "failed", Failures: failures},
			fmt.Errorf("no transcribable segments in session %s: %s", m.SessionID, summarize(failures))
	}

	segments, uploadFailures := e.upload(ctx, m, parts)
	failures = append(failures, uploadFailures...)

	// Missing timestamps sort as 0. Stable sort keeps the 1ms-nudge
	// ordering of same-millisecond segments intact.
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartMillis < segments[j].StartMillis
	})

	result := &Result{
		Status:     "sent",
		Segments:   segments,
		Failures:   failures,
		Transcript: transcript(segments),
	}

	if len(segments) == 0 {
		result.Status = "failed"
		return result, fmt.Errorf("no segments transcribed for session %s: %s", m.SessionID, summarize(failures))
	}

	e.logger.Info("Manifest segmentation complete",
		slog.String("session_id", m.SessionID),
		slog.Int("segments", len(segments)),
		slog.Int("failures", len(failures)),
	)

	return result, nil
}

// buildParts slices and resamples every recording in the manifest.
// Per-recording errors are collected, never fatal.
func (e *Engine) buildParts(m *capture.Manifest) ([]part, []Failure) {
	events := timeline(m)
	minPadding := e.config.MinPadding.Milliseconds()

	var parts []part
	var failures []Failure

	for participant, recs := range m.Recordings {
		label := m.Label(participant)
		for _, rec := range recs {
			recParts, err := e.sliceOne(rec, label, events, minPadding)
			if err != nil {
				failures = append(failures, Failure{
					Participant: participant,
					Label:       label,
					Path:        rec.Path,
					StartMillis: rec.StartMillis,
					Reason:      err.Error(),
				})
				continue
			}
			parts = append(parts, recParts...)
		}
	}

	return parts, failures
}

// sliceOne produces the resampled, persisted parts of one recording.
func (e *Engine) sliceOne(rec capture.Recording, label string, events []speechStart, minPadding int64) ([]part, error) {
	raw, err := os.ReadFile(rec.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	if len(raw) == 0 {
		return nil, pcm.ErrEmptyAudio
	}
	if len(raw)%pcm.StereoFrameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", pcm.ErrMisalignedAudio, len(raw))
	}

	frames := len(raw) / pcm.StereoFrameSize
	end := rec.StartMillis + durationMillis(frames, e.config.SourceRate)
	splits := splitPoints(events, rec.Participant, rec.StartMillis, end, minPadding)
	spans := sliceRecording(rec.StartMillis, frames, e.config.SourceRate, splits)

	segmentsDir := filepath.Join(filepath.Dir(rec.Path), "segments")
	if err := os.MkdirAll(segmentsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create segments directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(rec.Path), filepath.Ext(rec.Path))

	var parts []part
	for i, sp := range spans {
		partDur := durationMillis(sp.lastFrame-sp.firstFrame, e.config.SourceRate)
		if partDur < e.config.MinPartDuration.Milliseconds() {
			e.logger.Debug("Keeping short trailing part",
				slog.String("participant", rec.Participant),
				slog.Int64("duration_millis", partDur),
				slog.Int("frames", sp.lastFrame-sp.firstFrame),
			)
		}

		chunk := raw[sp.firstFrame*pcm.StereoFrameSize : sp.lastFrame*pcm.StereoFrameSize]
		mono, err := pcm.DownmixAndResample(chunk, e.config.SourceRate, e.config.TargetRate)
		if err != nil {
			return nil, fmt.Errorf("failed to resample part %d: %w", i, err)
		}

		wav, err := pcm.EncodeWAV(mono, e.config.TargetRate, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to encode part %d: %w", i, err)
		}

		// The participant prefix keeps upload filenames unique across
		// recordings that started in the same millisecond.
		filename := fmt.Sprintf("%s_%s_%d_%d.wav", rec.Participant, base, sp.startMillis, i)
		path := filepath.Join(segmentsDir, filename)
		if err := os.WriteFile(path, wav, 0o644); err != nil {
			e.logger.Warn("Failed to persist segment file, uploading from memory",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			path = ""
		}

		parts = append(parts, part{
			participant: rec.Participant,
			label:       label,
			startMillis: sp.startMillis,
			filename:    filename,
			path:        path,
			data:        wav,
		})
	}

	return parts, nil
}

// upload drives the batch-then-individual strategy over the pooled parts.
func (e *Engine) upload(ctx context.Context, m *capture.Manifest, parts []part) ([]Segment, []Failure) {
	files := make([]transcribe.File, len(parts))
	for i, p := range parts {
		files[i] = transcribe.File{Name: p.filename, Data: p.data}
	}

	outcome := e.uploader.TranscribeBatch(ctx, files)
	if outcome.Handled {
		return e.collectBatch(m, parts, outcome)
	}

	e.logger.Info("Batch upload not handled, uploading parts individually",
		slog.String("session_id", m.SessionID),
		slog.Int("parts", len(parts)),
	)

	var segments []Segment
	var failures []Failure
	for _, p := range parts {
		text, err := e.uploader.Transcribe(ctx, transcribe.File{Name: p.filename, Data: p.data})
		if err != nil {
			failures = append(failures, p.failure(err.Error()))
			continue
		}
		segments = append(segments, p.segment(text))
	}
	return segments, failures
}

// collectBatch correlates batch results and errors back to parts by
// filename. A part absent from both lists is a silent failure.
func (e *Engine) collectBatch(m *capture.Manifest, parts []part, outcome transcribe.BatchOutcome) ([]Segment, []Failure) {
	texts := make(map[string]string, len(outcome.Results))
	for _, r := range outcome.Results {
		texts[r.Filename] = r.Text
	}
	reasons := make(map[string]string, len(outcome.Errors))
	for _, fe := range outcome.Errors {
		reasons[fe.Filename] = fe.Reason
	}

	var segments []Segment
	var failures []Failure
	for _, p := range parts {
		if text, ok := texts[p.filename]; ok {
			segments = append(segments, p.segment(text))
			continue
		}
		if reason, ok := reasons[p.filename]; ok {
			failures = append(failures, p.failure(reason))
			continue
		}
		failures = append(failures, p.failure("no transcription returned for segment"))
	}

	e.logger.Info("Batch upload handled",
		slog.String("session_id", m.SessionID),
		slog.Int("results", len(outcome.Results)),
		slog.Int("errors", len(outcome.Errors)),
	)

	return segments, failures
}

func (p part) segment(text string) Segment {
	return Segment{
		Participant: p.participant,
		Label:       p.label,
		StartMillis: p.startMillis,
		Text:        text,
		AudioPath:   p.path,
	}
}

func (p part) failure(reason string) Failure {
	return Failure{
		Participant: p.participant,
		Label:       p.label,
		Path:        p.path,
		StartMillis: p.startMillis,
		Reason:      reason,
	}
}

// transcript concatenates segments into "label: text" lines.
func transcript(segments []Segment) string {
	var b strings.Builder
	for i, s := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s.Label)
		b.WriteString(": ")
		b.WriteString(s.Text)
	}
	return b.String()
}

// summarize flattens failures into one human-readable reason list.
func summarize(failures []Failure) string {
	if len(failures) == 0 {
		return "no recordings"
	}
	reasons := make([]string, len(failures))
	for i, f := range failures {
		reasons[i] = fmt.Sprintf("%s (%s): %s", f.Label, filepath.Base(f.Path), f.Reason)
	}
	return strings.Join(reasons, "; ")
}
