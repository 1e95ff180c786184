// Package mixdown merges all per-speaker raw recordings of a session into
// one time-aligned composite audio track by additive sample mixing.
package mixdown

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/AndrewMead10/discord-call-transcriber/internal/capture"
	"github.com/AndrewMead10/discord-call-transcriber/internal/pcm"
)

// DefaultOutputName is the mixdown filename inside the session directory
// unless overridden.
const DefaultOutputName = "mixdown.wav"

// Config contains mixdown engine configuration.
type Config struct {
	SourceRate int    // raw capture rate, e.g. 48000
	Channels   int    // raw capture channels, e.g. 2
	OutputName string // artifact filename, default "mixdown.wav"
}

// Engine mixes a session's recordings into one playback artifact.
type Engine struct {
	config Config
	logger *slog.Logger
}

// NewEngine creates a mixdown engine.
func NewEngine(config Config, logger *slog.Logger) *Engine {
	if config.OutputName == "" {
		config.OutputName = DefaultOutputName
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}
	return &Engine{config: config, logger: logger}
}

// Mix additively combines every readable recording in the manifest on one
// timeline and writes the result as a WAV file in the session directory.
// It returns the output path, or "" when there was nothing to mix.
// Unreadable recordings are skipped with a warning, never fatal.
func (e *Engine) Mix(m *capture.Manifest) (string, error) {
	zero := e.referenceZero(m)

	type loaded struct {
		rec     capture.Recording
		samples []int16
		offset  int // sample index into the accumulator
	}

	var recordings []loaded
	maxExtent := 0

	for _, recs := range m.Recordings {
		for _, rec := range recs {
			raw, err := os.ReadFile(rec.Path)
			if err != nil {
				e.logger.Warn("Skipping unreadable recording in mixdown",
					slog.String("path", rec.Path),
					slog.String("error", err.Error()),
				)
				continue
			}
			if len(raw) == 0 || len(raw)%(e.config.Channels*pcm.BytesPerSample) != 0 {
				e.logger.Warn("Skipping misaligned or empty recording in mixdown",
					slog.String("path", rec.Path),
					slog.Int("bytes", len(raw)),
				)
				continue
			}

			samples, err := pcm.SamplesFromBytes(raw)
			if err != nil {
				e.logger.Warn("Skipping undecodable recording in mixdown",
					slog.String("path", rec.Path),
					slog.String("error", err.Error()),
				)
				continue
			}

			offsetMillis := rec.StartMillis - zero
			frameOffset := int(math.Round(float64(offsetMillis) / 1000.0 * float64(e.config.SourceRate)))
			if frameOffset < 0 {
				frameOffset = 0
			}
			sampleOffset := frameOffset * e.config.Channels

			recordings = append(recordings, loaded{rec: rec, samples: samples, offset: sampleOffset})
			if extent := sampleOffset + len(samples); extent > maxExtent {
				maxExtent = extent
			}
		}
	}

	if len(recordings) == 0 {
		e.logger.Info("Nothing to mix for session", slog.String("session_id", m.SessionID))
		return "", nil
	}

	// Wide accumulator: simple additive mixing, clamped afterwards rather
	// than wrapping on overflow.
	acc := make([]int32, maxExtent)
	for _, l := range recordings {
		for i, s := range l.samples {
			acc[l.offset+i] += int32(s)
		}
	}

	mixed := make([]int16, maxExtent)
	for i, v := range acc {
		switch {
		case v > 32767:
			mixed[i] = 32767
		case v < -32768:
			mixed[i] = -32768
		default:
			mixed[i] = int16(v)
		}
	}

	wav, err := pcm.EncodeWAV(mixed, e.config.SourceRate, e.config.Channels)
	if err != nil {
		return "", fmt.Errorf("failed to encode mixdown: %w", err)
	}

	path := filepath.Join(m.Root, e.config.OutputName)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("failed to write mixdown %s: %w", path, err)
	}

	e.logger.Info("Mixdown written",
		slog.String("session_id", m.SessionID),
		slog.String("path", path),
		slog.Int("recordings", len(recordings)),
		slog.Int("samples", maxExtent),
	)

	return path, nil
}

// referenceZero computes the mix timeline origin: the minimum of the
// session id interpreted as a millisecond timestamp and every recording's
// start timestamp.
func (e *Engine) referenceZero(m *capture.Manifest) int64 {
	zero := int64(math.MaxInt64)
	if id, err := strconv.ParseInt(m.SessionID, 10, 64); err == nil {
		zero = id
	}
	for _, recs := range m.Recordings {
		for _, rec := range recs {
			if rec.StartMillis < zero {
				zero = rec.StartMillis
			}
		}
	}
	if zero == math.MaxInt64 {
		zero = 0
	}
	return zero
}
