package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AndrewMead10/discord-call-transcriber/internal/call"
)

// Options configures a capture session.
type Options struct {
	// Root is the storage root under which session directories are created.
	Root string

	// SilenceTimeout is the trailing-silence duration after which an open
	// capture stream closes naturally. Defaults to 1 second.
	SilenceTimeout time.Duration
}

// DefaultSilenceTimeout closes a capture stream after this much trailing
// silence when no explicit timeout is configured.
const DefaultSilenceTimeout = 1000 * time.Millisecond

// lastSessionID guarantees time-derived session ids stay strictly
// monotonic even when sessions are created within the same millisecond.
var lastSessionID atomic.Int64

func newSessionID() string {
	for {
		now := time.Now().UnixMilli()
		last := lastSessionID.Load()
		if now <= last {
			now = last + 1
		}
		if lastSessionID.CompareAndSwap(last, now) {
			return strconv.FormatInt(now, 10)
		}
	}
}

// disposer is one registered cleanup action. Destroy runs disposers in
// reverse order of registration.
type disposer struct {
	name string
	fn   func() error
}

// captureStream is one open raw-capture stream for one participant.
type captureStream struct {
	participant string
	startMillis int64
	sink        *sink
	cancelAudio func()
	idle        *time.Timer
	closeOnce   sync.Once
	closeErr    error
}

// Session owns one recording episode for one call context. All mutable
// state is guarded by a single mutex; audio writes bypass it and go
// straight to the per-stream sink.
type Session struct {
	ContextID string
	ID        string
	Dir       string
	CreatedAt time.Time

	logger   *slog.Logger
	handle   call.Handle
	resolver call.LabelResolver
	silence  time.Duration

	mu         sync.Mutex
	recordings map[string][]Recording
	labels     map[string]string
	open       map[string]*captureStream
	disposers  []disposer
	destroyed  bool
}

// Open creates a new capture session for one call context and registers
// for the call's speech activity events. The session directory is created
// immediately; capture streams open lazily on speech-start signals.
func Open(ctx context.Context, handle call.Handle, contextID string, resolver call.LabelResolver, opts Options, logger *slog.Logger) (*Session, error) {
	if handle == nil {
		return nil, fmt.Errorf("call handle cannot be nil")
	}
	if contextID == "" {
		return nil, fmt.Errorf("context id cannot be empty")
	}
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = DefaultSilenceTimeout
	}

	id := newSessionID()
	dir := filepath.Join(opts.Root, contextID, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("session setup cancelled: %w", err)
	}

	s := &Session{
		ContextID:  contextID,
		ID:         id,
		Dir:        dir,
		CreatedAt:  time.Now(),
		logger:     logger,
		handle:     handle,
		resolver:   resolver,
		silence:    opts.SilenceTimeout,
		recordings: make(map[string][]Recording),
		labels:     make(map[string]string),
		open:       make(map[string]*captureStream),
	}

	cancel := handle.Notify(s.handleEvent)
	s.mu.Lock()
	s.disposers = append(s.disposers, disposer{
		name: "speech event listener",
		fn: func() error {
			cancel()
			return nil
		},
	})
	s.mu.Unlock()

	logger.Info("Capture session opened",
		slog.String("context_id", contextID),
		slog.String("session_id", id),
		slog.String("dir", dir),
	)

	return s, nil
}

// handleEvent dispatches speech activity events from the call platform.
// Speech stops are not acted on directly: streams close on trailing
// silence instead, so short pauses do not fragment a burst.
func (s *Session) handleEvent(ev call.Event) {
	if ev.Type != call.SpeechStart {
		return
	}
	s.onSpeechStart(ev.Participant, ev.Timestamp)
}

// onSpeechStart opens a new capture stream for a participant unless one is
// already open, in which case the signal is ignored.
func (s *Session) onSpeechStart(participant string, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	startMillis := at.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}

	if _, alreadyOpen := s.open[participant]; alreadyOpen {
		s.logger.Debug("Speech start for participant with open stream, ignoring",
			slog.String("session_id", s.ID),
			slog.String("participant", participant),
		)
		return
	}

	s.freezeLabel(participant)

	dir := filepath.Join(s.Dir, participant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Error("Failed to create participant directory, abandoning burst",
			slog.String("session_id", s.ID),
			slog.String("participant", participant),
			slog.String("error", err.Error()),
		)
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.pcm", startMillis))
	snk, err := newSink(path)
	if err != nil {
		s.logger.Error("Failed to open capture sink, abandoning burst",
			slog.String("session_id", s.ID),
			slog.String("participant", participant),
			slog.String("error", err.Error()),
		)
		return
	}

	stream := &captureStream{
		participant: participant,
		startMillis: startMillis,
		sink:        snk,
	}

	stream.idle = time.AfterFunc(s.silence, func() {
		s.closeStream(stream, "trailing silence")
	})

	cancelAudio, err := s.handle.Subscribe(participant, func(pcm []byte) {
		if _, werr := stream.sink.Write(pcm); werr != nil {
			s.logger.Warn("Capture write failed",
				slog.String("session_id", s.ID),
				slog.String("participant", participant),
				slog.String("error", werr.Error()),
			)
		}
		stream.idle.Reset(s.silence)
	})
	if err != nil {
		stream.idle.Stop()
		if cerr := snk.Close(); cerr != nil {
			s.logger.Warn("Failed to close abandoned capture sink", slog.String("error", cerr.Error()))
		}
		s.logger.Error("Failed to subscribe participant audio, abandoning burst",
			slog.String("session_id", s.ID),
			slog.String("participant", participant),
			slog.String("error", err.Error()),
		)
		return
	}
	stream.cancelAudio = cancelAudio

	s.open[participant] = stream
	s.recordings[participant] = append(s.recordings[participant], Recording{
		Participant: participant,
		Path:        path,
		StartMillis: startMillis,
	})
	s.disposers = append(s.disposers, disposer{
		name: "capture stream " + participant,
		fn: func() error {
			return s.closeStream(stream, "session teardown")
		},
	})

	s.logger.Info("Capture stream opened",
		slog.String("session_id", s.ID),
		slog.String("participant", participant),
		slog.String("path", path),
		slog.Int64("start_millis", startMillis),
	)
}

// freezeLabel resolves a participant's display label the first time the
// participant is seen and keeps it for the rest of the session.
func (s *Session) freezeLabel(participant string) {
	if _, seen := s.labels[participant]; seen {
		return
	}
	label := participant
	if s.resolver != nil {
		if resolved := s.resolver(participant); resolved != "" {
			label = resolved
		}
	}
	s.labels[participant] = label
}

// closeStream stops audio delivery for one stream, flushes and closes its
// sink, and removes it from the open set. It is safe to call more than
// once; only the first call does the work.
func (s *Session) closeStream(stream *captureStream, reason string) error {
	stream.closeOnce.Do(func() {
		stream.idle.Stop()
		if stream.cancelAudio != nil {
			stream.cancelAudio()
		}
		stream.closeErr = stream.sink.Close()

		s.mu.Lock()
		if s.open[stream.participant] == stream {
			delete(s.open, stream.participant)
		}
		s.mu.Unlock()

		s.logger.Info("Capture stream closed",
			slog.String("session_id", s.ID),
			slog.String("participant", stream.participant),
			slog.String("reason", reason),
			slog.Int64("bytes", stream.sink.BytesWritten()),
		)
	})
	return stream.closeErr
}

// OpenStreamCount returns the number of currently open capture streams.
func (s *Session) OpenStreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Manifest returns a snapshot of everything recorded so far. It is safe to
// call before or after the session is destroyed.
func (s *Session) Manifest() *Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordings := make(map[string][]Recording, len(s.recordings))
	for participant, recs := range s.recordings {
		recordings[participant] = append([]Recording(nil), recs...)
	}

	labels := make(map[string]string, len(s.labels))
	for participant, label := range s.labels {
		labels[participant] = label
	}

	return &Manifest{
		ContextID:  s.ContextID,
		SessionID:  s.ID,
		Root:       s.Dir,
		Recordings: recordings,
		Labels:     labels,
	}
}

// Leave severs the live connection to the call.
func (s *Session) Leave(ctx context.Context) error {
	return s.handle.Leave(ctx)
}

// Destroy runs every registered cleanup action in reverse order of
// registration. A failing disposer is logged and never stops the
// remaining cleanups, so every capture file is flushed and closed.
// Destroy is idempotent.
func (s *Session) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	disposers := s.disposers
	s.disposers = nil
	s.mu.Unlock()

	var errs []error
	for i := len(disposers) - 1; i >= 0; i-- {
		d := disposers[i]
		if err := d.fn(); err != nil {
			s.logger.Warn("Cleanup action failed, continuing",
				slog.String("session_id", s.ID),
				slog.String("disposer", d.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}

	s.logger.Info("Capture session destroyed",
		slog.String("context_id", s.ContextID),
		slog.String("session_id", s.ID),
		slog.Int("disposers_run", len(disposers)),
	)

	return errors.Join(errs...)
}
