package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AndrewMead10/discord-call-transcriber/internal/call"
	"github.com/AndrewMead10/discord-call-transcriber/internal/metrics"
)

// DefaultStartTimeout bounds how long establishing readiness for a new
// session may take before the attempt fails.
const DefaultStartTimeout = 20 * time.Second

// Manager is the registry of active capture sessions, at most one per call
// context. Registration, lookup and removal are atomic with respect to the
// registry mutex; sessions for different contexts are fully independent.
type Manager struct {
	logger       *slog.Logger
	opts         Options
	startTimeout time.Duration
	metrics      *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session registry. Sessions it opens inherit opts.
// m may be nil.
func NewManager(logger *slog.Logger, opts Options, startTimeout time.Duration, m *metrics.Metrics) *Manager {
	if startTimeout <= 0 {
		startTimeout = DefaultStartTimeout
	}
	return &Manager{
		logger:       logger,
		opts:         opts,
		startTimeout: startTimeout,
		metrics:      m,
		sessions:     make(map[string]*Session),
	}
}

// Start opens a capture session for a context, or returns the existing one
// unchanged when the context already has an active session. The second
// call never creates a second on-disk session directory.
func (m *Manager) Start(ctx context.Context, handle call.Handle, contextID string, resolver call.LabelResolver) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[contextID]; ok {
		m.logger.Info("Session already active for context, reusing",
			slog.String("context_id", contextID),
			slog.String("session_id", existing.ID),
		)
		return existing, nil
	}

	startCtx, cancel := context.WithTimeout(ctx, m.startTimeout)
	defer cancel()

	session, err := Open(startCtx, handle, contextID, resolver, m.opts, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start session for context %s: %w", contextID, err)
	}

	m.sessions[contextID] = session
	if m.metrics != nil {
		m.metrics.SessionsStarted.Inc()
		m.metrics.ActiveSessions.Inc()
	}
	return session, nil
}

// Get returns the active session for a context, or nil when there is none.
func (m *Manager) Get(contextID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[contextID]
}

// ActiveContexts returns the context ids with a live session.
func (m *Manager) ActiveContexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	contexts := make([]string, 0, len(m.sessions))
	for contextID := range m.sessions {
		contexts = append(contexts, contextID)
	}
	return contexts
}

// ActiveSessionCount returns the number of live sessions.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stop finalizes the session for a context and returns its manifest, or
// nil when the context has no active session. The live connection is
// severed first, then teardown runs to completion (manifest included)
// before the registry entry is removed, so no stream leaks and no second
// session can slip in mid-teardown.
func (m *Manager) Stop(ctx context.Context, contextID string) *Manifest {
	m.mu.Lock()
	session, ok := m.sessions[contextID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := session.Leave(ctx); err != nil {
		m.logger.Warn("Failed to leave call cleanly",
			slog.String("context_id", contextID),
			slog.String("error", err.Error()),
		)
	}

	if err := session.Destroy(); err != nil {
		m.logger.Warn("Session teardown reported errors",
			slog.String("context_id", contextID),
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}

	manifest := session.Manifest()

	m.mu.Lock()
	if m.sessions[contextID] == session {
		delete(m.sessions, contextID)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsStopped.Inc()
		m.metrics.ActiveSessions.Dec()
		m.metrics.SessionDuration.Observe(time.Since(session.CreatedAt).Seconds())
	}

	m.logger.Info("Capture session stopped",
		slog.String("context_id", contextID),
		slog.String("session_id", session.ID),
		slog.Int("recordings", manifest.RecordingCount()),
	)

	return manifest
}

// StopAll finalizes every active session and returns their manifests.
// Used on service shutdown.
func (m *Manager) StopAll(ctx context.Context) []*Manifest {
	manifests := make([]*Manifest, 0)
	for _, contextID := range m.ActiveContexts() {
		if manifest := m.Stop(ctx, contextID); manifest != nil {
			manifests = append(manifests, manifest)
		}
	}
	return manifests
}
