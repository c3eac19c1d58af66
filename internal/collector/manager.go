package collector

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/clock"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

// SessionManager tracks agent sessions by ID and evicts idle ones.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*AgentSession

	timeout time.Duration
	clock   clock.Clock
	log     *zap.Logger
}

// NewSessionManager creates a manager evicting sessions idle for longer
// than timeout. A non-positive timeout disables eviction.
func NewSessionManager(timeout time.Duration, clk clock.Clock, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{
		sessions: make(map[id.SessionID]*AgentSession),
		timeout:  timeout,
		clock:    clock.OrReal(clk),
		log:      log,
	}
}

// Add registers s under its ID.
func (m *SessionManager) Add(s *AgentSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// Get returns the session with the given ID.
func (m *SessionManager) Get(sid id.SessionID) (*AgentSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sid]
	return s, ok
}

// Remove drops a session.
func (m *SessionManager) Remove(sid id.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sid]
	delete(m.sessions, sid)
	return ok
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns all sessions ordered by creation time.
func (m *SessionManager) List() []*AgentSession {
	m.mu.RLock()
	out := make([]*AgentSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Sweep evicts sessions idle for longer than the timeout and returns how
// many were removed. Evicted sessions lose their whole registry. Idle checks
// run without the manager lock, so a session busy with a long message only
// delays its own eviction check.
func (m *SessionManager) Sweep() int {
	if m.timeout <= 0 {
		return 0
	}
	cutoff := m.clock.Now().Add(-m.timeout)

	var idle []*AgentSession
	for _, s := range m.List() {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	if len(idle) == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for _, s := range idle {
		// the ID may have been re-added, or the session removed meanwhile
		if m.sessions[s.ID] != s {
			continue
		}
		delete(m.sessions, s.ID)
		evicted++
		m.log.Info("session expired",
			zap.String("session", string(s.ID)),
			zap.String("agent", s.AgentID))
	}
	return evicted
}

// Run sweeps every interval until ctx is done. onSweep, if set, receives
// the number of evicted sessions after each sweep.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration, onSweep func(evicted int)) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := m.Sweep()
			if onSweep != nil {
				onSweep(n)
			}
		}
	}
}
