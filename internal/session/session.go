// Package session manages form editing session lifecycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matthewbaird/canalworks/internal/metrics"
	"github.com/matthewbaird/canalworks/internal/workflow"
)

// Session holds the form state of one editing connection.
type Session struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`

	mu           sync.Mutex
	lastActiveAt time.Time
	state        workflow.State
	busy         bool
}

// New creates a session for actor over an initial form state.
func New(actor string, initial workflow.State) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.New().String(),
		Actor:        actor,
		CreatedAt:    now,
		lastActiveAt: now,
		state:        initial,
	}
}

// State returns the current form state.
func (s *Session) State() workflow.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Update replaces the form state with fn's result and marks the session
// active. fn runs under the session lock, so it must not block; dispatches
// that reach the store or the gateway go through Begin instead.
func (s *Session) Update(fn func(workflow.State) workflow.State) workflow.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fn(s.state)
	s.lastActiveAt = time.Now()
	return s.state
}

// Begin claims the session for a dispatch that runs without the session
// lock and returns the state to start from. It reports false while another
// claim is held. Every successful Begin must be paired with End.
func (s *Session) Begin() (workflow.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return s.state, false
	}
	s.busy = true
	s.lastActiveAt = time.Now()
	return s.state, true
}

// Set publishes a state reached by the claimed dispatch, so readers and the
// janitor see the phase in flight.
func (s *Session) Set(st workflow.State) {
	s.mu.Lock()
	s.state = st
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// End commits the final state of the claimed dispatch and releases the
// claim.
func (s *Session) End(st workflow.State) {
	s.mu.Lock()
	s.state = st
	s.busy = false
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// LastActiveAt returns the time of the last update or touch.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// IsExpired returns true if the session has exceeded the given max age.
func (s *Session) IsExpired(maxAge time.Duration) bool {
	return maxAge > 0 && time.Since(s.CreatedAt) > maxAge
}

// IsIdle returns true if the session has been idle longer than the timeout.
// A claimed session or one with a submission in flight is never idle.
func (s *Session) IsIdle(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy || s.state.Phase.InFlight() {
		return false
	}
	return timeout > 0 && time.Since(s.lastActiveAt) > timeout
}

// Manager handles session creation, lookup, and cleanup.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxAge      time.Duration
	idleTimeout time.Duration
	logger      *zap.Logger
}

// NewManager creates a session manager with the given timeouts. A zero
// timeout disables that expiry.
func NewManager(maxAge, idleTimeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Create registers a new session and returns it.
func (m *Manager) Create(actor string, initial workflow.State) *Session {
	s := New(actor, initial)
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
	m.logger.Debug("session created", zap.String("session", s.ID), zap.String("actor", actor))
	return s
}

// Get retrieves a session by ID. Returns nil if not found or expired.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if m.stale(s) {
		m.Remove(id)
		return nil
	}
	return s
}

// Remove deletes a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) stale(s *Session) bool {
	return s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout)
}

// Cleanup removes all expired and idle sessions and returns how many it
// removed. Staleness is checked without the manager lock held so a busy
// session never stalls Create or Get.
func (m *Manager) Cleanup() int {
	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	var stale []*Session
	for _, s := range candidates {
		if m.stale(s) {
			stale = append(stale, s)
		}
	}

	m.mu.Lock()
	removed := 0
	for _, s := range stale {
		if m.sessions[s.ID] == s {
			delete(m.sessions, s.ID)
			removed++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
	if removed > 0 {
		m.logger.Info("sessions expired", zap.Int("removed", removed), zap.Int("active", n))
	}
	return removed
}

// Run calls Cleanup every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}
