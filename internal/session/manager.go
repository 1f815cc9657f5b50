package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/timer"
)

// Default expiry of registered sessions.
const (
	DefaultFinishedTTL = time.Hour
	DefaultIdleTTL     = 24 * time.Hour
)

// Expiry bounds how long sessions stay registered after their last use.
// Zero fields take the defaults.
type Expiry struct {
	// Finished applies to sessions in a terminal state. They stay long
	// enough for the participant to read the result and send invitations.
	Finished time.Duration
	// Idle applies to sessions that were abandoned before finishing.
	Idle time.Duration
}

type entry struct {
	c        *Controller
	lastUsed time.Time
}

// Manager keeps the live sessions of a server.
type Manager struct {
	deps   Deps
	expiry Expiry

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager creates a registry. Missing ids come from uuid.
func NewManager(deps Deps, expiry Expiry) *Manager {
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Clock == nil {
		deps.Clock = timer.Real()
	}
	if expiry.Finished <= 0 {
		expiry.Finished = DefaultFinishedTTL
	}
	if expiry.Idle <= 0 {
		expiry.Idle = DefaultIdleTTL
	}
	return &Manager{deps: deps, expiry: expiry, sessions: make(map[string]*entry)}
}

// Start begins a new session and registers it. Expired sessions are swept
// first.
func (m *Manager) Start(ctx context.Context, opts Options) (*Controller, error) {
	m.Sweep()
	c, err := Start(ctx, m.deps.NewID(), m.deps, opts)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[c.ID()] = &entry{c: c, lastUsed: m.deps.Clock.Now()}
	m.mu.Unlock()
	return c, nil
}

// Get returns a registered session and marks it used.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	e.lastUsed = m.deps.Clock.Now()
	return e.c, nil
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Remove stops and forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		e.c.Close()
	}
}

// Sweep forgets finished sessions unused for Expiry.Finished and
// unfinished ones unused for Expiry.Idle. It returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.deps.Clock.Now()

	// States are read without m.mu so a session busy in a slow call does
	// not block the registry.
	m.mu.Lock()
	seen := make(map[string]entry, len(m.sessions))
	for id, e := range m.sessions {
		seen[id] = *e
	}
	m.mu.Unlock()

	var stale []string
	for id, e := range seen {
		ttl := m.expiry.Idle
		if e.c.State().Terminal() {
			ttl = m.expiry.Finished
		}
		if now.Sub(e.lastUsed) >= ttl {
			stale = append(stale, id)
		}
	}

	var expired []*Controller
	m.mu.Lock()
	for _, id := range stale {
		// Skip sessions requested since the snapshot.
		if e, ok := m.sessions[id]; ok && e.lastUsed.Equal(seen[id].lastUsed) {
			expired = append(expired, e.c)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		c.Close()
	}
	if len(expired) > 0 {
		slog.Debug("expired sessions removed", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Close stops the timers of every session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		e.c.Close()
		delete(m.sessions, id)
	}
}
