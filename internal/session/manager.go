package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-insight-lab/internal/ingestion"
	"market-insight-lab/internal/observability"
	"market-insight-lab/internal/pipeline"
)

// DefaultIdleTTL is how long an unused session is kept.
const DefaultIdleTTL = 30 * time.Minute

// Manager creates and tracks sessions.
type Manager struct {
	loader   Loader
	pipeline pipeline.Options
	idleTTL  time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	sessions  map[string]*Session
	onEvict   func(id string)
	keepAlive func(id string) bool
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	Loader   Loader           // required
	Pipeline pipeline.Options // base options for every session
	IdleTTL  time.Duration    // DefaultIdleTTL when zero
	Metrics  *observability.Metrics
	Logger   *zerolog.Logger

	// OnEvict is called with the id of every session removed for idleness.
	OnEvict func(id string)
	// KeepAlive, when it returns true for an idle session, prevents its
	// eviction (e.g. while websocket clients are attached).
	KeepAlive func(id string) bool
}

// NewManager creates a new session manager.
func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		loader:    opts.Loader,
		pipeline:  opts.Pipeline,
		idleTTL:   opts.IdleTTL,
		metrics:   opts.Metrics,
		logger:    zerolog.Nop(),
		now:       time.Now,
		sessions:  make(map[string]*Session),
		onEvict:   opts.OnEvict,
		keepAlive: opts.KeepAlive,
	}
	if m.idleTTL == 0 {
		m.idleTTL = DefaultIdleTTL
	}
	if opts.Logger != nil {
		m.logger = *opts.Logger
	}
	if m.pipeline.Metrics == nil {
		m.pipeline.Metrics = opts.Metrics
	}
	if m.pipeline.Logger == nil {
		m.pipeline.Logger = &m.logger
	}
	return m
}

// WithClock sets a custom clock function for deterministic expiry.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithEvictHooks replaces the OnEvict and KeepAlive hooks. Either may be nil.
func (m *Manager) WithEvictHooks(onEvict func(id string), keepAlive func(id string) bool) *Manager {
	m.mu.Lock()
	m.onEvict = onEvict
	m.keepAlive = keepAlive
	m.mu.Unlock()
	return m
}

// Create opens a session fetching q. No data is loaded until Refresh.
func (m *Manager) Create(q ingestion.Query) *Session {
	id := uuid.New().String()
	s := newSession(id, m.loader, q.WithDefaults(), m.pipeline, m.logger, m.now)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.metrics.SessionOpened()
	m.logger.Info().Str("session_id", id).Int("limit", s.query.Limit).Str("convert", s.query.Convert).Msg("session created")
	return s
}

// Get returns the session with id, or ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close removes the session with id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.metrics.SessionClosed()
	m.logger.Info().Str("session_id", id).Msg("session closed")
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle closes sessions unused for longer than the idle TTL and
// returns how many were closed. The manager lock is never held while a
// session or a hook is consulted, so a session busy fetching does not
// stall Get or Create for the others.
func (m *Manager) EvictIdle() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	onEvict, keepAlive := m.onEvict, m.keepAlive
	m.mu.Unlock()

	var idle []*Session
	for _, s := range all {
		if !s.LastUsed().Before(cutoff) {
			continue
		}
		if keepAlive != nil && keepAlive(s.ID()) {
			continue
		}
		idle = append(idle, s)
	}
	if len(idle) == 0 {
		return 0
	}

	var evicted []string
	m.mu.Lock()
	for _, s := range idle {
		// skip sessions closed or used since the scan
		if m.sessions[s.ID()] != s || !s.LastUsed().Before(cutoff) {
			continue
		}
		delete(m.sessions, s.ID())
		evicted = append(evicted, s.ID())
	}
	m.mu.Unlock()

	for _, id := range evicted {
		m.metrics.SessionClosed()
		m.logger.Info().Str("session_id", id).Msg("idle session evicted")
		if onEvict != nil {
			onEvict(id)
		}
	}
	return len(evicted)
}

// Run evicts idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}
