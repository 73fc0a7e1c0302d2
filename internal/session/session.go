// Package session keeps one user's snapshot and analysis between actions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/features"
	"market-insight-lab/internal/ingestion"
	"market-insight-lab/internal/pipeline"
)

var (
	// ErrNotFound is returned for an unknown or expired session id.
	ErrNotFound = errors.New("session not found")

	// ErrNoSnapshot is returned by actions that need data before the first
	// successful refresh.
	ErrNoSnapshot = errors.New("session has no snapshot yet")

	// ErrPredictionDisabled is returned by Predict when no model is fitted.
	ErrPredictionDisabled = errors.New("prediction is disabled")
)

// Loader produces snapshots. Implemented by *ingestion.Loader.
type Loader interface {
	Load(ctx context.Context, req ingestion.Request) (*domain.Snapshot, error)
}

// Session owns one snapshot and the analysis derived from it.
// Actions are serialised; no two pipeline runs overlap.
type Session struct {
	id     string
	loader Loader
	query  ingestion.Query
	logger zerolog.Logger
	now    func() time.Time

	lastUsed atomic.Int64 // unix nanoseconds, readable without mu

	mu       sync.Mutex
	opts     pipeline.Options
	snapshot *domain.Snapshot
	analysis *pipeline.Analysis
}

func newSession(id string, loader Loader, q ingestion.Query, opts pipeline.Options, logger zerolog.Logger, now func() time.Time) *Session {
	s := &Session{
		id:       id,
		loader:   loader,
		query:    q,
		opts:     opts,
		logger:   logger.With().Str("session_id", id).Logger(),
		now:      now,
	}
	s.touch()
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Query returns the listing query the session fetches.
func (s *Session) Query() ingestion.Query {
	return s.query
}

// LastUsed returns the time of the last action or read. It never waits for
// an action in progress.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch() {
	s.lastUsed.Store(s.now().UnixNano())
}

// Snapshot returns the current snapshot, or nil.
func (s *Session) Snapshot() *domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Analysis returns the current analysis, or nil. Reading it counts as use.
func (s *Session) Analysis() *pipeline.Analysis {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analysis
}

// Refresh loads a snapshot and re-runs the pipeline. With force the listing
// cache is bypassed. On failure the previous snapshot and analysis are kept
// and the error is returned.
func (s *Session) Refresh(ctx context.Context, force bool) (*pipeline.Analysis, error) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.loader.Load(ctx, ingestion.Request{Query: s.query, Fresh: force})
	if err != nil {
		s.logger.Warn().Err(err).Bool("stale", s.snapshot != nil).Msg("refresh failed, keeping previous snapshot")
		return s.analysis, err
	}

	s.snapshot = snapshot
	s.analysis = s.run(ctx, snapshot)
	return s.analysis, nil
}

// Select re-runs the pipeline with a new selected row. An unknown name is
// reported as the similarity stage error, which is also returned; the
// selection is kept so the other stages still render.
func (s *Session) Select(ctx context.Context, name string) (*pipeline.Analysis, error) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	s.opts.Selected = name
	s.analysis = s.run(ctx, s.snapshot)
	return s.analysis, s.analysis.Err(pipeline.StageSimilarity)
}

// SetTarget re-runs the pipeline predicting col.
func (s *Session) SetTarget(ctx context.Context, col features.Column) (*pipeline.Analysis, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("invalid target %q", col)
	}

	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opts.Target = col
	if s.snapshot == nil {
		return nil, nil
	}
	s.analysis = s.run(ctx, s.snapshot)
	return s.analysis, nil
}

// Predict evaluates the current model on raw input values.
// If the model could not be fitted the prediction stage error is returned.
func (s *Session) Predict(inputs map[features.Column]float64) (float64, error) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.analysis == nil {
		return 0, ErrNoSnapshot
	}
	if !s.analysis.PredictionEnabled() {
		if err := s.analysis.Err(pipeline.StagePrediction); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrPredictionDisabled, err)
		}
		return 0, ErrPredictionDisabled
	}
	return s.analysis.Model.Predict(inputs)
}

// run analyses snapshot on a context detached from ctx's cancellation, so a
// client that goes away after a successful fetch cannot leave an
// analysis made only of "context canceled" stage errors.
func (s *Session) run(ctx context.Context, snapshot *domain.Snapshot) *pipeline.Analysis {
	return pipeline.Run(context.WithoutCancel(ctx), snapshot, s.opts)
}
