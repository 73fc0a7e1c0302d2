// Package pipeline runs the analysis stages over one snapshot.
// It coordinates: features → similarity → anomaly → prediction
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-insight-lab/internal/anomaly"
	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/features"
	"market-insight-lab/internal/observability"
	"market-insight-lab/internal/prediction"
	"market-insight-lab/internal/similarity"
)

// Stage names, used as Analysis.Errors keys and metric labels.
const (
	StageFeatures   = "features"
	StageSimilarity = "similarity"
	StageAnomaly    = "anomaly"
	StagePrediction = "prediction"
)

// Stages lists the stages in execution order.
var Stages = []string{StageFeatures, StageSimilarity, StageAnomaly, StagePrediction}

// ErrNoFeatureSet is recorded for stages that need the scaled feature set
// when it could not be built.
var ErrNoFeatureSet = errors.New("pipeline: feature set unavailable")

// Options for a pipeline run.
type Options struct {
	Columns    []features.Column  // nil means features.DefaultColumns
	Selected   string             // row to rank neighbors for; first complete row if empty
	K          int                // neighbors to return, similarity.DefaultK if not positive
	Target     features.Column    // prediction target, prediction.DefaultTarget if empty
	Prediction prediction.Options // split and model settings
	Metrics    *observability.Metrics
	Logger     *zerolog.Logger
}

// Analysis holds the outputs of one run. A failed stage leaves its outputs
// empty and its error in Errors; other stages are unaffected.
type Analysis struct {
	Snapshot   *domain.Snapshot
	Features   []domain.FeatureRow
	FeatureSet *features.FeatureSet
	Similarity *similarity.Result
	Selected   string
	Neighbors  []domain.Neighbor
	Anomalies  []domain.FeatureRow
	Target     features.Column
	Model      *prediction.Model
	Errors     map[string]error
	RanAt      time.Time
}

// Err returns the error recorded for stage, or nil.
func (a *Analysis) Err(stage string) error {
	if a == nil || a.Errors == nil {
		return nil
	}
	return a.Errors[stage]
}

// PredictionEnabled reports whether a model was fitted.
func (a *Analysis) PredictionEnabled() bool {
	return a != nil && a.Model != nil
}

// Run executes every stage on s. It never fails as a whole: stage errors are
// collected in Analysis.Errors. A canceled ctx fails the stages not yet run.
func Run(ctx context.Context, s *domain.Snapshot, opts Options) *Analysis {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	target := opts.Target
	if target == "" {
		target = prediction.DefaultTarget
	}

	a := &Analysis{
		Snapshot: s,
		Selected: opts.Selected,
		Target:   target,
		Errors:   make(map[string]error),
		RanAt:    time.Now().UTC(),
	}

	r := &runner{ctx: ctx, a: a, metrics: opts.Metrics, logger: logger}

	// Stage 1: derived columns and the scaled feature set
	r.stage(StageFeatures, func() error {
		if s == nil {
			return errors.New("pipeline: nil snapshot")
		}
		a.Features = features.Derive(s)
		fs, err := features.NewFeatureSet(s, opts.Columns)
		if err != nil {
			return err
		}
		a.FeatureSet = fs
		return nil
	})

	// Stage 2: similarity matrix and neighbors of the selected row
	r.stage(StageSimilarity, func() error {
		if a.FeatureSet == nil {
			return ErrNoFeatureSet
		}
		a.Similarity = similarity.Compute(a.FeatureSet)
		if a.Selected == "" {
			if a.FeatureSet.Len() == 0 {
				return nil
			}
			a.Selected = a.FeatureSet.Rows[0].Name
		}
		neighbors, err := a.Similarity.TopK(a.Selected, opts.K)
		if err != nil {
			return err
		}
		a.Neighbors = neighbors
		return nil
	})

	// Stage 3: z-score anomalies, independent of the feature set
	r.stage(StageAnomaly, func() error {
		if s == nil {
			return errors.New("pipeline: nil snapshot")
		}
		a.Anomalies = anomaly.Filter(a.Features)
		opts.Metrics.SetAnomalies(len(a.Anomalies))
		return nil
	})

	// Stage 4: regression on the scaled features
	r.stage(StagePrediction, func() error {
		if a.FeatureSet == nil {
			return ErrNoFeatureSet
		}
		model, err := prediction.Fit(a.FeatureSet, target, opts.Prediction)
		if err != nil {
			return err
		}
		a.Model = model
		return nil
	})

	evt := logger.Info()
	if len(a.Errors) > 0 {
		evt = logger.Warn()
	}
	evt.Str("snapshot_id", snapshotID(s)).
		Int("rows", s.Len()).
		Int("anomalies", len(a.Anomalies)).
		Str("selected", a.Selected).
		Bool("prediction_enabled", a.PredictionEnabled()).
		Int("stage_errors", len(a.Errors)).
		Msg("analysis completed")

	return a
}

type runner struct {
	ctx     context.Context
	a       *Analysis
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func (r *runner) stage(name string, fn func() error) {
	if err := r.ctx.Err(); err != nil {
		r.a.Errors[name] = fmt.Errorf("%s stage: %w", name, err)
		return
	}
	start := time.Now()
	err := fn()
	d := time.Since(start)
	r.metrics.ObserveStage(name, d, err)
	if err != nil {
		r.a.Errors[name] = err
		r.logger.Debug().Str("stage", name).Err(err).Msg("stage failed")
		return
	}
	r.logger.Debug().Str("stage", name).Dur("duration", d).Msg("stage completed")
}

func snapshotID(s *domain.Snapshot) string {
	if s == nil {
		return ""
	}
	return s.ID
}
