// Package engine runs the detection pipeline: for each scope, every
// enabled detector analyzes the latest metric snapshot, candidates are
// scored and keyed, and the repository absorbs them idempotently.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/detect"
	"github.com/rankwatch/insight/internal/identity"
	"github.com/rankwatch/insight/internal/metrics"
	"github.com/rankwatch/insight/internal/repo"
	"github.com/rankwatch/insight/internal/types"
)

// DetectorFailure wraps an error (or recovered panic) from a single
// detector. It is contained: the run degrades, the other detectors'
// findings still land.
type DetectorFailure struct {
	Detector string
	Err      error
}

func (f *DetectorFailure) Error() string {
	return fmt.Sprintf("detector %s failed: %v", f.Detector, f.Err)
}

func (f *DetectorFailure) Unwrap() error {
	return f.Err
}

// Engine orchestrates detection runs.
type Engine struct {
	registry *detect.Registry
	reader   metrics.Reader
	store    repo.Repository
	cfg      config.EngineConfig
	logger   *log.Logger
}

// New creates an engine. A nil logger falls back to the default logger.
func New(registry *detect.Registry, reader metrics.Reader, store repo.Repository, cfg config.EngineConfig, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		registry: registry,
		reader:   reader,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes one detection run over the given scope, or over every
// known scope when scope is empty. Detector failures are contained and
// reported per detector; Run returns an error only when the run as a
// whole is unusable: every detector failed, the metric store or the
// repository is down, or the context was canceled.
func (e *Engine) Run(ctx context.Context, scope string) (*types.RunReport, error) {
	report := &types.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
	}()

	scopes := []string{scope}
	if scope == "" {
		var err error
		scopes, err = e.reader.Scopes(ctx)
		if err != nil {
			return report, fmt.Errorf("listing scopes: %w", err)
		}
	}
	report.Scopes = scopes

	logger := e.logger.With("run_id", report.RunID)
	logger.Info("starting detection run", "scopes", len(scopes))

	for _, sc := range scopes {
		// Cooperative cancellation checkpoint between scopes. A detector
		// that has started runs to completion.
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("run canceled: %w", err)
		}
		if err := e.runScope(ctx, sc, logger, report); err != nil {
			return report, err
		}
	}

	if report.AllFailed() {
		return report, fmt.Errorf("all %d detectors failed", len(report.Detectors))
	}

	logger.Info("detection run complete",
		"created", report.Created,
		"updated", report.Updated,
		"failed_detectors", len(report.FailedDetectors()),
		"duration", time.Since(report.StartedAt))
	return report, nil
}

type detectorResult struct {
	report     types.DetectorReport
	candidates []types.CandidateFinding
}

func (e *Engine) runScope(ctx context.Context, scope string, logger *log.Logger, report *types.RunReport) error {
	rows, err := e.reader.LatestRows(ctx, scope)
	if err != nil {
		return fmt.Errorf("reading metric rows for %s: %w", scope, err)
	}
	snap := detect.Snapshot{Scope: scope, Rows: rows}

	var detectors []detect.Detector
	for _, d := range e.registry.List() {
		if !e.cfg.DetectorEnabled(d.Name()) {
			logger.Debug("detector disabled", "detector", d.Name())
			continue
		}
		detectors = append(detectors, d)
	}

	// Detectors are independent and read-only over the snapshot, so they
	// run in parallel. Failures never propagate through the group; each
	// is captured in its own report slot.
	results := make([]detectorResult, len(detectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range detectors {
		i, d := i, d
		g.Go(func() error {
			start := time.Now()
			candidates, err := runDetector(gctx, d, snap, e.cfg)
			dr := types.DetectorReport{
				Detector:   d.Name(),
				Candidates: len(candidates),
				Duration:   time.Since(start),
			}
			if err != nil {
				failure := &DetectorFailure{Detector: d.Name(), Err: err}
				logger.Error("detector failed", "detector", d.Name(), "scope", scope, "error", err)
				dr.Error = failure.Error()
				candidates = nil
			}
			results[i] = detectorResult{report: dr, candidates: candidates}
			return nil
		})
	}
	_ = g.Wait()

	// Upserts are serialized: detector output order is stable, so two
	// runs over the same snapshot touch the store identically.
	for i := range results {
		if err := ctx.Err(); err != nil {
			report.Detectors = append(report.Detectors, results[i].report)
			return fmt.Errorf("run canceled: %w", err)
		}
		if err := e.persist(ctx, &results[i], logger); err != nil {
			report.Detectors = append(report.Detectors, results[i].report)
			return err
		}
		report.Detectors = append(report.Detectors, results[i].report)
		report.Created += results[i].report.Created
		report.Updated += results[i].report.Updated
	}
	return nil
}

// runDetector invokes one detector with panic containment. A panicking
// detector is a failed detector, not a crashed run.
func runDetector(ctx context.Context, d detect.Detector, snap detect.Snapshot, cfg config.EngineConfig) (candidates []types.CandidateFinding, err error) {
	defer func() {
		if r := recover(); r != nil {
			candidates = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.Detect(ctx, snap, cfg)
}

// persist upserts one detector's candidates. A candidate that fails
// validation is skipped and counted; a storage error is fatal to the
// run, since continuing would leave the store in a half-written state
// the next run cannot distinguish from reality.
func (e *Engine) persist(ctx context.Context, result *detectorResult, logger *log.Logger) error {
	for i := range result.candidates {
		c := &result.candidates[i]
		f := &types.Finding{
			ID:              identity.ForCandidate(c),
			Scope:           c.Scope,
			EntityType:      c.EntityType,
			EntityID:        c.EntityID,
			Category:        c.Category,
			Source:          c.Source,
			WindowDays:      c.WindowDays,
			Severity:        c.Severity,
			Confidence:      c.Confidence,
			Title:           c.Title,
			Description:     c.Description,
			Metrics:         c.Metrics,
			Status:          types.StatusNew,
			LinkedFindingID: c.LinkedFindingID,
		}
		if err := f.Validate(); err != nil {
			logger.Warn("skipping invalid candidate",
				"detector", result.report.Detector,
				"entity", c.EntityID,
				"error", err)
			result.report.Skipped++
			continue
		}

		inserted, err := e.store.Upsert(ctx, f)
		if err != nil {
			return fmt.Errorf("upserting finding %s: %w", f.ID, err)
		}
		if inserted {
			result.report.Created++
		} else {
			result.report.Updated++
		}
	}
	return nil
}
