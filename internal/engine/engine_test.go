package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/detect"
	"github.com/rankwatch/insight/internal/metrics"
	"github.com/rankwatch/insight/internal/types"
)

// memRepo is an in-memory Repository for engine tests.
type memRepo struct {
	mu       sync.Mutex
	findings map[string]*types.Finding
	upserts  int
	failWith error
}

func newMemRepo() *memRepo {
	return &memRepo{findings: make(map[string]*types.Finding)}
}

func (m *memRepo) Upsert(ctx context.Context, f *types.Finding) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	m.upserts++
	_, exists := m.findings[f.ID]
	cp := *f
	m.findings[f.ID] = &cp
	return !exists, nil
}

func (m *memRepo) Get(ctx context.Context, id string) (*types.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.findings[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return f, nil
}

func (m *memRepo) Query(ctx context.Context, filter types.FindingFilter) ([]*types.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Finding
	for _, f := range m.findings {
		out = append(out, f)
	}
	return out, nil
}

func (m *memRepo) TransitionStatus(ctx context.Context, id string, next types.Status, actor string) (*types.Finding, error) {
	return nil, nil
}

func (m *memRepo) ChangedSince(ctx context.Context, since time.Time) ([]*types.Finding, error) {
	return nil, nil
}

func (m *memRepo) Statistics(ctx context.Context) (*types.Statistics, error) {
	return &types.Statistics{}, nil
}

func (m *memRepo) Close() error { return nil }

// stubDetector emits fixed candidates, or fails, or panics.
type stubDetector struct {
	name       string
	candidates []types.CandidateFinding
	err        error
	panics     bool
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) Detect(ctx context.Context, snap detect.Snapshot, cfg config.EngineConfig) ([]types.CandidateFinding, error) {
	if s.panics {
		panic("detector bug")
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

func candidate(source, entityID string) types.CandidateFinding {
	return types.CandidateFinding{
		Scope:      "sc-domain:example.com",
		EntityType: types.EntityPage,
		EntityID:   entityID,
		Category:   types.CategoryRisk,
		Source:     source,
		WindowDays: 7,
		Severity:   types.SeverityHigh,
		Confidence: 0.9,
		Title:      "Clicks down 60% WoW for " + entityID,
	}
}

func newTestEngine(t *testing.T, store *memRepo, detectors ...detect.Detector) *Engine {
	t.Helper()
	registry := detect.NewRegistry()
	for _, d := range detectors {
		require.NoError(t, registry.Register(d))
	}
	reader := metrics.NewMemoryReader()
	reader.Rows = []types.MetricRow{{Scope: "sc-domain:example.com", EntityType: types.EntityPage, EntityID: "/blog/x"}}
	return New(registry, reader, store, config.Default(), nil)
}

func TestRunPersistsCandidates(t *testing.T) {
	store := newMemRepo()
	e := newTestEngine(t, store,
		&stubDetector{name: "alpha", candidates: []types.CandidateFinding{candidate("alpha", "/blog/x")}},
	)

	report, err := e.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"sc-domain:example.com"}, report.Scopes)
	assert.Len(t, store.findings, 1)

	for _, f := range store.findings {
		assert.Equal(t, types.StatusNew, f.Status)
	}
}

func TestSecondRunUpdatesNotDuplicates(t *testing.T) {
	store := newMemRepo()
	e := newTestEngine(t, store,
		&stubDetector{name: "alpha", candidates: []types.CandidateFinding{candidate("alpha", "/blog/x")}},
	)

	_, err := e.Run(context.Background(), "")
	require.NoError(t, err)
	report, err := e.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Len(t, store.findings, 1, "re-detection must not create duplicate rows")
}

func TestDetectorFailureIsContained(t *testing.T) {
	store := newMemRepo()
	e := newTestEngine(t, store,
		&stubDetector{name: "alpha", err: errors.New("upstream timeout")},
		&stubDetector{name: "beta", candidates: []types.CandidateFinding{candidate("beta", "/blog/x")}},
		&stubDetector{name: "gamma", panics: true},
	)

	report, err := e.Run(context.Background(), "")
	require.NoError(t, err, "a run with surviving detectors must not fail")
	assert.Equal(t, 1, report.Created)
	assert.ElementsMatch(t, []string{"alpha", "gamma"}, report.FailedDetectors())
	assert.Len(t, store.findings, 1, "the healthy detector's findings must land")
}

func TestAllDetectorsFailedIsHardFailure(t *testing.T) {
	store := newMemRepo()
	e := newTestEngine(t, store,
		&stubDetector{name: "alpha", err: errors.New("boom")},
		&stubDetector{name: "beta", panics: true},
	)

	report, err := e.Run(context.Background(), "")
	assert.Error(t, err)
	assert.True(t, report.AllFailed())
}

func TestPersistenceFailureIsFatalToRun(t *testing.T) {
	store := newMemRepo()
	store.failWith = errors.New("disk full")
	e := newTestEngine(t, store,
		&stubDetector{name: "alpha", candidates: []types.CandidateFinding{candidate("alpha", "/blog/x")}},
	)

	_, err := e.Run(context.Background(), "")
	assert.ErrorContains(t, err, "disk full")
}

func TestDisabledDetectorIsSkipped(t *testing.T) {
	store := newMemRepo()
	registry := detect.NewRegistry()
	require.NoError(t, registry.Register(&stubDetector{name: "alpha", candidates: []types.CandidateFinding{candidate("alpha", "/blog/x")}}))
	require.NoError(t, registry.Register(&stubDetector{name: "beta", candidates: []types.CandidateFinding{candidate("beta", "/blog/x")}}))

	reader := metrics.NewMemoryReader()
	reader.Rows = []types.MetricRow{{Scope: "sc-domain:example.com", EntityType: types.EntityPage, EntityID: "/blog/x"}}

	cfg := config.Default()
	cfg.Detectors["alpha"] = false

	e := New(registry, reader, store, cfg, nil)
	report, err := e.Run(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, report.Detectors, 1)
	assert.Equal(t, "beta", report.Detectors[0].Detector)
}

func TestRunCanceledBetweenScopes(t *testing.T) {
	store := newMemRepo()
	e := newTestEngine(t, store,
		&stubDetector{name: "alpha", candidates: []types.CandidateFinding{candidate("alpha", "/blog/x")}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvalidCandidateSkippedNotFatal(t *testing.T) {
	bad := candidate("alpha", "/blog/x")
	bad.Severity = "catastrophic"

	store := newMemRepo()
	e := newTestEngine(t, store,
		&stubDetector{name: "alpha", candidates: []types.CandidateFinding{bad, candidate("alpha", "/blog/y")}},
	)

	report, err := e.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Detectors, 1)
	assert.Equal(t, 1, report.Detectors[0].Skipped)
}
