package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// MockFailureStore for testing
type MockFailureStore struct {
	mu       sync.Mutex
	failures map[int64]*lifecycle.EffectFailure
	resolved map[int64]bool

	listErr    error
	resolveErr error
}

func NewMockFailureStore() *MockFailureStore {
	return &MockFailureStore{
		failures: make(map[int64]*lifecycle.EffectFailure),
		resolved: make(map[int64]bool),
	}
}

func (m *MockFailureStore) add(f *lifecycle.EffectFailure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[f.ID] = f
}

func (m *MockFailureStore) Record(ctx context.Context, f *lifecycle.EffectFailure) error {
	m.add(f)
	return nil
}

func (m *MockFailureStore) ListUnresolved(ctx context.Context, limit int) ([]*lifecycle.EffectFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*lifecycle.EffectFailure
	for id, f := range m.failures {
		if !m.resolved[id] {
			out = append(out, f)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockFailureStore) MarkResolved(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolveErr != nil {
		return m.resolveErr
	}
	m.resolved[id] = true
	return nil
}

func (m *MockFailureStore) isResolved(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolved[id]
}

// MockApplier for testing
type MockApplier struct {
	mu      sync.Mutex
	results map[int64]error
	calls   []int64
}

func NewMockApplier() *MockApplier {
	return &MockApplier{results: make(map[int64]error)}
}

func (m *MockApplier) ReapplyEffect(ctx context.Context, f *lifecycle.EffectFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, f.ID)
	return m.results[f.ID]
}

func (m *MockApplier) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func failure(id int64) *lifecycle.EffectFailure {
	return &lifecycle.EffectFailure{
		ID:            id,
		CorrelationID: "corr-1",
		Source:        lifecycle.Ref{EntityType: "job", EntityID: "job-1"},
		Target:        lifecycle.Ref{EntityType: "work_order", EntityID: "wo-1"},
		TargetState:   "CANCELED",
		Reason:        "linked table forbids COMPLETED -> CANCELED",
		OccurredAt:    time.Now(),
	}
}

func TestSweepResolvesReappliedFailures(t *testing.T) {
	store := NewMockFailureStore()
	applier := NewMockApplier()
	store.add(failure(1))

	r := NewEffectReconciler(DefaultReconcilerConfig(), store, applier, zap.NewNop())
	require.NoError(t, r.Sweep(context.Background()))

	assert.Equal(t, 1, applier.callCount())
	assert.True(t, store.isResolved(1))
	assert.Equal(t, 1, r.reconciledCount)
	assert.Equal(t, 0, r.retiredCount)
}

func TestSweepRetiresUnreconcilableFailures(t *testing.T) {
	store := NewMockFailureStore()
	applier := NewMockApplier()
	store.add(failure(1))
	applier.results[1] = lifecycle.NewRejection(lifecycle.ErrInvalidTransition, "COMPLETED", "CANCELED", "")

	r := NewEffectReconciler(DefaultReconcilerConfig(), store, applier, zap.NewNop())
	require.NoError(t, r.Sweep(context.Background()))

	assert.True(t, store.isResolved(1), "unreconcilable failures must be retired")
	assert.Equal(t, 0, r.reconciledCount)
	assert.Equal(t, 1, r.retiredCount)
}

func TestSweepPostponesTransientFailures(t *testing.T) {
	store := NewMockFailureStore()
	applier := NewMockApplier()
	store.add(failure(1))
	applier.results[1] = errors.New("database is locked")

	r := NewEffectReconciler(DefaultReconcilerConfig(), store, applier, zap.NewNop())
	require.NoError(t, r.Sweep(context.Background()))

	assert.False(t, store.isResolved(1), "transient failures stay unresolved")

	// The failure resolves once the transient condition clears.
	delete(applier.results, 1)
	require.NoError(t, r.Sweep(context.Background()))
	assert.True(t, store.isResolved(1))
}

func TestSweepSurfacesListError(t *testing.T) {
	store := NewMockFailureStore()
	store.listErr = errors.New("connection refused")

	r := NewEffectReconciler(DefaultReconcilerConfig(), store, NewMockApplier(), zap.NewNop())
	err := r.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved effect failures")
}

func TestReconcilerStartStop(t *testing.T) {
	store := NewMockFailureStore()
	r := NewEffectReconciler(ReconcilerConfig{PollInterval: 10 * time.Millisecond, BatchSize: 5}, store, NewMockApplier(), zap.NewNop())

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "double start must fail")
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop(), "stop is idempotent")
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(zap.NewNop())
	store := NewMockFailureStore()
	r := NewEffectReconciler(ReconcilerConfig{PollInterval: time.Hour, BatchSize: 5}, store, NewMockApplier(), zap.NewNop())
	m.Register(r)

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
}
