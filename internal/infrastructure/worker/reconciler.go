package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/application/port"
	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// EffectApplier retries one recorded propagation failure. A nil return means
// the target entity holds the recorded state; a lifecycle.Rejection means the
// failure can never be reconciled and should be retired; any other error is
// transient and retried on the next sweep.
type EffectApplier interface {
	ReapplyEffect(ctx context.Context, f *lifecycle.EffectFailure) error
}

// ReconcilerConfig holds configuration for the effect reconciler
type ReconcilerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultReconcilerConfig returns default configuration
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    20,
	}
}

// EffectReconciler sweeps unresolved side-effect propagation failures and
// re-applies them through the transition engine. Propagation itself is
// best-effort; this worker is what makes it eventually consistent.
type EffectReconciler struct {
	config   ReconcilerConfig
	failures port.EffectFailureStore
	applier  EffectApplier
	logger   *zap.Logger

	mu              sync.RWMutex
	ctx             context.Context
	cancel          context.CancelFunc
	isRunning       bool
	reconciledCount int
	retiredCount    int
	lastError       error
}

// NewEffectReconciler creates an effect reconciliation worker
func NewEffectReconciler(
	config ReconcilerConfig,
	failures port.EffectFailureStore,
	applier EffectApplier,
	logger *zap.Logger,
) *EffectReconciler {
	return &EffectReconciler{
		config:   config,
		failures: failures,
		applier:  applier,
		logger:   logger,
	}
}

// Start begins the worker polling loop
func (w *EffectReconciler) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("effect reconciler already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("EffectReconciler started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop()

	return nil
}

// Stop gracefully terminates the worker
func (w *EffectReconciler) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}

	w.isRunning = false
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	w.logger.Info("EffectReconciler stopped",
		zap.Int("reconciled_count", w.reconciledCount),
		zap.Int("retired_count", w.retiredCount))

	return nil
}

// Name returns the worker name for identification
func (w *EffectReconciler) Name() string {
	return "EffectReconciler"
}

// pollLoop runs the main polling loop in background
func (w *EffectReconciler) pollLoop() {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Poll loop context cancelled")
			return

		case <-ticker.C:
			if err := w.Sweep(w.ctx); err != nil {
				w.mu.Lock()
				w.lastError = err
				w.mu.Unlock()
				w.logger.Error("Failed to sweep effect failures", zap.Error(err))
			}
		}
	}
}

// Sweep processes one batch of unresolved propagation failures. It is
// exported so an operator endpoint can trigger a pass outside the poll
// schedule.
func (w *EffectReconciler) Sweep(ctx context.Context) error {
	failures, err := w.failures.ListUnresolved(ctx, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list unresolved effect failures: %w", err)
	}
	if len(failures) == 0 {
		return nil
	}

	w.logger.Debug("Reconciling effect failures", zap.Int("count", len(failures)))

	for _, f := range failures {
		err := w.applier.ReapplyEffect(ctx, f)
		switch {
		case err == nil:
			if err := w.failures.MarkResolved(ctx, f.ID); err != nil {
				w.logger.Error("Failed to mark effect failure resolved",
					zap.Int64("failure_id", f.ID), zap.Error(err))
				continue
			}
			w.mu.Lock()
			w.reconciledCount++
			w.mu.Unlock()
			w.logger.Info("Effect failure reconciled",
				zap.Int64("failure_id", f.ID),
				zap.String("target", f.Target.EntityType+"/"+f.Target.EntityID),
				zap.String("target_state", f.TargetState.String()))

		case lifecycle.IsRejection(err):
			// The target's table still forbids the move; retrying cannot
			// change that. Retire the failure so the backlog stays clean.
			if err := w.failures.MarkResolved(ctx, f.ID); err != nil {
				w.logger.Error("Failed to retire effect failure",
					zap.Int64("failure_id", f.ID), zap.Error(err))
				continue
			}
			w.mu.Lock()
			w.retiredCount++
			w.mu.Unlock()
			w.logger.Warn("Effect failure retired as unreconcilable",
				zap.Int64("failure_id", f.ID),
				zap.String("target", f.Target.EntityType+"/"+f.Target.EntityID),
				zap.String("target_state", f.TargetState.String()),
				zap.Error(err))

		default:
			w.logger.Warn("Effect failure retry postponed",
				zap.Int64("failure_id", f.ID),
				zap.String("target", f.Target.EntityType+"/"+f.Target.EntityID),
				zap.Error(err))
		}
	}

	return nil
}
