package daemon

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/1broseidon/vsyncd/internal/display"
)

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Reconciler periodically re-reads engine configs so hotplugged or
// removed modes reach the refresh controllers.
type Reconciler struct {
	interval time.Duration
	displays []*display.Display
	logger   *slog.Logger
}

// NewReconciler creates a new reconciler with the given configuration.
func NewReconciler(cfg ReconcilerConfig, displays []*display.Display) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Reconciler{
		interval: interval,
		displays: displays,
		logger:   logger,
	}
}

// Run starts the reconciliation loop. Blocks until context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// reconcile performs a single reconciliation pass.
func (r *Reconciler) reconcile(ctx context.Context) {
	// Recover from panics to prevent crashing the daemon
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("reconciler panic recovered", "error", err)
		}
	}()

	for _, d := range r.displays {
		if d.Lost() != nil {
			continue
		}
		changed, err := d.UpdateConfigs(ctx)
		if err != nil {
			r.logger.Warn("reconciler: failed to read configs", "display", d.ID(), "error", err)
			continue
		}
		if changed {
			r.logger.Info("reconciler: display configs changed",
				"display", d.ID(),
				"configs", len(d.Configs()),
				"active", d.ActiveConfig().ID)
		}
	}
}

// ReconcileNow triggers an immediate reconciliation pass.
func (r *Reconciler) ReconcileNow(ctx context.Context) {
	r.reconcile(ctx)
}
