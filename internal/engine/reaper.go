package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chatflow-io/chatflow/pkg/logger"
	"github.com/chatflow-io/chatflow/pkg/metrics"
)

// IdleResetter resets idle active conversations to the initial step.
type IdleResetter interface {
	ResetIdle(ctx context.Context, initialStep string, timeout time.Duration) (int64, error)
}

// Reaper periodically resets conversations inactive beyond the session
// timeout. Conversations awaiting handoff or claimed are never touched; a
// pending handoff is not abandoned by a timeout sweep.
type Reaper struct {
	store       IdleResetter
	initialStep string
	timeout     time.Duration
	logger      *logger.Logger
}

// NewReaper creates a reaper.
func NewReaper(store IdleResetter, initialStep string, timeout time.Duration, log *logger.Logger) *Reaper {
	return &Reaper{store: store, initialStep: initialStep, timeout: timeout, logger: log}
}

// RunOnce performs one sweep.
func (r *Reaper) RunOnce(ctx context.Context) error {
	n, err := r.store.ResetIdle(ctx, r.initialStep, r.timeout)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Debug("session reaper sweep", zap.Int64("reset", n))
		metrics.ReaperResetsTotal.Add(float64(n))
	}
	return nil
}
