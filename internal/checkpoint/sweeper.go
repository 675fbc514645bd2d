package checkpoint

import (
	"context"
	"time"

	"github.com/Iron-Ham/autopilot/internal/logging"
)

// Sweeper periodically removes checkpoints past their retention.
type Sweeper struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	logger    *logging.Logger
}

// NewSweeper creates a Sweeper. A non-positive retention uses
// DefaultRetention; a non-positive interval defaults to one hour.
func NewSweeper(store Store, retention, interval time.Duration, logger *logging.Logger) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Sweeper{store: store, retention: retention, interval: interval, logger: logger}
}

// Sweep runs one retention pass.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.PurgeOlderThan(ctx, s.retention)
	if err != nil {
		s.logger.Warn("checkpoint sweep failed", "error", err)
		return n, err
	}
	if n > 0 {
		s.logger.Info("swept expired checkpoints", "removed", n, "retention", s.retention.String())
	}
	return n, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
// Sweep errors are logged, not returned.
func (s *Sweeper) Run(ctx context.Context) error {
	_, _ = s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}
