package sync

import (
	"context"
	"time"

	"github.com/matheus3301/feedsync/internal/config"
	"github.com/matheus3301/feedsync/internal/store"
	"go.uber.org/zap"
)

// SweepResult counts what one sweep removed.
type SweepResult struct {
	ExpiredStories  int64
	PrunedActions   int64
	OrphanedPostIDs []string
}

// Sweeper periodically drops expired stories and old completed outbox rows.
type Sweeper struct {
	db        *store.DB
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSweeper creates a sweeper. Zero durations take the config defaults.
func NewSweeper(db *store.DB, retention, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = config.DefaultCompletedRetention
	}
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}
	return &Sweeper{db: db, retention: retention, interval: interval, logger: logger, now: time.Now}
}

// Start sweeps once, then on every interval until Stop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if _, err := s.SweepOnce(); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sweeper and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// SweepOnce runs one sweep. It also reports offline posts that lost their
// create action, which would otherwise stay unsynced forever.
func (s *Sweeper) SweepOnce() (SweepResult, error) {
	var res SweepResult
	now := s.now()

	n, err := s.db.DeleteExpiredStories(now.UnixMilli())
	if err != nil {
		return res, err
	}
	res.ExpiredStories = n

	n, err = s.db.PruneCompleted(now.Add(-s.retention).UnixMilli())
	if err != nil {
		return res, err
	}
	res.PrunedActions = n

	res.OrphanedPostIDs, err = s.db.UnsyncedPostsWithoutCreate()
	if err != nil {
		return res, err
	}
	if len(res.OrphanedPostIDs) > 0 {
		s.logger.Error("unsynced posts without a create action", zap.Strings("post_ids", res.OrphanedPostIDs))
	}
	if res.ExpiredStories > 0 || res.PrunedActions > 0 {
		s.logger.Info("sweep",
			zap.Int64("expired_stories", res.ExpiredStories),
			zap.Int64("pruned_actions", res.PrunedActions),
		)
	}
	return res, nil
}
