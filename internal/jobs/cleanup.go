package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wahub/wahub/internal/config"
	"github.com/wahub/wahub/internal/manager"
	"github.com/wahub/wahub/internal/store"
)

// CleanupJob runs the periodic housekeeping: idle-session eviction,
// delivery-log pruning and soft-delete retention purge.
type CleanupJob struct {
	cfg      *config.Config
	manager  *manager.Manager
	global   *store.Store
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(cfg *config.Config, mgr *manager.Manager, global *store.Store, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		cfg:      cfg,
		manager:  mgr,
		global:   global,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if evicted := j.manager.SweepIdle(ctx); len(evicted) > 0 {
		log.Info().Int("count", len(evicted)).Msg("evicted idle sessions")
	}

	j.runCleanup(ctx, "webhook deliveries", func(ctx context.Context) (int64, error) {
		return j.global.PruneDeliveries(ctx, time.Now().Add(-config.WebhookDeliveryRetention))
	})

	if j.cfg.RetentionDays > 0 {
		j.runCleanup(ctx, "soft-deleted rows", func(ctx context.Context) (int64, error) {
			return j.global.PurgeSoftDeleted(ctx, time.Now().Add(-j.cfg.Retention()))
		})
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
