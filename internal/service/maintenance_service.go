package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/session-insights-api/internal/models"
	"github.com/noah-isme/session-insights-api/pkg/jobs"
)

// Background job types.
const (
	JobCachePurge   = "cache.purge"
	JobStatsRefresh = "stats.refresh"
	JobModelRetrain = "model.retrain"
)

type cachePurger interface {
	Purge(ctx context.Context) (int, error)
}

type statsRefresher interface {
	Refresh(ctx context.Context, clientID string) error
}

type modelTrainer interface {
	Train(ctx context.Context) (*models.ModelStatus, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// MaintenanceService executes background upkeep: cache sweeps, stats refreshes
// and model retraining.
type MaintenanceService struct {
	cache   cachePurger
	stats   statsRefresher
	trainer modelTrainer
	logger  *zap.Logger
}

// NewMaintenanceService constructs the job handler.
func NewMaintenanceService(cache cachePurger, stats statsRefresher, trainer modelTrainer, logger *zap.Logger) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceService{cache: cache, stats: stats, trainer: trainer, logger: logger}
}

// Handle satisfies jobs.Handler.
func (s *MaintenanceService) Handle(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case JobCachePurge:
		removed, err := s.cache.Purge(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("cache purged", zap.String("job_id", job.ID), zap.Int("removed", removed))
		return nil
	case JobStatsRefresh:
		clientID := job.Payload["client_id"]
		if err := s.stats.Refresh(ctx, clientID); err != nil {
			return err
		}
		s.logger.Info("stats refreshed", zap.String("job_id", job.ID), zap.String("client_id", clientID))
		return nil
	case JobModelRetrain:
		status, err := s.trainer.Train(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("model retrained", zap.String("job_id", job.ID), zap.Int("version", status.Version), zap.Int("examples", status.Examples))
		return nil
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// Run enqueues a cache sweep every interval until ctx is done.
func (s *MaintenanceService) Run(ctx context.Context, queue jobEnqueuer, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := queue.Enqueue(jobs.NewJob(JobCachePurge, nil)); err != nil {
				s.logger.Warn("failed to schedule cache sweep", zap.Error(err))
			}
		}
	}
}
