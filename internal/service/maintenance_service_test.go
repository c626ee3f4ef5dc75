package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/session-insights-api/internal/models"
	"github.com/noah-isme/session-insights-api/pkg/jobs"
)

type recordingMaintenance struct {
	mu        sync.Mutex
	purges    int
	refreshed []string
	trains    int
	trainErr  error
}

func (r *recordingMaintenance) Purge(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purges++
	return 2, nil
}

func (r *recordingMaintenance) Refresh(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed = append(r.refreshed, clientID)
	return nil
}

func (r *recordingMaintenance) Train(context.Context) (*models.ModelStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trains++
	if r.trainErr != nil {
		return nil, r.trainErr
	}
	return &models.ModelStatus{Trained: true, Version: 2, Examples: 40}, nil
}

func (r *recordingMaintenance) purgeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purges
}

func TestMaintenanceServiceHandle(t *testing.T) {
	rec := &recordingMaintenance{}
	svc := NewMaintenanceService(rec, rec, rec, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.Handle(ctx, jobs.NewJob(JobCachePurge, nil)))
	require.NoError(t, svc.Handle(ctx, jobs.NewJob(JobStatsRefresh, map[string]string{"client_id": "client-7"})))
	require.NoError(t, svc.Handle(ctx, jobs.NewJob(JobStatsRefresh, nil)))
	require.NoError(t, svc.Handle(ctx, jobs.NewJob(JobModelRetrain, nil)))

	assert.Equal(t, 1, rec.purges)
	assert.Equal(t, []string{"client-7", ""}, rec.refreshed)
	assert.Equal(t, 1, rec.trains)

	assert.Error(t, svc.Handle(ctx, jobs.NewJob("unknown", nil)))

	rec.trainErr = errors.New("insufficient data")
	assert.Error(t, svc.Handle(ctx, jobs.NewJob(JobModelRetrain, nil)))
}

func TestMaintenanceServiceRunSchedulesSweeps(t *testing.T) {
	rec := &recordingMaintenance{}
	svc := NewMaintenanceService(rec, rec, rec, zap.NewNop())
	queue := jobs.NewQueue("maintenance", svc.Handle, jobs.QueueConfig{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Stop()

	go svc.Run(ctx, queue, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return rec.purgeCount() >= 2 }, time.Second, 5*time.Millisecond)
}
