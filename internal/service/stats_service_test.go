package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

var statsNow = time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC)

func newStats(repo SessionRepository, stats StatsRepository, engagement EngagementAnalyzer) *StatsService {
	svc := NewStatsService(repo, stats, engagement, nil, time.Second, zap.NewNop())
	svc.now = fixedClock(statsNow)
	return svc
}

func TestStatsServiceRefreshClientOverwritesOnlyThatRow(t *testing.T) {
	sessions := &fakeSessions{}
	for i := 0; i < 4; i++ {
		status := models.AppointmentCompleted
		if i == 3 {
			status = models.AppointmentScheduled
		}
		sessions.add(appt("a"+string(rune('0'+i)), "client-1", "owner-1", engagementNow.AddDate(0, 0, -(i*7+1)), status))
	}
	engagement := newEngagement(sessions)
	repo := &fakeStatsRepo{clients: map[string]models.ClientStats{
		"client-2": {ClientID: "client-2", EngagementIndex: 12, UpdatedAt: statsNow.Add(-time.Hour)},
	}}
	svc := newStats(sessions, repo, engagement)

	require.NoError(t, svc.Refresh(context.Background(), "client-1"))

	row, err := svc.Client(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, 75.0, row.AttendanceRate)
	assert.Equal(t, statsNow, row.UpdatedAt)
	assert.Equal(t, 12.0, repo.clients["client-2"].EngagementIndex)
	assert.Nil(t, repo.global)
}

func TestStatsServiceRefreshGlobal(t *testing.T) {
	sessions := &fakeSessions{}
	sessions.add(
		appt("a", "c1", "o", statsNow.Add(-time.Hour), models.AppointmentCompleted),
		appt("b", "c1", "o", statsNow.Add(-2*time.Hour), models.AppointmentCanceled),
		appt("c", "c2", "o", statsNow.Add(-3*time.Hour), models.AppointmentCanceled),
	)
	repo := &fakeStatsRepo{}
	svc := newStats(sessions, repo, &stubEngagement{})

	require.NoError(t, svc.Refresh(context.Background(), ""))

	global, err := svc.Global(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, global.TotalClients)
	assert.Equal(t, 3, global.TotalAppointments)
	assert.Equal(t, 2, global.TotalCanceled)
	assert.Equal(t, 66.67, global.CancellationRate)
	assert.Equal(t, statsNow, global.UpdatedAt)
	assert.Empty(t, repo.clients)
	assert.Equal(t, 1, sessions.calls("count"))
	assert.Zero(t, sessions.calls("other"), "global refresh must not load appointment rows")
}

func TestStatsServiceClientRequiresID(t *testing.T) {
	svc := newStats(&fakeSessions{}, &fakeStatsRepo{}, &stubEngagement{})
	_, err := svc.Client(context.Background(), "")
	assert.ErrorIs(t, err, appErrors.ErrInvalidArgument)

	_, err = svc.Global(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

// overlapDetector fails the test if two refreshes of the same key overlap.
type overlapDetector struct {
	active  int32
	overlap int32
}

func (o *overlapDetector) Analyze(_ context.Context, clientID string, _ int) (*models.FrequencyReport, error) {
	if atomic.AddInt32(&o.active, 1) > 1 {
		atomic.StoreInt32(&o.overlap, 1)
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&o.active, -1)
	return &models.FrequencyReport{ClientID: clientID}, nil
}

func TestStatsServiceSerialisesSameClient(t *testing.T) {
	detector := &overlapDetector{}
	repo := &fakeStatsRepo{}
	svc := newStats(&fakeSessions{}, repo, detector)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Refresh(context.Background(), "client-1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&detector.overlap))
	assert.Equal(t, 8, repo.writes)
}
