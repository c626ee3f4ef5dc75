package service

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

var patternNow = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

func newPatterns(repo SessionRepository, cache *CacheService) *PatternService {
	svc := NewPatternService(PatternServiceParams{
		Sessions: repo,
		Cache:    cache,
		Logger:   zap.NewNop(),
		Location: time.UTC,
	})
	svc.now = fixedClock(patternNow)
	return svc
}

func canceledAt(id, client string, at time.Time) models.Appointment {
	return appt(id, client, "owner-1", at, models.AppointmentCanceled)
}

// clusteredCancellations returns Monday mornings, Friday evenings and a few
// Wednesday afternoons.
func clusteredCancellations() []models.Appointment {
	var out []models.Appointment
	mondays := []int{2, 9, 16, 23}
	for i, day := range mondays {
		out = append(out, canceledAt(fmt.Sprintf("mon-%d", i), "client-a", time.Date(2026, 3, day, 9, 0, 0, 0, time.UTC)))
		out = append(out, canceledAt(fmt.Sprintf("mon-late-%d", i), fmt.Sprintf("client-m%d", i), time.Date(2026, 3, day, 10, 0, 0, 0, time.UTC)))
	}
	for i, day := range []int{6, 13, 20, 27} {
		out = append(out, canceledAt(fmt.Sprintf("fri-%d", i), fmt.Sprintf("client-f%d", i), time.Date(2026, 3, day, 19, 0, 0, 0, time.UTC)))
	}
	for i, day := range []int{4, 11} {
		out = append(out, canceledAt(fmt.Sprintf("wed-%d", i), fmt.Sprintf("client-w%d", i), time.Date(2026, 3, day, 15, 0, 0, 0, time.UTC)))
	}
	return out
}

func membership(report *models.PatternReport) map[string]int {
	out := make(map[string]int)
	for _, c := range report.Clusters {
		out[fmt.Sprintf("%d@%02d", c.Weekday, c.Hour)] = c.Members
	}
	return out
}

func TestPatternServiceTwoRecordsSkipsClustering(t *testing.T) {
	repo := &fakeSessions{}
	repo.add(
		canceledAt("a", "c1", time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)),
		canceledAt("b", "c2", time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)),
	)

	report, hit, err := newPatterns(repo, nil).Detect(context.Background(), "", 60, false)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, report.TotalCancellations)
	assert.Empty(t, report.Clusters)
	assert.False(t, report.ClusteringApplied)
	require.Len(t, report.Patterns, 2)
	// ties resolve to the lowest weekday and hour
	assert.Equal(t, "weekday", report.Patterns[0].Kind)
	assert.Equal(t, 1, report.Patterns[0].Value)
	assert.Equal(t, "hour", report.Patterns[1].Kind)
	assert.Equal(t, 9, report.Patterns[1].Value)
}

func TestPatternServiceThreeRecordsSkipsClusteringWhenKBelowTwo(t *testing.T) {
	repo := &fakeSessions{}
	for i := 0; i < 3; i++ {
		repo.add(canceledAt(fmt.Sprintf("a%d", i), "c1", time.Date(2026, 3, 10+i, 14, 0, 0, 0, time.UTC)))
	}
	report, _, err := newPatterns(repo, nil).Detect(context.Background(), "", 60, false)
	require.NoError(t, err)
	assert.False(t, report.ClusteringApplied)
	require.Len(t, report.Recommendations, 1)
	assert.Equal(t, "frequent_cancellers", report.Recommendations[0].Kind)
	assert.Equal(t, []string{"c1"}, report.Recommendations[0].ClientIDs)
}

func TestPatternServiceClustersDeterministically(t *testing.T) {
	records := clusteredCancellations()
	repo := &fakeSessions{}
	repo.add(records...)
	svc := newPatterns(repo, nil)

	first, _, err := svc.Detect(context.Background(), "owner-1", 60, false)
	require.NoError(t, err)
	second, _, err := svc.Detect(context.Background(), "owner-1", 60, false)
	require.NoError(t, err)

	require.True(t, first.ClusteringApplied)
	require.Len(t, first.Clusters, 3)
	assert.Equal(t, membership(first), membership(second))

	total := 0
	for _, c := range first.Clusters {
		total += c.Members
	}
	assert.Equal(t, len(records), total)

	top := first.Clusters[0]
	assert.Equal(t, 8, top.Members)
	assert.Equal(t, 0, top.Weekday)
	assert.Equal(t, "Monday", top.WeekdayName)
	assert.Equal(t, models.PeriodMorning, top.Period)
	assert.Contains(t, top.Description, "Monday")

	// input order must not matter
	shuffled := append([]models.Appointment(nil), records...)
	rand.New(rand.NewSource(99)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	third, _, err := newPatterns(&fakeSessions{appointments: shuffled}, nil).Detect(context.Background(), "owner-1", 60, false)
	require.NoError(t, err)
	assert.Equal(t, membership(first), membership(third))

	kinds := make([]string, 0)
	for _, rec := range first.Recommendations {
		kinds = append(kinds, rec.Kind)
	}
	assert.Contains(t, kinds, "frequent_cancellers")
	assert.Contains(t, kinds, "cluster_identified")
}

func TestPatternServiceUsesCache(t *testing.T) {
	repo := &fakeSessions{}
	repo.add(clusteredCancellations()...)
	cacheRepo := newStubCacheRepo()
	cache := NewCacheService(cacheRepo, nil, "insights", time.Second, zap.NewNop(), true)
	cache.now = fixedClock(patternNow)
	svc := newPatterns(repo, cache)

	first, hit, err := svc.Detect(context.Background(), "owner-1", 60, true)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.True(t, cacheRepo.has("insights:patterns:owner-1:60"))

	second, hit, err := svc.Detect(context.Background(), "owner-1", 60, true)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.TotalCancellations, second.TotalCancellations)
	assert.Equal(t, membership(first), membership(second))
	assert.Equal(t, 1, repo.calls("canceled"))

	// past the 6h ttl the result is recomputed
	cache.now = fixedClock(patternNow.Add(6*time.Hour + time.Second))
	_, hit, err = svc.Detect(context.Background(), "owner-1", 60, true)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, repo.calls("canceled"))
}

func TestPatternServiceSharedRunSurvivesCallerCancellation(t *testing.T) {
	repo := &fakeSessions{gate: make(chan struct{}), entered: make(chan struct{}, 1), gateLabel: "canceled"}
	repo.add(clusteredCancellations()...)
	svc := newPatterns(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, _, err := svc.Detect(ctx, "owner-1", 60, false)
		first <- err
	}()
	<-repo.entered

	type outcome struct {
		report *models.PatternReport
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		report, _, err := svc.Detect(context.Background(), "owner-1", 60, false)
		second <- outcome{report, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(repo.gate)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, len(clusteredCancellations()), got.report.TotalCancellations)
	assert.Equal(t, 1, repo.calls("canceled"))
}

func TestPatternServiceRejectsInvalidWindow(t *testing.T) {
	_, _, err := newPatterns(&fakeSessions{}, nil).Detect(context.Background(), "", 0, true)
	assert.ErrorIs(t, err, appErrors.ErrInvalidArgument)
}

func TestPatternServiceEmptyWindow(t *testing.T) {
	report, _, err := newPatterns(&fakeSessions{}, nil).Detect(context.Background(), "", 60, false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalCancellations)
	assert.Empty(t, report.Patterns)
	assert.Empty(t, report.Clusters)
}

func TestDayPeriodBoundaries(t *testing.T) {
	assert.Equal(t, models.PeriodMorning, dayPeriod(11))
	assert.Equal(t, models.PeriodAfternoon, dayPeriod(12))
	assert.Equal(t, models.PeriodAfternoon, dayPeriod(17))
	assert.Equal(t, models.PeriodEvening, dayPeriod(18))
}
