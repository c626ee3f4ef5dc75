package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/session-insights-api/internal/models"
)

var alertNow = time.Date(2026, 5, 11, 18, 0, 0, 0, time.UTC)

type stubPatterns struct {
	report *models.PatternReport
	err    error
	owner  string
}

func (s *stubPatterns) Detect(_ context.Context, ownerID string, _ int, _ bool) (*models.PatternReport, bool, error) {
	s.owner = ownerID
	if s.err != nil {
		return nil, false, s.err
	}
	return s.report, false, nil
}

type stubPredictor struct {
	probs       map[string]float64
	status      models.PredictionStatus
	panicOnCall bool
}

func (s *stubPredictor) Predict(_ context.Context, req models.PredictionRequest) (*models.PredictionResult, error) {
	if s.panicOnCall {
		panic("model weights missing")
	}
	status := s.status
	if status == "" {
		status = models.PredictionOK
	}
	p := s.probs[req.AppointmentID]
	return &models.PredictionResult{
		Status:        status,
		AppointmentID: req.AppointmentID,
		ScheduledAt:   *req.ScheduledAt,
		Probability:   p,
		Percent:       int(math.Round(p * 100)),
	}, nil
}

type stubEngagement struct {
	scores   map[string]float64
	err      error
	analysed []string
}

func (s *stubEngagement) Analyze(_ context.Context, clientID string, _ int) (*models.FrequencyReport, error) {
	s.analysed = append(s.analysed, clientID)
	if s.err != nil {
		return nil, s.err
	}
	return &models.FrequencyReport{ClientID: clientID, EngagementIndex: s.scores[clientID]}, nil
}

func newAlerts(repo SessionRepository, patterns PatternDetector, engagement EngagementAnalyzer, predictor CancellationPredictor) *AlertService {
	svc := NewAlertService(AlertServiceParams{
		Sessions:    repo,
		Patterns:    patterns,
		Engagement:  engagement,
		Predictions: predictor,
		Logger:      zap.NewNop(),
		Location:    time.UTC,
	})
	svc.now = fixedClock(alertNow)
	return svc
}

func TestAlertServiceComposesInPriorityOrder(t *testing.T) {
	repo := &fakeSessions{}
	repo.add(
		appt("u1", "c1", "owner-1", alertNow.Add(2*time.Hour), models.AppointmentScheduled),
		appt("u2", "c2", "owner-1", alertNow.Add(3*time.Hour), models.AppointmentScheduled),
		appt("u3", "c1", "owner-1", alertNow.Add(5*time.Hour), models.AppointmentScheduled),
		appt("u4", "c2", "owner-1", alertNow.Add(20*time.Hour), models.AppointmentScheduled),
		appt("far", "c3", "owner-1", alertNow.Add(30*time.Hour), models.AppointmentScheduled),
		appt("p1", "c1", "owner-1", alertNow.AddDate(0, 0, -3), models.AppointmentCompleted),
		appt("p2", "c2", "owner-1", alertNow.AddDate(0, 0, -2), models.AppointmentCanceled),
	)
	predictor := &stubPredictor{probs: map[string]float64{"u1": 0.9, "u2": 0.65, "u3": 0.8, "u4": 0.95, "far": 0.99}}
	engagement := &stubEngagement{scores: map[string]float64{"c1": 40, "c2": 80}}
	patterns := &stubPatterns{report: &models.PatternReport{TotalCancellations: 7}}

	alerts := newAlerts(repo, patterns, engagement, predictor).Dashboard(context.Background(), "owner-1")

	require.Len(t, alerts, 5)
	assert.Equal(t, "owner-1", patterns.owner)
	assert.Equal(t, models.AlertManyCancellations, alerts[0].Kind)
	assert.Contains(t, alerts[0].Message, "7 cancellations")
	assert.Equal(t, models.AlertPredictedCancel, alerts[1].Kind)
	assert.Equal(t, "u4", alerts[1].Reference)
	assert.Equal(t, "u1", alerts[2].Reference)
	assert.Equal(t, "u3", alerts[3].Reference)
	assert.Contains(t, alerts[1].Message, "95%")
	assert.Equal(t, models.AlertClientsLowEngagement, alerts[4].Kind)
	assert.Contains(t, alerts[4].Message, "1 of 2")
	assert.Equal(t, []string{"c2", "c1"}, engagement.analysed, "most recently active clients first")
}

func TestAlertServiceUpcomingSessionsWhenNoneFlagged(t *testing.T) {
	repo := &fakeSessions{}
	repo.add(
		appt("u1", "c1", "owner-1", alertNow.Add(2*time.Hour), models.AppointmentScheduled),
		appt("u2", "c2", "owner-1", alertNow.Add(4*time.Hour), models.AppointmentScheduled),
	)
	predictor := &stubPredictor{probs: map[string]float64{"u1": 0.3, "u2": 0.6}}

	alerts := newAlerts(repo, &stubPatterns{report: &models.PatternReport{TotalCancellations: 5}}, &stubEngagement{}, predictor).Dashboard(context.Background(), "")

	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertUpcomingSessions, alerts[0].Kind)
	assert.Equal(t, models.SeverityLow, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "2 session(s)")
}

func TestAlertServiceWithoutModelStillCountsUpcoming(t *testing.T) {
	repo := &fakeSessions{}
	repo.add(appt("u1", "c1", "owner-1", alertNow.Add(2*time.Hour), models.AppointmentScheduled))
	predictor := &stubPredictor{status: models.PredictionInsufficientData}

	alerts := newAlerts(repo, &stubPatterns{report: &models.PatternReport{}}, &stubEngagement{scores: map[string]float64{"c1": 90}}, predictor).Dashboard(context.Background(), "")

	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertUpcomingSessions, alerts[0].Kind)
}

func TestAlertServiceSamplesAtMostTenClients(t *testing.T) {
	repo := &fakeSessions{}
	for i := 0; i < 15; i++ {
		repo.add(appt(fmt.Sprintf("p%d", i), fmt.Sprintf("c%02d", i), "owner-1", alertNow.Add(-time.Duration(i+1)*time.Hour), models.AppointmentCompleted))
	}
	engagement := &stubEngagement{scores: map[string]float64{}}

	alerts := newAlerts(repo, &stubPatterns{report: &models.PatternReport{}}, engagement, &stubPredictor{}).Dashboard(context.Background(), "")

	require.Len(t, engagement.analysed, 10)
	assert.Equal(t, "c00", engagement.analysed[0])
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "10 of 10")
}

func TestAlertServiceDegradesOnError(t *testing.T) {
	patterns := &stubPatterns{err: errors.New("database unavailable")}

	alerts := newAlerts(&fakeSessions{}, patterns, &stubEngagement{}, &stubPredictor{}).Dashboard(context.Background(), "")

	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertSystemDegraded, alerts[0].Kind)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
}

func TestAlertServiceDegradesOnPanic(t *testing.T) {
	repo := &fakeSessions{}
	repo.add(appt("u1", "c1", "owner-1", alertNow.Add(time.Hour), models.AppointmentScheduled))

	alerts := newAlerts(repo, &stubPatterns{report: &models.PatternReport{TotalCancellations: 9}}, &stubEngagement{}, &stubPredictor{panicOnCall: true}).Dashboard(context.Background(), "")

	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertSystemDegraded, alerts[0].Kind)
	assert.Contains(t, alerts[0].Message, "model weights missing")
}

func TestAlertServiceDegradesOnEngagementFailure(t *testing.T) {
	repo := &fakeSessions{}
	repo.add(appt("p1", "c1", "owner-1", alertNow.Add(-time.Hour), models.AppointmentCompleted))

	alerts := newAlerts(repo, &stubPatterns{report: &models.PatternReport{}}, &stubEngagement{err: context.DeadlineExceeded}, &stubPredictor{}).Dashboard(context.Background(), "")

	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertSystemDegraded, alerts[0].Kind)
}
