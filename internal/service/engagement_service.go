package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

const (
	lowFrequencyThreshold   = 1.0
	lowAttendanceThreshold  = 70.0
	lowEngagementThreshold  = 50.0
	trendVariationThreshold = 20.0
)

// EngagementAnalyzer computes a client's frequency report.
type EngagementAnalyzer interface {
	Analyze(ctx context.Context, clientID string, days int) (*models.FrequencyReport, error)
}

// EngagementService derives attendance, frequency and trend metrics for one client.
type EngagementService struct {
	sessions sessionReader
	logger   *zap.Logger
	location *time.Location
	now      func() time.Time
}

// NewEngagementService constructs the analyzer.
func NewEngagementService(sessions SessionRepository, metrics *MetricsService, repositoryTimeout time.Duration, location *time.Location, logger *zap.Logger) *EngagementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EngagementService{
		sessions: newSessionReader(sessions, repositoryTimeout, metrics),
		logger:   logger,
		location: locationOrUTC(location),
		now:      time.Now,
	}
}

// Analyze reports engagement for clientID over the trailing window of days.
func (s *EngagementService) Analyze(ctx context.Context, clientID string, days int) (*models.FrequencyReport, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "client_id is required")
	}
	if days <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "days must be greater than zero")
	}

	now := s.now().In(s.location)
	from := now.AddDate(0, 0, -days)
	appointments, err := s.sessions.query(ctx, "engagement_window", models.AppointmentFilter{
		ClientID: clientID,
		From:     &from,
		To:       &now,
		Statuses: []models.AppointmentStatus{models.AppointmentScheduled, models.AppointmentCompleted},
	})
	if err != nil {
		return nil, err
	}

	total := len(appointments)
	completed := 0
	for _, appt := range appointments {
		if appt.Status == models.AppointmentCompleted {
			completed++
		}
	}

	weekly := float64(total) / (float64(days) / 7)
	attendance := 0.0
	if total > 0 {
		attendance = float64(completed) / float64(total) * 100
	}
	trend := weekOverWeekTrend(appointments, now, s.location)
	engagement := engagementIndex(attendance, weekly)

	report := &models.FrequencyReport{
		ClientID:              clientID,
		WindowDays:            days,
		TotalAppointments:     total,
		CompletedAppointments: completed,
		WeeklyFrequency:       round2(weekly),
		AttendanceRate:        round2(attendance),
		Trend:                 trend,
		EngagementIndex:       round2(engagement),
		Alerts:                []models.Alert{},
		GeneratedAt:           now.UTC(),
	}
	if total > 0 {
		report.Alerts = engagementAlerts(total, weekly, attendance, engagement, trend)
	}

	s.logger.Debug("engagement analysed",
		zap.String("client_id", clientID),
		zap.Int("days", days),
		zap.Int("appointments", total),
		zap.Float64("engagement_index", report.EngagementIndex),
	)
	return report, nil
}

func engagementIndex(attendance, weekly float64) float64 {
	frequencyScore := math.Min(weekly/2*100, 100)
	return 0.6*attendance + 0.4*frequencyScore
}

// weekOverWeekTrend compares the two most recent non-empty week buckets.
// Gaps between them are ignored.
func weekOverWeekTrend(appointments []models.Appointment, now time.Time, loc *time.Location) models.Trend {
	stable := models.Trend{Direction: models.TrendStable}
	if len(appointments) < 2 {
		return stable
	}

	today := dateOnly(now.In(loc))
	buckets := make(map[int]int)
	for _, appt := range appointments {
		day := dateOnly(appt.ScheduledAt.In(loc))
		daysAgo := int(math.Round(today.Sub(day).Hours() / 24))
		buckets[floorDiv(daysAgo, 7)]++
	}
	if len(buckets) < 2 {
		return stable
	}

	weeks := make([]int, 0, len(buckets))
	for week := range buckets {
		weeks = append(weeks, week)
	}
	sort.Ints(weeks)

	latest := float64(buckets[weeks[0]])
	previous := float64(buckets[weeks[1]])
	variation := 0.0
	if previous > 0 {
		variation = (latest - previous) / previous * 100
	}

	trend := models.Trend{Direction: models.TrendStable, Percent: round2(math.Abs(variation)), WeeksCompared: 2}
	switch {
	case variation < -trendVariationThreshold:
		trend.Direction = models.TrendDecline
	case variation > trendVariationThreshold:
		trend.Direction = models.TrendImprovement
	}
	return trend
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func engagementAlerts(total int, weekly, attendance, engagement float64, trend models.Trend) []models.Alert {
	alerts := make([]models.Alert, 0, 4)
	if weekly < lowFrequencyThreshold {
		alerts = append(alerts, models.Alert{
			Kind:       models.AlertLowFrequency,
			Severity:   models.SeverityMedium,
			Confidence: models.ConfidenceHigh,
			Title:      "Low session frequency",
			Message:    fmt.Sprintf("%.2f sessions per week", weekly),
			Action:     "Consider scheduling sessions more regularly",
		})
	}
	if attendance < lowAttendanceThreshold && total > 2 {
		alerts = append(alerts, models.Alert{
			Kind:       models.AlertLowAttendance,
			Severity:   models.SeverityHigh,
			Confidence: models.ConfidenceHigh,
			Title:      "Low attendance",
			Message:    fmt.Sprintf("Attendance rate of %.1f%%", attendance),
			Action:     "Talk with the client about attendance barriers",
		})
	}
	switch trend.Direction {
	case models.TrendDecline:
		alerts = append(alerts, models.Alert{
			Kind:       models.AlertDecliningTrend,
			Severity:   models.SeverityHigh,
			Confidence: models.ConfidenceMedium,
			Title:      "Declining frequency",
			Message:    fmt.Sprintf("Sessions dropped %.1f%% week over week", trend.Percent),
			Action:     "Check in with the client",
		})
	case models.TrendImprovement:
		alerts = append(alerts, models.Alert{
			Kind:       models.AlertImprovingTrend,
			Severity:   models.SeverityLow,
			Confidence: models.ConfidenceMedium,
			Title:      "Improving frequency",
			Message:    fmt.Sprintf("Sessions grew %.1f%% week over week", trend.Percent),
			Action:     "Keep the current plan",
		})
	}
	if engagement < lowEngagementThreshold {
		alerts = append(alerts, models.Alert{
			Kind:       models.AlertLowEngagement,
			Severity:   models.SeverityHigh,
			Confidence: models.ConfidenceHigh,
			Title:      "Low engagement",
			Message:    fmt.Sprintf("Engagement index of %.1f", engagement),
			Action:     "Review the treatment plan with the client",
		})
	}
	return alerts
}
