package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/session-insights-api/internal/models"
)

const (
	dashboardWindowDays       = 30
	manyCancellationsLimit    = 5
	predictedCancelThreshold  = 0.6
	maxPredictedCancellations = 3
	upcomingHorizon           = 24 * time.Hour
	maxDashboardClients       = 10
)

// AlertServiceParams groups the aggregator dependencies.
type AlertServiceParams struct {
	Sessions          SessionRepository
	Patterns          PatternDetector
	Engagement        EngagementAnalyzer
	Predictions       CancellationPredictor
	Metrics           *MetricsService
	Logger            *zap.Logger
	Location          *time.Location
	MaxClients        int
	RepositoryTimeout time.Duration
}

// AlertService consolidates the analytical components into dashboard alerts.
type AlertService struct {
	sessions    sessionReader
	patterns    PatternDetector
	engagement  EngagementAnalyzer
	predictions CancellationPredictor
	logger      *zap.Logger
	location    *time.Location
	maxClients  int
	now         func() time.Time
}

// NewAlertService constructs the aggregator.
func NewAlertService(params AlertServiceParams) *AlertService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxClients := params.MaxClients
	if maxClients <= 0 || maxClients > maxDashboardClients {
		maxClients = maxDashboardClients
	}
	return &AlertService{
		sessions:    newSessionReader(params.Sessions, params.RepositoryTimeout, params.Metrics),
		patterns:    params.Patterns,
		engagement:  params.Engagement,
		predictions: params.Predictions,
		logger:      logger,
		location:    locationOrUTC(params.Location),
		maxClients:  maxClients,
		now:         time.Now,
	}
}

// Dashboard returns prioritised alerts for ownerID (empty for every owner). It
// never fails: any error or panic below collapses into one degraded alert.
func (s *AlertService) Dashboard(ctx context.Context, ownerID string) (alerts []models.Alert) {
	ownerID = strings.TrimSpace(ownerID)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dashboard alerts panicked", zap.String("owner_id", ownerID), zap.Any("panic", r))
			alerts = []models.Alert{degradedAlert(fmt.Errorf("%v", r))}
		}
	}()

	alerts, err := s.collect(ctx, ownerID)
	if err != nil {
		s.logger.Error("dashboard alerts failed", zap.String("owner_id", ownerID), zap.Error(err))
		return []models.Alert{degradedAlert(err)}
	}
	return alerts
}

func (s *AlertService) collect(ctx context.Context, ownerID string) ([]models.Alert, error) {
	alerts := make([]models.Alert, 0, 6)

	report, _, err := s.patterns.Detect(ctx, ownerID, dashboardWindowDays, true)
	if err != nil {
		return nil, fmt.Errorf("cancellation patterns: %w", err)
	}
	if report.TotalCancellations > manyCancellationsLimit {
		alerts = append(alerts, models.Alert{
			Kind:       models.AlertManyCancellations,
			Severity:   models.SeverityMedium,
			Confidence: models.ConfidenceHigh,
			Title:      "High number of cancellations",
			Message:    fmt.Sprintf("%d cancellations in the last %d days", report.TotalCancellations, dashboardWindowDays),
			Action:     "Review scheduling patterns",
		})
	}

	upcoming, flagged, err := s.upcomingRisk(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("upcoming risk: %w", err)
	}
	alerts = append(alerts, flagged...)
	if len(flagged) == 0 && upcoming > 0 {
		alerts = append(alerts, models.Alert{
			Kind:       models.AlertUpcomingSessions,
			Severity:   models.SeverityLow,
			Confidence: models.ConfidenceHigh,
			Title:      "Upcoming sessions",
			Message:    fmt.Sprintf("%d session(s) scheduled in the next 24 hours", upcoming),
			Action:     "Confirm attendance with the clients",
		})
	}

	low, sampled, err := s.lowEngagementClients(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("client engagement: %w", err)
	}
	if low > 0 {
		alerts = append(alerts, models.Alert{
			Kind:       models.AlertClientsLowEngagement,
			Severity:   models.SeverityMedium,
			Confidence: models.ConfidenceMedium,
			Title:      "Clients with low engagement",
			Message:    fmt.Sprintf("%d of %d recently active client(s) below the engagement threshold", low, sampled),
			Action:     "Review the follow-up plan for these clients",
		})
	}
	return alerts, nil
}

// upcomingRisk scores scheduled appointments in the next 24 hours and returns
// how many exist along with alerts for the riskiest ones.
func (s *AlertService) upcomingRisk(ctx context.Context, ownerID string) (int, []models.Alert, error) {
	now := s.now()
	until := now.Add(upcomingHorizon)
	appointments, err := s.sessions.query(ctx, "dashboard_upcoming", models.AppointmentFilter{
		OwnerID:  ownerID,
		From:     &now,
		To:       &until,
		Statuses: []models.AppointmentStatus{models.AppointmentScheduled},
	})
	if err != nil {
		return 0, nil, err
	}

	risky := make([]*models.PredictionResult, 0)
	for _, appt := range appointments {
		scheduledAt := appt.ScheduledAt
		result, err := s.predictions.Predict(ctx, models.PredictionRequest{
			AppointmentID: appt.ID,
			ClientID:      appt.ClientID,
			OwnerID:       appt.OwnerID,
			ScheduledAt:   &scheduledAt,
		})
		if err != nil {
			return 0, nil, err
		}
		if result.Status != models.PredictionOK {
			// no model yet, so no risk scores
			break
		}
		if result.Probability > predictedCancelThreshold {
			risky = append(risky, result)
		}
	}

	sort.SliceStable(risky, func(i, j int) bool {
		if risky[i].Probability != risky[j].Probability {
			return risky[i].Probability > risky[j].Probability
		}
		return risky[i].ScheduledAt.Before(risky[j].ScheduledAt)
	})
	if len(risky) > maxPredictedCancellations {
		risky = risky[:maxPredictedCancellations]
	}

	alerts := make([]models.Alert, 0, len(risky))
	for _, result := range risky {
		confidence := models.ConfidenceMedium
		if result.Probability > highRiskThreshold {
			confidence = models.ConfidenceHigh
		}
		alerts = append(alerts, models.Alert{
			Kind:       models.AlertPredictedCancel,
			Severity:   models.SeverityHigh,
			Confidence: confidence,
			Title:      "Likely cancellation",
			Message: fmt.Sprintf("Session at %s has a %d%% chance of being canceled",
				result.ScheduledAt.In(s.location).Format("02/01 15:04"), result.Percent),
			Action:    "Contact the client to confirm",
			Reference: result.AppointmentID,
		})
	}
	return len(appointments), alerts, nil
}

// lowEngagementClients analyses the most recently active clients and counts
// those below the engagement threshold.
func (s *AlertService) lowEngagementClients(ctx context.Context, ownerID string) (int, int, error) {
	now := s.now()
	from := now.AddDate(0, 0, -dashboardWindowDays)
	appointments, err := s.sessions.query(ctx, "dashboard_active_clients", models.AppointmentFilter{
		OwnerID: ownerID,
		From:    &from,
		To:      &now,
	})
	if err != nil {
		return 0, 0, err
	}

	clients := make([]string, 0, s.maxClients)
	seen := make(map[string]struct{})
	for i := len(appointments) - 1; i >= 0 && len(clients) < s.maxClients; i-- {
		id := appointments[i].ClientID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		clients = append(clients, id)
	}

	low := 0
	for _, clientID := range clients {
		report, err := s.engagement.Analyze(ctx, clientID, dashboardWindowDays)
		if err != nil {
			return 0, 0, err
		}
		if report.EngagementIndex < lowEngagementThreshold {
			low++
		}
	}
	return low, len(clients), nil
}

func degradedAlert(err error) models.Alert {
	return models.Alert{
		Kind:       models.AlertSystemDegraded,
		Severity:   models.SeverityHigh,
		Confidence: models.ConfidenceHigh,
		Title:      "Alerting system degraded",
		Message:    fmt.Sprintf("Alerts are temporarily unavailable: %v", err),
		Action:     "Contact technical support",
	}
}
