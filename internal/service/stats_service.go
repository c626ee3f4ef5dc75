package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

const (
	statsWindowDays = 30
	globalStatsKey  = "global"
)

// StatsRepository persists the incrementally maintained statistics rows.
type StatsRepository interface {
	UpsertClientStats(ctx context.Context, stats models.ClientStats) error
	UpsertGlobalStats(ctx context.Context, stats models.GlobalStats) error
	GetClientStats(ctx context.Context, clientID string) (*models.ClientStats, error)
	GetGlobalStats(ctx context.Context) (*models.GlobalStats, error)
}

// StatsService refreshes one stats row at a time. Refreshes of the same row
// are serialised; different rows proceed in parallel.
type StatsService struct {
	sessions   sessionReader
	repo       StatsRepository
	engagement EngagementAnalyzer
	locks      *KeyedMutex
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewStatsService constructs the stats store service.
func NewStatsService(sessions SessionRepository, repo StatsRepository, engagement EngagementAnalyzer, metrics *MetricsService, repositoryTimeout time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := newSessionReader(sessions, repositoryTimeout, metrics)
	return &StatsService{
		sessions:   reader,
		repo:       repo,
		engagement: engagement,
		locks:      NewKeyedMutex(),
		timeout:    reader.timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Refresh recomputes the row for clientID, or the global aggregate when
// clientID is empty, and overwrites only that row.
func (s *StatsService) Refresh(ctx context.Context, clientID string) error {
	clientID = strings.TrimSpace(clientID)
	key := globalStatsKey
	if clientID != "" {
		key = "client:" + clientID
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	if clientID != "" {
		return s.refreshClient(ctx, clientID)
	}
	return s.refreshGlobal(ctx)
}

// Client returns the stored row for clientID.
func (s *StatsService) Client(ctx context.Context, clientID string) (*models.ClientStats, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "client_id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	stats, err := s.repo.GetClientStats(ctx, clientID)
	if err != nil {
		return nil, appErrors.FromContext(err, "stats lookup timed out")
	}
	return stats, nil
}

// Global returns the stored global aggregate.
func (s *StatsService) Global(ctx context.Context) (*models.GlobalStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	stats, err := s.repo.GetGlobalStats(ctx)
	if err != nil {
		return nil, appErrors.FromContext(err, "stats lookup timed out")
	}
	return stats, nil
}

func (s *StatsService) refreshClient(ctx context.Context, clientID string) error {
	report, err := s.engagement.Analyze(ctx, clientID, statsWindowDays)
	if err != nil {
		return err
	}
	row := models.ClientStats{
		ClientID:        clientID,
		AttendanceRate:  report.AttendanceRate,
		WeeklyFrequency: report.WeeklyFrequency,
		EngagementIndex: report.EngagementIndex,
		UpdatedAt:       s.now().UTC(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.UpsertClientStats(writeCtx, row); err != nil {
		return appErrors.FromContext(err, "stats write timed out")
	}
	s.logger.Debug("client stats refreshed", zap.String("client_id", clientID), zap.Float64("engagement_index", row.EngagementIndex))
	return nil
}

func (s *StatsService) refreshGlobal(ctx context.Context) error {
	counts, err := s.sessions.countByStatus(ctx, "global_stats", models.AppointmentFilter{})
	if err != nil {
		return err
	}
	clients, err := s.sessions.countClients(ctx)
	if err != nil {
		return err
	}

	row := models.GlobalStats{
		TotalClients:  clients,
		TotalCanceled: counts[models.AppointmentCanceled],
		UpdatedAt:     s.now().UTC(),
	}
	for _, total := range counts {
		row.TotalAppointments += total
	}
	if row.TotalAppointments > 0 {
		row.CancellationRate = round2(float64(row.TotalCanceled) / float64(row.TotalAppointments) * 100)
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.UpsertGlobalStats(writeCtx, row); err != nil {
		return appErrors.FromContext(err, "stats write timed out")
	}
	s.logger.Debug("global stats refreshed",
		zap.Int("clients", row.TotalClients),
		zap.Int("appointments", row.TotalAppointments),
		zap.Int("canceled", row.TotalCanceled),
	)
	return nil
}
