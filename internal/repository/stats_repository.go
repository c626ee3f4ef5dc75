package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

const globalStatsKey = "global"

// StatsRepository persists the incrementally maintained statistics table.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository instantiates the repository.
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// UpsertClientStats overwrites the metrics row of a single client.
func (r *StatsRepository) UpsertClientStats(ctx context.Context, stats models.ClientStats) error {
	const query = `INSERT INTO insights_client_stats (client_id, attendance_rate, weekly_frequency, engagement_index, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (client_id) DO UPDATE SET attendance_rate = EXCLUDED.attendance_rate,
        weekly_frequency = EXCLUDED.weekly_frequency, engagement_index = EXCLUDED.engagement_index, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, stats.ClientID, stats.AttendanceRate, stats.WeeklyFrequency, stats.EngagementIndex, stats.UpdatedAt); err != nil {
		return fmt.Errorf("upsert client stats: %w", err)
	}
	return nil
}

// UpsertGlobalStats overwrites the single global aggregate row.
func (r *StatsRepository) UpsertGlobalStats(ctx context.Context, stats models.GlobalStats) error {
	const query = `INSERT INTO insights_global_stats (id, total_clients, total_appointments, total_canceled, cancellation_rate, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET total_clients = EXCLUDED.total_clients, total_appointments = EXCLUDED.total_appointments,
        total_canceled = EXCLUDED.total_canceled, cancellation_rate = EXCLUDED.cancellation_rate, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, globalStatsKey, stats.TotalClients, stats.TotalAppointments, stats.TotalCanceled, stats.CancellationRate, stats.UpdatedAt); err != nil {
		return fmt.Errorf("upsert global stats: %w", err)
	}
	return nil
}

// GetClientStats returns the stored metrics of a client.
func (r *StatsRepository) GetClientStats(ctx context.Context, clientID string) (*models.ClientStats, error) {
	var stats models.ClientStats
	const query = "SELECT client_id, attendance_rate, weekly_frequency, engagement_index, updated_at FROM insights_client_stats WHERE client_id = $1"
	if err := r.db.GetContext(ctx, &stats, query, clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "client stats not found")
		}
		return nil, fmt.Errorf("get client stats: %w", err)
	}
	return &stats, nil
}

// GetGlobalStats returns the global aggregate row.
func (r *StatsRepository) GetGlobalStats(ctx context.Context) (*models.GlobalStats, error) {
	var stats models.GlobalStats
	const query = "SELECT total_clients, total_appointments, total_canceled, cancellation_rate, updated_at FROM insights_global_stats WHERE id = $1"
	if err := r.db.GetContext(ctx, &stats, query, globalStatsKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "global stats not found")
		}
		return nil, fmt.Errorf("get global stats: %w", err)
	}
	return &stats, nil
}
