package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

func TestStatsRepositoryUpsertClientStats(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewStatsRepository(db)

	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO insights_client_stats").
		WithArgs("client-1", 80.0, 1.5, 78.0, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertClientStats(context.Background(), models.ClientStats{
		ClientID:        "client-1",
		AttendanceRate:  80,
		WeeklyFrequency: 1.5,
		EngagementIndex: 78,
		UpdatedAt:       now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsRepositoryUpsertGlobalStats(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewStatsRepository(db)

	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO insights_global_stats .* ON CONFLICT \\(id\\)").
		WithArgs("global", 40, 120, 18, 15.0, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertGlobalStats(context.Background(), models.GlobalStats{
		TotalClients:      40,
		TotalAppointments: 120,
		TotalCanceled:     18,
		CancellationRate:  15,
		UpdatedAt:         now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsRepositoryGetClientStats(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewStatsRepository(db)

	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM insights_client_stats WHERE client_id = $1")).
		WithArgs("client-1").
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "attendance_rate", "weekly_frequency", "engagement_index", "updated_at"}).
			AddRow("client-1", 90.0, 2.0, 94.0, now))

	stats, err := repo.GetClientStats(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, 94.0, stats.EngagementIndex)
	assert.Equal(t, now, stats.UpdatedAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM insights_client_stats WHERE client_id = $1")).
		WithArgs("client-2").
		WillReturnRows(sqlmock.NewRows([]string{"client_id"}))

	_, err = repo.GetClientStats(context.Background(), "client-2")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsRepositoryGetGlobalStats(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewStatsRepository(db)

	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT total_clients, total_appointments, total_canceled, cancellation_rate, updated_at FROM insights_global_stats WHERE id = $1")).
		WithArgs("global").
		WillReturnRows(sqlmock.NewRows([]string{"total_clients", "total_appointments", "total_canceled", "cancellation_rate", "updated_at"}).
			AddRow(40, 120, 18, 15.0, now))

	stats, err := repo.GetGlobalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, stats.TotalClients)
	assert.Equal(t, 18, stats.TotalCanceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
