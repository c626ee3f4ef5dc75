package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

const appointmentColumns = "id, client_id, owner_id, scheduled_at, duration_minutes, status"

// SessionRepository exposes read-only appointment queries for the insights engine.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository instantiates the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// QueryAppointments returns appointments matching the filter ordered by scheduled time.
func (r *SessionRepository) QueryAppointments(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, error) {
	where, args := appointmentWhere(filter)
	query := "SELECT " + appointmentColumns + " FROM appointments WHERE 1=1" + where + " ORDER BY scheduled_at ASC, id ASC"

	var appointments []models.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	return appointments, nil
}

// CountAppointmentsByStatus aggregates the appointments matching the filter
// per status without loading them.
func (r *SessionRepository) CountAppointmentsByStatus(ctx context.Context, filter models.AppointmentFilter) (map[models.AppointmentStatus]int, error) {
	where, args := appointmentWhere(filter)
	query := "SELECT status, COUNT(*) AS total FROM appointments WHERE 1=1" + where + " GROUP BY status"

	var rows []struct {
		Status models.AppointmentStatus `db:"status"`
		Total  int                      `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	counts := make(map[models.AppointmentStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func appointmentWhere(filter models.AppointmentFilter) (string, []interface{}) {
	var builder strings.Builder
	var args []interface{}
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		builder.WriteString(fmt.Sprintf(" AND client_id = $%d", len(args)))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		builder.WriteString(fmt.Sprintf(" AND owner_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		builder.WriteString(fmt.Sprintf(" AND scheduled_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		builder.WriteString(fmt.Sprintf(" AND scheduled_at <= $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		args = append(args, pq.Array(statuses))
		builder.WriteString(fmt.Sprintf(" AND status = ANY($%d)", len(args)))
	}
	return builder.String(), args
}

// GetAppointment returns a single appointment by id.
func (r *SessionRepository) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	var appointment models.Appointment
	query := "SELECT " + appointmentColumns + " FROM appointments WHERE id = $1"
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return &appointment, nil
}

// CountClients returns the number of registered clients.
func (r *SessionRepository) CountClients(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM clients"); err != nil {
		return 0, fmt.Errorf("count clients: %w", err)
	}
	return total, nil
}
