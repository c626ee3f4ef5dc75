package service

import (
	"context"
	"math"
	"time"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

// SessionRepository is the read-only appointment source consumed by the
// insights engine.
type SessionRepository interface {
	QueryAppointments(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	CountAppointmentsByStatus(ctx context.Context, filter models.AppointmentFilter) (map[models.AppointmentStatus]int, error)
	CountClients(ctx context.Context) (int, error)
}

const defaultRepositoryTimeout = 5 * time.Second

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// sessionReader bounds every repository call with a deadline and records its
// latency.
type sessionReader struct {
	repo    SessionRepository
	timeout time.Duration
	metrics *MetricsService
}

func newSessionReader(repo SessionRepository, timeout time.Duration, metrics *MetricsService) sessionReader {
	if timeout <= 0 {
		timeout = defaultRepositoryTimeout
	}
	return sessionReader{repo: repo, timeout: timeout, metrics: metrics}
}

func (r sessionReader) query(ctx context.Context, label string, filter models.AppointmentFilter) ([]models.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	appointments, err := r.repo.QueryAppointments(ctx, filter)
	r.metrics.ObserveDBQuery(label, time.Since(start))
	if err != nil {
		return nil, appErrors.FromContext(err, "appointment query timed out")
	}
	return appointments, nil
}

func (r sessionReader) get(ctx context.Context, id string) (*models.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	appointment, err := r.repo.GetAppointment(ctx, id)
	r.metrics.ObserveDBQuery("get_appointment", time.Since(start))
	if err != nil {
		return nil, appErrors.FromContext(err, "appointment lookup timed out")
	}
	return appointment, nil
}

func (r sessionReader) countByStatus(ctx context.Context, label string, filter models.AppointmentFilter) (map[models.AppointmentStatus]int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	counts, err := r.repo.CountAppointmentsByStatus(ctx, filter)
	r.metrics.ObserveDBQuery(label, time.Since(start))
	if err != nil {
		return nil, appErrors.FromContext(err, "appointment count timed out")
	}
	return counts, nil
}

func (r sessionReader) countClients(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	total, err := r.repo.CountClients(ctx)
	r.metrics.ObserveDBQuery("count_clients", time.Since(start))
	if err != nil {
		return 0, appErrors.FromContext(err, "client count timed out")
	}
	return total, nil
}

// weekdayIndex numbers days from Monday (0) to Sunday (6).
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func locationOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
