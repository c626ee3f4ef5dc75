package models

import "time"

// AppointmentStatus enumerates the lifecycle states of a scheduled session.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCanceled  AppointmentStatus = "canceled"
)

// Appointment is the read-only view of a session owned by the records service.
type Appointment struct {
	ID              string            `db:"id" json:"id"`
	ClientID        string            `db:"client_id" json:"client_id"`
	OwnerID         string            `db:"owner_id" json:"owner_id"`
	ScheduledAt     time.Time         `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int               `db:"duration_minutes" json:"duration_minutes"`
	Status          AppointmentStatus `db:"status" json:"status"`
}

// AppointmentFilter scopes appointment queries. Empty fields are ignored and
// the time bounds are inclusive.
type AppointmentFilter struct {
	ClientID string
	OwnerID  string
	From     *time.Time
	To       *time.Time
	Statuses []AppointmentStatus
}
