package models

import (
	"encoding/json"
	"time"
)

// ClientStats is the incrementally maintained metrics row for one client.
type ClientStats struct {
	ClientID        string    `db:"client_id" json:"client_id"`
	AttendanceRate  float64   `db:"attendance_rate" json:"attendance_rate"`
	WeeklyFrequency float64   `db:"weekly_frequency" json:"weekly_frequency"`
	EngagementIndex float64   `db:"engagement_index" json:"engagement_index"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// GlobalStats is the single system-wide aggregate row.
type GlobalStats struct {
	TotalClients      int       `db:"total_clients" json:"total_clients"`
	TotalAppointments int       `db:"total_appointments" json:"total_appointments"`
	TotalCanceled     int       `db:"total_canceled" json:"total_canceled"`
	CancellationRate  float64   `db:"cancellation_rate" json:"cancellation_rate"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// CacheEntry is a stored payload with an absolute expiry.
type CacheEntry struct {
	Key       string          `json:"key"`
	Content   json.RawMessage `json:"content"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the entry must no longer be served at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// InsightsOverview summarises engine state for operators.
type InsightsOverview struct {
	Model        ModelStatus  `json:"model"`
	CacheEnabled bool         `json:"cache_enabled"`
	Global       *GlobalStats `json:"global,omitempty"`
	Features     []string     `json:"features"`
	GeneratedAt  time.Time    `json:"generated_at"`
}

// InsightsSystemMetrics represents instrumentation counters captured in process.
type InsightsSystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	TrainingRuns             uint64    `json:"training_runs"`
	Predictions              uint64    `json:"predictions"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
