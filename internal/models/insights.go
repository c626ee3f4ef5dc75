package models

import "time"

// Severity and Confidence share the low/medium/high scale.
type Severity string

type Confidence string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"

	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// AlertKind identifies the rule that produced an alert.
type AlertKind string

const (
	AlertLowFrequency         AlertKind = "frequencia_baixa"
	AlertLowAttendance        AlertKind = "baixo_comparecimento"
	AlertDecliningTrend       AlertKind = "tendencia_queda"
	AlertImprovingTrend       AlertKind = "tendencia_melhora"
	AlertLowEngagement        AlertKind = "engajamento_baixo"
	AlertHighCancellation     AlertKind = "risco_cancelamento_alto"
	AlertMediumCancellation   AlertKind = "risco_cancelamento_medio"
	AlertManyCancellations    AlertKind = "cancelamentos_altos"
	AlertPredictedCancel      AlertKind = "cancelamento_previsto"
	AlertUpcomingSessions     AlertKind = "sessoes_proximas"
	AlertClientsLowEngagement AlertKind = "clientes_engajamento_baixo"
	AlertSystemDegraded       AlertKind = "erro_sistema"
)

// Alert is a pre-formatted, confidence-tagged notice for the dashboard.
type Alert struct {
	Kind       AlertKind  `json:"kind"`
	Severity   Severity   `json:"severity"`
	Confidence Confidence `json:"confidence"`
	Title      string     `json:"title,omitempty"`
	Message    string     `json:"message"`
	Action     string     `json:"action,omitempty"`
	Reference  string     `json:"reference,omitempty"`
}

// TrendDirection classifies week-over-week movement.
type TrendDirection string

const (
	TrendDecline     TrendDirection = "decline"
	TrendStable      TrendDirection = "stable"
	TrendImprovement TrendDirection = "improvement"
)

// Trend compares the two most recent non-empty week buckets.
type Trend struct {
	Direction     TrendDirection `json:"direction"`
	Percent       float64        `json:"percent"`
	WeeksCompared int            `json:"weeks_compared"`
}

// FrequencyReport describes a client's engagement over an analysis window.
type FrequencyReport struct {
	ClientID              string    `json:"client_id"`
	WindowDays            int       `json:"window_days"`
	TotalAppointments     int       `json:"total_appointments"`
	CompletedAppointments int       `json:"completed_appointments"`
	WeeklyFrequency       float64   `json:"weekly_frequency"`
	AttendanceRate        float64   `json:"attendance_rate"`
	Trend                 Trend     `json:"trend"`
	EngagementIndex       float64   `json:"engagement_index"`
	Alerts                []Alert   `json:"alerts"`
	GeneratedAt           time.Time `json:"generated_at"`
}

// CancellationRecord is a canceled appointment projected onto the clustering
// feature space. Weekday is 0 for Monday through 6 for Sunday.
type CancellationRecord struct {
	ClientID string    `json:"client_id"`
	OwnerID  string    `json:"owner_id"`
	Weekday  int       `json:"weekday"`
	Hour     int       `json:"hour"`
	Date     time.Time `json:"date"`
}

// DayPeriod buckets an hour of the day.
type DayPeriod string

const (
	PeriodMorning   DayPeriod = "morning"
	PeriodAfternoon DayPeriod = "afternoon"
	PeriodEvening   DayPeriod = "evening"
)

// Cluster summarises one group of cancellations found by k-means.
type Cluster struct {
	ID          int       `json:"id"`
	Members     int       `json:"members"`
	Weekday     int       `json:"weekday"`
	WeekdayName string    `json:"weekday_name"`
	Hour        int       `json:"hour"`
	Period      DayPeriod `json:"period"`
	Description string    `json:"description"`
}

// CancellationPattern is a coarse, frequency based observation.
type CancellationPattern struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Value       int    `json:"value"`
	Count       int    `json:"count"`
}

// Recommendation is an actionable hint derived from cancellation analysis.
type Recommendation struct {
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	Action      string     `json:"action"`
	Confidence  Confidence `json:"confidence"`
	ClientIDs   []string   `json:"client_ids,omitempty"`
}

// PatternReport is the output of cancellation pattern detection.
type PatternReport struct {
	OwnerID            string                `json:"owner_id,omitempty"`
	WindowDays         int                   `json:"window_days"`
	TotalCancellations int                   `json:"total_cancellations"`
	Patterns           []CancellationPattern `json:"patterns"`
	Clusters           []Cluster             `json:"clusters"`
	ClusteringApplied  bool                  `json:"clustering_applied"`
	Recommendations    []Recommendation      `json:"recommendations"`
	GeneratedAt        time.Time             `json:"generated_at"`
}
