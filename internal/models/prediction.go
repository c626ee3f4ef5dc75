package models

import "time"

// FeatureCount is the width of the cancellation feature vector.
const FeatureCount = 4

// FeatureNames lists the feature vector columns in model order.
var FeatureNames = []string{"weekday", "hour", "client_past_cancellations", "owner_past_cancellations"}

// FeatureValues are the engineered inputs of a single cancellation prediction.
type FeatureValues struct {
	Weekday                 int `json:"weekday"`
	Hour                    int `json:"hour"`
	ClientPastCancellations int `json:"client_past_cancellations"`
	OwnerPastCancellations  int `json:"owner_past_cancellations"`
}

// Vector returns the features in model order.
func (f FeatureValues) Vector() []float64 {
	return []float64{
		float64(f.Weekday),
		float64(f.Hour),
		float64(f.ClientPastCancellations),
		float64(f.OwnerPastCancellations),
	}
}

// Scaler is a per-feature standardisation transform.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// TrainedModel is the persisted logistic regression artifact.
type TrainedModel struct {
	Version   int       `json:"version"`
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Scaler    Scaler    `json:"scaler"`
	TrainedAt time.Time `json:"trained_at"`
	Examples  int       `json:"examples"`
}

// ModelStatus reports whether a model is available for serving.
type ModelStatus struct {
	Trained   bool       `json:"trained"`
	TrainedAt *time.Time `json:"trained_at,omitempty"`
	Examples  int        `json:"examples"`
	Version   int        `json:"version"`
}

// PredictionStatus distinguishes served predictions from data shortfalls.
type PredictionStatus string

const (
	PredictionOK               PredictionStatus = "ok"
	PredictionInsufficientData PredictionStatus = "insufficient_data"
)

// PredictionRequest identifies the appointment to score, either by id or by
// its client, owner and scheduled time.
type PredictionRequest struct {
	AppointmentID string     `json:"appointment_id"`
	ClientID      string     `json:"client_id"`
	OwnerID       string     `json:"owner_id"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	Retrain       bool       `json:"retrain"`
}

// PredictionResult carries the probability with the features used to get it.
type PredictionResult struct {
	Status        PredictionStatus `json:"status"`
	AppointmentID string           `json:"appointment_id,omitempty"`
	ClientID      string           `json:"client_id"`
	OwnerID       string           `json:"owner_id"`
	ScheduledAt   time.Time        `json:"scheduled_at"`
	Probability   float64          `json:"probability"`
	Percent       int              `json:"percent"`
	Features      FeatureValues    `json:"features"`
	Alert         *Alert           `json:"alert,omitempty"`
	Model         *ModelStatus     `json:"model,omitempty"`
	Message       string           `json:"message,omitempty"`
}
