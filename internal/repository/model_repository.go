package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
	"github.com/noah-isme/session-insights-api/pkg/storage"
)

// ErrModelNotFound signals that no artifact has been committed yet.
var ErrModelNotFound = appErrors.Clone(appErrors.ErrNotFound, "model artifact not found")

// ModelRepository persists the cancellation model as a single JSON artifact.
type ModelRepository struct {
	store    *storage.LocalStorage
	filename string
}

// NewModelRepository constructs a repository writing to filename inside store.
func NewModelRepository(store *storage.LocalStorage, filename string) *ModelRepository {
	if filename == "" {
		filename = "cancellation_model.json"
	}
	return &ModelRepository{store: store, filename: filename}
}

// Load reads and validates the committed artifact.
func (r *ModelRepository) Load(ctx context.Context) (*models.TrainedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErrors.FromContext(err, "load model artifact timed out")
	}
	data, err := r.store.Read(r.filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, ErrModelNotFound
		}
		return nil, err
	}

	var model models.TrainedModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, corruption(err, "decode model artifact")
	}
	if err := validateModel(&model); err != nil {
		return nil, corruption(err, "invalid model artifact")
	}
	return &model, nil
}

// Save commits the artifact atomically. A cancelled context before the commit
// leaves the previous artifact authoritative.
func (r *ModelRepository) Save(ctx context.Context, model *models.TrainedModel) error {
	if model == nil {
		return fmt.Errorf("save model artifact: nil model")
	}
	if err := validateModel(model); err != nil {
		return fmt.Errorf("save model artifact: %w", err)
	}
	payload, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return appErrors.FromContext(err, "save model artifact timed out")
	}
	return r.store.SaveAtomic(r.filename, payload)
}

// Delete discards the artifact.
func (r *ModelRepository) Delete(_ context.Context) error {
	return r.store.Delete(r.filename)
}

func validateModel(model *models.TrainedModel) error {
	if len(model.Weights) != models.FeatureCount {
		return fmt.Errorf("expected %d weights, got %d", models.FeatureCount, len(model.Weights))
	}
	if len(model.Scaler.Mean) != models.FeatureCount || len(model.Scaler.Scale) != models.FeatureCount {
		return fmt.Errorf("scaler dimensions do not match feature count")
	}
	for i := 0; i < models.FeatureCount; i++ {
		if model.Scaler.Scale[i] == 0 || !finite(model.Scaler.Scale[i]) || !finite(model.Scaler.Mean[i]) || !finite(model.Weights[i]) {
			return fmt.Errorf("non-finite or zero parameter at feature %d", i)
		}
	}
	if !finite(model.Bias) {
		return fmt.Errorf("non-finite bias")
	}
	if model.Examples <= 0 {
		return fmt.Errorf("artifact has no training examples")
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func corruption(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrStorageCorruption.Code, appErrors.ErrStorageCorruption.Status, message)
}
