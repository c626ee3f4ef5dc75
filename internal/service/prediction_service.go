package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

const (
	modelLoadFlightKey     = "cancellation-model:load"
	modelTrainFlightKey    = "cancellation-model:train"
	minTrainingExamples    = 20
	defaultTrainingWindow  = 180 * 24 * time.Hour
	defaultTrainingTimeout = 2 * time.Minute
	defaultStorageTimeout  = 5 * time.Second
	defaultModelMetaTTL    = 24 * time.Hour

	highRiskThreshold   = 0.7
	mediumRiskThreshold = 0.5
)

// ModelStore persists the trained model artifact.
type ModelStore interface {
	Load(ctx context.Context) (*models.TrainedModel, error)
	Save(ctx context.Context, model *models.TrainedModel) error
	Delete(ctx context.Context) error
}

// CancellationPredictor scores appointments for cancellation risk.
type CancellationPredictor interface {
	Predict(ctx context.Context, req models.PredictionRequest) (*models.PredictionResult, error)
}

// PredictionServiceParams groups the predictor dependencies.
type PredictionServiceParams struct {
	Sessions          SessionRepository
	Store             ModelStore
	Cache             *CacheService
	Metrics           *MetricsService
	Logger            *zap.Logger
	Location          *time.Location
	MinSamples        int
	TrainingWindow    time.Duration
	TrainingTimeout   time.Duration
	RepositoryTimeout time.Duration
	StorageTimeout    time.Duration
	ModelMetaTTL      time.Duration
}

// PredictionService owns the cancellation model lifecycle: lazy load, single
// flight training, atomic persistence and inference.
type PredictionService struct {
	sessions        sessionReader
	store           ModelStore
	cache           *CacheService
	metrics         *MetricsService
	logger          *zap.Logger
	location        *time.Location
	validate        *validator.Validate
	minSamples      int
	window          time.Duration
	trainingTimeout time.Duration
	storageTimeout  time.Duration
	metaTTL         time.Duration

	group singleflight.Group
	mu    sync.RWMutex
	model *models.TrainedModel
	now   func() time.Time
}

type predictionInput struct {
	ClientID    string    `validate:"required"`
	OwnerID     string    `validate:"required"`
	ScheduledAt time.Time `validate:"required"`
}

// NewPredictionService constructs the predictor.
func NewPredictionService(params PredictionServiceParams) *PredictionService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &PredictionService{
		sessions:        newSessionReader(params.Sessions, params.RepositoryTimeout, params.Metrics),
		store:           params.Store,
		cache:           params.Cache,
		metrics:         params.Metrics,
		logger:          logger,
		location:        locationOrUTC(params.Location),
		validate:        validator.New(),
		minSamples:      params.MinSamples,
		window:          params.TrainingWindow,
		trainingTimeout: params.TrainingTimeout,
		storageTimeout:  params.StorageTimeout,
		metaTTL:         params.ModelMetaTTL,
		now:             time.Now,
	}
	if svc.minSamples < minTrainingExamples {
		svc.minSamples = minTrainingExamples
	}
	if svc.window <= 0 {
		svc.window = defaultTrainingWindow
	}
	if svc.trainingTimeout <= 0 {
		svc.trainingTimeout = defaultTrainingTimeout
	}
	if svc.storageTimeout <= 0 {
		svc.storageTimeout = defaultStorageTimeout
	}
	if svc.metaTTL <= 0 {
		svc.metaTTL = defaultModelMetaTTL
	}
	return svc
}

// Predict returns the cancellation probability for an appointment. A shortage
// of training data yields an insufficient_data result rather than an error.
func (s *PredictionService) Predict(ctx context.Context, req models.PredictionRequest) (*models.PredictionResult, error) {
	input, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &models.PredictionResult{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		ClientID:      input.ClientID,
		OwnerID:       input.OwnerID,
		ScheduledAt:   input.ScheduledAt.UTC(),
	}

	model, err := s.ensureModel(ctx, req.Retrain)
	if err != nil {
		if errors.Is(err, appErrors.ErrInsufficientData) {
			result.Status = models.PredictionInsufficientData
			result.Message = appErrors.FromError(err).Message
			s.metrics.RecordPrediction(result.Status, "")
			return result, nil
		}
		return nil, err
	}

	features, err := s.features(ctx, input)
	if err != nil {
		return nil, err
	}

	probability := predictProbability(model, features.Vector())
	status := statusOf(model)
	result.Status = models.PredictionOK
	result.Probability = probability
	result.Percent = int(math.Round(probability * 100))
	result.Features = features
	result.Model = &status
	result.Alert = s.riskAlert(probability, result.Percent, input.ScheduledAt, result.AppointmentID)

	risk := ""
	if result.Alert != nil {
		risk = string(result.Alert.Severity)
	}
	s.metrics.RecordPrediction(result.Status, risk)
	return result, nil
}

// Train forces a retrain. Callers arriving while another training run is in
// flight share its outcome; a lazy load in flight is never joined.
func (s *PredictionService) Train(ctx context.Context) (*models.ModelStatus, error) {
	model, err := s.await(ctx, s.startTraining(ctx))
	if err != nil {
		return nil, err
	}
	status := statusOf(model)
	return &status, nil
}

// Status reports the serving model without triggering training.
func (s *PredictionService) Status(ctx context.Context) models.ModelStatus {
	if model := s.current(); model != nil {
		return statusOf(model)
	}
	var cached models.ModelStatus
	if hit, err := s.cache.Get(ctx, s.metaKey(), &cached); err == nil && hit {
		return cached
	}
	if model, err := s.load(ctx); err == nil {
		s.setModel(model)
		return statusOf(model)
	}
	return models.ModelStatus{}
}

func (s *PredictionService) resolve(ctx context.Context, req models.PredictionRequest) (predictionInput, error) {
	input := predictionInput{
		ClientID: strings.TrimSpace(req.ClientID),
		OwnerID:  strings.TrimSpace(req.OwnerID),
	}
	if req.ScheduledAt != nil {
		input.ScheduledAt = *req.ScheduledAt
	}

	id := strings.TrimSpace(req.AppointmentID)
	if id != "" && (input.ClientID == "" || input.OwnerID == "" || input.ScheduledAt.IsZero()) {
		appointment, err := s.sessions.get(ctx, id)
		if err != nil {
			return predictionInput{}, err
		}
		input = predictionInput{
			ClientID:    appointment.ClientID,
			OwnerID:     appointment.OwnerID,
			ScheduledAt: appointment.ScheduledAt,
		}
	}

	if err := s.validate.Struct(input); err != nil {
		return predictionInput{}, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, "client_id, owner_id and scheduled_at are required")
	}
	return input, nil
}

// features counts cancellations strictly before the scheduled time, over the
// same lookback the model was trained on.
func (s *PredictionService) features(ctx context.Context, input predictionInput) (models.FeatureValues, error) {
	from := s.now().Add(-s.window)
	to := input.ScheduledAt
	canceled := []models.AppointmentStatus{models.AppointmentCanceled}

	clientPast, err := s.sessions.query(ctx, "client_cancellations", models.AppointmentFilter{
		ClientID: input.ClientID, From: &from, To: &to, Statuses: canceled,
	})
	if err != nil {
		return models.FeatureValues{}, err
	}
	ownerPast, err := s.sessions.query(ctx, "owner_cancellations", models.AppointmentFilter{
		OwnerID: input.OwnerID, From: &from, To: &to, Statuses: canceled,
	})
	if err != nil {
		return models.FeatureValues{}, err
	}

	return featureValues(input.ScheduledAt, s.location, countStrictlyBefore(clientPast, to), countStrictlyBefore(ownerPast, to)), nil
}

func (s *PredictionService) ensureModel(ctx context.Context, retrain bool) (*models.TrainedModel, error) {
	if retrain {
		model, err := s.await(ctx, s.startTraining(ctx))
		if err != nil && ctx.Err() == nil {
			return s.lastKnownGood(err)
		}
		return model, err
	}

	if model := s.current(); model != nil {
		return model, nil
	}
	ch := s.group.DoChan(modelLoadFlightKey, func() (interface{}, error) {
		return s.loadOrTrain(context.WithoutCancel(ctx))
	})
	return s.await(ctx, ch)
}

// startTraining joins the training flight, starting one if none is running.
// Every training run goes through this key so at most one runs at a time.
func (s *PredictionService) startTraining(ctx context.Context) <-chan singleflight.Result {
	return s.group.DoChan(modelTrainFlightKey, func() (interface{}, error) {
		return s.train(context.WithoutCancel(ctx))
	})
}

func (s *PredictionService) await(ctx context.Context, ch <-chan singleflight.Result) (*models.TrainedModel, error) {
	select {
	case <-ctx.Done():
		return nil, appErrors.FromContext(ctx.Err(), "waiting for model timed out")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.TrainedModel), nil
	}
}

func (s *PredictionService) loadOrTrain(ctx context.Context) (*models.TrainedModel, error) {
	if model := s.current(); model != nil {
		return model, nil
	}
	if model, err := s.load(ctx); err == nil {
		s.setModel(model)
		return s.current(), nil
	}

	res := <-s.startTraining(ctx)
	if res.Err != nil {
		return s.lastKnownGood(res.Err)
	}
	return res.Val.(*models.TrainedModel), nil
}

func (s *PredictionService) lastKnownGood(err error) (*models.TrainedModel, error) {
	previous := s.current()
	if previous == nil {
		return nil, err
	}
	s.logger.Warn("retraining failed, serving last known good model", zap.Int("version", previous.Version), zap.Error(err))
	return previous, nil
}

// load reads the artifact. Corrupt or undersized artifacts are discarded so
// the next step retrains.
func (s *PredictionService) load(ctx context.Context) (*models.TrainedModel, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	model, err := s.store.Load(ctx)
	if err == nil && model.Examples < s.minSamples {
		err = appErrors.Clone(appErrors.ErrStorageCorruption, fmt.Sprintf("artifact trained on %d examples", model.Examples))
	}
	if err != nil {
		if errors.Is(err, appErrors.ErrStorageCorruption) {
			s.logger.Warn("discarding unusable model artifact", zap.Error(err))
			if delErr := s.store.Delete(ctx); delErr != nil {
				s.logger.Warn("failed to delete model artifact", zap.Error(delErr))
			}
		} else if !errors.Is(err, appErrors.ErrNotFound) {
			s.logger.Warn("model artifact load failed", zap.Error(err))
		}
		return nil, err
	}
	return model, nil
}

func (s *PredictionService) train(ctx context.Context) (*models.TrainedModel, error) {
	ctx, cancel := context.WithTimeout(ctx, s.trainingTimeout)
	defer cancel()

	start := time.Now()
	now := s.now()
	from := now.Add(-s.window)
	appointments, err := s.sessions.query(ctx, "training_set", models.AppointmentFilter{
		From:     &from,
		To:       &now,
		Statuses: []models.AppointmentStatus{models.AppointmentCompleted, models.AppointmentCanceled},
	})
	if err != nil {
		s.metrics.ObserveTraining("failed", time.Since(start))
		return nil, err
	}
	if len(appointments) < s.minSamples {
		s.metrics.ObserveTraining("insufficient_data", time.Since(start))
		return nil, appErrors.Clone(appErrors.ErrInsufficientData, fmt.Sprintf(
			"at least %d completed or canceled appointments from the last %d days are required, found %d",
			s.minSamples, int(s.window.Hours()/24), len(appointments)))
	}

	rows, labels := buildTrainingSet(appointments, s.location)
	scaler := fitScaler(rows)
	scaled := make([][]float64, len(rows))
	for i, row := range rows {
		scaled[i] = transform(scaler, row)
	}
	weights, bias, err := fitLogistic(scaled, labels)
	if err != nil {
		s.metrics.ObserveTraining("failed", time.Since(start))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "fitting cancellation model failed")
	}

	model := &models.TrainedModel{
		Version:   s.nextVersion(ctx),
		Weights:   weights,
		Bias:      bias,
		Scaler:    scaler,
		TrainedAt: now.UTC(),
		Examples:  len(rows),
	}

	saveCtx, cancelSave := context.WithTimeout(ctx, s.storageTimeout)
	defer cancelSave()
	if err := s.store.Save(saveCtx, model); err != nil {
		s.metrics.ObserveTraining("failed", time.Since(start))
		return nil, appErrors.FromContext(err, "persisting model timed out")
	}
	s.setModel(model)

	if err := s.cache.Set(ctx, s.metaKey(), statusOf(model), s.metaTTL); err != nil {
		s.logger.Warn("model metadata cache write failed", zap.Error(err))
	}
	s.metrics.ObserveTraining("trained", time.Since(start))
	s.logger.Info("cancellation model trained",
		zap.Int("version", model.Version),
		zap.Int("examples", model.Examples),
		zap.Duration("duration", time.Since(start)),
	)
	return model, nil
}

// nextVersion numbers a new artifact after the serving model, or after the
// stored one when nothing has been loaded yet.
func (s *PredictionService) nextVersion(ctx context.Context) int {
	if previous := s.current(); previous != nil {
		return previous.Version + 1
	}
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	if stored, err := s.store.Load(ctx); err == nil {
		return stored.Version + 1
	}
	return 1
}

func (s *PredictionService) riskAlert(probability float64, percent int, scheduledAt time.Time, reference string) *models.Alert {
	when := scheduledAt.In(s.location).Format("02/01/2006 15:04")
	switch {
	case probability > highRiskThreshold:
		return &models.Alert{
			Kind:       models.AlertHighCancellation,
			Severity:   models.SeverityHigh,
			Confidence: models.ConfidenceHigh,
			Title:      "High cancellation risk",
			Message:    fmt.Sprintf("%d%% chance the session on %s will be canceled", percent, when),
			Action:     "Confirm attendance with the client ahead of time",
			Reference:  reference,
		}
	case probability > mediumRiskThreshold:
		return &models.Alert{
			Kind:       models.AlertMediumCancellation,
			Severity:   models.SeverityMedium,
			Confidence: models.ConfidenceMedium,
			Title:      "Moderate cancellation risk",
			Message:    fmt.Sprintf("%d%% chance the session on %s will be canceled", percent, when),
			Action:     "Send a reminder before the session",
			Reference:  reference,
		}
	}
	return nil
}

func (s *PredictionService) metaKey() string {
	return s.cache.Key("model", "meta")
}

func (s *PredictionService) current() *models.TrainedModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// setModel never replaces a newer model with an older one.
func (s *PredictionService) setModel(model *models.TrainedModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil || model.Version >= s.model.Version {
		s.model = model
	}
}

func statusOf(model *models.TrainedModel) models.ModelStatus {
	trainedAt := model.TrainedAt
	return models.ModelStatus{
		Trained:   true,
		TrainedAt: &trainedAt,
		Examples:  model.Examples,
		Version:   model.Version,
	}
}

// buildTrainingSet builds one row per appointment. Past cancellation counts
// only include cancellations scheduled strictly before the row's own time, so
// a row's label never leaks into its features.
func buildTrainingSet(appointments []models.Appointment, loc *time.Location) ([][]float64, []float64) {
	sorted := make([]models.Appointment, len(appointments))
	copy(sorted, appointments)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ScheduledAt.Equal(sorted[j].ScheduledAt) {
			return sorted[i].ScheduledAt.Before(sorted[j].ScheduledAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	byClient := make(map[string][]time.Time)
	byOwner := make(map[string][]time.Time)
	for _, appt := range sorted {
		if appt.Status == models.AppointmentCanceled {
			byClient[appt.ClientID] = append(byClient[appt.ClientID], appt.ScheduledAt)
			byOwner[appt.OwnerID] = append(byOwner[appt.OwnerID], appt.ScheduledAt)
		}
	}

	rows := make([][]float64, 0, len(sorted))
	labels := make([]float64, 0, len(sorted))
	for _, appt := range sorted {
		features := featureValues(appt.ScheduledAt, loc,
			searchBefore(byClient[appt.ClientID], appt.ScheduledAt),
			searchBefore(byOwner[appt.OwnerID], appt.ScheduledAt))
		rows = append(rows, features.Vector())
		label := 0.0
		if appt.Status == models.AppointmentCanceled {
			label = 1
		}
		labels = append(labels, label)
	}
	return rows, labels
}

func featureValues(at time.Time, loc *time.Location, clientPast, ownerPast int) models.FeatureValues {
	local := at.In(loc)
	return models.FeatureValues{
		Weekday:                 weekdayIndex(local),
		Hour:                    local.Hour(),
		ClientPastCancellations: clientPast,
		OwnerPastCancellations:  ownerPast,
	}
}

// searchBefore counts sorted times strictly before at.
func searchBefore(times []time.Time, at time.Time) int {
	return sort.Search(len(times), func(i int) bool { return !times[i].Before(at) })
}

func countStrictlyBefore(appointments []models.Appointment, at time.Time) int {
	count := 0
	for _, appt := range appointments {
		if appt.ScheduledAt.Before(at) {
			count++
		}
	}
	return count
}
