package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/session-insights-api/internal/middleware"
	"github.com/noah-isme/session-insights-api/internal/models"
	"github.com/noah-isme/session-insights-api/internal/service"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
	"github.com/noah-isme/session-insights-api/pkg/jobs"
	"github.com/noah-isme/session-insights-api/pkg/response"
)

const (
	defaultEngagementDays = 30
	defaultPatternDays    = 60
	maxWindowDays         = 365
)

type alertService interface {
	Dashboard(ctx context.Context, ownerID string) []models.Alert
}

type engagementService interface {
	Analyze(ctx context.Context, clientID string, days int) (*models.FrequencyReport, error)
}

type patternService interface {
	Detect(ctx context.Context, ownerID string, days int, useCache bool) (*models.PatternReport, bool, error)
}

type predictionService interface {
	Predict(ctx context.Context, req models.PredictionRequest) (*models.PredictionResult, error)
	Train(ctx context.Context) (*models.ModelStatus, error)
	Status(ctx context.Context) models.ModelStatus
}

type statsService interface {
	Refresh(ctx context.Context, clientID string) error
	Client(ctx context.Context, clientID string) (*models.ClientStats, error)
	Global(ctx context.Context) (*models.GlobalStats, error)
}

type cacheAdmin interface {
	Enabled() bool
	Purge(ctx context.Context) (int, error)
}

type metricsSnapshotter interface {
	Snapshot() models.InsightsSystemMetrics
}

type jobQueue interface {
	Enqueue(job jobs.Job) error
}

// InsightsHandlerParams groups the collaborators of InsightsHandler.
type InsightsHandlerParams struct {
	Alerts      alertService
	Engagement  engagementService
	Patterns    patternService
	Predictions predictionService
	Stats       statsService
	Cache       cacheAdmin
	Metrics     metricsSnapshotter
	Jobs        jobQueue
}

// InsightsHandler exposes the predictive analytics endpoints.
type InsightsHandler struct {
	alerts      alertService
	engagement  engagementService
	patterns    patternService
	predictions predictionService
	stats       statsService
	cache       cacheAdmin
	metrics     metricsSnapshotter
	jobs        jobQueue
	now         func() time.Time
}

// NewInsightsHandler constructs the insights handler.
func NewInsightsHandler(params InsightsHandlerParams) *InsightsHandler {
	return &InsightsHandler{
		alerts:      params.Alerts,
		engagement:  params.Engagement,
		patterns:    params.Patterns,
		predictions: params.Predictions,
		stats:       params.Stats,
		cache:       params.Cache,
		metrics:     params.Metrics,
		jobs:        params.Jobs,
		now:         time.Now,
	}
}

// Alerts godoc
// @Summary Dashboard alerts
// @Description Aggregates cancellation, engagement and upcoming-session alerts. Clinicians only see their own sessions.
// @Tags Insights
// @Produce json
// @Param owner_id query string false "Owner filter (admin and receptionist only)"
// @Success 200 {object} response.Envelope
// @Router /api/v1/insights/alerts [get]
func (h *InsightsHandler) Alerts(c *gin.Context) {
	if h.alerts == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	ownerID := scopedOwner(c)
	alerts := h.alerts.Dashboard(c.Request.Context(), ownerID)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["count"] = len(alerts)
	response.JSON(c, http.StatusOK, alerts, meta)
}

// Engagement godoc
// @Summary Client engagement report
// @Tags Insights
// @Produce json
// @Param clientID path string true "Client ID"
// @Param days query int false "Window in days" default(30)
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/insights/clients/{clientID}/engagement [get]
func (h *InsightsHandler) Engagement(c *gin.Context) {
	if h.engagement == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	days, err := parseDays(c, defaultEngagementDays)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.engagement.Analyze(c.Request.Context(), c.Param("clientID"), days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, middleware.ExtractMeta(c))
}

// CancellationPatterns godoc
// @Summary Cancellation patterns
// @Description Clusters recent cancellations by weekday and hour. Results are cached for six hours.
// @Tags Insights
// @Produce json
// @Param days query int false "Window in days" default(60)
// @Param use_cache query bool false "Serve a cached result when available" default(true)
// @Param owner_id query string false "Owner filter (admin and receptionist only)"
// @Success 200 {object} response.Envelope
// @Router /api/v1/insights/cancellation-patterns [get]
func (h *InsightsHandler) CancellationPatterns(c *gin.Context) {
	if h.patterns == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	days, err := parseDays(c, defaultPatternDays)
	if err != nil {
		response.Error(c, err)
		return
	}
	useCache, err := parseBoolQuery(c, "use_cache", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, cacheHit, err := h.patterns.Detect(c.Request.Context(), scopedOwner(c), days, useCache)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, report, middleware.ExtractMeta(c))
}

// Predict godoc
// @Summary Predict cancellation probability
// @Description Scores an appointment by id or by client, owner and scheduled time.
// @Tags Insights
// @Accept json
// @Produce json
// @Param payload body models.PredictionRequest true "Prediction request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/insights/predictions [post]
func (h *InsightsHandler) Predict(c *gin.Context) {
	var req models.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, "invalid prediction payload"))
		return
	}
	h.predict(c, req)
}

// PredictAppointment godoc
// @Summary Predict cancellation probability for a stored appointment
// @Tags Insights
// @Produce json
// @Param appointmentID path string true "Appointment ID"
// @Param retrain query bool false "Retrain the model before scoring"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/insights/predictions/{appointmentID} [get]
func (h *InsightsHandler) PredictAppointment(c *gin.Context) {
	retrain, err := parseBoolQuery(c, "retrain", false)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.predict(c, models.PredictionRequest{AppointmentID: c.Param("appointmentID"), Retrain: retrain})
}

func (h *InsightsHandler) predict(c *gin.Context, req models.PredictionRequest) {
	if h.predictions == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	if req.Retrain && !isAdmin(c) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only administrators may retrain the model"))
		return
	}
	result, err := h.predictions.Predict(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, middleware.ExtractMeta(c))
}

// TrainModel godoc
// @Summary Train the cancellation model
// @Description Retrains synchronously, or enqueues a background job when async=true.
// @Tags Insights
// @Produce json
// @Param async query bool false "Run in the background"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /api/v1/insights/model/train [post]
func (h *InsightsHandler) TrainModel(c *gin.Context) {
	async, err := parseBoolQuery(c, "async", false)
	if err != nil {
		response.Error(c, err)
		return
	}
	if async {
		h.enqueue(c, jobs.NewJob(service.JobModelRetrain, nil))
		return
	}
	if h.predictions == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	status, err := h.predictions.Train(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, middleware.ExtractMeta(c))
}

// Overview godoc
// @Summary Engine overview
// @Description Model status, global statistics and in-process counters.
// @Tags Insights
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /api/v1/insights/stats [get]
func (h *InsightsHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	overview := models.InsightsOverview{
		Features:    models.FeatureNames,
		GeneratedAt: h.now().UTC(),
	}
	if h.predictions != nil {
		overview.Model = h.predictions.Status(ctx)
	}
	if h.cache != nil {
		overview.CacheEnabled = h.cache.Enabled()
	}
	if h.stats != nil {
		global, err := h.stats.Global(ctx)
		switch {
		case err == nil:
			overview.Global = global
		case !errors.Is(err, appErrors.ErrNotFound):
			response.Error(c, err)
			return
		}
	}
	meta := middleware.ExtractMeta(c)
	if h.metrics != nil {
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["system"] = h.metrics.Snapshot()
	}
	response.JSON(c, http.StatusOK, overview, meta)
}

// ClientStats godoc
// @Summary Stored client statistics
// @Tags Insights
// @Produce json
// @Param clientID path string true "Client ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/insights/clients/{clientID}/stats [get]
func (h *InsightsHandler) ClientStats(c *gin.Context) {
	if h.stats == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	row, err := h.stats.Client(c.Request.Context(), c.Param("clientID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row, middleware.ExtractMeta(c))
}

type refreshStatsRequest struct {
	ClientID string `json:"client_id"`
}

// RefreshStats godoc
// @Summary Refresh stored statistics
// @Description Recomputes one client's row, or the global row when client_id is empty.
// @Tags Insights
// @Accept json
// @Produce json
// @Param async query bool false "Run in the background"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /api/v1/insights/stats/refresh [post]
func (h *InsightsHandler) RefreshStats(c *gin.Context) {
	var req refreshStatsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, appErrors.ErrInvalidArgument.Status, "invalid refresh payload"))
			return
		}
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	async, err := parseBoolQuery(c, "async", false)
	if err != nil {
		response.Error(c, err)
		return
	}
	if async {
		h.enqueue(c, jobs.NewJob(service.JobStatsRefresh, map[string]string{"client_id": req.ClientID}))
		return
	}
	if h.stats == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	if err := h.stats.Refresh(c.Request.Context(), req.ClientID); err != nil {
		response.Error(c, err)
		return
	}
	scope := "global"
	if req.ClientID != "" {
		scope = req.ClientID
	}
	response.JSON(c, http.StatusOK, gin.H{"refreshed": scope}, middleware.ExtractMeta(c))
}

// PurgeCache godoc
// @Summary Remove cached insights
// @Tags Insights
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /api/v1/insights/cache/purge [post]
func (h *InsightsHandler) PurgeCache(c *gin.Context) {
	if h.cache == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	removed, err := h.cache.Purge(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"removed": removed}, middleware.ExtractMeta(c))
}

func (h *InsightsHandler) enqueue(c *gin.Context, job jobs.Job) {
	if h.jobs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "background jobs are not available"))
		return
	}
	if err := h.jobs.Enqueue(job); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue job"))
		return
	}
	response.Accepted(c, gin.H{"job_id": job.ID, "type": job.Type})
}

// scopedOwner pins clinicians to their own sessions.
func scopedOwner(c *gin.Context) string {
	claims := claimsFromContext(c)
	if claims != nil && claims.Role == models.RoleClinician {
		return claims.UserID
	}
	return strings.TrimSpace(c.Query("owner_id"))
}

func isAdmin(c *gin.Context) bool {
	claims := claimsFromContext(c)
	return claims != nil && claims.Role == models.RoleAdmin
}

func parseDays(c *gin.Context, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query("days"))
	if raw == "" {
		return fallback, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 || days > maxWindowDays {
		return 0, appErrors.Clone(appErrors.ErrInvalidArgument, "days must be between 1 and 365")
	}
	return days, nil
}

func parseBoolQuery(c *gin.Context, name string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, appErrors.Clone(appErrors.ErrInvalidArgument, name+" must be a boolean")
	}
	return value, nil
}
