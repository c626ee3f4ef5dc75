package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

const (
	defaultPatternTTL      = 6 * time.Hour
	minClusterRecords      = 3
	maxClusters            = 3
	frequentCancellerLimit = 3
	notableClusterSize     = 3
)

// PatternDetector discovers cancellation patterns for an owner.
type PatternDetector interface {
	Detect(ctx context.Context, ownerID string, days int, useCache bool) (*models.PatternReport, bool, error)
}

// PatternServiceParams groups the pattern detector dependencies.
type PatternServiceParams struct {
	Sessions          SessionRepository
	Cache             *CacheService
	Metrics           *MetricsService
	Logger            *zap.Logger
	Location          *time.Location
	CacheTTL          time.Duration
	RepositoryTimeout time.Duration
}

// PatternService clusters historical cancellations over (weekday, hour).
type PatternService struct {
	sessions sessionReader
	cache    *CacheService
	logger   *zap.Logger
	location *time.Location
	ttl      time.Duration
	group    singleflight.Group
	now      func() time.Time
}

// NewPatternService constructs the detector.
func NewPatternService(params PatternServiceParams) *PatternService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = defaultPatternTTL
	}
	return &PatternService{
		sessions: newSessionReader(params.Sessions, params.RepositoryTimeout, params.Metrics),
		cache:    params.Cache,
		logger:   logger,
		location: locationOrUTC(params.Location),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Detect returns the pattern report for ownerID (empty for all owners) over the
// trailing window. The boolean reports whether the result came from cache.
func (s *PatternService) Detect(ctx context.Context, ownerID string, days int, useCache bool) (*models.PatternReport, bool, error) {
	if days <= 0 {
		return nil, false, appErrors.Clone(appErrors.ErrInvalidArgument, "days must be greater than zero")
	}
	ownerID = strings.TrimSpace(ownerID)
	key := s.cacheKey(ownerID, days)

	if useCache && s.cache.Enabled() {
		var cached models.PatternReport
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("pattern cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		if hit {
			return &cached, true, nil
		}
	}

	// The shared computation outlives any one caller; the session reader and
	// cache bound it with their own deadlines.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		report, err := s.compute(flightCtx, ownerID, days)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(flightCtx, key, report, s.ttl); err != nil {
			s.logger.Warn("pattern cache write failed", zap.String("key", key), zap.Error(err))
		}
		return report, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, appErrors.FromContext(ctx.Err(), "pattern detection timed out")
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		report := *res.Val.(*models.PatternReport)
		return &report, false, nil
	}
}

func (s *PatternService) cacheKey(ownerID string, days int) string {
	owner := ownerID
	if owner == "" {
		owner = "all"
	}
	return s.cache.Key("patterns", owner, strconv.Itoa(days))
}

func (s *PatternService) compute(ctx context.Context, ownerID string, days int) (*models.PatternReport, error) {
	now := s.now().In(s.location)
	from := now.AddDate(0, 0, -days)
	appointments, err := s.sessions.query(ctx, "pattern_cancellations", models.AppointmentFilter{
		OwnerID:  ownerID,
		From:     &from,
		To:       &now,
		Statuses: []models.AppointmentStatus{models.AppointmentCanceled},
	})
	if err != nil {
		return nil, err
	}

	records := make([]models.CancellationRecord, 0, len(appointments))
	for _, appt := range appointments {
		local := appt.ScheduledAt.In(s.location)
		records = append(records, models.CancellationRecord{
			ClientID: appt.ClientID,
			OwnerID:  appt.OwnerID,
			Weekday:  weekdayIndex(local),
			Hour:     local.Hour(),
			Date:     dateOnly(local),
		})
	}

	report := &models.PatternReport{
		OwnerID:            ownerID,
		WindowDays:         days,
		TotalCancellations: len(records),
		Patterns:           coarsePatterns(records),
		Clusters:           []models.Cluster{},
		Recommendations:    []models.Recommendation{},
		GeneratedAt:        now.UTC(),
	}
	if rec, ok := frequentCancellers(records); ok {
		report.Recommendations = append(report.Recommendations, rec)
	}

	if k := clusterCount(len(records)); k >= 2 {
		report.Clusters = clusterRecords(records, k)
		report.ClusteringApplied = true
		for _, cluster := range report.Clusters {
			if cluster.Members >= notableClusterSize {
				report.Recommendations = append(report.Recommendations, models.Recommendation{
					Kind:        "cluster_identified",
					Description: cluster.Description,
					Action:      "Consider moving or confirming sessions in this slot ahead of time",
					Confidence:  models.ConfidenceMedium,
				})
			}
		}
	}

	s.logger.Debug("cancellation patterns computed",
		zap.String("owner_id", ownerID),
		zap.Int("days", days),
		zap.Int("records", len(records)),
		zap.Int("clusters", len(report.Clusters)),
	)
	return report, nil
}

func clusterCount(n int) int {
	if n < minClusterRecords {
		return 0
	}
	k := n / 2
	if k > maxClusters {
		k = maxClusters
	}
	return k
}

func coarsePatterns(records []models.CancellationRecord) []models.CancellationPattern {
	if len(records) == 0 {
		return []models.CancellationPattern{}
	}
	var weekdays [7]int
	var hours [24]int
	for _, r := range records {
		weekdays[r.Weekday]++
		hours[r.Hour]++
	}
	day, dayCount := argmax(weekdays[:])
	hour, hourCount := argmax(hours[:])
	return []models.CancellationPattern{
		{
			Kind:        "weekday",
			Description: fmt.Sprintf("Most cancellations fall on %s (%d)", weekdayNames[day], dayCount),
			Value:       day,
			Count:       dayCount,
		},
		{
			Kind:        "hour",
			Description: fmt.Sprintf("Most cancellations are booked at %02d:00 (%d)", hour, hourCount),
			Value:       hour,
			Count:       hourCount,
		},
	}
}

// argmax returns the first index holding the maximum, so ties go to the lowest value.
func argmax(counts []int) (int, int) {
	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	return best, counts[best]
}

func frequentCancellers(records []models.CancellationRecord) (models.Recommendation, bool) {
	perClient := make(map[string]int)
	for _, r := range records {
		perClient[r.ClientID]++
	}
	clients := make([]string, 0)
	for id, count := range perClient {
		if count >= frequentCancellerLimit {
			clients = append(clients, id)
		}
	}
	if len(clients) == 0 {
		return models.Recommendation{}, false
	}
	sort.Slice(clients, func(i, j int) bool {
		if perClient[clients[i]] != perClient[clients[j]] {
			return perClient[clients[i]] > perClient[clients[j]]
		}
		return clients[i] < clients[j]
	})
	return models.Recommendation{
		Kind:        "frequent_cancellers",
		Description: fmt.Sprintf("%d client(s) canceled %d or more sessions", len(clients), frequentCancellerLimit),
		Action:      "Reach out to understand what keeps them from attending",
		Confidence:  models.ConfidenceHigh,
		ClientIDs:   clients,
	}, true
}

func clusterRecords(records []models.CancellationRecord, k int) []models.Cluster {
	points := make([]point, len(records))
	for i, r := range records {
		points[i] = point{x: float64(r.Weekday), y: float64(r.Hour)}
	}
	// Repository ordering must not influence the seeding.
	sortPoints(points)
	result := kmeans(points, k)

	members := make([][]point, k)
	for i, p := range points {
		c := result.assignments[i]
		members[c] = append(members[c], p)
	}

	clusters := make([]models.Cluster, 0, k)
	for _, group := range members {
		if len(group) == 0 {
			continue
		}
		clusters = append(clusters, summariseCluster(group))
	}
	sort.Slice(clusters, func(i, j int) bool {
		a, b := clusters[i], clusters[j]
		if a.Members != b.Members {
			return a.Members > b.Members
		}
		if a.Weekday != b.Weekday {
			return a.Weekday < b.Weekday
		}
		return a.Hour < b.Hour
	})
	for i := range clusters {
		clusters[i].ID = i + 1
	}
	return clusters
}

func summariseCluster(group []point) models.Cluster {
	var weekdays [7]int
	hourSum := 0.0
	for _, p := range group {
		weekdays[int(p.x)]++
		hourSum += p.y
	}
	modal, _ := argmax(weekdays[:])
	hour := int(math.Round(hourSum / float64(len(group))))
	period := dayPeriod(hour)

	distinct := make([]string, 0, 2)
	for day, count := range weekdays {
		if count > 0 {
			distinct = append(distinct, weekdayNames[day])
		}
	}
	var description string
	if len(distinct) <= 2 {
		description = fmt.Sprintf("%d cancellations on %s around %02d:00 (%s)", len(group), strings.Join(distinct, " and "), hour, period)
	} else {
		description = fmt.Sprintf("%d cancellations across several weekdays around %02d:00 (%s)", len(group), hour, period)
	}

	return models.Cluster{
		Members:     len(group),
		Weekday:     modal,
		WeekdayName: weekdayNames[modal],
		Hour:        hour,
		Period:      period,
		Description: description,
	}
}

func dayPeriod(hour int) models.DayPeriod {
	switch {
	case hour < 12:
		return models.PeriodMorning
	case hour < 18:
		return models.PeriodAfternoon
	default:
		return models.PeriodEvening
	}
}
