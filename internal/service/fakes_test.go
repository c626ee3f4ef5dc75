package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

// fakeSessions filters an in-memory appointment list the same way the SQL
// repository does.
type fakeSessions struct {
	mu           sync.Mutex
	appointments []models.Appointment
	err          error
	queries      map[string]int
	gate         chan struct{}
	entered      chan struct{}
	// gateLabel picks which query blocks on gate; empty means training.
	gateLabel string
}

func (f *fakeSessions) add(appts ...models.Appointment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appointments = append(f.appointments, appts...)
}

func (f *fakeSessions) calls(label string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[label]
}

func (f *fakeSessions) QueryAppointments(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, error) {
	f.mu.Lock()
	if f.queries == nil {
		f.queries = make(map[string]int)
	}
	label := filterLabel(filter)
	f.queries[label]++
	gate, entered, gated := f.gate, f.entered, f.gateLabel
	f.mu.Unlock()
	if gated == "" {
		gated = "training"
	}

	if gate != nil && label == gated {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	return f.match(filter), nil
}

func (f *fakeSessions) GetAppointment(_ context.Context, id string) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, appt := range f.appointments {
		if appt.ID == id {
			copied := appt
			return &copied, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
}

// match applies the filter the way the SQL WHERE clause does.
func (f *fakeSessions) match(filter models.AppointmentFilter) []models.Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Appointment, 0)
	for _, appt := range f.appointments {
		if filter.ClientID != "" && appt.ClientID != filter.ClientID {
			continue
		}
		if filter.OwnerID != "" && appt.OwnerID != filter.OwnerID {
			continue
		}
		if filter.From != nil && appt.ScheduledAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && appt.ScheduledAt.After(*filter.To) {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, appt.Status) {
			continue
		}
		out = append(out, appt)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeSessions) CountAppointmentsByStatus(_ context.Context, filter models.AppointmentFilter) (map[models.AppointmentStatus]int, error) {
	f.mu.Lock()
	if f.queries == nil {
		f.queries = make(map[string]int)
	}
	f.queries["count"]++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	counts := make(map[models.AppointmentStatus]int)
	for _, appt := range f.match(filter) {
		counts[appt.Status]++
	}
	return counts, nil
}

func (f *fakeSessions) CountClients(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	for _, appt := range f.appointments {
		seen[appt.ClientID] = struct{}{}
	}
	return len(seen), nil
}

func hasStatus(statuses []models.AppointmentStatus, status models.AppointmentStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func isTrainingFilter(filter models.AppointmentFilter) bool {
	return hasStatus(filter.Statuses, models.AppointmentCompleted) && hasStatus(filter.Statuses, models.AppointmentCanceled)
}

func filterLabel(filter models.AppointmentFilter) string {
	switch {
	case isTrainingFilter(filter):
		return "training"
	case len(filter.Statuses) == 1 && filter.Statuses[0] == models.AppointmentCanceled:
		return "canceled"
	default:
		return "other"
	}
}

// stubCacheRepo is an in-memory CacheRepository that, like Redis, keeps
// entries until deleted so expiry is enforced by the service clock.
type stubCacheRepo struct {
	mu      sync.Mutex
	entries map[string]models.CacheEntry
	raw     map[string]bool
	getErr  error
	deletes int
}

func newStubCacheRepo() *stubCacheRepo {
	return &stubCacheRepo{entries: make(map[string]models.CacheEntry), raw: make(map[string]bool)}
}

func (s *stubCacheRepo) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.raw[key] {
		return nil, appErrors.Wrap(nil, appErrors.ErrStorageCorruption.Code, appErrors.ErrStorageCorruption.Status, "decode cache entry "+key)
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, appErrors.ErrCacheMiss
	}
	return &entry, nil
}

func (s *stubCacheRepo) Set(_ context.Context, entry models.CacheEntry, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
	delete(s.raw, entry.Key)
	return nil
}

func (s *stubCacheRepo) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	delete(s.raw, key)
	s.deletes++
	return nil
}

func (s *stubCacheRepo) Sweep(_ context.Context, _ string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *stubCacheRepo) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// memModelStore keeps the artifact in memory. A non-nil loadGate blocks Load
// until it is closed.
type memModelStore struct {
	mu          sync.Mutex
	model       *models.TrainedModel
	loadErr     error
	saveErr     error
	saves       int
	deletes     int
	loadGate    chan struct{}
	loadEntered chan struct{}
}

func (m *memModelStore) Load(ctx context.Context) (*models.TrainedModel, error) {
	if m.loadGate != nil {
		if m.loadEntered != nil {
			select {
			case m.loadEntered <- struct{}{}:
			default:
			}
		}
		select {
		case <-m.loadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.model == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "model artifact not found")
	}
	copied := *m.model
	return &copied, nil
}

func (m *memModelStore) Save(ctx context.Context, model *models.TrainedModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *model
	m.model = &copied
	m.saves++
	return nil
}

func (m *memModelStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memModelStore) Delete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = nil
	m.loadErr = nil
	m.deletes++
	return nil
}

// fakeStatsRepo records upserts.
type fakeStatsRepo struct {
	mu      sync.Mutex
	clients map[string]models.ClientStats
	global  *models.GlobalStats
	writes  int
}

func (f *fakeStatsRepo) UpsertClientStats(_ context.Context, stats models.ClientStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clients == nil {
		f.clients = make(map[string]models.ClientStats)
	}
	f.clients[stats.ClientID] = stats
	f.writes++
	return nil
}

func (f *fakeStatsRepo) UpsertGlobalStats(_ context.Context, stats models.GlobalStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global = &stats
	f.writes++
	return nil
}

func (f *fakeStatsRepo) GetClientStats(_ context.Context, clientID string) (*models.ClientStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats, ok := f.clients[clientID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "client stats not found")
	}
	return &stats, nil
}

func (f *fakeStatsRepo) GetGlobalStats(context.Context) (*models.GlobalStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.global == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "global stats not found")
	}
	copied := *f.global
	return &copied, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func appt(id, client, owner string, at time.Time, status models.AppointmentStatus) models.Appointment {
	return models.Appointment{ID: id, ClientID: client, OwnerID: owner, ScheduledAt: at, DurationMinutes: 50, Status: status}
}
