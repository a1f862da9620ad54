package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"solar_monitor/internal/domain"
)

// MemoryAlertRepo keeps alerts in process. Used when STORE_TYPE=memory
// and in tests.
type MemoryAlertRepo struct {
	mu     sync.RWMutex
	alerts map[string]domain.Alert
}

func NewMemoryAlertRepo() *MemoryAlertRepo {
	return &MemoryAlertRepo{alerts: make(map[string]domain.Alert)}
}

func (r *MemoryAlertRepo) Create(_ context.Context, alert domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[alert.ID] = alert
	return nil
}

func (r *MemoryAlertRepo) Get(_ context.Context, id string) (domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return domain.Alert{}, domain.ErrAlertNotFound
	}
	return a, nil
}

func (r *MemoryAlertRepo) Acknowledge(_ context.Context, id, userID string, at time.Time) (domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return domain.Alert{}, domain.ErrAlertNotFound
	}
	if err := a.Acknowledge(userID, at); err != nil {
		return a, err
	}
	r.alerts[id] = a
	return a, nil
}

func (r *MemoryAlertRepo) Resolve(_ context.Context, id string, auto bool, at time.Time) (domain.Alert, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return domain.Alert{}, false, domain.ErrAlertNotFound
	}
	if !a.Resolve(auto, at) {
		return a, false, nil
	}
	r.alerts[id] = a
	return a, true, nil
}

func (r *MemoryAlertRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[id]; !ok {
		return domain.ErrAlertNotFound
	}
	delete(r.alerts, id)
	return nil
}

func (r *MemoryAlertRepo) DeleteAll(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.alerts {
		if a.UserID == userID {
			delete(r.alerts, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryAlertRepo) List(_ context.Context, filter domain.AlertFilter) ([]domain.Alert, error) {
	r.mu.RLock()
	sites := toSet(filter.SiteIDs)
	out := make([]domain.Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.UnresolvedOnly && a.Resolved() {
			continue
		}
		if sites != nil && !sites[a.SiteID] {
			continue
		}
		out = append(out, a)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryAlertRepo) Type() string {
	return "memory"
}

// MemoryProductionRepo keeps daily records in process
type MemoryProductionRepo struct {
	mu      sync.Mutex
	records map[string]domain.DailyProductionRecord
}

func NewMemoryProductionRepo() *MemoryProductionRepo {
	return &MemoryProductionRepo{records: make(map[string]domain.DailyProductionRecord)}
}

func (r *MemoryProductionRepo) Get(_ context.Context, date string) (*domain.DailyProductionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[date]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *MemoryProductionRepo) Merge(_ context.Context, patch domain.ProductionPatch) (domain.DailyProductionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var existing *domain.DailyProductionRecord
	if rec, ok := r.records[patch.Date]; ok {
		existing = &rec
	}
	merged := domain.Merge(existing, patch)
	r.records[patch.Date] = merged
	return merged, nil
}

func (r *MemoryProductionRepo) List(_ context.Context, from, to string) ([]domain.DailyProductionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DailyProductionRecord
	for date, rec := range r.records {
		if (from == "" || date >= from) && (to == "" || date <= to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (r *MemoryProductionRepo) Type() string {
	return "memory"
}

// MemorySiteRepo serves a fixed registry
type MemorySiteRepo struct {
	mu    sync.RWMutex
	sites []domain.Site
}

func NewMemorySiteRepo(sites ...domain.Site) *MemorySiteRepo {
	return &MemorySiteRepo{sites: sites}
}

func (r *MemorySiteRepo) List(_ context.Context) ([]domain.Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Site, len(r.sites))
	copy(out, r.sites)
	return out, nil
}

// Put adds or replaces a site
func (r *MemorySiteRepo) Put(site domain.Site) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sites {
		if r.sites[i].ID == site.ID {
			r.sites[i] = site
			return
		}
	}
	r.sites = append(r.sites, site)
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
