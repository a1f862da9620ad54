package service

import (
	"sync"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/telemetry"
)

// SampleWindow selects snapshots by the time the engine received them.
// An empty Date or zero NotBefore leaves that bound open.
type SampleWindow struct {
	Date      string // fleet-local YYYY-MM-DD
	Loc       *time.Location
	NotBefore time.Time
}

func (w SampleWindow) contains(at time.Time) bool {
	if !w.NotBefore.IsZero() && at.Before(w.NotBefore) {
		return false
	}
	if w.Date != "" {
		loc := w.Loc
		if loc == nil {
			loc = time.UTC
		}
		return at.In(loc).Format(domain.DateLayout) == w.Date
	}
	return true
}

type latestEntry struct {
	snap telemetry.Snapshot
	at   time.Time
}

// LatestStore keeps the most recent snapshot per source
type LatestStore struct {
	mu        sync.RWMutex
	snapshots map[string]latestEntry
}

func NewLatestStore() *LatestStore {
	return &LatestStore{snapshots: make(map[string]latestEntry)}
}

// Put replaces the snapshot for its source, stamped with the receipt time
func (s *LatestStore) Put(snap telemetry.Snapshot, at time.Time) {
	s.mu.Lock()
	s.snapshots[snap.SourceID] = latestEntry{snap: snap, at: at}
	s.mu.Unlock()
}

func (s *LatestStore) Get(sourceID string) (telemetry.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.snapshots[sourceID]
	return e.snap, ok
}

// SiteSamples concatenates the latest samples of every source of a site
func (s *LatestStore) SiteSamples(site domain.Site) []domain.DeviceSample {
	return s.SiteSamplesIn(site, SampleWindow{})
}

// SiteSamplesIn is SiteSamples limited to snapshots received inside w
func (s *LatestStore) SiteSamplesIn(site domain.Site, w SampleWindow) []domain.DeviceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DeviceSample
	for _, src := range site.Sources {
		e, ok := s.snapshots[src.SourceID]
		if !ok || !w.contains(e.at) {
			continue
		}
		out = append(out, e.snap.Samples...)
	}
	return out
}

// DeviceCount returns the distinct devices in the latest snapshots of a
// site. complete is false until every source of the site has reported.
func (s *LatestStore) DeviceCount(site domain.Site) (count int, complete bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	complete = true
	for _, src := range site.Sources {
		e, ok := s.snapshots[src.SourceID]
		if !ok {
			complete = false
			continue
		}
		for _, sample := range e.snap.Samples {
			seen[sample.ID] = true
		}
	}
	return len(seen), complete
}
