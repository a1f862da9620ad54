// Package telemetry delivers normalized source snapshots to subscribers.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/formatter"
	"solar_monitor/pkg/logger"
)

// Snapshot is the full device set of one source at one update. Each
// snapshot supersedes the previous one for its source.
type Snapshot struct {
	SourceID   string                `json:"source_id"`
	SiteID     string                `json:"site_id"`
	VendorType domain.VendorType     `json:"vendor_type"`
	Samples    []domain.DeviceSample `json:"samples"`
	Dropped    int                   `json:"dropped"`
	ReceivedAt time.Time             `json:"received_at"`
}

// UpdateFunc receives snapshots for a subscribed source
type UpdateFunc func(Snapshot)

type subscriber struct {
	vendor domain.VendorType
	fn     UpdateFunc
}

// Hub fans snapshots out to per-source subscribers
type Hub struct {
	mapper *formatter.FormatMapper
	now    func() time.Time

	mu     sync.RWMutex
	subs   map[string]map[uint64]subscriber
	nextID uint64
}

func NewHub(mapper *formatter.FormatMapper) *Hub {
	if mapper == nil {
		mapper = formatter.NewFormatMapper()
	}
	return &Hub{
		mapper: mapper,
		now:    time.Now,
		subs:   make(map[string]map[uint64]subscriber),
	}
}

// Subscribe registers fn for sourceID. An empty vendor accepts any vendor.
// The returned function removes the subscription and may be called more
// than once.
func (h *Hub) Subscribe(sourceID string, vendor domain.VendorType, fn UpdateFunc) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[sourceID] == nil {
		h.subs[sourceID] = make(map[uint64]subscriber)
	}
	h.subs[sourceID][id] = subscriber{vendor: vendor, fn: fn}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sourceID], id)
			if len(h.subs[sourceID]) == 0 {
				delete(h.subs, sourceID)
			}
		})
	}
}

// Publish normalizes records into a snapshot and delivers it to every
// subscriber of the source. Records that fail normalization are dropped.
func (h *Hub) Publish(ctx context.Context, sourceID, siteID string, vendor domain.VendorType, records []domain.RawRecord) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if !vendor.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %q", domain.ErrUnknownVendor, vendor)
	}

	tagged := make([]domain.RawRecord, len(records))
	for i, rec := range records {
		if rec.VendorType == "" {
			rec.VendorType = vendor
		}
		tagged[i] = rec
	}

	now := h.now()
	samples, dropped := h.mapper.NormalizeBatch(tagged, siteID, now)
	snap := Snapshot{
		SourceID:   sourceID,
		SiteID:     siteID,
		VendorType: vendor,
		Samples:    samples,
		Dropped:    dropped,
		ReceivedAt: now,
	}

	for _, sub := range h.subscribers(sourceID) {
		if sub.vendor != "" && sub.vendor != vendor {
			continue
		}
		deliver(sub.fn, snap)
	}
	return snap, nil
}

// SubscriberCount returns the number of subscriptions for a source
func (h *Hub) SubscriberCount(sourceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sourceID])
}

func (h *Hub) subscribers(sourceID string) []subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]subscriber, 0, len(h.subs[sourceID]))
	for _, s := range h.subs[sourceID] {
		out = append(out, s)
	}
	return out
}

// deliver isolates one subscriber so a panic cannot break the publisher
func deliver(fn UpdateFunc, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("telemetry subscriber for %s panicked: %v", snap.SourceID, r)
		}
	}()
	fn(snap)
}
