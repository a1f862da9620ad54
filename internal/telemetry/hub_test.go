package telemetry

import (
	"context"
	"testing"

	"solar_monitor/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vendorARecord(id string, status int) domain.RawRecord {
	return domain.RawRecord{Payload: map[string]interface{}{
		"deviceId":     id,
		"deviceStatus": status,
		"activePower":  12.5,
	}}
}

func TestPublishDeliversNormalizedSnapshot(t *testing.T) {
	hub := NewHub(nil)
	var got []Snapshot
	unsubscribe := hub.Subscribe("src-1", domain.VendorA, func(s Snapshot) { got = append(got, s) })
	defer unsubscribe()

	snap, err := hub.Publish(context.Background(), "src-1", "S1", domain.VendorA, []domain.RawRecord{
		vendorARecord("INV-1", 2),
		{Payload: map[string]interface{}{"activePower": 1.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Dropped)

	require.Len(t, got, 1)
	require.Len(t, got[0].Samples, 1)
	assert.Equal(t, "INV-1", got[0].Samples[0].ID)
	assert.Equal(t, "S1", got[0].Samples[0].SiteID)
	assert.Equal(t, "fault", got[0].Samples[0].Status)
}

func TestPublishOnlyReachesMatchingSubscribers(t *testing.T) {
	hub := NewHub(nil)
	calls := map[string]int{}
	hub.Subscribe("src-1", domain.VendorA, func(Snapshot) { calls["a"]++ })
	hub.Subscribe("src-1", domain.VendorB, func(Snapshot) { calls["b"]++ })
	hub.Subscribe("src-1", "", func(Snapshot) { calls["any"]++ })
	hub.Subscribe("src-2", domain.VendorA, func(Snapshot) { calls["other"]++ })

	_, err := hub.Publish(context.Background(), "src-1", "S1", domain.VendorA, []domain.RawRecord{vendorARecord("INV-1", 1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "any": 1}, calls)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	calls := 0
	unsubscribe := hub.Subscribe("src-1", domain.VendorA, func(Snapshot) { calls++ })
	assert.Equal(t, 1, hub.SubscriberCount("src-1"))

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, hub.SubscriberCount("src-1"))

	_, _ = hub.Publish(context.Background(), "src-1", "S1", domain.VendorA, []domain.RawRecord{vendorARecord("INV-1", 1)})
	assert.Zero(t, calls)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	hub := NewHub(nil)
	delivered := false
	hub.Subscribe("src-1", "", func(Snapshot) { panic("boom") })
	hub.Subscribe("src-1", "", func(Snapshot) { delivered = true })

	assert.NotPanics(t, func() {
		_, _ = hub.Publish(context.Background(), "src-1", "S1", domain.VendorA, []domain.RawRecord{vendorARecord("INV-1", 1)})
	})
	assert.True(t, delivered)
}

func TestPublishRejectsUnknownVendor(t *testing.T) {
	hub := NewHub(nil)
	_, err := hub.Publish(context.Background(), "src-1", "S1", "vendor_x", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownVendor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = hub.Publish(ctx, "src-1", "S1", domain.VendorA, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
