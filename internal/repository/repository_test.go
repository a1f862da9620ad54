package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"solar_monitor/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func alertAt(id, user, site string, ts time.Time) domain.Alert {
	return domain.Alert{ID: id, UserID: user, SiteID: site, Type: domain.AlertInverter, Timestamp: ts}
}

func TestMemoryAlertRepoLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAlertRepo()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, alertAt("a1", "u1", "S1", base)))
	require.NoError(t, repo.Create(ctx, alertAt("a2", "u1", "S2", base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, alertAt("a3", "u2", "S1", base.Add(2*time.Minute))))

	list, err := repo.List(ctx, domain.AlertFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].ID, "newest first")

	list, _ = repo.List(ctx, domain.AlertFilter{SiteIDs: []string{"S1"}})
	assert.Len(t, list, 2)

	_, changed, err := repo.Resolve(ctx, "a1", false, base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)

	list, _ = repo.List(ctx, domain.AlertFilter{UserID: "u1", UnresolvedOnly: true})
	require.Len(t, list, 1)
	assert.Equal(t, "a2", list[0].ID)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrAlertNotFound))
	assert.ErrorIs(t, repo.Delete(ctx, "missing"), domain.ErrAlertNotFound)
	_, err = repo.Acknowledge(ctx, "missing", "u1", base)
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
	_, _, err = repo.Resolve(ctx, "missing", false, base)
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)

	n, err := repo.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	list, _ = repo.List(ctx, domain.AlertFilter{Limit: 10})
	assert.Len(t, list, 1)
}

func TestMemoryAlertRepoAcknowledgeKeepsResolution(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAlertRepo()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, alertAt("a1", "u1", "S1", base)))

	first, changed, err := repo.Resolve(ctx, "a1", true, base.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, changed)

	again, changed, err := repo.Resolve(ctx, "a1", false, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, *first.ResolvedAt, *again.ResolvedAt)
	assert.True(t, again.AutoResolved)

	_, err = repo.Acknowledge(ctx, "a1", "u2", base.Add(2*time.Hour))
	assert.ErrorIs(t, err, domain.ErrAlertResolved)

	stored, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStateResolved, stored.State())
	assert.False(t, stored.Acknowledged)
}

func TestAlertTransitionUpdatesOnlyMatchOpenAlerts(t *testing.T) {
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, bson.M{"_id": "a1", "resolved_at": nil}, openAlertFilter("a1"))

	ack := acknowledgeUpdate("op-1", at)["$set"].(bson.M)
	assert.Equal(t, true, ack["acknowledged"])
	assert.Equal(t, "op-1", ack["acknowledged_by"])
	assert.NotContains(t, ack, "resolved_at", "acknowledge never writes the resolution")

	res := resolveUpdate(true, at)["$set"].(bson.M)
	assert.Equal(t, at, res["resolved_at"])
	assert.Equal(t, true, res["auto_resolved"])
	assert.NotContains(t, res, "acknowledged")
}

func TestMemoryProductionRepoMerge(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProductionRepo()
	t0 := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	rec, err := repo.Get(ctx, "2026-06-01")
	require.NoError(t, err)
	assert.Nil(t, rec)

	first, err := repo.Merge(ctx, domain.ProductionPatch{Date: "2026-06-01", Method: domain.SaveAuto, Realtime: true, At: t0})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Metadata.TotalUpdates)

	second, err := repo.Merge(ctx, domain.ProductionPatch{
		Date:   "2026-06-01",
		Sites:  []domain.SiteProductionSnapshot{{SiteID: "S1", TotalProductionKWh: 120}},
		Method: domain.SaveManual,
		At:     t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Metadata.TotalUpdates)
	assert.Equal(t, t0, second.Metadata.CreatedAt)
	assert.Equal(t, domain.SaveManual, second.Metadata.SavedMethod)
	require.NotNil(t, second.Metadata.LastRealtimeUpdate)
	assert.Equal(t, t0, *second.Metadata.LastRealtimeUpdate)

	_, _ = repo.Merge(ctx, domain.ProductionPatch{Date: "2026-05-31", At: t0})
	all, err := repo.List(ctx, "2026-05-01", "2026-06-30")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2026-05-31", all[0].Date)
}

func TestProductionUpdateShape(t *testing.T) {
	at := time.Date(2026, 6, 1, 23, 30, 0, 0, time.UTC)
	update := productionUpdate(domain.ProductionPatch{Date: "2026-06-01", Method: domain.SaveAuto, At: at})

	set := update["$set"].(bson.M)
	assert.Equal(t, []domain.SiteProductionSnapshot{}, set["sites"])
	assert.Equal(t, domain.SaveAuto, set["metadata.saved_method"])
	assert.NotContains(t, set, "metadata.last_realtime_update")
	assert.Equal(t, bson.M{"metadata.total_updates": 1}, update["$inc"])
	assert.Equal(t, bson.M{"metadata.created_at": at}, update["$setOnInsert"])

	update = productionUpdate(domain.ProductionPatch{Date: "2026-06-01", Realtime: true, At: at})
	assert.Equal(t, at, update["$set"].(bson.M)["metadata.last_realtime_update"])
}

func TestAlertQuery(t *testing.T) {
	q := alertQuery(domain.AlertFilter{UserID: "u1", UnresolvedOnly: true, SiteIDs: []string{"S1"}})
	assert.Equal(t, "u1", q["user_id"])
	assert.Contains(t, q, "resolved_at")
	assert.Nil(t, q["resolved_at"])
	assert.Equal(t, bson.M{"$in": []string{"S1"}}, q["site_id"])
	assert.Empty(t, alertQuery(domain.AlertFilter{}))
}

func TestParseSites(t *testing.T) {
	doc := []byte(`
sites:
  - id: S2
    name: Beta
    capacity_mwp: 2.5
    sources:
      - vendor_type: vendor_b
        source_id: beta-main
  - id: S1
    name: Alpha
    capacity_mwp: 1
    sources:
      - vendor_type: vendor_a
        source_id: alpha-1
`)
	sites, err := ParseSites(doc)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "S1", sites[0].ID)
	assert.Equal(t, 2.5, sites[1].CapacityMWp)
	assert.Equal(t, domain.VendorB, sites[1].Sources[0].VendorType)

	_, err = ParseSites([]byte("sites:\n  - id: S1\n  - id: S1\n"))
	assert.Error(t, err)

	_, err = ParseSites([]byte("sites:\n  - id: S1\n    sources:\n      - vendor_type: vendor_z\n"))
	assert.ErrorIs(t, err, domain.ErrUnknownVendor)
}

func TestBuildSampleQueryUsesParameters(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	q, params := buildSampleQuery(TelemetryFilter{DeviceID: "INV-1'; DROP", StartTime: &start, Limit: 50})

	assert.Contains(t, q, "device_id = $device_id")
	assert.NotContains(t, q, "DROP")
	assert.Contains(t, q, "LIMIT 50")
	assert.Equal(t, "INV-1'; DROP", params["device_id"])
	assert.Equal(t, "2026-06-01T00:00:00Z", params["start"])
}

func TestPointToSample(t *testing.T) {
	ts := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s := pointToSample(map[string]interface{}{
		"time":              ts,
		"device_id":         "INV-1",
		"site_id":           "S1",
		"vendor_type":       "vendor_a",
		"status":            "normal",
		"active_power_kw":   42.5,
		"string1_current_a": 8.0,
		"string1_voltage_v": int64(600),
	})
	assert.Equal(t, "INV-1", s.ID)
	assert.Equal(t, ts, s.SampledAt)
	assert.Equal(t, 42.5, s.Power())
	assert.Nil(t, s.TemperatureC)
	require.Contains(t, s.StringReadings, "string1")
	assert.Equal(t, 600.0, *s.StringReadings["string1"].VoltageV)
}

func TestCloneMapIsDeep(t *testing.T) {
	src := map[string]interface{}{"status": map[string]interface{}{"state": "ok"}}
	cp := cloneMap(src)
	cp["status"].(map[string]interface{})["state"] = "fault"
	assert.Equal(t, "ok", src["status"].(map[string]interface{})["state"])
	assert.Nil(t, cloneMap(nil))
}
