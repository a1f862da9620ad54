package service

import (
	"context"
	"testing"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/repository"
	"solar_monitor/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(id string, power, daily *float64) domain.DeviceSample {
	return domain.DeviceSample{ID: id, ActivePowerKW: power, DailyYieldKWh: daily}
}

func TestSiteSnapshot(t *testing.T) {
	site := domain.Site{ID: "S1", Name: "Plant One", CapacityMWp: 1}
	samples := []domain.DeviceSample{
		sample("INV-1", domain.Float(100), domain.Float(250.123)),
		sample("INV-2", domain.Float(0), domain.Float(10)),
		sample("INV-3", domain.Float(300), nil),
		sample("INV-4", nil, nil),
	}

	snap := SiteSnapshot(site, samples)
	assert.Equal(t, "Plant One", snap.SiteName)
	assert.Equal(t, 1.0, snap.Capacity)
	assert.Equal(t, 2, snap.ActiveInverterCount)
	assert.Equal(t, 260.12, snap.TotalProductionKWh)
	assert.Equal(t, 200.0, snap.AveragePowerKW)
	assert.Equal(t, 300.0, snap.PeakPowerKW)
	assert.Equal(t, 40.0, snap.EfficiencyPct)
	assert.Equal(t, 4, snap.DataPointCount)
}

func TestSiteSnapshotWithoutDataOrCapacity(t *testing.T) {
	snap := SiteSnapshot(domain.Site{ID: "S2"}, nil)
	assert.Zero(t, snap.ActiveInverterCount)
	assert.Zero(t, snap.AveragePowerKW)
	assert.Zero(t, snap.EfficiencyPct)
	assert.Zero(t, snap.DataPointCount)
}

func TestSummarize(t *testing.T) {
	sum := Summarize([]domain.SiteProductionSnapshot{
		{SiteID: "S1", Capacity: 1, ActiveInverterCount: 2, TotalProductionKWh: 100, AveragePowerKW: 200, EfficiencyPct: 40, DataPointCount: 3},
		{SiteID: "S2", Capacity: 2.5, ActiveInverterCount: 1, TotalProductionKWh: 50.5, AveragePowerKW: 100, EfficiencyPct: 4, DataPointCount: 1},
		{SiteID: "S3", Capacity: 0.5},
	})

	assert.Equal(t, 3, sum.TotalSites)
	assert.Equal(t, 2, sum.ActiveSites)
	assert.Equal(t, 4.0, sum.TotalCapacityMWp)
	assert.Equal(t, 150.5, sum.TotalProductionKWh)
	assert.Equal(t, 500.0, sum.TotalPowerKW)
	assert.Equal(t, 22.0, sum.AverageEfficiencyPct, "sites without data are left out of the mean")
	assert.Equal(t, 4, sum.TotalInverters)
	assert.Equal(t, 3, sum.ActiveInverters)
}

func TestCollectorUsesLatestSnapshotPerSource(t *testing.T) {
	sites := repository.NewMemorySiteRepo(
		domain.Site{ID: "S2", Sources: []domain.SiteSource{{VendorType: domain.VendorB, SourceID: "b"}}},
		domain.Site{ID: "S1", CapacityMWp: 1, Sources: []domain.SiteSource{
			{VendorType: domain.VendorA, SourceID: "a1"},
			{VendorType: domain.VendorA, SourceID: "a2"},
		}},
	)
	registry := NewSiteRegistry(sites, time.Minute)
	defer registry.Close()
	latest := NewLatestStore()

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	latest.Put(telemetry.Snapshot{SourceID: "a1", Samples: []domain.DeviceSample{sample("INV-1", domain.Float(10), nil)}}, at)
	latest.Put(telemetry.Snapshot{SourceID: "a1", Samples: []domain.DeviceSample{sample("INV-1", domain.Float(50), nil)}}, at)
	latest.Put(telemetry.Snapshot{SourceID: "a2", Samples: []domain.DeviceSample{sample("INV-2", domain.Float(150), nil)}}, at)

	snaps, sum, err := NewCollector(registry, latest).Collect(context.Background(), SampleWindow{Date: "2026-06-01"})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "S1", snaps[0].SiteID)
	assert.Equal(t, "S2", snaps[1].SiteID)
	assert.Equal(t, 2, snaps[0].DataPointCount)
	assert.Equal(t, 150.0, snaps[0].PeakPowerKW)
	assert.Equal(t, 20.0, snaps[0].EfficiencyPct)
	assert.Equal(t, 1, sum.ActiveSites)
}

func TestCollectorSkipsSnapshotsOutsideWindow(t *testing.T) {
	site := domain.Site{ID: "S1", CapacityMWp: 1, Sources: []domain.SiteSource{
		{VendorType: domain.VendorA, SourceID: "a1"},
		{VendorType: domain.VendorA, SourceID: "a2"},
	}}
	registry := NewSiteRegistry(repository.NewMemorySiteRepo(site), time.Minute)
	defer registry.Close()
	latest := NewLatestStore()

	// 20:00 IST on the 1st is 14:30 UTC, still the 1st in both zones
	evening := time.Date(2026, 6, 1, 20, 0, 0, 0, ist)
	morning := time.Date(2026, 6, 2, 6, 5, 0, 0, ist)
	latest.Put(telemetry.Snapshot{SourceID: "a1", Samples: []domain.DeviceSample{sample("INV-1", domain.Float(40), domain.Float(120.5))}}, evening)
	latest.Put(telemetry.Snapshot{SourceID: "a2", Samples: []domain.DeviceSample{sample("INV-2", domain.Float(30), domain.Float(3))}}, morning)
	collector := NewCollector(registry, latest)
	ctx := context.Background()

	snaps, sum, err := collector.Collect(ctx, SampleWindow{Date: "2026-06-02", Loc: ist})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].DataPointCount, "yesterday's snapshot is not today's production")
	assert.Equal(t, 3.0, sum.TotalProductionKWh)

	snaps, _, err = collector.Collect(ctx, SampleWindow{Date: "2026-06-01", Loc: ist})
	require.NoError(t, err)
	assert.Equal(t, 120.5, snaps[0].TotalProductionKWh)

	snaps, _, err = collector.Collect(ctx, SampleWindow{Date: "2026-06-02", Loc: ist, NotBefore: morning.Add(time.Minute)})
	require.NoError(t, err)
	assert.Zero(t, snaps[0].DataPointCount, "stale sources drop out")

	assert.Len(t, latest.SiteSamples(site), 2)
	count, complete := latest.DeviceCount(site)
	assert.Equal(t, 2, count)
	assert.True(t, complete)
}

func TestSiteRegistrySource(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemorySiteRepo(domain.Site{ID: "S1", Sources: []domain.SiteSource{{VendorType: domain.VendorA, SourceID: "a1"}}})
	registry := NewSiteRegistry(repo, time.Minute)
	defer registry.Close()

	_, src, err := registry.Source(ctx, "S1", "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.VendorA, src.VendorType)

	_, _, err = registry.Source(ctx, "S1", "zz")
	assert.ErrorIs(t, err, ErrUnknownSource)
	_, _, err = registry.Source(ctx, "S9", "a1")
	assert.ErrorIs(t, err, ErrUnknownSource)

	repo.Put(domain.Site{ID: "S9", Sources: []domain.SiteSource{{VendorType: domain.VendorB, SourceID: "a1"}}})
	_, _, err = registry.Source(ctx, "S9", "a1")
	assert.ErrorIs(t, err, ErrUnknownSource, "cached list is served until invalidated")

	registry.Invalidate()
	_, src, err = registry.Source(ctx, "S9", "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.VendorB, src.VendorType)
}
