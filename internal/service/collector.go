package service

import (
	"context"
	"math"
	"sort"

	"solar_monitor/internal/domain"
)

// Collector builds the fleet production snapshot from the latest samples
type Collector struct {
	registry *SiteRegistry
	latest   *LatestStore
}

func NewCollector(registry *SiteRegistry, latest *LatestStore) *Collector {
	return &Collector{registry: registry, latest: latest}
}

// Collect returns one snapshot per registered site, sorted by site id, and
// the fleet summary. Only source snapshots received inside w count.
func (c *Collector) Collect(ctx context.Context, w SampleWindow) ([]domain.SiteProductionSnapshot, domain.ProductionSummary, error) {
	sites, err := c.registry.Sites(ctx)
	if err != nil {
		return nil, domain.ProductionSummary{}, err
	}

	snapshots := make([]domain.SiteProductionSnapshot, 0, len(sites))
	for _, site := range sites {
		snapshots = append(snapshots, SiteSnapshot(site, c.latest.SiteSamplesIn(site, w)))
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].SiteID < snapshots[j].SiteID })
	return snapshots, Summarize(snapshots), nil
}

// SiteSnapshot rolls up one site's samples
func SiteSnapshot(site domain.Site, samples []domain.DeviceSample) domain.SiteProductionSnapshot {
	snap := domain.SiteProductionSnapshot{
		SiteID:         site.ID,
		SiteName:       site.Name,
		Capacity:       site.CapacityMWp,
		DataPointCount: len(samples),
	}

	var totalKW float64
	for _, s := range samples {
		p := s.Power()
		totalKW += p
		snap.TotalProductionKWh += s.DailyYield()
		if p > 0 {
			snap.ActiveInverterCount++
		}
		if p > snap.PeakPowerKW {
			snap.PeakPowerKW = p
		}
	}
	if snap.ActiveInverterCount > 0 {
		snap.AveragePowerKW = round2(totalKW / float64(snap.ActiveInverterCount))
	}
	if site.CapacityMWp > 0 {
		snap.EfficiencyPct = round2(totalKW / (site.CapacityMWp * 1000) * 100)
	}
	snap.TotalProductionKWh = round2(snap.TotalProductionKWh)
	snap.PeakPowerKW = round2(snap.PeakPowerKW)
	return snap
}

// Summarize computes the fleet rollup. Average efficiency is taken over
// sites that reported data.
func Summarize(sites []domain.SiteProductionSnapshot) domain.ProductionSummary {
	sum := domain.ProductionSummary{TotalSites: len(sites)}
	var effTotal float64
	reporting := 0
	for _, s := range sites {
		sum.TotalCapacityMWp += s.Capacity
		sum.TotalProductionKWh += s.TotalProductionKWh
		sum.TotalPowerKW += s.AveragePowerKW * float64(s.ActiveInverterCount)
		sum.TotalInverters += s.DataPointCount
		sum.ActiveInverters += s.ActiveInverterCount
		if s.ActiveInverterCount > 0 {
			sum.ActiveSites++
		}
		if s.DataPointCount > 0 {
			effTotal += s.EfficiencyPct
			reporting++
		}
	}
	if reporting > 0 {
		sum.AverageEfficiencyPct = round2(effTotal / float64(reporting))
	}
	sum.TotalCapacityMWp = round2(sum.TotalCapacityMWp)
	sum.TotalProductionKWh = round2(sum.TotalProductionKWh)
	sum.TotalPowerKW = round2(sum.TotalPowerKW)
	return sum
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
