package domain

import "time"

// SaveMethod records who triggered a daily record write
type SaveMethod string

const (
	SaveAuto   SaveMethod = "auto"
	SaveManual SaveMethod = "manual"
)

// DateLayout is the record key layout
const DateLayout = "2006-01-02"

// SiteProductionSnapshot is the per-site rollup embedded in a daily record
type SiteProductionSnapshot struct {
	SiteID              string  `json:"site_id" bson:"site_id"`
	SiteName            string  `json:"site_name" bson:"site_name"`
	Capacity            float64 `json:"capacity" bson:"capacity"`
	ActiveInverterCount int     `json:"active_inverter_count" bson:"active_inverter_count"`
	TotalProductionKWh  float64 `json:"total_production_kwh" bson:"total_production_kwh"`
	AveragePowerKW      float64 `json:"average_power_kw" bson:"average_power_kw"`
	PeakPowerKW         float64 `json:"peak_power_kw" bson:"peak_power_kw"`
	EfficiencyPct       float64 `json:"efficiency_pct" bson:"efficiency_pct"`
	DataPointCount      int     `json:"data_point_count" bson:"data_point_count"`
}

// ProductionSummary is the fleet-wide rollup
type ProductionSummary struct {
	TotalSites           int     `json:"total_sites" bson:"total_sites"`
	ActiveSites          int     `json:"active_sites" bson:"active_sites"`
	TotalCapacityMWp     float64 `json:"total_capacity_mwp" bson:"total_capacity_mwp"`
	TotalProductionKWh   float64 `json:"total_production_kwh" bson:"total_production_kwh"`
	TotalPowerKW         float64 `json:"total_power_kw" bson:"total_power_kw"`
	AverageEfficiencyPct float64 `json:"average_efficiency_pct" bson:"average_efficiency_pct"`
	TotalInverters       int     `json:"total_inverters" bson:"total_inverters"`
	ActiveInverters      int     `json:"active_inverters" bson:"active_inverters"`
}

// RecordMetadata tracks the write history of a daily record
type RecordMetadata struct {
	CreatedAt          time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" bson:"updated_at"`
	SavedAt            time.Time  `json:"saved_at" bson:"saved_at"`
	SavedMethod        SaveMethod `json:"saved_method" bson:"saved_method"`
	TotalUpdates       int        `json:"total_updates" bson:"total_updates"`
	LastRealtimeUpdate *time.Time `json:"last_realtime_update,omitempty" bson:"last_realtime_update,omitempty"`
}

// DailyProductionRecord is the single document for one calendar date
type DailyProductionRecord struct {
	Date     string                   `json:"date" bson:"_id"`
	Sites    []SiteProductionSnapshot `json:"sites" bson:"sites"`
	Summary  ProductionSummary        `json:"summary" bson:"summary"`
	Metadata RecordMetadata           `json:"metadata" bson:"metadata"`
}

// ProductionPatch is the latest fleet-wide snapshot to merge into a record
type ProductionPatch struct {
	Date     string
	Sites    []SiteProductionSnapshot
	Summary  ProductionSummary
	Method   SaveMethod
	Realtime bool
	At       time.Time
}

// Merge applies the patch to existing (nil when the date has no record yet).
// sites and summary are replaced, totalUpdates is incremented and createdAt
// is kept from the first write.
func Merge(existing *DailyProductionRecord, patch ProductionPatch) DailyProductionRecord {
	sites := make([]SiteProductionSnapshot, len(patch.Sites))
	copy(sites, patch.Sites)

	out := DailyProductionRecord{
		Date:    patch.Date,
		Sites:   sites,
		Summary: patch.Summary,
	}

	if existing == nil {
		out.Metadata = RecordMetadata{
			CreatedAt:    patch.At,
			TotalUpdates: 1,
		}
	} else {
		out.Metadata = existing.Metadata
		out.Metadata.TotalUpdates = existing.Metadata.TotalUpdates + 1
	}

	out.Metadata.UpdatedAt = patch.At
	out.Metadata.SavedAt = patch.At
	out.Metadata.SavedMethod = patch.Method
	if patch.Realtime {
		at := patch.At
		out.Metadata.LastRealtimeUpdate = &at
	}
	return out
}
