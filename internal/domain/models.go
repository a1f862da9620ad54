package domain

import (
	"errors"
	"time"
)

var (
	ErrMissingDeviceID = errors.New("telemetry record missing device identifier")
	ErrUnknownVendor   = errors.New("unknown vendor type")
	ErrAlertNotFound   = errors.New("alert not found")
	ErrAlertResolved   = errors.New("alert already resolved")
)

// VendorType tags which raw telemetry shape a source emits
type VendorType string

const (
	VendorA VendorType = "vendor_a"
	VendorB VendorType = "vendor_b"
)

// Valid reports whether the vendor is one the normalizer understands
func (v VendorType) Valid() bool {
	return v == VendorA || v == VendorB
}

// RawRecord is one vendor record resolved at ingestion into a DeviceSample
type RawRecord struct {
	VendorType VendorType             `json:"vendor_type"`
	Payload    map[string]interface{} `json:"payload"`
}

// StringReading is the current/voltage pair of one PV string.
// Nil means the source did not report the value.
type StringReading struct {
	CurrentA *float64 `json:"current_a,omitempty" bson:"current_a,omitempty"`
	VoltageV *float64 `json:"voltage_v,omitempty" bson:"voltage_v,omitempty"`
}

// DeviceSample is the canonical reading for one device at one instant
type DeviceSample struct {
	ID             string                   `json:"id" bson:"id"`
	SiteID         string                   `json:"site_id" bson:"site_id"`
	VendorType     VendorType               `json:"vendor_type" bson:"vendor_type"`
	Name           string                   `json:"name,omitempty" bson:"name,omitempty"`
	Status         string                   `json:"status" bson:"status"`
	ActivePowerKW  *float64                 `json:"active_power_kw,omitempty" bson:"active_power_kw,omitempty"`
	DailyYieldKWh  *float64                 `json:"daily_yield_kwh,omitempty" bson:"daily_yield_kwh,omitempty"`
	TotalYieldKWh  *float64                 `json:"total_yield_kwh,omitempty" bson:"total_yield_kwh,omitempty"`
	TemperatureC   *float64                 `json:"temperature_c,omitempty" bson:"temperature_c,omitempty"`
	StringReadings map[string]StringReading `json:"string_readings,omitempty" bson:"string_readings,omitempty"`
	SampledAt      time.Time                `json:"sampled_at" bson:"sampled_at"`
}

// Power returns the active power or 0 when unreported
func (s DeviceSample) Power() float64 {
	if s.ActivePowerKW == nil {
		return 0
	}
	return *s.ActivePowerKW
}

// DailyYield returns today's yield or 0 when unreported
func (s DeviceSample) DailyYield() float64 {
	if s.DailyYieldKWh == nil {
		return 0
	}
	return *s.DailyYieldKWh
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// Phase is the time-of-day classification used to gate fault evaluation
type Phase string

const (
	PhaseNight   Phase = "night"
	PhaseRising  Phase = "rising"
	PhasePeak    Phase = "peak"
	PhaseFalling Phase = "falling"
)

// SolarPhase is derived from wall-clock time and never persisted
type SolarPhase struct {
	Phase              Phase   `json:"phase"`
	ExpectedPowerRatio float64 `json:"expected_power_ratio"`
}

// AlertType identifies the rule family that produced a finding
type AlertType string

const (
	AlertInverter    AlertType = "inverter"
	AlertPVString    AlertType = "pvstring"
	AlertTemperature AlertType = "temperature"
)

// Severity of a finding or alert
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityWarning  Severity = "warning"
	SeverityLow      Severity = "low"
)

// Rank orders severities; warning ranks with medium.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium, SeverityWarning:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// GeneralDeviceKey is used when a finding is not device specific
const GeneralDeviceKey = "general"

// FaultFinding is an ephemeral candidate alert
type FaultFinding struct {
	SiteID        string    `json:"site_id"`
	Type          AlertType `json:"type"`
	Severity      Severity  `json:"severity"`
	DeviceID      string    `json:"device_id"`
	DeviceName    string    `json:"device_name,omitempty"`
	DeviceKey     string    `json:"device_key,omitempty"`
	Message       string    `json:"message"`
	MeasuredValue *float64  `json:"measured_value,omitempty"`
	Threshold     *float64  `json:"threshold,omitempty"`
}

// CooldownKey builds siteId:alertType:deviceKey
func (f FaultFinding) CooldownKey() string {
	return CooldownKey(f.SiteID, f.Type, f.DeviceKey)
}

// CooldownKey builds the dedup key, defaulting deviceKey to "general"
func CooldownKey(siteID string, alertType AlertType, deviceKey string) string {
	if deviceKey == "" {
		deviceKey = GeneralDeviceKey
	}
	return siteID + ":" + string(alertType) + ":" + deviceKey
}

// Site is a registry entry for one plant
type Site struct {
	ID          string       `json:"site_id" bson:"site_id" yaml:"id"`
	Name        string       `json:"name" bson:"name" yaml:"name"`
	CapacityMWp float64      `json:"capacity_mwp" bson:"capacity_mwp" yaml:"capacity_mwp"`
	Sources     []SiteSource `json:"sources" bson:"sources" yaml:"sources"`
}

// SiteSource is one telemetry source feeding a site
type SiteSource struct {
	VendorType VendorType `json:"vendor_type" bson:"vendor_type" yaml:"vendor_type"`
	SourceID   string     `json:"source_id" bson:"source_id" yaml:"source_id"`
}

// Role controls alert visibility
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleOperator   Role = "operator"
	RoleViewer     Role = "viewer"
	RoleTechnician Role = "technician"
)

// FleetWide reports whether the role sees every site
func (r Role) FleetWide() bool {
	return r == RoleAdmin || r == RoleOperator
}

// Restricted reports whether the role sees only assigned sites
func (r Role) Restricted() bool {
	return r == RoleViewer || r == RoleTechnician
}

// Stats holds pipeline counters exposed by the API
type Stats struct {
	SamplesReceived  int64 `json:"samples_received"`
	RecordsDropped   int64 `json:"records_dropped"`
	FindingsProduced int64 `json:"findings_produced"`
	AlertsCreated    int64 `json:"alerts_created"`
	AlertsSuppressed int64 `json:"alerts_suppressed"`
	AlertsFailed     int64 `json:"alerts_failed"`
	AggregationRuns  int64 `json:"aggregation_runs"`
	AggregationSkips int64 `json:"aggregation_skips"`
}
