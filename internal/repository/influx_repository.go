package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"solar_monitor/internal/config"
	"solar_monitor/internal/domain"
	"solar_monitor/pkg/logger"

	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
)

const sampleMeasurement = "device_samples"

// InfluxTelemetryRepo archives canonical samples in InfluxDB v3
type InfluxTelemetryRepo struct {
	db *config.InfluxDatabase
}

func NewInfluxTelemetryRepo(db *config.InfluxDatabase) *InfluxTelemetryRepo {
	return &InfluxTelemetryRepo{db: db}
}

// Insert writes samples as points, one per device
func (r *InfluxTelemetryRepo) Insert(ctx context.Context, samples []domain.DeviceSample) error {
	if r.db == nil || r.db.Client == nil {
		return fmt.Errorf("InfluxDB client is nil - database not initialized properly")
	}
	if len(samples) == 0 {
		return nil
	}

	points := make([]*influxdb3.Point, 0, len(samples))
	for _, s := range samples {
		if p := sampleToPoint(s); p != nil {
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return fmt.Errorf("no valid points to write")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := r.db.Client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("WritePoints failed: %w (points: %d, db: %s)", err, len(points), r.db.Database)
	}
	logger.Debugf("Archived %d samples to InfluxDB", len(points))
	return nil
}

// sampleToPoint maps a sample to a point. Unreported values are left out
// rather than written as zero.
func sampleToPoint(s domain.DeviceSample) *influxdb3.Point {
	if s.ID == "" {
		return nil
	}
	tags := map[string]string{
		"site_id":     s.SiteID,
		"device_id":   s.ID,
		"vendor_type": string(s.VendorType),
	}
	if s.Name != "" {
		tags["device_name"] = s.Name
	}

	fields := map[string]interface{}{
		"status": s.Status,
	}
	putFloat(fields, "active_power_kw", s.ActivePowerKW)
	putFloat(fields, "daily_yield_kwh", s.DailyYieldKWh)
	putFloat(fields, "total_yield_kwh", s.TotalYieldKWh)
	putFloat(fields, "temperature_c", s.TemperatureC)
	for key, reading := range s.StringReadings {
		putFloat(fields, key+"_current_a", reading.CurrentA)
		putFloat(fields, key+"_voltage_v", reading.VoltageV)
	}

	ts := s.SampledAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb3.NewPoint(sampleMeasurement, tags, fields, ts)
}

func putFloat(fields map[string]interface{}, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}

// Query returns archived samples, newest first
func (r *InfluxTelemetryRepo) Query(ctx context.Context, filter TelemetryFilter) ([]domain.DeviceSample, error) {
	if r.db == nil || r.db.Client == nil {
		return nil, fmt.Errorf("InfluxDB client is nil - database not initialized")
	}

	query, params := buildSampleQuery(filter)
	iterator, err := r.db.Client.QueryWithParameters(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w (query: %s)", err, query)
	}

	var results []domain.DeviceSample
	for iterator.Next() {
		results = append(results, pointToSample(iterator.Value()))
	}
	logger.Debugf("Archive query returned %d samples", len(results))
	return results, nil
}

func buildSampleQuery(filter TelemetryFilter) (string, influxdb3.QueryParameters) {
	var sb strings.Builder
	params := influxdb3.QueryParameters{}

	sb.WriteString("SELECT * FROM " + sampleMeasurement + " WHERE 1=1")
	if filter.SiteID != "" {
		sb.WriteString(" AND site_id = $site_id")
		params["site_id"] = filter.SiteID
	}
	if filter.DeviceID != "" {
		sb.WriteString(" AND device_id = $device_id")
		params["device_id"] = filter.DeviceID
	}
	if filter.StartTime != nil {
		sb.WriteString(" AND time >= $start")
		params["start"] = filter.StartTime.UTC().Format(time.RFC3339)
	}
	if filter.EndTime != nil {
		sb.WriteString(" AND time <= $end")
		params["end"] = filter.EndTime.UTC().Format(time.RFC3339)
	}
	sb.WriteString(" ORDER BY time DESC")
	if filter.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
	}
	return sb.String(), params
}

func pointToSample(value map[string]interface{}) domain.DeviceSample {
	s := domain.DeviceSample{
		ID:            getStringValue(value, "device_id"),
		SiteID:        getStringValue(value, "site_id"),
		VendorType:    domain.VendorType(getStringValue(value, "vendor_type")),
		Name:          getStringValue(value, "device_name"),
		Status:        getStringValue(value, "status"),
		ActivePowerKW: getFloatPtr(value, "active_power_kw"),
		DailyYieldKWh: getFloatPtr(value, "daily_yield_kwh"),
		TotalYieldKWh: getFloatPtr(value, "total_yield_kwh"),
		TemperatureC:  getFloatPtr(value, "temperature_c"),
	}
	if ts, ok := value["time"].(time.Time); ok {
		s.SampledAt = ts
	}

	for key := range value {
		name, ok := strings.CutSuffix(key, "_current_a")
		if !ok {
			continue
		}
		if s.StringReadings == nil {
			s.StringReadings = make(map[string]domain.StringReading)
		}
		s.StringReadings[name] = domain.StringReading{
			CurrentA: getFloatPtr(value, key),
			VoltageV: getFloatPtr(value, name+"_voltage_v"),
		}
	}
	return s
}

func (r *InfluxTelemetryRepo) Type() string {
	return "influx"
}

func getStringValue(data map[string]interface{}, key string) string {
	if val, ok := data[key].(string); ok {
		return val
	}
	return ""
}

func getFloatPtr(data map[string]interface{}, key string) *float64 {
	switch val := data[key].(type) {
	case float64:
		return &val
	case float32:
		f := float64(val)
		return &f
	case int64:
		f := float64(val)
		return &f
	case int:
		f := float64(val)
		return &f
	default:
		return nil
	}
}
