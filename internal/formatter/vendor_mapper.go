// internal/formatter/vendor_mapper.go
// Maps vendor telemetry records to the canonical DeviceSample without mutating raw data.
package formatter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/pkg/logger"
)

// maxVendorAStrings is the number of flat stringN_* pairs a VendorA record can carry
const maxVendorAStrings = 32

// vendorAStatus maps the VendorA numeric deviceStatus code to free text
var vendorAStatus = map[int]string{
	0: "offline",
	1: "normal",
	2: "fault",
	3: "standby",
	4: "alarm",
}

// FormatMapper converts raw vendor records into DeviceSamples.
type FormatMapper struct {
	fieldMappings map[domain.VendorType]map[string][]string
}

// NewFormatMapper creates a new mapper instance.
func NewFormatMapper() *FormatMapper {
	fm := &FormatMapper{}
	fm.initializeMappings()
	return fm
}

// initializeMappings lists, per canonical field, the source keys tried in order.
func (fm *FormatMapper) initializeMappings() {
	fm.fieldMappings = map[domain.VendorType]map[string][]string{
		domain.VendorA: {
			"id":          {"deviceId", "device_id", "sn"},
			"name":        {"deviceName", "device_name"},
			"power":       {"activePower", "active_power"},
			"daily":       {"dailyYield", "daily_yield"},
			"total":       {"totalYield", "total_yield"},
			"temperature": {"temperature", "inverterTemp"},
			"timestamp":   {"timestamp", "collectTime"},
		},
		domain.VendorB: {
			"id":          {"id", "deviceId", "serial"},
			"name":        {"name", "deviceName"},
			"power":       {"acPower", "power"},
			"daily":       {"yieldToday", "todayEnergy"},
			"total":       {"yieldTotal", "totalEnergy"},
			"temperature": {"internalTemperature", "temperature"},
			"timestamp":   {"lastUpdate", "timestamp"},
		},
	}
}

// Normalize converts one tagged vendor record for siteID. now stamps records
// that carry no usable timestamp.
func (fm *FormatMapper) Normalize(record domain.RawRecord, siteID string, now time.Time) (domain.DeviceSample, error) {
	mapping, ok := fm.fieldMappings[record.VendorType]
	if !ok {
		return domain.DeviceSample{}, fmt.Errorf("%w: %q", domain.ErrUnknownVendor, record.VendorType)
	}
	raw := record.Payload
	if raw == nil {
		return domain.DeviceSample{}, domain.ErrMissingDeviceID
	}

	id := firstString(raw, mapping["id"])
	if id == "" {
		return domain.DeviceSample{}, domain.ErrMissingDeviceID
	}

	sample := domain.DeviceSample{
		ID:            id,
		SiteID:        siteID,
		VendorType:    record.VendorType,
		Name:          firstString(raw, mapping["name"]),
		ActivePowerKW: nonNegative(firstFloat(raw, mapping["power"])),
		DailyYieldKWh: firstFloat(raw, mapping["daily"]),
		TotalYieldKWh: firstFloat(raw, mapping["total"]),
		TemperatureC:  firstFloat(raw, mapping["temperature"]),
		SampledAt:     firstTime(raw, mapping["timestamp"], now),
	}

	switch record.VendorType {
	case domain.VendorA:
		sample.Status = vendorAStatusText(raw)
		sample.StringReadings = vendorAStrings(raw)
	case domain.VendorB:
		sample.Status = vendorBStatusText(raw)
		sample.StringReadings = vendorBStrings(raw)
	}

	return sample, nil
}

// NormalizeBatch converts every record, dropping (and logging) the bad ones.
// It returns the samples and the number of dropped records.
func (fm *FormatMapper) NormalizeBatch(records []domain.RawRecord, siteID string, now time.Time) ([]domain.DeviceSample, int) {
	samples := make([]domain.DeviceSample, 0, len(records))
	dropped := 0
	for i, record := range records {
		sample, err := fm.Normalize(record, siteID, now)
		if err != nil {
			dropped++
			logger.WithFields(map[string]interface{}{
				"site":   siteID,
				"vendor": record.VendorType,
				"index":  i,
			}).Warnf("dropping telemetry record: %v", err)
			continue
		}
		samples = append(samples, sample)
	}
	return samples, dropped
}

func vendorAStatusText(raw map[string]interface{}) string {
	v, ok := raw["deviceStatus"]
	if !ok || v == nil {
		return ""
	}
	code, ok := toInt(v)
	if !ok {
		return ""
	}
	if text, ok := vendorAStatus[code]; ok {
		return text
	}
	return "unknown"
}

func vendorAStrings(raw map[string]interface{}) map[string]domain.StringReading {
	readings := make(map[string]domain.StringReading)
	for n := 1; n <= maxVendorAStrings; n++ {
		current := floatField(raw, fmt.Sprintf("string%d_current", n))
		voltage := floatField(raw, fmt.Sprintf("string%d_voltage", n))
		if current == nil && voltage == nil {
			continue
		}
		readings[fmt.Sprintf("string%d", n)] = domain.StringReading{CurrentA: current, VoltageV: voltage}
	}
	if len(readings) == 0 {
		return nil
	}
	return readings
}

func vendorBStatusText(raw map[string]interface{}) string {
	status := getNestedObject(raw, "status")
	if status == nil {
		return ""
	}
	return getStringValue(status, "state", "")
}

func vendorBStrings(raw map[string]interface{}) map[string]domain.StringReading {
	inputs := getNestedObject(raw, "pvInputs")
	if len(inputs) == 0 {
		return nil
	}
	readings := make(map[string]domain.StringReading, len(inputs))
	for key := range inputs {
		entry := getNestedObject(inputs, key)
		if entry == nil {
			continue
		}
		current := floatField(entry, "current")
		if current == nil {
			current = floatField(entry, "I")
		}
		voltage := floatField(entry, "voltage")
		if voltage == nil {
			voltage = floatField(entry, "V")
		}
		readings[key] = domain.StringReading{CurrentA: current, VoltageV: voltage}
	}
	return readings
}

func nonNegative(v *float64) *float64 {
	if v != nil && *v < 0 {
		return domain.Float(0)
	}
	return v
}

func firstString(data map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if s := getStringValue(data, key, ""); s != "" {
			return s
		}
		if v, ok := data[key]; ok {
			if n, ok := toFloat64(v); ok {
				return strconv.FormatFloat(n, 'f', -1, 64)
			}
		}
	}
	return ""
}

func firstFloat(data map[string]interface{}, keys []string) *float64 {
	for _, key := range keys {
		if v := floatField(data, key); v != nil {
			return v
		}
	}
	return nil
}

func firstTime(data map[string]interface{}, keys []string, fallback time.Time) time.Time {
	for _, key := range keys {
		val, ok := data[key]
		if !ok || val == nil {
			continue
		}
		if s, ok := val.(string); ok {
			if parsed, err := time.Parse(time.RFC3339, s); err == nil {
				return parsed
			}
			continue
		}
		if ms, ok := toFloat64(val); ok && ms > 0 {
			return time.UnixMilli(int64(ms))
		}
	}
	return fallback
}

func floatField(data map[string]interface{}, key string) *float64 {
	val, ok := data[key]
	if !ok || val == nil {
		return nil
	}
	if f, ok := toFloat64(val); ok {
		return &f
	}
	return nil
}

func getStringValue(data map[string]interface{}, key, def string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return def
}

func getNestedObject(data map[string]interface{}, key string) map[string]interface{} {
	if val, ok := data[key]; ok {
		if nested, ok := val.(map[string]interface{}); ok {
			return nested
		}
	}
	return nil
}

func toFloat64(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func toInt(val interface{}) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
