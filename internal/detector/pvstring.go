package detector

import (
	"fmt"
	"sort"

	"solar_monitor/internal/domain"
)

// StringStatus is the classification of one PV string in a pass
type StringStatus string

const (
	StringNormal   StringStatus = "normal"
	StringFaulty   StringStatus = "faulty"
	StringWeather  StringStatus = "weather"
	StringInactive StringStatus = "inactive"
	StringIdle     StringStatus = "idle"
)

// StringReport counts string states for one device.
// Inactive strings are excluded from Active and Faulty.
type StringReport struct {
	SiteID   string                  `json:"site_id"`
	DeviceID string                  `json:"device_id"`
	Active   int                     `json:"active"`
	Faulty   int                     `json:"faulty"`
	Weather  int                     `json:"weather"`
	Inactive int                     `json:"inactive"`
	Strings  map[string]StringStatus `json:"strings"`
}

// StringKey is the device key used for a string finding
func StringKey(deviceID, stringKey string) string {
	return deviceID + "/" + stringKey
}

// StringFindings classifies every reported string. Zero current on an active
// string is a fault, or weather related when the expected ratio is below
// Settings.WeatherRatio. At night strings are reported idle and never faulty.
func StringFindings(site SiteContext, samples []domain.DeviceSample, phase domain.SolarPhase, settings domain.Settings) ([]domain.FaultFinding, []StringReport, []string) {
	var findings []domain.FaultFinding
	var evaluated []string
	reports := make([]StringReport, 0, len(samples))
	night := phase.Phase == domain.PhaseNight

	for _, s := range samples {
		if len(s.StringReadings) == 0 {
			continue
		}
		report := StringReport{
			SiteID:   site.SiteID,
			DeviceID: s.ID,
			Strings:  make(map[string]StringStatus, len(s.StringReadings)),
		}

		keys := make([]string, 0, len(s.StringReadings))
		for k := range s.StringReadings {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			reading := s.StringReadings[key]
			if !settings.StringActive(s.ID, key) {
				report.Inactive++
				report.Strings[key] = StringInactive
				continue
			}
			report.Active++

			if night {
				report.Strings[key] = StringIdle
				continue
			}
			if reading.CurrentA == nil {
				report.Strings[key] = StringNormal
				continue
			}
			evaluated = append(evaluated, StringKey(s.ID, key))

			if !zeroOutput(reading, settings) {
				report.Strings[key] = StringNormal
				continue
			}
			if phase.ExpectedPowerRatio < settings.WeatherRatio {
				report.Weather++
				report.Strings[key] = StringWeather
				continue
			}

			report.Faulty++
			report.Strings[key] = StringFaulty
			f := domain.FaultFinding{
				SiteID:        site.SiteID,
				Type:          domain.AlertPVString,
				Severity:      domain.SeverityWarning,
				DeviceID:      s.ID,
				DeviceName:    s.Name,
				DeviceKey:     StringKey(s.ID, key),
				Message:       fmt.Sprintf("%s %s reports zero current", deviceLabel(s), key),
				MeasuredValue: domain.Float(*reading.CurrentA),
			}
			if reading.VoltageV != nil {
				f.Message = fmt.Sprintf("%s (%.0f V)", f.Message, *reading.VoltageV)
			}
			findings = append(findings, f)
		}
		reports = append(reports, report)
	}
	return findings, reports, evaluated
}

func zeroOutput(r domain.StringReading, settings domain.Settings) bool {
	if r.CurrentA == nil || *r.CurrentA != 0 {
		return false
	}
	if !settings.StringVoltageCheck || r.VoltageV == nil {
		return true
	}
	return *r.VoltageV < settings.StringMinVoltageV
}
