package detector

import (
	"fmt"

	"solar_monitor/internal/domain"
)

// TemperatureFindings checks device temperature against the configured
// thresholds. It does not depend on the solar phase.
func TemperatureFindings(site SiteContext, samples []domain.DeviceSample, settings domain.Settings) ([]domain.FaultFinding, []string) {
	var findings []domain.FaultFinding
	var evaluated []string

	for _, s := range samples {
		if s.TemperatureC == nil {
			continue
		}
		evaluated = append(evaluated, s.ID)
		temp := *s.TemperatureC

		var severity domain.Severity
		var threshold float64
		switch {
		case temp >= settings.TemperatureCriticalC:
			severity, threshold = domain.SeverityCritical, settings.TemperatureCriticalC
		case temp >= settings.TemperatureHighC:
			severity, threshold = domain.SeverityWarning, settings.TemperatureHighC
		default:
			continue
		}

		findings = append(findings, domain.FaultFinding{
			SiteID:        site.SiteID,
			Type:          domain.AlertTemperature,
			Severity:      severity,
			DeviceID:      s.ID,
			DeviceName:    s.Name,
			DeviceKey:     s.ID,
			Message:       fmt.Sprintf("%s temperature %.1f°C reached %.0f°C", deviceLabel(s), temp, threshold),
			MeasuredValue: domain.Float(temp),
			Threshold:     domain.Float(threshold),
		})
	}
	return findings, evaluated
}
