package detector

import (
	"fmt"
	"strings"

	"solar_monitor/internal/domain"
)

type statusClass int

const (
	statusOK statusClass = iota
	statusFault
	statusAlarm
	statusOffline
	statusIdle
)

func classifyStatus(status string) statusClass {
	s := strings.ToLower(status)
	switch {
	case strings.Contains(s, "fault"), strings.Contains(s, "error"):
		return statusFault
	case strings.Contains(s, "alarm"):
		return statusAlarm
	case strings.Contains(s, "offline"), strings.Contains(s, "disconnect"):
		return statusOffline
	case strings.Contains(s, "standby"):
		return statusIdle
	default:
		return statusOK
	}
}

// InverterFindings flags devices whose status indicates a fault, offline
// devices during daylight, and low output during peak. The second return
// value lists the device keys that were evaluated.
func InverterFindings(site SiteContext, samples []domain.DeviceSample, phase domain.SolarPhase, settings domain.Settings) ([]domain.FaultFinding, []string) {
	if phase.Phase == domain.PhaseNight {
		return nil, nil
	}

	var findings []domain.FaultFinding
	evaluated := make([]string, 0, len(samples))
	flagged := make(map[string]bool)

	for _, s := range samples {
		evaluated = append(evaluated, s.ID)
		switch classifyStatus(s.Status) {
		case statusFault:
			findings = append(findings, inverterFinding(site, s, domain.SeverityCritical,
				fmt.Sprintf("%s reports status %q", deviceLabel(s), s.Status)))
			flagged[s.ID] = true
		case statusAlarm:
			findings = append(findings, inverterFinding(site, s, domain.SeverityHigh,
				fmt.Sprintf("%s raised an alarm (%s)", deviceLabel(s), s.Status)))
			flagged[s.ID] = true
		case statusOffline:
			findings = append(findings, inverterFinding(site, s, domain.SeverityWarning,
				fmt.Sprintf("%s is offline during daylight", deviceLabel(s))))
			flagged[s.ID] = true
		}
	}

	if phase.Phase == domain.PhasePeak {
		findings = append(findings, lowPowerFindings(site, samples, phase, settings, flagged)...)
	}
	return findings, evaluated
}

// lowPowerFindings compares each device against its share of site capacity
// scaled by the expected ratio. The share is taken over the whole site, not
// the snapshot, since a site may report through several sources. Severity
// scales with how many devices are affected.
func lowPowerFindings(site SiteContext, samples []domain.DeviceSample, phase domain.SolarPhase, settings domain.Settings, flagged map[string]bool) []domain.FaultFinding {
	if site.CapacityMWp <= 0 || site.DeviceCount <= 0 || len(samples) == 0 || settings.LowPowerFactor <= 0 {
		return nil
	}
	devices := site.DeviceCount
	if devices < len(samples) {
		devices = len(samples)
	}
	perDeviceKW := site.CapacityMWp * 1000 / float64(devices)
	limit := settings.LowPowerFactor * perDeviceKW * phase.ExpectedPowerRatio

	var low []domain.DeviceSample
	for _, s := range samples {
		if flagged[s.ID] || s.ActivePowerKW == nil {
			continue
		}
		if c := classifyStatus(s.Status); c == statusIdle {
			continue
		}
		if *s.ActivePowerKW < limit {
			low = append(low, s)
		}
	}

	severity := domain.SeverityMedium
	switch {
	case len(low) > 3:
		severity = domain.SeverityCritical
	case len(low) > 1:
		severity = domain.SeverityHigh
	}

	findings := make([]domain.FaultFinding, 0, len(low))
	for _, s := range low {
		f := inverterFinding(site, s, severity,
			fmt.Sprintf("%s output %.1f kW below %.1f kW expected at peak", deviceLabel(s), *s.ActivePowerKW, limit))
		f.MeasuredValue = domain.Float(*s.ActivePowerKW)
		f.Threshold = domain.Float(limit)
		findings = append(findings, f)
	}
	return findings
}

func inverterFinding(site SiteContext, s domain.DeviceSample, severity domain.Severity, msg string) domain.FaultFinding {
	return domain.FaultFinding{
		SiteID:     site.SiteID,
		Type:       domain.AlertInverter,
		Severity:   severity,
		DeviceID:   s.ID,
		DeviceName: s.Name,
		DeviceKey:  s.ID,
		Message:    msg,
	}
}
