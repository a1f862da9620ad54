// Package detector turns canonical device samples into fault findings.
// Every rule is a pure function of its inputs.
package detector

import (
	"sort"

	"solar_monitor/internal/domain"
)

// SiteContext carries the registry facts a rule set needs
type SiteContext struct {
	SiteID      string
	SiteName    string
	CapacityMWp float64

	// DeviceCount is the number of devices reported across every source of
	// the site. Zero means not yet known and disables the low-power rule.
	DeviceCount int
}

// Input is one evaluation pass over a full source snapshot
type Input struct {
	Site     SiteContext
	Samples  []domain.DeviceSample
	Phase    domain.SolarPhase
	Settings domain.Settings
}

// Result holds the findings of a pass plus what was actually evaluated.
// Evaluated lists, per alert type, the device keys a rule looked at; keys
// absent from Findings but present here have a cleared condition.
type Result struct {
	Findings  []domain.FaultFinding
	Strings   []StringReport
	Evaluated map[domain.AlertType]map[string]bool
}

// Evaluate runs the inverter, PV-string and temperature rule sets
func Evaluate(in Input) Result {
	res := Result{Evaluated: map[domain.AlertType]map[string]bool{
		domain.AlertInverter:    {},
		domain.AlertPVString:    {},
		domain.AlertTemperature: {},
	}}

	inv, invKeys := InverterFindings(in.Site, in.Samples, in.Phase, in.Settings)
	res.Findings = append(res.Findings, inv...)
	mark(res.Evaluated[domain.AlertInverter], invKeys)

	str, reports, strKeys := StringFindings(in.Site, in.Samples, in.Phase, in.Settings)
	res.Findings = append(res.Findings, str...)
	res.Strings = reports
	mark(res.Evaluated[domain.AlertPVString], strKeys)

	temp, tempKeys := TemperatureFindings(in.Site, in.Samples, in.Settings)
	res.Findings = append(res.Findings, temp...)
	mark(res.Evaluated[domain.AlertTemperature], tempKeys)

	return res
}

func mark(set map[string]bool, keys []string) {
	for _, k := range keys {
		set[k] = true
	}
}

// SiteFaultSummary is the per-site fault count shown on the fleet overview
type SiteFaultSummary struct {
	SiteID   string                   `json:"site_id"`
	Count    int                      `json:"count"`
	Severity domain.Severity          `json:"severity"`
	ByType   map[domain.AlertType]int `json:"by_type"`
}

// SummarizeSites groups findings per site, ordered by worst severity, then
// count descending, then site id.
func SummarizeSites(findings []domain.FaultFinding) []SiteFaultSummary {
	bySite := make(map[string]*SiteFaultSummary)
	for _, f := range findings {
		s, ok := bySite[f.SiteID]
		if !ok {
			s = &SiteFaultSummary{SiteID: f.SiteID, ByType: map[domain.AlertType]int{}}
			bySite[f.SiteID] = s
		}
		s.Count++
		s.ByType[f.Type]++
		if f.Severity.Rank() > s.Severity.Rank() {
			s.Severity = f.Severity
		}
	}

	out := make([]SiteFaultSummary, 0, len(bySite))
	for _, s := range bySite {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].SiteID < out[j].SiteID
	})
	return out
}

func deviceLabel(s domain.DeviceSample) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
