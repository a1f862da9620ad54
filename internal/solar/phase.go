// Package solar classifies wall-clock time into solar phases for the fleet timezone.
package solar

import (
	"math"
	"time"

	"solar_monitor/internal/domain"
)

// Local-hour boundaries. Daylight runs from SunriseHour to SunsetHour and the
// ratio curve peaks halfway between them.
const (
	SunriseHour   = 6.0
	PeakStartHour = 10.0
	PeakEndHour   = 15.0
	SunsetHour    = 19.0
)

// Classify returns the phase and expected power ratio for now in loc.
// A nil loc means UTC.
func Classify(now time.Time, loc *time.Location) domain.SolarPhase {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	hour := float64(local.Hour()) + float64(local.Minute())/60 + float64(local.Second())/3600

	switch {
	case hour < SunriseHour || hour >= SunsetHour:
		return domain.SolarPhase{Phase: domain.PhaseNight, ExpectedPowerRatio: 0}
	case hour < PeakStartHour:
		return domain.SolarPhase{Phase: domain.PhaseRising, ExpectedPowerRatio: ratio(hour)}
	case hour < PeakEndHour:
		return domain.SolarPhase{Phase: domain.PhasePeak, ExpectedPowerRatio: ratio(hour)}
	default:
		return domain.SolarPhase{Phase: domain.PhaseFalling, ExpectedPowerRatio: ratio(hour)}
	}
}

// ratio is a half-sine over daylight, 0 at sunrise/sunset and 1 at solar noon
func ratio(hour float64) float64 {
	x := (hour - SunriseHour) / (SunsetHour - SunriseHour)
	r := math.Sin(math.Pi * x)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// Classifier binds Classify to a fleet timezone
type Classifier struct {
	loc *time.Location
}

// NewClassifier creates a classifier for loc
func NewClassifier(loc *time.Location) *Classifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Classifier{loc: loc}
}

// Classify returns the phase at now
func (c *Classifier) Classify(now time.Time) domain.SolarPhase {
	return Classify(now, c.loc)
}

// Location returns the fleet timezone
func (c *Classifier) Location() *time.Location {
	return c.loc
}
