package domain

import (
	"fmt"
	"time"
)

// Settings is the single current rule configuration held by the engine
type Settings struct {
	TemperatureHighC     float64                    `json:"temperature_high_c" yaml:"temperature_high_c"`
	TemperatureCriticalC float64                    `json:"temperature_critical_c" yaml:"temperature_critical_c"`
	LowPowerFactor       float64                    `json:"low_power_factor" yaml:"low_power_factor"`
	WeatherRatio         float64                    `json:"weather_ratio" yaml:"weather_ratio"`
	StringVoltageCheck   bool                       `json:"string_voltage_check" yaml:"string_voltage_check"`
	StringMinVoltageV    float64                    `json:"string_min_voltage_v" yaml:"string_min_voltage_v"`
	CooldownMinutes      map[AlertType]int          `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	AutoResolve          bool                       `json:"auto_resolve" yaml:"auto_resolve"`
	AlertOwnerID         string                     `json:"alert_owner_id" yaml:"alert_owner_id"`
	StringOverrides      map[string]map[string]bool `json:"string_overrides,omitempty" yaml:"string_overrides"`
}

// DefaultSettings returns the observed production defaults
func DefaultSettings() Settings {
	return Settings{
		TemperatureHighC:     65,
		TemperatureCriticalC: 75,
		LowPowerFactor:       0.5,
		WeatherRatio:         0.3,
		StringVoltageCheck:   false,
		StringMinVoltageV:    50,
		CooldownMinutes: map[AlertType]int{
			AlertInverter:    5,
			AlertTemperature: 10,
			AlertPVString:    15,
		},
		AlertOwnerID:    "system",
		StringOverrides: map[string]map[string]bool{},
	}
}

// CooldownWindow returns the window configured for an alert type
func (s Settings) CooldownWindow(t AlertType) time.Duration {
	if m, ok := s.CooldownMinutes[t]; ok && m > 0 {
		return time.Duration(m) * time.Minute
	}
	return 5 * time.Minute
}

// MaxCooldownWindow is the longest configured window
func (s Settings) MaxCooldownWindow() time.Duration {
	longest := 5 * time.Minute
	for t := range s.CooldownMinutes {
		if w := s.CooldownWindow(t); w > longest {
			longest = w
		}
	}
	return longest
}

// StringActive reports the manual on/off state of a string; strings without
// an override are active.
func (s Settings) StringActive(deviceID, stringKey string) bool {
	if dev, ok := s.StringOverrides[deviceID]; ok {
		if active, ok := dev[stringKey]; ok {
			return active
		}
	}
	return true
}

// Clone returns a deep copy so callers can mutate without racing the engine
func (s Settings) Clone() Settings {
	out := s
	out.CooldownMinutes = make(map[AlertType]int, len(s.CooldownMinutes))
	for k, v := range s.CooldownMinutes {
		out.CooldownMinutes[k] = v
	}
	out.StringOverrides = make(map[string]map[string]bool, len(s.StringOverrides))
	for dev, strs := range s.StringOverrides {
		cp := make(map[string]bool, len(strs))
		for k, v := range strs {
			cp[k] = v
		}
		out.StringOverrides[dev] = cp
	}
	return out
}

// Validate rejects settings the rule sets cannot evaluate
func (s Settings) Validate() error {
	if s.TemperatureHighC >= s.TemperatureCriticalC {
		return fmt.Errorf("temperature_high_c (%.1f) must be below temperature_critical_c (%.1f)", s.TemperatureHighC, s.TemperatureCriticalC)
	}
	if s.LowPowerFactor < 0 || s.LowPowerFactor > 1 {
		return fmt.Errorf("low_power_factor %.2f out of range [0,1]", s.LowPowerFactor)
	}
	if s.WeatherRatio < 0 || s.WeatherRatio > 1 {
		return fmt.Errorf("weather_ratio %.2f out of range [0,1]", s.WeatherRatio)
	}
	for t, m := range s.CooldownMinutes {
		if m <= 0 {
			return fmt.Errorf("cooldown for %s must be positive, got %d", t, m)
		}
	}
	return nil
}
