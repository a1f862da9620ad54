package config

import (
	"fmt"
	"os"

	"solar_monitor/internal/domain"

	"gopkg.in/yaml.v3"
)

// LoadSettings returns the rule settings, overlaying the YAML file at path
// on the defaults. An empty path yields the defaults.
func LoadSettings(path string) (domain.Settings, error) {
	settings := domain.DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("read rules file: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings overlays a YAML document on the defaults. Keys missing from
// the document, including individual cooldown types, keep their default.
func ParseSettings(data []byte) (domain.Settings, error) {
	settings := domain.DefaultSettings()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse rules: %w", err)
	}
	if settings.StringOverrides == nil {
		settings.StringOverrides = map[string]map[string]bool{}
	}
	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("invalid rules: %w", err)
	}
	return settings, nil
}
