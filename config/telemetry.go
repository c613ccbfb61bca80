package config

import "time"

// TelemetryConfig controls MQTT ingestion of unit positions.
type TelemetryConfig struct {
	Enabled bool `json:"enabled"`
	// LocationPrefix is the root of <prefix>/<unit id>/location topics.
	LocationPrefix string `json:"location_prefix"`
	// MaxAgeSeconds drops reports whose ts is older than this.
	MaxAgeSeconds int `json:"max_age_seconds"`
}

func (c TelemetryConfig) Prefix() string {
	if c.LocationPrefix == "" {
		return "units"
	}
	return c.LocationPrefix
}

func (c TelemetryConfig) MaxAge() time.Duration {
	if c.MaxAgeSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.MaxAgeSeconds) * time.Second
}
