package config

import (
	"fmt"
	"time"
)

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// EmergencyRatePerSecond bounds POST /api/emergency per client IP.
	EmergencyRatePerSecond float64 `json:"emergency_rate_per_second"`
	EmergencyBurst         int     `json:"emergency_burst"`
	ReadTimeoutSeconds     int     `json:"read_timeout_seconds"`
	ShutdownTimeoutSeconds int     `json:"shutdown_timeout_seconds"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.EmergencyRatePerSecond == 0 {
		c.EmergencyRatePerSecond = 1
	}
	if c.EmergencyBurst == 0 {
		c.EmergencyBurst = 5
	}
	if c.ReadTimeoutSeconds == 0 {
		c.ReadTimeoutSeconds = 10
	}
	if c.ShutdownTimeoutSeconds == 0 {
		c.ShutdownTimeoutSeconds = 5
	}
}

func (c HTTPConfig) Validate() error {
	if c.EmergencyRatePerSecond < 0 || c.EmergencyBurst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

func (c HTTPConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
