package config

import (
	"fmt"
	"os"
)

// SentryConfig defines settings for Sentry error monitoring. Monitoring is
// off while DSN is empty.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	Release          string  `json:"release"`
	ServerName       string  `json:"server_name"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
}

// SetDefaults names the environment after APP_ENV and the server after the
// host when unset.
func (c *SentryConfig) SetDefaults() {
	if c.Environment == "" {
		c.Environment = os.Getenv("APP_ENV")
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.ServerName == "" {
		if host, err := os.Hostname(); err == nil {
			c.ServerName = host
		} else {
			c.ServerName = "dispatchd"
		}
	}
}

func (c SentryConfig) Validate() error {
	if c.TracesSampleRate < 0 || c.TracesSampleRate > 1 {
		return fmt.Errorf("traces_sample_rate must be within [0,1], got %v", c.TracesSampleRate)
	}
	return nil
}
