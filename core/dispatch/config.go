package dispatch

import "fmt"

// Defaults for Config.
const (
	DefaultAverageSpeedKmh = 60.0
	DefaultClaimAttempts   = 3
)

// Config defines dispatch-related settings.
type Config struct {
	// AverageSpeedKmh converts great-circle distance into an ETA.
	AverageSpeedKmh float64 `json:"average_speed_kmh"`
	// ClaimAttempts bounds how many units CreateAlert tries to claim
	// before reporting no capacity.
	ClaimAttempts int `json:"claim_attempts"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.AverageSpeedKmh <= 0 {
		c.AverageSpeedKmh = DefaultAverageSpeedKmh
	}
	if c.ClaimAttempts <= 0 {
		c.ClaimAttempts = DefaultClaimAttempts
	}
}

// Validate rejects settings SetDefaults cannot repair.
func (c Config) Validate() error {
	if c.AverageSpeedKmh > 300 {
		return fmt.Errorf("dispatch: average_speed_kmh %.1f is not a road speed", c.AverageSpeedKmh)
	}
	if c.ClaimAttempts > 100 {
		return fmt.Errorf("dispatch: claim_attempts %d too large", c.ClaimAttempts)
	}
	return nil
}
