package config

// SeedConfig points at a YAML file of units registered at start-up.
type SeedConfig struct {
	Path string `json:"path"`
}
