package config

import "fmt"

// RedisConfig enables relaying alert events to Redis pub/sub so other
// instances can serve subscribers.
type RedisConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"`
	Password      string `json:"password"`
	DB            int    `json:"db"`
	ChannelPrefix string `json:"channel_prefix"`
}

func (c *RedisConfig) SetDefaults() {
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = "alerts"
	}
}

func (c RedisConfig) Validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	return nil
}
