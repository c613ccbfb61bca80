package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/medidispatch/dispatch-core/core/dispatch"
	"github.com/medidispatch/dispatch-core/core/dispatch/logging"
	"github.com/medidispatch/dispatch-core/core/metrics"
	"github.com/medidispatch/dispatch-core/infra/mqtt"
)

type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Dispatch  dispatch.Config `json:"dispatch"`
	Store     StoreConfig     `json:"store"`
	MQTT      mqtt.Config     `json:"mqtt"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Metrics   metrics.Config  `json:"metrics"`
	Logging   logging.Config  `json:"logging"`
	Redis     RedisConfig     `json:"redis"`
	Sentry    SentryConfig    `json:"sentry"`
	Seed      SeedConfig      `json:"seed"`
}

type validator interface{ Validate() error }

type section struct {
	name string
	v    validator
}

// Load reads a YAML or JSON file, applies K_ prefixed environment overrides
// (K_STORE__BACKEND=postgres sets store.backend), fills defaults and
// validates every section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration usable without a file: in-memory store,
// no broker, no external sinks.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Store.SetDefaults()
	c.Logging.SetDefaults()
	c.Redis.SetDefaults()
	c.Sentry.SetDefaults()
	if c.MQTT.Enabled {
		c.MQTT.SetDefaults()
	}
}

func (c Config) Validate() error {
	sections := []section{
		{"http", c.HTTP},
		{"dispatch", c.Dispatch},
		{"store", c.Store},
		{"logging", c.Logging},
		{"redis", c.Redis},
		{"sentry", c.Sentry},
	}
	if c.MQTT.Enabled {
		sections = append(sections, section{"mqtt", c.MQTT})
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	if c.Telemetry.Enabled && !c.MQTT.Enabled {
		return fmt.Errorf("telemetry: requires mqtt.enabled")
	}
	return nil
}
