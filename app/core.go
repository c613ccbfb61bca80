package app

import (
	"context"
	"fmt"

	"github.com/medidispatch/dispatch-core/app/plugins"
	"github.com/medidispatch/dispatch-core/config"
	"github.com/medidispatch/dispatch-core/core/dispatch"
	"github.com/medidispatch/dispatch-core/core/lifecycle"
	"github.com/medidispatch/dispatch-core/core/notify"
	"github.com/medidispatch/dispatch-core/core/registry"
	"github.com/medidispatch/dispatch-core/infra/logger"
	"github.com/medidispatch/dispatch-core/infra/seed"
)

// Core holds the dispatch state shared by the service and the CLI
// commands: persistence, registry, alert lifecycle and coordinator.
type Core struct {
	Store       plugins.Backend
	Units       *registry.Registry
	Alerts      *lifecycle.Lifecycle
	Bus         *notify.Bus
	Coordinator *dispatch.Coordinator
}

// NewCore opens the configured store, loads the fleet from it and applies
// the seed file when one is configured.
func NewCore(ctx context.Context, cfg *config.Config) (*Core, error) {
	log := logger.New("core")
	store, err := plugins.OpenStore(ctx, cfg.Store, logger.New("store"))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	units := registry.New(store, logger.New("registry"))
	if err := units.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	alerts := lifecycle.New(store, logger.New("lifecycle"))
	bus := notify.NewBus(notify.DefaultBuffer)
	coord, err := dispatch.NewCoordinator(units, alerts, bus, cfg.Dispatch, logger.New("dispatch"))
	if err != nil {
		bus.Close()
		_ = store.Close()
		return nil, fmt.Errorf("dispatch coordinator: %w", err)
	}
	c := &Core{Store: store, Units: units, Alerts: alerts, Bus: bus, Coordinator: coord}
	if cfg.Seed.Path != "" {
		n, err := c.Seed(ctx, cfg.Seed.Path)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		log.Infof("seeded %d units from %s", n, cfg.Seed.Path)
	}
	log.Infow("dispatch core ready", map[string]any{"store": cfg.Store.Backend, "units": len(units.List())})
	return c, nil
}

// Seed registers the units listed in the YAML file at path.
func (c *Core) Seed(ctx context.Context, path string) (int, error) {
	units, err := seed.Load(path)
	if err != nil {
		return 0, fmt.Errorf("seed %s: %w", path, err)
	}
	return seed.Apply(ctx, c.Coordinator, units)
}

func (c *Core) Close() error {
	c.Bus.Close()
	return c.Store.Close()
}
