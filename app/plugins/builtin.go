package plugins

import (
	"context"

	"github.com/medidispatch/dispatch-core/config"
	"github.com/medidispatch/dispatch-core/core/lifecycle"
	"github.com/medidispatch/dispatch-core/core/logger"
	"github.com/medidispatch/dispatch-core/core/model"
	"github.com/medidispatch/dispatch-core/core/registry"
	"github.com/medidispatch/dispatch-core/infra/store/postgres"
	"github.com/medidispatch/dispatch-core/infra/store/sqlite"
)

type memoryBackend struct {
	units  *registry.MemoryStore
	alerts *lifecycle.MemoryStore
}

func (m memoryBackend) LoadAllUnits(ctx context.Context) ([]model.Unit, error) {
	return m.units.LoadAllUnits(ctx)
}

func (m memoryBackend) PersistUnit(ctx context.Context, u model.Unit) error {
	return m.units.PersistUnit(ctx, u)
}

func (m memoryBackend) PersistAlert(ctx context.Context, a model.Alert) error {
	return m.alerts.PersistAlert(ctx, a)
}

func (m memoryBackend) LoadAlert(ctx context.Context, id string) (model.Alert, error) {
	return m.alerts.LoadAlert(ctx, id)
}

func (memoryBackend) Close() error { return nil }

type postgresBackend struct{ *postgres.Store }

func (p postgresBackend) Close() error {
	p.Store.Close()
	return nil
}

func init() {
	RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig, logger.Logger) (Backend, error) {
		return memoryBackend{units: registry.NewMemoryStore(), alerts: lifecycle.NewMemoryStore()}, nil
	})
	RegisterStore(config.StoreSQLite, func(_ context.Context, cfg config.StoreConfig, _ logger.Logger) (Backend, error) {
		return sqlite.Open(cfg.Path)
	})
	RegisterStore(config.StorePostgres, func(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (Backend, error) {
		s, err := postgres.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, log)
		if err != nil {
			return nil, err
		}
		return postgresBackend{s}, nil
	})
}
