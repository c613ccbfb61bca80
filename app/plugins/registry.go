// Package plugins resolves the configured persistence backend.
package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/medidispatch/dispatch-core/config"
	"github.com/medidispatch/dispatch-core/core/lifecycle"
	"github.com/medidispatch/dispatch-core/core/logger"
	"github.com/medidispatch/dispatch-core/core/registry"
)

// Backend persists both units and alerts.
type Backend interface {
	registry.UnitStore
	lifecycle.AlertStore
	Close() error
}

// StoreFactory opens a Backend from its configuration.
type StoreFactory func(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (Backend, error)

var (
	mu     sync.RWMutex
	stores = map[string]StoreFactory{}
)

// RegisterStore adds a backend under name, replacing any previous one.
func RegisterStore(name string, f StoreFactory) {
	mu.Lock()
	stores[name] = f
	mu.Unlock()
}

// Stores lists registered backend names.
func Stores() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(stores))
	for n := range stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OpenStore opens the backend selected by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (Backend, error) {
	mu.RLock()
	f, ok := stores[cfg.Backend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store backend %q (known: %v)", cfg.Backend, Stores())
	}
	if log == nil {
		log = logger.Nop{}
	}
	return f(ctx, cfg, log)
}
