// Package app wires configuration into a running dispatch service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/medidispatch/dispatch-core/api"
	"github.com/medidispatch/dispatch-core/config"
	"github.com/medidispatch/dispatch-core/core/dispatch/logging"
	coremetrics "github.com/medidispatch/dispatch-core/core/metrics"
	coremon "github.com/medidispatch/dispatch-core/core/monitoring"
	"github.com/medidispatch/dispatch-core/core/notify"
	"github.com/medidispatch/dispatch-core/infra/logger"
	"github.com/medidispatch/dispatch-core/infra/metrics"
	"github.com/medidispatch/dispatch-core/infra/monitoring"
	"github.com/medidispatch/dispatch-core/infra/mqtt"
	"github.com/medidispatch/dispatch-core/infra/redis"
	"github.com/medidispatch/dispatch-core/infra/telemetry"
)

// Service runs the HTTP API and the optional MQTT, Redis and metrics
// integrations around a Core.
type Service struct {
	*Core
	cfg    *config.Config
	log    logger.Logger
	audit  logging.LogStore
	sink   coremetrics.MetricsSink
	mqtt   *mqtt.PahoClient
	tele   *telemetry.Manager
	rdb    *goredis.Client
	relay  *redis.Relay
	server *http.Server

	collectors []prometheus.Collector
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	core, err := NewCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Service{Core: core, cfg: cfg, log: logg}
	if err := s.wire(ctx, mon); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) wire(ctx context.Context, mon coremon.Monitor) error {
	cfg := s.cfg
	s.Coordinator.SetMonitor(mon)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}
	s.sink = sink
	s.Coordinator.SetMetrics(sink)
	for _, c := range notify.BusCollectors(s.Bus) {
		if err := prometheus.Register(c); err != nil {
			return fmt.Errorf("event bus metrics: %w", err)
		}
		s.collectors = append(s.collectors, c)
	}

	audit, err := logging.Open(cfg.Logging)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	s.audit = audit
	s.Coordinator.SetLogStore(audit)

	if cfg.MQTT.Enabled {
		client, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
		s.mqtt = client
		if cfg.Telemetry.Enabled {
			s.tele, err = telemetry.NewManager(client, cfg.Telemetry, s.Coordinator, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
		}
	}

	if cfg.Redis.Enabled {
		rdb, err := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		s.rdb = rdb
		s.relay = redis.NewRelay(rdb, cfg.Redis.ChannelPrefix, uuid.NewString(), logger.New("redis-relay"))
	}

	opts := api.Options{
		EmergencyRatePerSecond: cfg.HTTP.EmergencyRatePerSecond,
		EmergencyBurst:         cfg.HTTP.EmergencyBurst,
		LogStore:               audit,
		LogToken:               cfg.Logging.Token,
	}
	if cfg.Metrics.PrometheusPort == "" {
		opts.Metrics = promhttp.Handler()
	}
	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(s.Coordinator, opts, logger.New("http")),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout(),
	}
	return nil
}

// Run starts every component and blocks until ctx is cancelled or the HTTP
// server fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	goRun := func(name string, f func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(ctx); err != nil {
				s.log.Errorf("%s: %v", name, err)
			}
		}()
	}

	if s.mqtt != nil {
		bridge := mqtt.NewEventPublisher(s.mqtt, s.cfg.MQTT.EventPrefix)
		goRun("mqtt bridge", func(ctx context.Context) error {
			notify.Forward(ctx, s.Bus, bridge, logger.New("mqtt-bridge"))
			return nil
		})
	}
	if s.tele != nil {
		goRun("telemetry", s.tele.Start)
	}
	if s.relay != nil {
		goRun("redis forward", func(ctx context.Context) error {
			notify.Forward(ctx, s.Bus, s.relay, logger.New("redis-relay"))
			return nil
		})
		goRun("redis listen", func(ctx context.Context) error { return s.relay.Listen(ctx, s.Bus) })
	}
	if port := s.cfg.Metrics.PrometheusPort; port != "" {
		goRun("prom server", func(ctx context.Context) error { return metrics.StartPromServer(ctx, port) })
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout())
	defer stop()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("http shutdown: %v", err)
	}
	wg.Wait()
	return runErr
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.collectors {
		prometheus.Unregister(c)
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.rdb != nil {
		errs = append(errs, s.rdb.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
	}
	errs = append(errs, s.Core.Close())
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
