// Package telemetry ingests unit positions published on MQTT.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medidispatch/dispatch-core/config"
	"github.com/medidispatch/dispatch-core/core/model"
	"github.com/medidispatch/dispatch-core/infra/logger"
)

// LocationReporter receives decoded position reports along with the time
// they were measured.
type LocationReporter interface {
	ReportUnitLocationAt(ctx context.Context, unitID string, loc model.Coordinate, ts time.Time) (model.Unit, error)
}

// Subscriber is the subset of the MQTT client used by Manager.
type Subscriber interface {
	Subscribe(topic, kind string, handler paho.MessageHandler) error
}

// Manager turns <prefix>/<unit id>/location messages into
// ReportUnitLocationAt calls.
type Manager struct {
	cfg      config.TelemetryConfig
	sub      Subscriber
	reporter LocationReporter
	log      logger.Logger
	ctx      context.Context

	received    *prometheus.CounterVec
	lastCollect prometheus.Gauge
}

// NewManager prepares telemetry ingestion. Collectors are registered on reg
// when it is not nil.
func NewManager(sub Subscriber, cfg config.TelemetryConfig, reporter LocationReporter, reg prometheus.Registerer) (*Manager, error) {
	if sub == nil || reporter == nil {
		return nil, fmt.Errorf("telemetry: subscriber and reporter are required")
	}
	m := &Manager{
		cfg:      cfg,
		sub:      sub,
		reporter: reporter,
		log:      logger.New("telemetry"),
		ctx:      context.Background(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_location_messages_total",
			Help: "Unit location messages by result",
		}, []string{"result"}),
		lastCollect: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_last_location_timestamp_seconds",
			Help: "Unix timestamp of the last accepted location message",
		}),
	}
	if reg != nil {
		var err error
		if m.received, err = register(reg, m.received); err != nil {
			return nil, err
		}
		if m.lastCollect, err = register(reg, m.lastCollect); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// register adds c to reg, reusing a collector registered earlier under the
// same name.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Topic returns the wildcard subscription topic.
func (m *Manager) Topic() string {
	return strings.TrimSuffix(m.cfg.Prefix(), "/") + "/+/location"
}

// Start subscribes and blocks until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx = ctx
	if err := m.sub.Subscribe(m.Topic(), "telemetry", m.onMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.Topic(), err)
	}
	m.log.Infof("listening for unit locations on %s", m.Topic())
	<-ctx.Done()
	return nil
}

func (m *Manager) onMessage(_ paho.Client, msg paho.Message) {
	if err := m.process(m.ctx, msg.Payload(), msg.Topic()); err != nil {
		m.log.Warnw("location message rejected", map[string]any{"topic": msg.Topic(), "error": err.Error()})
	}
}

type locationMessage struct {
	UnitID string   `json:"unit_id"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
	TS     *int64   `json:"ts"`
}

func (m *Manager) process(ctx context.Context, payload []byte, topic string) error {
	var msg locationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.received.WithLabelValues("invalid").Inc()
		return err
	}
	if msg.UnitID == "" {
		msg.UnitID = extractID(topic)
	}
	if msg.UnitID == "" || msg.Lat == nil || msg.Lng == nil {
		m.received.WithLabelValues("invalid").Inc()
		return fmt.Errorf("unit id, lat and lng are required: %w", model.ErrInvalidInput)
	}
	ts := time.Now()
	if msg.TS != nil {
		ts = time.Unix(*msg.TS, 0)
		if time.Since(ts) > m.cfg.MaxAge() {
			m.received.WithLabelValues("stale").Inc()
			return fmt.Errorf("report for %s is stale: %w", msg.UnitID, model.ErrStaleReport)
		}
	}
	if _, err := m.reporter.ReportUnitLocationAt(ctx, msg.UnitID, model.Coordinate{Lat: *msg.Lat, Lng: *msg.Lng}, ts); err != nil {
		if errors.Is(err, model.ErrStaleReport) {
			m.received.WithLabelValues("stale").Inc()
		} else {
			m.received.WithLabelValues("rejected").Inc()
		}
		return err
	}
	m.received.WithLabelValues("accepted").Inc()
	m.lastCollect.SetToCurrentTime()
	return nil
}

// extractID returns the unit id of a <prefix>/<id>/location topic.
func extractID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 && parts[len(parts)-1] == "location" {
		return parts[len(parts)-2]
	}
	return ""
}
