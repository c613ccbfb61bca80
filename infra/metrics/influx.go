package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/medidispatch/dispatch-core/core/metrics"
	"github.com/medidispatch/dispatch-core/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket receiving dispatch points.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes dispatch events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDispatch writes one alert_dispatch point per CreateAlert call.
func (s *InfluxSink) RecordDispatch(ev coremetrics.DispatchEvent) error {
	p := write.NewPointWithMeasurement("alert_dispatch").
		AddTag("outcome", ev.Outcome).
		AddTag("component", "dispatch_coordinator")
	if ev.UnitID != "" {
		p = p.AddTag("unit_id", ev.UnitID)
	}
	if ev.AlertID != "" {
		p = p.AddTag("alert_id", ev.AlertID)
	}
	p = p.AddField("distance_km", round3(ev.DistanceKm)).
		AddField("eta_minutes", ev.ETAMinutes).
		AddField("attempts", ev.Attempts).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordStatusChange writes an alert_status point.
func (s *InfluxSink) RecordStatusChange(ev coremetrics.StatusEvent) error {
	p := write.NewPointWithMeasurement("alert_status").
		AddTag("alert_id", ev.AlertID).
		AddTag("to", ev.To).
		AddField("from", ev.From).
		SetTime(ev.Time)
	if ev.UnitID != "" {
		p = p.AddTag("unit_id", ev.UnitID)
	}
	return s.write(p)
}

// RecordFleet writes a fleet_availability point.
func (s *InfluxSink) RecordFleet(ev coremetrics.FleetEvent) error {
	p := write.NewPointWithMeasurement("fleet_availability").
		AddField("available", ev.Available).
		AddField("total", ev.Total).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordLocation writes a unit_location point.
func (s *InfluxSink) RecordLocation(ev coremetrics.LocationEvent) error {
	p := write.NewPointWithMeasurement("unit_location").
		AddTag("unit_id", ev.UnitID).
		AddField("lat", ev.Lat).
		AddField("lng", ev.Lng).
		SetTime(ev.Time)
	if ev.AlertID != "" {
		p = p.AddTag("alert_id", ev.AlertID)
	}
	return s.write(p)
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
