package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/medidispatch/dispatch-core/core/metrics"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	dispatches *prometheus.CounterVec
	distance   prometheus.Histogram
	eta        prometheus.Histogram
	attempts   prometheus.Histogram
	status     *prometheus.CounterVec
	available  prometheus.Gauge
	total      prometheus.Gauge
	locations  prometheus.Counter
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on reg. Collectors already
// registered by an earlier sink are reused. A nil reg defaults to the global
// registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.dispatches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_dispatched_total",
		Help: "CreateAlert calls by outcome",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if s.distance, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "alert_unit_distance_km",
		Help:    "Distance between the alert and the assigned unit",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50},
	})); err != nil {
		return nil, err
	}
	if s.eta, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "alert_eta_minutes",
		Help:    "Estimated arrival time of the assigned unit",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 60},
	})); err != nil {
		return nil, err
	}
	if s.attempts, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "alert_claim_attempts",
		Help:    "Claims tried per CreateAlert",
		Buckets: []float64{1, 2, 3, 5, 10},
	})); err != nil {
		return nil, err
	}
	if s.status, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_status_transitions_total",
		Help: "Applied alert status transitions",
	}, []string{"from", "to"})); err != nil {
		return nil, err
	}
	if s.available, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "units_available",
		Help: "Units currently available for dispatch",
	})); err != nil {
		return nil, err
	}
	if s.total, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "units_registered",
		Help: "Units known to the registry",
	})); err != nil {
		return nil, err
	}
	if s.locations, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unit_location_reports_total",
		Help: "Unit position reports received",
	})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

func (s *PromSink) RecordDispatch(ev coremetrics.DispatchEvent) error {
	s.dispatches.WithLabelValues(ev.Outcome).Inc()
	if ev.Attempts > 0 {
		s.attempts.Observe(float64(ev.Attempts))
	}
	if ev.Outcome == coremetrics.OutcomeAssigned {
		s.distance.Observe(ev.DistanceKm)
		s.eta.Observe(float64(ev.ETAMinutes))
	}
	return nil
}

func (s *PromSink) RecordStatusChange(ev coremetrics.StatusEvent) error {
	s.status.WithLabelValues(ev.From, ev.To).Inc()
	return nil
}

func (s *PromSink) RecordFleet(ev coremetrics.FleetEvent) error {
	s.available.Set(float64(ev.Available))
	s.total.Set(float64(ev.Total))
	return nil
}

func (s *PromSink) RecordLocation(coremetrics.LocationEvent) error {
	s.locations.Inc()
	return nil
}
