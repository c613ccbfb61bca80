package metrics

import (
	"fmt"

	"github.com/medidispatch/dispatch-core/core/factory"
)

var sinks = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink makes a sink type available to NewMetricsSink.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinks.Register(name, f)
}

// SinkTypes lists the registered sink types.
func SinkTypes() []string { return sinks.Names() }

// NewMetricsSink builds the sinks listed in cfgs. No entries yields a
// NopSink and several entries are combined with a MultiSink. A type listed
// twice is an error since both sinks would count every event.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	seen := make(map[string]bool, len(cfgs))
	built := make([]MetricsSink, 0, len(cfgs))
	for _, c := range cfgs {
		if seen[c.Type] {
			return nil, fmt.Errorf("metrics sink %q listed twice", c.Type)
		}
		seen[c.Type] = true
		s, err := sinks.Create(c)
		if err != nil {
			return nil, fmt.Errorf("metrics sink %q: %w", c.Type, err)
		}
		built = append(built, s)
	}
	switch len(built) {
	case 0:
		return NopSink{}, nil
	case 1:
		return built[0], nil
	}
	return NewMultiSink(built...), nil
}
