package metrics

import (
	"github.com/medidispatch/dispatch-core/core/factory"
	coremetrics "github.com/medidispatch/dispatch-core/core/metrics"
)

// builtinSinks are the sink types selectable under metrics.sinks.
var builtinSinks = map[string]factory.Factory[coremetrics.MetricsSink]{
	"nop": func(map[string]any) (coremetrics.MetricsSink, error) {
		return coremetrics.NopSink{}, nil
	},
	// The prometheus sink shares the default registry with /metrics.
	"prometheus": func(map[string]any) (coremetrics.MetricsSink, error) {
		return NewPromSink()
	},
	"influx": func(conf map[string]any) (coremetrics.MetricsSink, error) {
		var c InfluxConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewInfluxSinkWithFallback(c), nil
	},
}

func init() {
	for name, f := range builtinSinks {
		if err := coremetrics.RegisterMetricsSink(name, f); err != nil {
			panic(err)
		}
	}
}
