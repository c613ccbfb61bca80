// Package metrics defines the observability sinks fed by the dispatch
// coordinator. Sinks implement MetricsSink and may opt into the optional
// recorder interfaces; the coordinator discovers them by type assertion.
package metrics
