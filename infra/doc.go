// Package infra holds the adapters around the dispatch core: unit and alert
// stores, the MQTT bridge and telemetry intake, the Redis event relay,
// metrics exporters, Sentry monitoring and fleet seeding. Adapters depend
// on the interfaces declared in core, never the other way round.
package infra
