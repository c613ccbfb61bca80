// Package factory is a generic registry used to build pluggable modules
// (metrics sinks, stores, audit logs) from configuration. A module is named
// by a type string and configured by a raw settings map that factories
// decode into typed structs.
package factory
