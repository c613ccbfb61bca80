// Package events defines the realtime messages published on alert topics.
//
// Available event types:
//   - created: a unit was claimed for a new alert
//   - location_update: the assigned unit reported a new position
//   - status_changed: the alert moved forward in its lifecycle
package events
