package mqtt

import (
	"context"
	"strings"

	"github.com/medidispatch/dispatch-core/core/events"
)

// Publisher is the subset of PahoClient used by EventPublisher.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, kind string, v any) error
}

// EventPublisher mirrors alert events to <prefix>/<alert id>/events.
// It implements notify.Relay.
type EventPublisher struct {
	pub    Publisher
	prefix string
}

// NewEventPublisher returns a relay publishing under prefix.
func NewEventPublisher(pub Publisher, prefix string) *EventPublisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "alerts"
	}
	return &EventPublisher{pub: pub, prefix: prefix}
}

// Topic returns the topic carrying events of alertID.
func (e *EventPublisher) Topic(alertID string) string {
	return e.prefix + "/" + alertID + "/events"
}

// Forward publishes ev. Events relayed from another instance are skipped;
// that instance bridges them itself.
func (e *EventPublisher) Forward(ctx context.Context, ev events.AlertEvent) error {
	if ev.Origin != "" {
		return nil
	}
	return e.pub.PublishJSON(ctx, e.Topic(ev.AlertID), "event", ev)
}
