// Package notify carries alert events to observers. Each alert has its own
// topic named after the alert id; subscribers only see events published
// after they subscribed.
package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/medidispatch/dispatch-core/core/events"
	"github.com/medidispatch/dispatch-core/core/logger"
	"github.com/medidispatch/dispatch-core/internal/eventbus"
)

// Notifier is the per-alert publish/subscribe channel used by the
// dispatch coordinator.
type Notifier interface {
	Publish(alertID string, ev events.AlertEvent)
	Subscribe(alertID string) <-chan events.AlertEvent
	Unsubscribe(alertID string, ch <-chan events.AlertEvent)
}

// Bus is the in-process Notifier.
type Bus = eventbus.TopicBus[events.AlertEvent]

// DefaultBuffer is the per-subscriber queue length of NewBus.
const DefaultBuffer = 32

// NewBus returns an in-process Notifier. buffer <= 0 selects DefaultBuffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return eventbus.NewTopicBus[events.AlertEvent](buffer)
}

var _ Notifier = (*Bus)(nil)

// BusCollectors reports deliveries bus skipped for slow subscribers and the
// number of relays reading every topic.
func BusCollectors(bus *Bus) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "dispatch_events_dropped_total",
			Help: "Event deliveries skipped because the subscriber buffer was full",
		}, func() float64 { return float64(bus.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dispatch_event_relays",
			Help: "Subscribers receiving the events of every alert",
		}, func() float64 { return float64(bus.FirehoseSubscribers()) }),
	}
}

// Relay ships events to another transport (MQTT, Redis).
type Relay interface {
	Forward(ctx context.Context, ev events.AlertEvent) error
}

// RelayFunc adapts a function to Relay.
type RelayFunc func(ctx context.Context, ev events.AlertEvent) error

func (f RelayFunc) Forward(ctx context.Context, ev events.AlertEvent) error { return f(ctx, ev) }

// Forward copies every event of bus to relay until ctx is done. Relay
// errors are logged and the event is skipped.
func Forward(ctx context.Context, bus *Bus, relay Relay, log logger.Logger) {
	if log == nil {
		log = logger.Nop{}
	}
	ch := bus.SubscribeAll()
	defer bus.UnsubscribeAll(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := relay.Forward(ctx, ev); err != nil {
				log.Warnw("relay event failed", map[string]any{"alert_id": ev.AlertID, "type": string(ev.Type), "error": err.Error()})
			}
		}
	}
}
