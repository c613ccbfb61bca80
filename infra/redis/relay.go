// Package redis relays alert events between instances over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/medidispatch/dispatch-core/core/events"
	"github.com/medidispatch/dispatch-core/core/logger"
	"github.com/medidispatch/dispatch-core/core/notify"
)

type envelope struct {
	Origin string            `json:"origin"`
	Event  events.AlertEvent `json:"event"`
}

// Relay publishes local events on <prefix>:<alert id> and replays events
// from other instances into the local bus.
type Relay struct {
	client *goredis.Client
	prefix string
	origin string
	log    logger.Logger
}

// Connect dials Redis and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// NewRelay builds a relay. origin identifies this instance and must be
// unique across the cluster.
func NewRelay(client *goredis.Client, prefix, origin string, log logger.Logger) *Relay {
	if prefix == "" {
		prefix = "alerts"
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Relay{client: client, prefix: prefix, origin: origin, log: log}
}

func (r *Relay) Channel(alertID string) string { return r.prefix + ":" + alertID }

// Forward publishes ev unless it was itself received from another instance.
func (r *Relay) Forward(ctx context.Context, ev events.AlertEvent) error {
	if ev.Origin != "" {
		return nil
	}
	b, err := json.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.Channel(ev.AlertID), b).Err()
}

// Listen republishes remote events on bus until ctx is done.
func (r *Relay) Listen(ctx context.Context, bus notify.Notifier) error {
	sub := r.client.PSubscribe(ctx, r.prefix+":*")
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s:*: %w", r.prefix, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(bus, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(bus notify.Notifier, channel string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.log.Warnw("invalid relayed event", map[string]any{"channel": channel, "error": err.Error()})
		return
	}
	if env.Origin == r.origin {
		return
	}
	if env.Event.AlertID == "" {
		env.Event.AlertID = strings.TrimPrefix(channel, r.prefix+":")
	}
	env.Event.Origin = env.Origin
	bus.Publish(env.Event.AlertID, env.Event)
}

var _ notify.Relay = (*Relay)(nil)
