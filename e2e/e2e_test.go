// Package e2e runs the dispatch service against a real MQTT broker.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medidispatch/dispatch-core/app"
	"github.com/medidispatch/dispatch-core/config"
	"github.com/medidispatch/dispatch-core/core/events"
	"github.com/medidispatch/dispatch-core/core/model"
	"github.com/medidispatch/dispatch-core/test/util"
)

const units = `units:
  - id: amb-1
    label: Ambulance 1
    lat: 19.0760
    lng: 72.8777
`

func TestTelemetryToAlertEvents(t *testing.T) {
	util.RequireDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker, cleanup, err := util.StartMosquitto(ctx)
	require.NoError(t, err)
	defer cleanup()

	seedPath := filepath.Join(t.TempDir(), "units.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(units), 0o644))

	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Logging.Backend = "memory"
	cfg.Seed.Path = seedPath
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = broker
	cfg.MQTT.ClientID = "dispatchd-e2e"
	cfg.MQTT.SetDefaults()
	cfg.Telemetry.Enabled = true
	require.NoError(t, cfg.Validate())

	svc, err := app.New(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()
	defer func() {
		stop()
		<-done
	}()

	received := make(chan events.AlertEvent, 16)
	watcher := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("e2e-watcher"))
	tok := watcher.Connect()
	require.True(t, tok.WaitTimeout(10*time.Second))
	require.NoError(t, tok.Error())
	defer watcher.Disconnect(100)

	tok = watcher.Subscribe("alerts/+/events", 1, func(_ paho.Client, msg paho.Message) {
		var ev events.AlertEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err == nil {
			received <- ev
		}
	})
	require.True(t, tok.WaitTimeout(10*time.Second))
	require.NoError(t, tok.Error())

	d, err := svc.Coordinator.CreateAlert(ctx, model.Coordinate{Lat: 19.0800, Lng: 72.8800})
	require.NoError(t, err)
	require.Equal(t, "amb-1", d.Unit.ID)

	// The service subscribes asynchronously, so keep reporting until the
	// update comes back out on the alert topic.
	topic := "units/amb-1/location"
	deadline := time.After(30 * time.Second)
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-received:
			if ev.Type != events.LocationUpdate {
				continue
			}
			assert.Equal(t, d.Alert.ID, ev.AlertID)
			assert.Equal(t, "amb-1", ev.Unit.ID)
			assert.InDelta(t, 19.079, ev.Unit.Location.Lat, 1e-9)
			require.NotNil(t, ev.Unit.ETAMinutes)

			u, err := svc.Units.Get("amb-1")
			require.NoError(t, err)
			assert.InDelta(t, 19.079, u.Location.Lat, 1e-9)
			assertMetrics(ctx, t)
			return
		case <-tick.C:
			payload := fmt.Sprintf(`{"lat":19.079,"lng":72.879,"ts":%d}`, time.Now().Unix())
			watcher.Publish(topic, 1, false, payload).Wait()
		case <-deadline:
			t.Fatal("no location update received on the alert topic")
		}
	}
}

// assertMetrics checks the ingestion and relay collectors on a scraped
// /metrics page.
func assertMetrics(ctx context.Context, t *testing.T) {
	t.Helper()
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, util.WaitForMetric(ctx, srv.URL+"/metrics", `telemetry_location_messages_total{result="accepted"}`))
	require.NoError(t, util.WaitForMetric(ctx, srv.URL+"/metrics", "dispatch_event_relays 1"))
}
