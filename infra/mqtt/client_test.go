package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/medidispatch/dispatch-core/core/events"
	coremon "github.com/medidispatch/dispatch-core/core/monitoring"
)

// generateCert writes a self-signed certificate used as client cert and CA.
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	for path, data := range map[string][]byte{certFile: certPEM, keyFile: keyPEM, caFile: certPEM} {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("load tls: %v", err)
	}
	if len(tlsCfg.Certificates) == 0 || tlsCfg.RootCAs == nil {
		t.Fatalf("tls material not loaded")
	}
	if _, err := (Config{UseTLS: true}).LoadTLSConfig(); err == nil {
		t.Fatal("expected error without files")
	}
}

func TestNewClientOptionsAuthAndWill(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p", LWTTopic: "lwt", LWTPayload: "bye"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
	if !opts.WillEnabled || opts.WillTopic != "lwt" || string(opts.WillPayload) != "bye" {
		t.Fatalf("will options incorrect")
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	var c Config
	c.SetDefaults()
	if c.EventPrefix != "alerts" || c.ClientID != "dispatchd" {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("disabled config must validate: %v", err)
	}
	c.Enabled = true
	if err := c.Validate(); err == nil {
		t.Fatal("expected broker error")
	}
}

func TestPublishJSON_RetriesThenSucceeds(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), nil}}
	defer useMock(mc)()
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1, QoS: map[string]byte{"event": 1}})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := cli.PublishJSON(context.Background(), "alerts/a1/events", "event", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(mc.published) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(mc.published))
	}
	if mc.published[1].qos != 1 {
		t.Fatalf("qos not applied")
	}
}

func TestPublishJSON_ErrorCaptured(t *testing.T) {
	fail := fmt.Errorf("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail}}
	defer useMock(mc)()
	mon := &coremon.Recorder{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := cli.PublishJSON(context.Background(), "t", "event", 1); err == nil {
		t.Fatal("expected error")
	}
	got := mon.Captured()
	if len(got) != 1 || got[0].Tags["module"] != "mqtt" || got[0].Tags["topic"] != "t" {
		t.Fatalf("error not captured: %+v", got)
	}
}

func TestSubscribe_ReplayedOnReconnect(t *testing.T) {
	mc := &mockClient{}
	defer useMock(mc)()
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: map[string]byte{"telemetry": 1}})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := cli.Subscribe("units/+/location", "telemetry", func(paho.Client, paho.Message) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mc.opts.OnConnect(mc)
	if len(mc.subscribed) != 2 {
		t.Fatalf("expected resubscribe, got %d subscriptions", len(mc.subscribed))
	}
	if mc.subscribed[1].topic != "units/+/location" || mc.subscribed[1].qos != 1 {
		t.Fatalf("unexpected subscription %+v", mc.subscribed[1])
	}
}

func TestEventPublisher_Forward(t *testing.T) {
	mc := &mockClient{}
	defer useMock(mc)()
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	ep := NewEventPublisher(cli, "/alerts/")
	ev := events.AlertEvent{Type: events.Created, AlertID: "a1", Unit: events.UnitView{ID: "u1"}}
	if err := ep.Forward(context.Background(), ev); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(mc.published) != 1 || mc.published[0].topic != "alerts/a1/events" {
		t.Fatalf("unexpected publish %+v", mc.published)
	}
	var got events.AlertEvent
	if err := json.Unmarshal(mc.published[0].payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != events.Created || got.Unit.ID != "u1" {
		t.Fatalf("unexpected payload %+v", got)
	}
	ev.Origin = "node-b"
	if err := ep.Forward(context.Background(), ev); err != nil {
		t.Fatalf("forward relayed: %v", err)
	}
	if len(mc.published) != 1 {
		t.Fatalf("relayed event should not be bridged, got %d publishes", len(mc.published))
	}
}
