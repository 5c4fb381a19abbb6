package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ericogr/metriful-to-mqtt/pkg/config"
	"github.com/ericogr/metriful-to-mqtt/pkg/payload"
	"github.com/ericogr/metriful-to-mqtt/pkg/sensor"
)

type stubBus struct {
	writes   []byte
	commands []byte
	closed   bool
}

func (b *stubBus) ReadBlock(_ uint16, _ byte, n int) ([]byte, error) { return make([]byte, n), nil }
func (b *stubBus) WriteBlock(_ uint16, reg byte, _ []byte) error {
	b.writes = append(b.writes, reg)
	return nil
}
func (b *stubBus) WriteCommand(_ uint16, cmd byte) error {
	b.commands = append(b.commands, cmd)
	return nil
}
func (b *stubBus) ReadyEvent() bool { return true }
func (b *stubBus) Close() error {
	b.closed = true
	return nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func swapOpenBus(t *testing.T, f func(string, string) (sensor.Bus, error)) {
	t.Helper()
	orig := openBus
	openBus = f
	t.Cleanup(func() { openBus = orig })
}

func TestComputeLoopInterval(t *testing.T) {
	tests := []struct {
		intervalMs, cycle int
		want              time.Duration
	}{
		{1000, 3, time.Second},
		{200, 3, 200 * time.Millisecond},
		{5000, 3, 1500 * time.Millisecond},
		{3000, 3, 1500 * time.Millisecond},
		{60000, 100, 50 * time.Second},
		{0, 3, time.Second},
	}
	for _, tt := range tests {
		cfg := config.Config{IntervalMs: tt.intervalMs, CyclePeriodS: tt.cycle}
		if got := computeLoopInterval(cfg); got != tt.want {
			t.Errorf("computeLoopInterval(%d ms, %d s) = %v, want %v", tt.intervalMs, tt.cycle, got, tt.want)
		}
	}
}

func TestInitSensorSimulationSkipsBus(t *testing.T) {
	swapOpenBus(t, func(string, string) (sensor.Bus, error) {
		t.Fatal("bus opened in simulation mode")
		return nil, nil
	})
	cfg := config.DefaultConfig()
	cfg.SensorType = config.SensorSimulation
	cfg.SimulationDelayMs = 0
	cfg.ParticleSensor = "PM2.5"

	s, err := initSensor(cfg, testLogger().WithField("component", "sensor"))
	if err != nil {
		t.Fatalf("initSensor: %v", err)
	}
	sample, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	// unknown particle sensor degrades to off
	if sample.Particle.Unit != "" {
		t.Fatalf("particle unit = %q", sample.Particle.Unit)
	}
}

func TestInitSensorConfiguresHardware(t *testing.T) {
	bus := &stubBus{}
	var gotBus, gotPin string
	swapOpenBus(t, func(name, pin string) (sensor.Bus, error) {
		gotBus, gotPin = name, pin
		return bus, nil
	})
	cfg := config.DefaultConfig()
	cfg.ParticleSensor = "SDS011"
	cfg.CyclePeriodS = 100

	s, err := initSensor(cfg, testLogger().WithField("component", "sensor"))
	if err != nil {
		t.Fatalf("initSensor: %v", err)
	}
	if gotBus != "1" || gotPin != "GPIO17" {
		t.Fatalf("opened bus %q pin %q", gotBus, gotPin)
	}
	if len(bus.writes) != 2 || len(bus.commands) != 1 {
		t.Fatalf("writes %v commands %v", bus.writes, bus.commands)
	}
	if err := s.Close(); err != nil || !bus.closed {
		t.Fatalf("Close: %v closed=%v", err, bus.closed)
	}
}

func TestInitSensorOpenError(t *testing.T) {
	swapOpenBus(t, func(string, string) (sensor.Bus, error) {
		return nil, errors.New("no such bus")
	})
	if _, err := initSensor(config.DefaultConfig(), testLogger().WithField("component", "sensor")); err == nil {
		t.Fatal("expected error")
	}
}

func TestProfileFor(t *testing.T) {
	tests := []struct {
		out  config.OutputConfig
		want payload.Profile
	}{
		{config.OutputConfig{Type: "mqtt"}, payload.Precise},
		{config.OutputConfig{Type: "awsiot"}, payload.Labelled},
		{config.OutputConfig{Type: "console"}, payload.Precise},
		{config.OutputConfig{Type: "mqtt", Profile: "labelled"}, payload.Labelled},
		{config.OutputConfig{Type: "awsiot", Profile: "precise"}, payload.Precise},
	}
	for _, tt := range tests {
		got, err := profileFor(tt.out)
		if err != nil || got != tt.want {
			t.Errorf("profileFor(%+v) = %v, %v; want %v", tt.out, got, err, tt.want)
		}
	}
}

func TestInitOutputsConsole(t *testing.T) {
	cfg := config.Config{SensorName: "porch-1", Outputs: []config.OutputConfig{{Type: "console"}, {Type: "console", Profile: "labelled"}}}
	entries, err := initOutputs(context.Background(), cfg, testLogger(), nil)
	if err != nil {
		t.Fatalf("initOutputs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries len: %d", len(entries))
	}
	if entries[0].Name != "console" || entries[1].Name != "console2" {
		t.Fatalf("names: %q %q", entries[0].Name, entries[1].Name)
	}
	if entries[0].Profile != payload.Precise || entries[1].Profile != payload.Labelled {
		t.Fatalf("profiles: %v %v", entries[0].Profile, entries[1].Profile)
	}
}

func TestInitOutputsAWSIoTMissingCertificates(t *testing.T) {
	cfg := config.Config{SensorName: "porch-1", Outputs: []config.OutputConfig{{
		Type:   "awsiot",
		AWSIoT: &config.AWSIoTConfig{Endpoint: "localhost", Cert: "missing.crt", Key: "missing.key", RootCA: "missing.pem"},
	}}}
	if _, err := initOutputs(context.Background(), cfg, testLogger(), nil); err == nil {
		t.Fatal("expected certificate error")
	}
}

// writeDeviceCert writes a self-signed certificate usable as device cert and
// root CA.
func writeDeviceCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "porch-1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	certFile = filepath.Join(dir, "device.pem.crt")
	keyFile = filepath.Join(dir, "private.pem.key")
	for path, block := range map[string]*pem.Block{
		certFile: {Type: "CERTIFICATE", Bytes: der},
		keyFile:  {Type: "EC PRIVATE KEY", Bytes: keyDER},
	} {
		if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return certFile, keyFile
}

func TestSubscribeTopics(t *testing.T) {
	tests := []struct {
		name       string
		configured *[]string
		want       []string
	}{
		{"unset", nil, []string{"metriful/porch-1/control"}},
		{"disabled", &[]string{}, []string{}},
		{"custom", &[]string{"a/b", "c"}, []string{"a/b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := subscribeTopics(tt.configured, "porch-1"); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("subscribeTopics = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewBroker(t *testing.T) {
	cert, key := writeDeviceCert(t)
	tests := []struct {
		name      string
		out       config.OutputConfig
		topic     string
		subscribe []string
	}{
		{
			name:      "mqtt",
			out:       config.OutputConfig{Type: "mqtt", MQTT: &config.MQTTConfig{Server: "broker.local"}},
			topic:     "metriful/porch-1",
			subscribe: []string{"metriful/porch-1/control"},
		},
		{
			name:      "mqtt2",
			out:       config.OutputConfig{Type: "mqtt", MQTT: &config.MQTTConfig{Server: "broker.local", SubscribeTopics: &[]string{}}},
			topic:     "metriful/porch-1",
			subscribe: []string{},
		},
		{
			name: "awsiot",
			out: config.OutputConfig{Type: "awsiot", AWSIoT: &config.AWSIoTConfig{
				Endpoint: "abc-ats.iot.eu-west-1.amazonaws.com", Cert: cert, Key: key, RootCA: cert,
				SubscribeTopics: &[]string{},
			}},
			topic:     "$aws/rules/log_metriful/porch-1",
			subscribe: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := newBroker("porch-1", tt.name, tt.out, testLogger())
			if err != nil {
				t.Fatalf("newBroker: %v", err)
			}
			if got := b.log.Data["component"]; got != tt.name {
				t.Fatalf("component = %v, want %s", got, tt.name)
			}
			if b.opts.Name != tt.name || b.opts.Topic != tt.topic {
				t.Fatalf("opts = %+v", b.opts)
			}
			if !reflect.DeepEqual(b.opts.SubscribeTopics, tt.subscribe) {
				t.Fatalf("subscriptions = %v, want %v", b.opts.SubscribeTopics, tt.subscribe)
			}
		})
	}
}

func TestNewBrokerMissingSettings(t *testing.T) {
	for _, typ := range []string{"mqtt", "awsiot", "kafka"} {
		if _, err := newBroker("porch-1", typ, config.OutputConfig{Type: typ}, testLogger()); err == nil {
			t.Errorf("%s: expected error", typ)
		}
	}
}

func TestRunSimulationUntilCancelled(t *testing.T) {
	swapOpenBus(t, func(string, string) (sensor.Bus, error) {
		t.Fatal("bus opened in simulation mode")
		return nil, nil
	})
	cfg := config.DefaultConfig()
	cfg.SensorName = "porch-1"
	cfg.SensorType = config.SensorSimulation
	cfg.SimulationDelayMs = 1
	cfg.IntervalMs = 1
	cfg.Outputs = []config.OutputConfig{{Type: "console"}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := run(ctx, cfg, testLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
}
