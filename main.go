package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ericogr/metriful-to-mqtt/pkg/config"
	"github.com/ericogr/metriful-to-mqtt/pkg/logging"
	"github.com/ericogr/metriful-to-mqtt/pkg/metrics"
	"github.com/ericogr/metriful-to-mqtt/pkg/output"
	"github.com/ericogr/metriful-to-mqtt/pkg/output/console"
	"github.com/ericogr/metriful-to-mqtt/pkg/output/mqtt"
	"github.com/ericogr/metriful-to-mqtt/pkg/payload"
	"github.com/ericogr/metriful-to-mqtt/pkg/publisher"
	"github.com/ericogr/metriful-to-mqtt/pkg/sensor"
)

// openBus opens the hardware bus; tests replace it.
var openBus = func(busName, readyPin string) (sensor.Bus, error) {
	return sensor.OpenPeriphBus(busName, readyPin)
}

// watcher is implemented by outputs that supervise a broker connection.
type watcher interface {
	Watch(ctx context.Context) error
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.Debug, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.WithError(err).Error("stopped")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// run owns every component until ctx is done or one of them fails fatally.
func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	m := metrics.New(cfg.SensorName)

	s, err := initSensor(cfg, logging.Component(log, "sensor"))
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := initOutputs(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer func() {
		for _, e := range entries {
			if err := e.Output.Close(); err != nil {
				log.WithError(err).WithField("output", e.Name).Warn("close output")
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddress != "" {
		g.Go(func() error {
			return m.Serve(gctx, cfg.MetricsAddress, logging.Component(log, "metrics"))
		})
	}
	for _, e := range entries {
		if w, ok := e.Output.(watcher); ok {
			g.Go(func() error { return w.Watch(gctx) })
		}
	}

	interval := computeLoopInterval(cfg)
	loop := publisher.New(s, entries, interval, logging.Component(log, "publisher"), m)
	log.WithFields(logrus.Fields{
		"sensor":    cfg.SensorName,
		"outputs":   len(entries),
		"interval":  interval,
		"simulated": cfg.Simulated(),
	}).Info("publishing")
	g.Go(func() error { return loop.Run(gctx) })

	return g.Wait()
}

// computeLoopInterval returns the sleep between cycles. It stays below the
// sensor cycle period so each read mostly finds a sample already waiting.
func computeLoopInterval(cfg config.Config) time.Duration {
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	period := time.Duration(cfg.CyclePeriodS) * time.Second
	if period > 0 && interval >= period {
		interval = period / 2
	}
	return interval
}

// resolveParticleSensor maps the configured name to a kind. Unknown names
// fall back to off.
func resolveParticleSensor(name string, log *logrus.Entry) sensor.ParticleSensorKind {
	kind, ok := sensor.ValidateParticleSensor(name)
	switch {
	case !ok:
		log.WithField("particle_sensor", name).Warn("unknown particle sensor, using off")
	case kind == sensor.ParticleSensorOff:
		log.Debug("particle sensor off")
	default:
		log.WithField("particle_sensor", kind).Info("particle sensor selected")
	}
	return kind
}

func initSensor(cfg config.Config, log *logrus.Entry) (sensor.Sensor, error) {
	kind := resolveParticleSensor(cfg.ParticleSensor, log)

	if cfg.Simulated() {
		log.Info("simulation mode, hardware bypassed")
		delay := time.Duration(cfg.SimulationDelayMs) * time.Millisecond
		return sensor.NewFakeSensor(delay, kind)
	}

	period, err := sensor.CyclePeriodFromSeconds(cfg.CyclePeriodS)
	if err != nil {
		return nil, err
	}
	bus, err := openBus(cfg.I2CBus, cfg.ReadyPin)
	if err != nil {
		return nil, err
	}
	// Validate bounds the address to 7 bits
	s, err := sensor.NewMS430Sensor(bus, uint16(cfg.I2CAddress), kind, period, log)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return s, nil
}

// profileFor returns the configured profile or the default of the output type.
func profileFor(o config.OutputConfig) (payload.Profile, error) {
	if o.Profile != "" {
		return payload.ParseProfile(o.Profile)
	}
	if strings.EqualFold(o.Type, config.OutputAWSIoT) {
		return payload.Labelled, nil
	}
	return payload.Precise, nil
}

func initOutputs(ctx context.Context, cfg config.Config, log *logrus.Logger, m *metrics.Metrics) ([]publisher.Entry, error) {
	var entries []publisher.Entry
	closeAll := func() {
		for _, e := range entries {
			e.Output.Close()
		}
	}
	seen := map[string]int{}

	for _, oc := range cfg.Outputs {
		typ := strings.ToLower(oc.Type)
		name := typ
		if n := seen[typ]; n > 0 {
			name = fmt.Sprintf("%s%d", typ, n+1)
		}
		seen[typ]++

		profile, err := profileFor(oc)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		out, err := newOutput(ctx, cfg.SensorName, name, oc, log, m)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		log.WithFields(logrus.Fields{"output": name, "profile": profile}).Info("output ready")
		entries = append(entries, publisher.Entry{Name: name, Output: out, Profile: profile})
	}
	return entries, nil
}

func newOutput(ctx context.Context, sensorName, name string, oc config.OutputConfig, log *logrus.Logger, m *metrics.Metrics) (output.Output, error) {
	if strings.EqualFold(oc.Type, config.OutputConsole) {
		return console.NewConsole(), nil
	}
	b, err := newBroker(sensorName, name, oc, log)
	if err != nil {
		return nil, err
	}
	return mqtt.NewMQTT(ctx, b.conn, b.opts, b.log, m)
}

// broker is an unconnected broker output.
type broker struct {
	conn mqtt.Conn
	opts mqtt.Options
	log  *logrus.Entry
}

// newBroker builds the connection of an mqtt or awsiot output. Its log
// component is the output name.
func newBroker(sensorName, name string, oc config.OutputConfig, log *logrus.Logger) (broker, error) {
	entry := logging.Component(log, name)
	switch strings.ToLower(oc.Type) {
	case config.OutputMQTT:
		mc := oc.MQTT
		if mc == nil {
			return broker{}, fmt.Errorf("missing mqtt settings")
		}
		conn := mqtt.NewV3Conn(mqtt.V3Config{
			Server:    mc.Server,
			ClientID:  orDefault(mc.ClientID, sensorName),
			Username:  mc.Username,
			Password:  mc.Password,
			KeepAlive: time.Duration(mc.KeepAliveS) * time.Second,
		}, entry)
		return broker{conn: conn, log: entry, opts: mqtt.Options{
			Name:            name,
			Topic:           mqtt.SensorTopic(sensorName),
			SubscribeTopics: subscribeTopics(mc.SubscribeTopics, sensorName),
		}}, nil

	case config.OutputAWSIoT:
		ac := oc.AWSIoT
		if ac == nil {
			return broker{}, fmt.Errorf("missing awsiot settings")
		}
		tlsCfg, err := mqtt.LoadTLSConfig(ac.Cert, ac.Key, ac.RootCA)
		if err != nil {
			return broker{}, err
		}
		endpoint := ac.Endpoint
		if ac.Port != 0 {
			endpoint = net.JoinHostPort(ac.Endpoint, strconv.Itoa(ac.Port))
		}
		// Validate bounds KeepAliveS to 0-65535
		conn := mqtt.NewAutoConn(mqtt.AutoConfig{
			Endpoint:  endpoint,
			ClientID:  orDefault(ac.ClientID, sensorName),
			KeepAlive: uint16(ac.KeepAliveS),
			TLS:       tlsCfg,
		}, entry)
		return broker{conn: conn, log: entry, opts: mqtt.Options{
			Name:            name,
			Topic:           mqtt.RuleTopic(orDefault(ac.RuleName, mqtt.DefaultRuleName), sensorName),
			SubscribeTopics: subscribeTopics(ac.SubscribeTopics, sensorName),
		}}, nil
	}
	return broker{}, fmt.Errorf("unknown output type %q", oc.Type)
}

// subscribeTopics defaults to the sensor's control topic when nothing is
// configured. An explicit empty list subscribes nothing.
func subscribeTopics(configured *[]string, sensorName string) []string {
	if configured != nil {
		return *configured
	}
	return []string{mqtt.ControlTopic(sensorName)}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
