// Package metrics exposes acquisition and publishing counters together with
// the last decoded value of each quantity in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/metriful-to-mqtt/pkg/sensor"
)

const namespace = "metriful"

// Metrics holds the collectors for one sensor. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles          prometheus.Counter
	readErrors      prometheus.Counter
	published       *prometheus.CounterVec
	publishErrors   *prometheus.CounterVec
	interruptions   *prometheus.CounterVec
	resubscriptions *prometheus.CounterVec
	quantities      *prometheus.GaugeVec
}

// New registers the collectors on a private registry. Every series carries
// the sensor name as a constant label.
func New(sensorName string) *Metrics {
	labels := prometheus.Labels{"sensor": sensorName}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Samples read from the sensor.", ConstLabels: labels,
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "read_errors_total",
			Help: "Failed sensor reads.", ConstLabels: labels,
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "published_total",
			Help: "Payloads handed to an output.", ConstLabels: labels,
		}, []string{"output"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_errors_total",
			Help: "Payloads an output failed to publish.", ConstLabels: labels,
		}, []string{"output"}),
		interruptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connection_interruptions_total",
			Help: "Broker connection losses.", ConstLabels: labels,
		}, []string{"output"}),
		resubscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resubscriptions_total",
			Help: "Successful resubscriptions after a reconnect without session.", ConstLabels: labels,
		}, []string{"output"}),
		quantities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reading",
			Help: "Last decoded value of each quantity.", ConstLabels: labels,
		}, []string{"quantity"}),
	}
	m.registry.MustRegister(
		m.cycles, m.readErrors, m.published, m.publishErrors,
		m.interruptions, m.resubscriptions, m.quantities,
		prometheus.NewBuildInfoCollector(),
	)
	return m
}

func (m *Metrics) IncReadError() {
	if m == nil {
		return
	}
	m.readErrors.Inc()
}

func (m *Metrics) IncPublished(output string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(output).Inc()
}

func (m *Metrics) IncPublishError(output string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(output).Inc()
}

func (m *Metrics) IncInterruption(output string) {
	if m == nil {
		return
	}
	m.interruptions.WithLabelValues(output).Inc()
}

func (m *Metrics) IncResubscription(output string) {
	if m == nil {
		return
	}
	m.resubscriptions.WithLabelValues(output).Inc()
}

// ObserveSample counts a cycle and updates the per-quantity gauges.
func (m *Metrics) ObserveSample(s sensor.Sample) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	set := func(q string, v float64) { m.quantities.WithLabelValues(q).Set(v) }
	set("temperature_celsius", s.Air.TemperatureC)
	set("pressure_pascals", float64(s.Air.PressurePa))
	set("humidity_percent", s.Air.HumidityPct)
	set("gas_sensor_ohms", float64(s.Air.GasSensorOhm))
	set("aqi", s.AirQuality.AQI)
	set("aqi_accuracy", float64(s.AirQuality.Accuracy))
	set("bvoc_ppm", s.AirQuality.BVOC)
	set("co2e_ppm", s.AirQuality.CO2e)
	set("illuminance_lux", s.Light.IlluminanceLux)
	set("spl_dba", s.Sound.SPLdBA)
	set("peak_amp_mpa", s.Sound.PeakAmpMPa)
	set("particulates", s.Particle.Concentration)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("address", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
