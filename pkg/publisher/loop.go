// Package publisher drives the acquisition cycle: read one sample, format it
// for every output, publish, sleep, repeat.
package publisher

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/metriful-to-mqtt/pkg/metrics"
	"github.com/ericogr/metriful-to-mqtt/pkg/output"
	"github.com/ericogr/metriful-to-mqtt/pkg/payload"
	"github.com/ericogr/metriful-to-mqtt/pkg/sensor"
)

// Entry is one output together with the profile its payloads use.
type Entry struct {
	Name    string
	Output  output.Output
	Profile payload.Profile
}

type Loop struct {
	sensor   sensor.Sensor
	entries  []Entry
	interval time.Duration
	log      *logrus.Entry
	metrics  *metrics.Metrics
}

// New returns a loop sleeping interval between cycles. m may be nil.
func New(s sensor.Sensor, entries []Entry, interval time.Duration, log *logrus.Entry, m *metrics.Metrics) *Loop {
	return &Loop{sensor: s, entries: entries, interval: interval, log: log, metrics: m}
}

// Run repeats RunOnce until ctx is done or a cycle fails fatally. It returns
// nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		t := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// RunOnce reads one sample and hands it to every output in order. A read
// error or a fatal output error is returned; other publish errors are
// logged and left to the output's redelivery.
func (l *Loop) RunOnce(ctx context.Context) error {
	sample, err := l.sensor.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.metrics.IncReadError()
		return errors.Wrap(err, "read sensor")
	}
	l.metrics.ObserveSample(sample)
	if !sample.AirQuality.Valid() {
		l.log.WithField("accuracy", sample.AirQuality.Accuracy).Debug("air quality still warming up")
	}

	for _, e := range l.entries {
		p := payload.Format(sample, e.Profile)
		err := e.Output.Publish(ctx, p)
		if err == nil {
			continue
		}
		if output.IsFatal(err) {
			return errors.Wrapf(err, "output %s", e.Name)
		}
		l.log.WithError(err).WithField("output", e.Name).Warn("publish failed")
	}
	return nil
}
