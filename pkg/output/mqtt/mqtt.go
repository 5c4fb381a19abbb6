package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/ericogr/metriful-to-mqtt/pkg/metrics"
	"github.com/ericogr/metriful-to-mqtt/pkg/output"
	"github.com/ericogr/metriful-to-mqtt/pkg/payload"
	"github.com/sirupsen/logrus"
)

// MQTTOutput publishes payloads on one topic of a Conn.
type MQTTOutput struct {
	conn    Conn
	name    string
	topic   string
	log     *logrus.Entry
	metrics *metrics.Metrics

	// gate is held for writing while a resubscription is in flight, so no
	// payload goes out before the broker has granted the subscriptions.
	gate  sync.RWMutex
	fatal error
}

// Options configures NewMQTT.
type Options struct {
	// Name labels the output in logs and metrics.
	Name string
	// Topic receives every payload.
	Topic string
	// SubscribeTopics are subscribed after connecting; incoming messages are
	// logged.
	SubscribeTopics []string
}

// NewMQTT connects conn and subscribes the configured topics.
func NewMQTT(ctx context.Context, conn Conn, opts Options, log *logrus.Entry, m *metrics.Metrics) (*MQTTOutput, error) {
	if opts.Topic == "" {
		return nil, ErrInvalidTopic
	}
	o := &MQTTOutput{
		conn:    conn,
		name:    opts.Name,
		topic:   opts.Topic,
		log:     log.WithFields(logrus.Fields{"output": opts.Name, "topic": opts.Topic}),
		metrics: m,
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	for _, t := range opts.SubscribeTopics {
		if err := conn.Subscribe(ctx, t, o.onMessage); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", t, err)
		}
		o.log.WithField("subscription", t).Info("subscribed")
	}
	return o, nil
}

func (o *MQTTOutput) onMessage(topic string, body []byte) {
	o.log.WithFields(logrus.Fields{"from": topic, "bytes": len(body)}).Infof("message received: %s", body)
}

// Publish sends the payload as JSON. Once a resubscription was rejected every
// call fails with a fatal error.
func (o *MQTTOutput) Publish(ctx context.Context, p payload.Payload) error {
	o.gate.RLock()
	defer o.gate.RUnlock()
	if o.fatal != nil {
		return o.fatal
	}
	b, err := p.JSON()
	if err != nil {
		return err
	}
	o.log.Debugf("publishing %s", b)
	if err := o.conn.Publish(ctx, o.topic, b); err != nil {
		o.metrics.IncPublishError(o.name)
		return err
	}
	o.metrics.IncPublished(o.name)
	return nil
}

// Watch handles connection events until ctx is done or a resubscription is
// rejected, in which case the fatal error is returned.
func (o *MQTTOutput) Watch(ctx context.Context) error {
	events := o.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := o.handleEvent(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (o *MQTTOutput) handleEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case Interrupted:
		o.metrics.IncInterruption(o.name)
		entry := o.log
		if ev.Err != nil {
			entry = entry.WithError(ev.Err)
		}
		entry.Warn("connection interrupted")
		return nil
	case Resumed:
		o.log.WithField("session_present", ev.SessionPresent).Info("connection resumed")
		if ev.SessionPresent {
			return nil
		}
		return o.resubscribe(ctx)
	}
	return nil
}

func (o *MQTTOutput) resubscribe(ctx context.Context) error {
	o.gate.Lock()
	defer o.gate.Unlock()

	results, err := o.conn.ResubscribeExisting(ctx)
	if err != nil {
		// the next Resumed event retries
		o.log.WithError(err).Warn("resubscribe failed")
		return nil
	}
	for _, r := range results {
		if r.Rejected {
			o.fatal = output.Fatal(fmt.Errorf("%w: %s", ErrSubscriptionRejected, r.Topic))
			o.log.WithField("subscription", r.Topic).Error("server rejected resubscribe")
			return o.fatal
		}
		o.log.WithFields(logrus.Fields{"subscription": r.Topic, "qos": r.QoS}).Debug("resubscribed")
	}
	o.metrics.IncResubscription(o.name)
	return nil
}

func (o *MQTTOutput) Close() error {
	return o.conn.Close()
}
