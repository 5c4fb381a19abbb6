package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// DefaultPort is the plain MQTT port.
const DefaultPort = "1883"

// maxReconnectInterval caps paho's reconnect backoff.
const maxReconnectInterval = 60 * time.Second

// V3Config configures a V3Conn.
type V3Config struct {
	Server    string
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	TLS       *tls.Config
}

// V3Conn is a Conn over MQTT 3.1.1.
type V3Conn struct {
	cfg     V3Config
	options *pahomqtt.ClientOptions
	client  pahomqtt.Client
	subs    *subscriptions
	events  *eventSink
	log     *logrus.Entry

	// everConnected distinguishes reconnects from the first connection; the
	// on-connect handler also runs for the initial connect.
	everConnected atomic.Bool
}

// BrokerURL normalises a broker address. A bare host gets the tcp scheme and
// port 1883; anything with a scheme is returned unchanged.
func BrokerURL(server string) string {
	if strings.Contains(server, "://") {
		return server
	}
	if _, _, err := net.SplitHostPort(server); err == nil {
		return "tcp://" + server
	}
	return "tcp://" + net.JoinHostPort(server, DefaultPort)
}

func NewV3Conn(cfg V3Config, log *logrus.Entry) *V3Conn {
	c := &V3Conn{
		cfg:    cfg,
		subs:   newSubscriptions(),
		events: newEventSink(),
		log:    log,
	}
	c.options = buildV3Options(cfg)
	c.options.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if c.everConnected.CompareAndSwap(false, true) {
			return
		}
		// paho does not surface CONNACK session-present on reconnect
		c.events.emit(Event{Kind: Resumed, SessionPresent: false})
	})
	c.options.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.events.emit(Event{Kind: Interrupted, Err: err})
	})
	c.options.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.log.Debug("reconnecting to broker")
	})
	return c
}

// buildV3Options creates paho options: persistent session, automatic
// reconnect, and no library-side resubscription (ResubscribeExisting does it).
func buildV3Options(cfg V3Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().AddBroker(BrokerURL(cfg.Server)).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetCleanSession(false)
	opts.SetResumeSubs(false)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(defaultConnectTimeout)
	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}
	return opts
}

// waitToken waits for a paho token, bounded by timeout and ctx.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-t.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *V3Conn) Connect(ctx context.Context) error {
	c.client = pahomqtt.NewClient(c.options)
	if err := waitToken(ctx, c.client.Connect(), defaultConnectTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.log.WithField("broker", BrokerURL(c.cfg.Server)).Info("connected to broker")
	return nil
}

// Publish returns ErrPublishFailed when the PUBACK does not arrive in time.
// The message stays in paho's outbound store and is resent after reconnect.
func (c *V3Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if c.client == nil {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qosAtLeastOnce, false, payload)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (c *V3Conn) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if c.client == nil {
		return ErrNotConnected
	}
	c.subs.add(topic, handler)
	res, err := c.subscribe(ctx, topic, handler)
	if err != nil {
		c.subs.remove(topic)
		return err
	}
	if res.Rejected {
		c.subs.remove(topic)
		return fmt.Errorf("%w: %s", ErrSubscriptionRejected, topic)
	}
	return nil
}

func (c *V3Conn) subscribe(ctx context.Context, topic string, handler MessageHandler) (SubscriptionResult, error) {
	token := c.client.Subscribe(topic, qosAtLeastOnce, c.wrapHandler(handler))
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return SubscriptionResult{}, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if granted, found := st.Result()[topic]; found {
			return grantResult(topic, granted), nil
		}
	}
	return grantResult(topic, qosAtLeastOnce), nil
}

func (c *V3Conn) ResubscribeExisting(ctx context.Context) ([]SubscriptionResult, error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}
	topics := c.subs.topics()
	out := make([]SubscriptionResult, 0, len(topics))
	for _, topic := range topics {
		h, ok := c.subs.handler(topic)
		if !ok {
			continue
		}
		res, err := c.subscribe(ctx, topic, h)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (c *V3Conn) Events() <-chan Event { return c.events.ch }

func (c *V3Conn) Close() error {
	c.events.close()
	if c.client != nil {
		c.client.Disconnect(defaultDisconnectQuiet)
	}
	return nil
}

// wrapHandler adapts a MessageHandler and recovers from handler panics.
func (c *V3Conn) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log.WithFields(logrus.Fields{"topic": msg.Topic(), "panic": r}).Error("message handler panic recovered")
			}
		}()
		handler(msg.Topic(), msg.Payload())
	}
}
