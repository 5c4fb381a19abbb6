package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/sirupsen/logrus"
)

const (
	// AWSIoTPort is the AWS IoT Core port for MQTT over mutual TLS.
	AWSIoTPort = "8883"

	// DefaultAWSKeepAlive is the keep-alive used with AWS IoT, in seconds.
	DefaultAWSKeepAlive = 6

	// defaultSessionExpiry keeps the broker session for an hour after a
	// disconnect so queued QoS 1 messages and subscriptions survive outages.
	defaultSessionExpiry = 3600

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// AutoConfig configures an AutoConn.
type AutoConfig struct {
	// Endpoint is a host name, optionally with a port (default 8883).
	Endpoint  string
	ClientID  string
	Username  string
	Password  string
	KeepAlive uint16
	TLS       *tls.Config
}

// AutoConn is a Conn over MQTT 5 managed by autopaho.
type AutoConn struct {
	cfg    AutoConfig
	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc
	subs   *subscriptions
	events *eventSink
	log    *logrus.Entry

	everConnected atomic.Bool
}

// LoadTLSConfig builds a mutual-TLS configuration from PEM files.
func LoadTLSConfig(certFile, keyFile, rootCAFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	pem, err := os.ReadFile(rootCAFile)
	if err != nil {
		return nil, fmt.Errorf("read root CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("root CA %s: no certificates found", rootCAFile)
	}
	return &tls.Config{
		MinVersion:   tlsMinVersion,
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
	}, nil
}

// EndpointURL returns the mqtts URL for an endpoint.
func EndpointURL(endpoint string) (*url.URL, error) {
	hostPort := endpoint
	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		hostPort = net.JoinHostPort(endpoint, AWSIoTPort)
	}
	u, err := url.Parse("mqtts://" + hostPort)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	return u, nil
}

func NewAutoConn(cfg AutoConfig, log *logrus.Entry) *AutoConn {
	return &AutoConn{
		cfg:    cfg,
		subs:   newSubscriptions(),
		events: newEventSink(),
		log:    log,
	}
}

func (c *AutoConn) clientConfig(serverURL *url.URL) autopaho.ClientConfig {
	keepAlive := c.cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = DefaultAWSKeepAlive
	}
	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		TlsCfg:                        c.cfg.TLS,
		KeepAlive:                     keepAlive,
		CleanStartOnInitialConnection: false,
		SessionExpiryInterval:         defaultSessionExpiry,
		ConnectTimeout:                defaultConnectTimeout,
		OnConnectionUp: func(_ *autopaho.ConnectionManager, ack *paho.Connack) {
			if c.everConnected.CompareAndSwap(false, true) {
				return
			}
			c.events.emit(Event{Kind: Resumed, SessionPresent: ack.SessionPresent})
		},
		OnConnectError: func(err error) {
			c.log.WithError(err).Warn("broker connection attempt failed")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				c.events.emit(Event{Kind: Interrupted, Err: err})
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.events.emit(Event{Kind: Interrupted, Err: fmt.Errorf("server disconnect, reason code %d", d.ReasonCode)})
			},
		},
	}
	if c.cfg.Username != "" {
		cfg.ConnectUsername = c.cfg.Username
		cfg.ConnectPassword = []byte(c.cfg.Password)
	}
	return cfg
}

func (c *AutoConn) Connect(ctx context.Context) error {
	serverURL, err := EndpointURL(c.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// the connection manager runs until Close, independent of ctx
	runCtx, cancel := context.WithCancel(context.Background())
	cm, err := autopaho.NewConnection(runCtx, c.clientConfig(serverURL))
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	connCtx, connCancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.cm, c.cancel = cm, cancel
	c.log.WithFields(logrus.Fields{"endpoint": serverURL.Host, "client_id": c.cfg.ClientID}).Info("connected to broker")
	return nil
}

// Publish queues the message; autopaho delivers it at QoS 1 once a
// connection is available.
func (c *AutoConn) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if c.cm == nil {
		return ErrNotConnected
	}
	err := c.cm.PublishViaQueue(ctx, &autopaho.QueuePublish{
		Publish: &paho.Publish{
			Topic:   topic,
			QoS:     qosAtLeastOnce,
			Payload: payload,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (c *AutoConn) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if c.cm == nil {
		return ErrNotConnected
	}
	c.subs.add(topic, handler)
	results, err := c.subscribe(ctx, []string{topic})
	if err != nil {
		c.subs.remove(topic)
		return err
	}
	if results[0].Rejected {
		c.subs.remove(topic)
		return fmt.Errorf("%w: %s", ErrSubscriptionRejected, topic)
	}
	return nil
}

// subscribe sends one SUBSCRIBE for all topics and maps the SUBACK reason
// codes back to them.
func (c *AutoConn) subscribe(ctx context.Context, topics []string) ([]SubscriptionResult, error) {
	opts := make([]paho.SubscribeOptions, 0, len(topics))
	for _, t := range topics {
		opts = append(opts, paho.SubscribeOptions{Topic: t, QoS: qosAtLeastOnce})
	}
	subCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	ack, err := c.cm.Subscribe(subCtx, &paho.Subscribe{Subscriptions: opts})
	if err != nil && ack == nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return subackResults(topics, ack.Reasons), nil
}

func (c *AutoConn) ResubscribeExisting(ctx context.Context) ([]SubscriptionResult, error) {
	if c.cm == nil {
		return nil, ErrNotConnected
	}
	topics := c.subs.topics()
	if len(topics) == 0 {
		return nil, nil
	}
	return c.subscribe(ctx, topics)
}

func (c *AutoConn) dispatch(topic string, payload []byte) {
	h, ok := c.subs.handler(topic)
	if !ok {
		c.log.WithField("topic", topic).Debug("message on untracked topic")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{"topic": topic, "panic": r}).Error("message handler panic recovered")
		}
	}()
	h(topic, payload)
}

func (c *AutoConn) Events() <-chan Event { return c.events.ch }

func (c *AutoConn) Close() error {
	c.events.close()
	if c.cm == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	err := c.cm.Disconnect(ctx)
	c.cancel()
	return err
}
