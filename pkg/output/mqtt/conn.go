package mqtt

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	// qosAtLeastOnce is used for every publish and subscription.
	qosAtLeastOnce = 1

	// subackFailure is the granted-QoS value of a refused subscription
	// (MQTT 3.1.1); MQTT 5 reason codes from 0x80 up are failures too.
	subackFailure = 0x80

	defaultConnectTimeout  = 10 * time.Second
	defaultPublishTimeout  = 5 * time.Second
	defaultKeepAlive       = 60 * time.Second
	defaultDisconnectQuiet = 250 // milliseconds

	eventBuffer = 16
)

// EventKind distinguishes connection lifecycle events.
type EventKind int

const (
	Interrupted EventKind = iota
	Resumed
)

func (k EventKind) String() string {
	if k == Resumed {
		return "resumed"
	}
	return "interrupted"
}

// Event is a connection lifecycle notification.
type Event struct {
	Kind EventKind
	// SessionPresent is set on Resumed when the broker kept the session,
	// subscriptions included.
	SessionPresent bool
	// Err is the cause of an Interrupted event, if known.
	Err error
}

// SubscriptionResult is the broker's answer for one topic of a resubscription.
type SubscriptionResult struct {
	Topic    string
	QoS      byte
	Rejected bool
}

// grantResult maps the SUBACK code of one topic.
func grantResult(topic string, code byte) SubscriptionResult {
	return SubscriptionResult{Topic: topic, QoS: code, Rejected: code >= subackFailure}
}

// subackResults maps SUBACK reason codes to topics by position. A topic
// without a reason code counts as rejected.
func subackResults(topics []string, reasons []byte) []SubscriptionResult {
	out := make([]SubscriptionResult, len(topics))
	for i, t := range topics {
		if i < len(reasons) {
			out[i] = grantResult(t, reasons[i])
			continue
		}
		out[i] = SubscriptionResult{Topic: t, Rejected: true}
	}
	return out
}

// MessageHandler is called for every message received on a subscribed topic.
// It runs on the client's goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// Conn is a broker connection with automatic reconnect.
type Conn interface {
	// Connect establishes the first connection and blocks until the broker
	// acknowledges it.
	Connect(ctx context.Context) error
	// Publish sends payload at QoS 1.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe subscribes at QoS 1 and tracks the subscription for
	// ResubscribeExisting.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	// ResubscribeExisting re-issues every tracked subscription and reports the
	// grant for each topic.
	ResubscribeExisting(ctx context.Context) ([]SubscriptionResult, error)
	// Events delivers lifecycle notifications after Connect succeeded.
	Events() <-chan Event
	Close() error
}

// subscriptions tracks active subscriptions for re-subscription on reconnect.
type subscriptions struct {
	mu   sync.RWMutex
	subs map[string]MessageHandler
}

func newSubscriptions() *subscriptions {
	return &subscriptions{subs: make(map[string]MessageHandler)}
}

func (s *subscriptions) add(topic string, h MessageHandler) {
	s.mu.Lock()
	s.subs[topic] = h
	s.mu.Unlock()
}

func (s *subscriptions) remove(topic string) {
	s.mu.Lock()
	delete(s.subs, topic)
	s.mu.Unlock()
}

func (s *subscriptions) handler(topic string) (MessageHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.subs[topic]
	return h, ok
}

// topics returns the tracked topics in a stable order.
func (s *subscriptions) topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// eventSink fans lifecycle events from client callbacks into a channel.
type eventSink struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan Event, eventBuffer), done: make(chan struct{})}
}

// emit blocks until the event is taken or the sink is closed.
func (e *eventSink) emit(ev Event) {
	select {
	case e.ch <- ev:
	case <-e.done:
	}
}

func (e *eventSink) close() {
	e.once.Do(func() { close(e.done) })
}
