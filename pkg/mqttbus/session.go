// Package mqttbus owns the lifecycle of the broker connection: connect
// with retry, resubscribe after a transport drop, and scoped release of
// the connection on shutdown.
package mqttbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler is the single downstream consumer of inbound messages.
type Handler func(topic string, msg mqtt.Message) error

// QoS levels used on this bus. Telemetry is best effort; actuator and
// registry commands ride the strongest guarantee to avoid double
// actuation.
const (
	QoSTelemetry byte = 0
	QoSCommand   byte = 2
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
}

// Session is a connected broker client plus the set of active
// subscriptions, re-issued as a whole whenever the connection comes back.
type Session struct {
	client mqtt.Client

	mu      sync.Mutex
	subs    map[string]byte // topic -> qos
	handler Handler
}

// newClient is swapped out in tests.
var newClient = mqtt.NewClient

// Connect dials the broker, retrying with exponential backoff. The
// returned session disconnects itself when ctx is cancelled.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	s := &Session{subs: make(map[string]byte)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(s.resubscribe)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqttbus: connection lost: %v", err)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	const maxRetries = 5

	err := backoff.Retry(func() error {
		s.client = newClient(opts)
		if token := s.client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("mqttbus: connect to %s:%d failed: %v", cfg.Host, cfg.Port, token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("mqttbus: could not establish connection after retries: %w", err)
	}
	log.Printf("mqttbus: connected to %s:%d", cfg.Host, cfg.Port)

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s, nil
}

// OnMessage registers the downstream consumer. Subscriptions made before
// the handler is set deliver into a logged drop.
func (s *Session) OnMessage(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Subscribe adds topic to the active set and issues the subscription. A
// disconnected session records the topic but sends nothing; resubscribe
// picks it up on the next connect.
func (s *Session) Subscribe(topic string, qos byte) {
	s.mu.Lock()
	s.subs[topic] = qos
	s.mu.Unlock()

	if !s.client.IsConnectionOpen() {
		log.Printf("mqttbus: not connected, subscribe %q deferred to reconnect", topic)
		return
	}
	s.issueSubscribe(s.client, topic, qos)
}

// Unsubscribe removes topic from the active set and, when connected,
// from the broker.
func (s *Session) Unsubscribe(topic string) {
	s.mu.Lock()
	delete(s.subs, topic)
	s.mu.Unlock()

	if !s.client.IsConnectionOpen() {
		log.Printf("mqttbus: not connected, unsubscribe %q skipped", topic)
		return
	}
	token := s.client.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Printf("mqttbus: unsubscribe %q: %v", topic, err)
	}
}

// Publish sends payload to topic. When the session is not connected the
// message is dropped with a log line, never queued.
func (s *Session) Publish(topic string, qos byte, payload string) error {
	if !s.client.IsConnectionOpen() {
		log.Printf("mqttbus: not connected, dropped publish to %q", topic)
		return nil
	}
	token := s.client.Publish(topic, qos, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttbus: publish to %q: %w", topic, err)
	}
	return nil
}

// Close releases the connection after unsubscribing everything.
func (s *Session) Close() {
	s.mu.Lock()
	topics := make([]string, 0, len(s.subs))
	for t := range s.subs {
		topics = append(topics, t)
	}
	s.mu.Unlock()

	if s.client.IsConnectionOpen() {
		for _, t := range topics {
			s.client.Unsubscribe(t).Wait()
		}
	}
	if s.client.IsConnected() {
		s.client.Disconnect(250)
		log.Printf("mqttbus: disconnected")
	}
}

// resubscribe re-issues every recorded subscription. Runs on every
// (re)connect before the broker resumes delivery to this client.
func (s *Session) resubscribe(client mqtt.Client) {
	s.mu.Lock()
	subs := make(map[string]byte, len(s.subs))
	for t, q := range s.subs {
		subs[t] = q
	}
	s.mu.Unlock()

	for t, q := range subs {
		s.issueSubscribe(client, t, q)
	}
}

func (s *Session) issueSubscribe(client mqtt.Client, topic string, qos byte) {
	token := client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h == nil {
			log.Printf("mqttbus: no handler registered, dropped message on %s", msg.Topic())
			return
		}
		if err := h(msg.Topic(), msg); err != nil {
			log.Printf("mqttbus: handler error on %s: %v", msg.Topic(), err)
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		log.Printf("mqttbus: subscribe %q: %v", topic, err)
		return
	}
	log.Printf("mqttbus: subscribed to %s (qos %d)", topic, qos)
}
