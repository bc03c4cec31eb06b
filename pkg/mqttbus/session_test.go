package mqttbus

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type subscription struct {
	topic    string
	qos      byte
	callback mqtt.MessageHandler
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	subs      []subscription
	published []string
	unsubbed  []string
}

func (c *fakeClient) IsConnected() bool      { return c.connected }
func (c *fakeClient) IsConnectionOpen() bool { return c.connected }

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	c.mu.Lock()
	c.published = append(c.published, topic)
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subs = append(c.subs, subscription{topic, qos, cb})
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	for t, q := range filters {
		c.Subscribe(t, q, cb)
	}
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	c.unsubbed = append(c.unsubbed, topics...)
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) subTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.subs))
	for i, s := range c.subs {
		out[i] = s.topic
	}
	return out
}

type fakeMessage struct {
	topic   string
	payload string
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return []byte(m.payload) }
func (m *fakeMessage) Ack()              {}

// connectFake wires a Session to a fake client and returns the captured
// options so tests can drive paho's connection callbacks.
func connectFake(t *testing.T) (*Session, *fakeClient, *mqtt.ClientOptions) {
	t.Helper()
	fake := &fakeClient{}
	var captured *mqtt.ClientOptions
	orig := newClient
	newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		captured = o
		return fake
	}
	t.Cleanup(func() { newClient = orig })

	s, err := Connect(context.Background(), Config{Host: "localhost", Port: 1883, ClientID: "test"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s, fake, captured
}

func TestSubscribeDeliversToHandler(t *testing.T) {
	s, fake, _ := connectFake(t)

	var got []string
	s.OnMessage(func(tpc string, msg mqtt.Message) error {
		got = append(got, tpc+"="+string(msg.Payload()))
		return nil
	})
	s.Subscribe("ns/Fern/out/moisture", QoSTelemetry)

	if len(fake.subs) != 1 {
		t.Fatalf("subs = %v", fake.subTopics())
	}
	fake.subs[0].callback(fake, &fakeMessage{topic: "ns/Fern/out/moisture", payload: "41"})
	if len(got) != 1 || got[0] != "ns/Fern/out/moisture=41" {
		t.Errorf("handler saw %v", got)
	}
}

// After a transport drop, every previously active subscription is
// re-issued when the connection returns, before any new delivery.
func TestReconnectResubscribes(t *testing.T) {
	s, fake, opts := connectFake(t)

	s.Subscribe("ns/Fern/out/#", QoSTelemetry)
	s.Subscribe("ns/Ivy/out/#", QoSTelemetry)

	// transport drop: broker forgets this client's subscriptions
	fake.mu.Lock()
	fake.connected = false
	fake.subs = nil
	fake.mu.Unlock()

	// paho reconnects and fires the OnConnect hook
	fake.Connect()
	opts.OnConnect(fake)

	topics := fake.subTopics()
	if len(topics) != 2 {
		t.Fatalf("resubscribed %v, want both topics", topics)
	}
	seen := map[string]bool{}
	for _, tp := range topics {
		seen[tp] = true
	}
	if !seen["ns/Fern/out/#"] || !seen["ns/Ivy/out/#"] {
		t.Errorf("resubscribed %v", topics)
	}
}

func TestUnsubscribedTopicNotResubscribed(t *testing.T) {
	s, fake, opts := connectFake(t)

	s.Subscribe("ns/Fern/out/#", QoSTelemetry)
	s.Unsubscribe("ns/Fern/out/#")

	fake.mu.Lock()
	fake.subs = nil
	fake.mu.Unlock()
	opts.OnConnect(fake)

	if topics := fake.subTopics(); len(topics) != 0 {
		t.Errorf("resubscribed %v after unsubscribe", topics)
	}
}

func TestPublishWhileDisconnectedIsDropped(t *testing.T) {
	s, fake, _ := connectFake(t)

	fake.mu.Lock()
	fake.connected = false
	fake.mu.Unlock()

	if err := s.Publish("ns/Fern/in", QoSCommand, "pump_on_250"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(fake.published) != 0 {
		t.Errorf("published %v while disconnected", fake.published)
	}
}

func TestCloseUnsubscribesAndDisconnects(t *testing.T) {
	s, fake, _ := connectFake(t)
	s.Subscribe("ns/Fern/out/#", QoSTelemetry)

	s.Close()
	if len(fake.unsubbed) != 1 || fake.unsubbed[0] != "ns/Fern/out/#" {
		t.Errorf("unsubscribed %v", fake.unsubbed)
	}
	if fake.IsConnected() {
		t.Error("still connected after Close")
	}
}
