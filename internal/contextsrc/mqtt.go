package contextsrc

import (
	"context"
	"fmt"
	"log"
	"maps"
	"sync"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// disconnectQuiesce is how long Stop lets in-flight work finish, in
// milliseconds.
const disconnectQuiesce = 250

// MQTT keeps the latest value published on each subscribed topic. Topics
// map to context variable names.
type MQTT struct {
	client  mqtt.Client
	topics  map[string]string
	started atomic.Bool

	mu     sync.RWMutex
	values map[string]interface{}
}

// NewMQTT creates a source over client. topics maps each MQTT topic to the
// context variable its payloads are stored under.
func NewMQTT(client mqtt.Client, topics map[string]string) *MQTT {
	return &MQTT{
		client: client,
		topics: maps.Clone(topics),
		values: make(map[string]interface{}),
	}
}

// DialMQTT connects to broker and returns a started source. Subscriptions
// are restored whenever the client reconnects.
func DialMQTT(ctx context.Context, broker, clientID string, topics map[string]string) (*MQTT, error) {
	m := NewMQTT(nil, topics)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Printf("[WARN] MQTT connection lost: %v", err)
	}
	m.client = mqtt.NewClient(opts)

	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Start connects if needed and subscribes to every topic. A connection made
// here is closed again when subscribing fails.
func (m *MQTT) Start(ctx context.Context) error {
	connected := false
	if !m.client.IsConnected() {
		log.Printf("[INFO] Connecting to MQTT broker")
		if token := m.client.Connect(); token.Wait() && token.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
		}
		connected = true
	}

	if err := m.subscribe(ctx, m.client); err != nil {
		if connected {
			m.client.Disconnect(disconnectQuiesce)
		}
		return err
	}
	m.started.Store(true)
	return nil
}

// onConnect runs on every (re)connect. With a clean session the broker
// forgets subscriptions across reconnects, so they are made again.
func (m *MQTT) onConnect(client mqtt.Client) {
	if !m.started.Load() {
		return
	}
	log.Printf("[INFO] MQTT reconnected, resubscribing to %d topics", len(m.topics))
	if err := m.subscribe(context.Background(), client); err != nil {
		log.Printf("[ERROR] Failed to resubscribe: %v", err)
	}
}

func (m *MQTT) subscribe(ctx context.Context, client mqtt.Client) error {
	for topic := range m.topics {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Printf("[DEBUG] Subscribing to %s", topic)
		if token := client.Subscribe(topic, 0, m.handle); token.Wait() && token.Error() != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
		}
	}
	return nil
}

// handle is the paho message handler for every subscription.
func (m *MQTT) handle(_ mqtt.Client, msg mqtt.Message) {
	name, ok := m.topics[msg.Topic()]
	if !ok {
		return
	}
	value := parsePayload(msg.Payload())

	m.mu.Lock()
	m.values[name] = value
	m.mu.Unlock()
}

func (m *MQTT) Snapshot(ctx context.Context) (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values), nil
}

// Stop unsubscribes and disconnects.
func (m *MQTT) Stop() {
	topics := make([]string, 0, len(m.topics))
	for topic := range m.topics {
		topics = append(topics, topic)
	}
	if m.client.IsConnected() {
		if token := m.client.Unsubscribe(topics...); token.Wait() && token.Error() != nil {
			log.Printf("[WARN] Failed to unsubscribe: %v", token.Error())
		}
	}
	m.client.Disconnect(disconnectQuiesce)
}
