package backend

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/reedholm/skymirror/internal/infrastructure/config"
)

const (
	defaultMQTTHost    = "mqtt-cluster.arloxcld.com"
	mqttConnectTimeout = 30 * time.Second
)

// mqttChannel is the broker-backed push transport. The broker host comes
// from the session response (overridable in config); topics are derived
// from the account's user id and each hub's routing id. Payloads carry the
// same JSON messages the SSE flavour does.
type mqttChannel struct {
	cfg       *config.Config
	logger    Logger
	userID    string
	token     string
	xCloudIDs []string

	mu       sync.Mutex
	client   pahomqtt.Client
	messages chan map[string]any
	closed   bool
}

func newMQTTChannel(cfg *config.Config, logger Logger, userID, token string, xCloudIDs []string) *mqttChannel {
	return &mqttChannel{
		cfg:       cfg,
		logger:    logger,
		userID:    userID,
		token:     token,
		xCloudIDs: xCloudIDs,
	}
}

func (m *mqttChannel) brokerURL() string {
	host := m.cfg.Cloud.MQTTHost
	if host == "" {
		host = defaultMQTTHost
	}
	if strings.Contains(host, "://") {
		return host
	}
	return "ssl://" + host + ":8883"
}

func (m *mqttChannel) topics() []string {
	topics := []string{
		fmt.Sprintf("u/%s/in/userSession/connect", m.userID),
		fmt.Sprintf("u/%s/in/userSession/disconnect", m.userID),
	}
	for _, id := range m.xCloudIDs {
		topics = append(topics, fmt.Sprintf("d/%s/out/#", id))
	}
	return topics
}

func (m *mqttChannel) open(_ context.Context) (<-chan map[string]any, error) {
	messages := make(chan map[string]any, 64)

	opts := pahomqtt.NewClientOptions().
		AddBroker(m.brokerURL()).
		SetClientID(fmt.Sprintf("user_%s_%d", m.userID, time.Now().Unix())).
		SetUsername(m.userID).
		SetPassword(m.token).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(mqttConnectTimeout)

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		m.logger.Warn("broker connection lost", "error", err)
		m.close()
	})

	client := pahomqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(mqttConnectTimeout) || token.Error() != nil {
		return nil, fmt.Errorf("connecting to broker: %w", connectError(token))
	}

	m.mu.Lock()
	m.client = client
	m.messages = messages
	m.mu.Unlock()

	filters := make(map[string]byte, len(m.topics()))
	for _, topic := range m.topics() {
		filters[topic] = 0
	}
	if token := client.SubscribeMultiple(filters, m.onMessage); !token.WaitTimeout(mqttConnectTimeout) || token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribing: %w", connectError(token))
	}

	// The broker has no SSE-style hello; synthesize the connected marker
	// so the client state machine sees the same first message either way.
	messages <- map[string]any{"status": "connected"}
	return messages, nil
}

// onMessage decodes one broker payload. Handler panics and malformed
// payloads must not kill the receive path.
func (m *mqttChannel) onMessage(_ pahomqtt.Client, raw pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("broker handler panic recovered", "topic", raw.Topic(), "panic", r)
		}
	}()

	var msg map[string]any
	if err := json.Unmarshal(raw.Payload(), &msg); err != nil {
		m.logger.Debug("skipping malformed broker payload", "topic", raw.Topic(), "error", err)
		return
	}

	// Held across the non-blocking send so close() cannot close the
	// channel mid-send.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.messages == nil {
		return
	}
	select {
	case m.messages <- msg:
	default:
		m.logger.Warn("dropping event, consumer too slow", "topic", raw.Topic())
	}
}

func (m *mqttChannel) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	client := m.client
	messages := m.messages
	m.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	if messages != nil {
		close(messages)
	}
}

func connectError(token pahomqtt.Token) error {
	if err := token.Error(); err != nil {
		return err
	}
	return fmt.Errorf("timed out")
}
