package client

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTSettings carries one broker connection.
type MQTTSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
	ClientID string
}

// MQTT publishes JSON payloads to a broker topic. Connect before use and
// Disconnect on every exit path.
type MQTT struct {
	settings   MQTTSettings
	connection ConnectionSettings
	client     pahomqtt.Client
}

// NewMQTT creates an MQTT client. A missing client id gets a generated one
// so broker-side session state stays per-instance.
func NewMQTT(settings MQTTSettings, connection ConnectionSettings) *MQTT {
	if settings.Port == 0 {
		settings.Port = 1883
	}
	if settings.ClientID == "" {
		settings.ClientID = "Anonymizer-" + uuid.NewString()
	}
	return &MQTT{settings: settings, connection: connection}
}

// Connect establishes the broker session.
func (m *MQTT) Connect() error {
	scheme := "tcp"
	opts := pahomqtt.NewClientOptions()
	if m.settings.SSL {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, m.settings.Host, m.settings.Port))
	opts.SetClientID(m.settings.ClientID)
	if m.settings.Username != "" {
		slog.Debug("connecting as user", "username", m.settings.Username)
		opts.SetUsername(m.settings.Username)
		opts.SetPassword(m.settings.Password)
	}
	opts.SetConnectTimeout(m.connection.orDefault().Wait)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(m.connection.orDefault().Wait * time.Duration(m.connection.orDefault().Attempts)) {
		return fmt.Errorf("%w: MQTT connect timed out", ErrClientInitialization)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrClientInitialization, err)
	}
	m.client = client
	return nil
}

// Publish sends a JSON payload to the topic.
func (m *MQTT) Publish(topic string, message any) error {
	if m.client == nil {
		return fmt.Errorf("%w: MQTT client not connected", ErrClient)
	}
	raw, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%w: unserializable MQTT payload: %w", ErrClientRequest, err)
	}
	token := m.client.Publish(topic, 0, false, raw)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrClientRequest, err)
	}
	return nil
}

// Disconnect tears the broker session down.
func (m *MQTT) Disconnect() {
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}
}
