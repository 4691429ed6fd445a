package statereport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("statereport: mqtt client not connected")

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// MQTTConfig configures the paho client.
type MQTTConfig struct {
	// Broker is "host:port" or a full URL such as "tcp://host:1883".
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	Retain   bool

	ConnectTimeout time.Duration
	// MaxReconnectInterval caps the backoff between reconnect attempts.
	MaxReconnectInterval time.Duration
}

// MQTTPublisher publishes over an eclipse/paho client.
type MQTTPublisher struct {
	client paho.Client
	qos    byte
	retain bool
	logger *slog.Logger
}

// DialMQTT connects to cfg.Broker. The client reconnects on its own after
// the first successful connect.
func DialMQTT(ctx context.Context, cfg MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("statereport: broker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "statereport.mqtt")
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "xiaozhi-" + uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = 10 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("connected", "broker", broker, "client_id", clientID)
	})

	client := paho.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("statereport: connect %s: %w", broker, err)
	}
	return &MQTTPublisher{client: client, qos: cfg.QoS, retain: cfg.Retain, logger: logger}, nil
}

// Publish sends payload and waits for the broker acknowledgement.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := wait(ctx, p.client.Publish(topic, p.qos, p.retain, payload)); err != nil {
		return fmt.Errorf("statereport: publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing 250ms for in-flight work.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
