// Package notify publishes completed sync summaries to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/i474232898/weather-quilt/internal/weather"
)

const publishTimeout = 5 * time.Second

// publisher is the part of mqtt.Client the notifier uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config names the broker and topic.
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string
	ClientID string
}

// MQTTNotifier implements weather.Notifier.
type MQTTNotifier struct {
	client publisher
	topic  string
	logger *slog.Logger
}

var _ weather.Notifier = (*MQTTNotifier)(nil)

// NewMQTTNotifier builds a client for cfg.Broker. Call Connect before the first sync.
func NewMQTTNotifier(cfg Config, logger *slog.Logger) *MQTTNotifier {
	if logger == nil {
		logger = slog.Default()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	return &MQTTNotifier{client: mqtt.NewClient(opts), topic: cfg.Topic, logger: logger}
}

// Connect waits for the first connection until ctx is done. With connect-retry enabled the
// client keeps trying in the background after a timeout.
func (n *MQTTNotifier) Connect(ctx context.Context) error {
	c, ok := n.client.(mqtt.Client)
	if !ok {
		return nil
	}
	token := c.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Close disconnects, giving in-flight publishes a moment to finish.
func (n *MQTTNotifier) Close() {
	if c, ok := n.client.(mqtt.Client); ok {
		c.Disconnect(250)
	}
}

// NotifySync publishes result as JSON with QoS 1.
func (n *MQTTNotifier) NotifySync(ctx context.Context, result weather.SyncResult) error {
	if !n.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal sync result: %w", err)
	}

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	token := n.client.Publish(n.topic, 1, false, data)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout for topic %s", n.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish sync result: %w", err)
	}

	n.logger.Debug("published sync result", "topic", n.topic, "run_id", result.RunID)
	return nil
}
