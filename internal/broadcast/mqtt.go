package broadcast

import (
	"context"
	"fmt"

	"iot-telemetry-backend/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes payloads to <prefix>/<topic> on an MQTT broker.
type MQTTPublisher struct {
	client   mqttClient
	prefix   string
	qos      byte
	retained bool
}

// DialMQTT connects to the configured broker and returns a publisher on it.
func DialMQTT(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return newMQTTPublisher(client, cfg), nil
}

func newMQTTPublisher(client mqttClient, cfg config.MQTTConfig) *MQTTPublisher {
	return &MQTTPublisher{
		client:   client,
		prefix:   cfg.TopicPrefix,
		qos:      cfg.QoS,
		retained: cfg.Retained,
	}
}

// Publish sends payload and waits for the broker acknowledgement or ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	full := topic
	if p.prefix != "" {
		full = p.prefix + "/" + topic
	}
	token := p.client.Publish(full, p.qos, p.retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to topic %s: %w", full, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", full, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
