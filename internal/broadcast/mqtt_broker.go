package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"github.com/okbozin/okboz-crm-sub003/pkg/config"
	"go.uber.org/zap"
)

// MQTTBroker relays changes through one MQTT topic. Like RedisBroker, local
// subscribers are fed from the topic, so an instance also receives its own changes.
type MQTTBroker struct {
	*LocalBroker
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTBroker connects to the configured broker and subscribes to the change topic.
func NewMQTTBroker(cfg *config.MQTTConfig, log *zap.Logger) (*MQTTBroker, error) {
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
		return nil, fmt.Errorf("broadcast: connect to MQTT broker: %w", token.Error())
	}

	b, err := newMQTTBroker(client, cfg.Topic, cfg.QoS, log)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	return b, nil
}

func newMQTTBroker(client mqtt.Client, topic string, qos byte, log *zap.Logger) (*MQTTBroker, error) {
	b := &MQTTBroker{
		LocalBroker: NewLocalBroker(log),
		client:      client,
		topic:       topic,
		qos:         qos,
	}
	if token := client.Subscribe(topic, qos, b.onMessage); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("broadcast: subscribe to topic %s: %w", topic, token.Error())
	}
	b.log.Info("MQTT broker subscribed", zap.String("topic", topic), zap.Uint8("qos", qos))
	return b, nil
}

func (b *MQTTBroker) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var change kv.Change
	if err := json.Unmarshal(msg.Payload(), &change); err != nil {
		b.log.Warn("Dropping undecodable change message",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}
	_ = b.LocalBroker.Publish(context.Background(), change)
}

func (b *MQTTBroker) Publish(_ context.Context, change kv.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("broadcast: encode change: %w", err)
	}
	token := b.client.Publish(b.topic, b.qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("broadcast: publish to topic %s: %w", b.topic, token.Error())
	}
	return nil
}

func (b *MQTTBroker) Close() error {
	token := b.client.Unsubscribe(b.topic)
	token.Wait()
	b.client.Disconnect(250)
	_ = b.LocalBroker.Close()
	if token.Error() != nil {
		return fmt.Errorf("broadcast: unsubscribe: %w", token.Error())
	}
	return nil
}
