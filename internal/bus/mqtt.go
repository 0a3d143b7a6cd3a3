package bus

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTBridge forwards bus messages to an MQTT broker so out-of-process
// consumers (monitor, portal) can follow live data. It is a plain subscriber:
// broker trouble never reaches the publisher.
type MQTTBridge struct {
	client      mqtt.Client
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewMQTTBridge connects to the broker. Auto-reconnect is left to paho.
func NewMQTTBridge(broker, clientID, topicPrefix string, qos byte, logger *zap.Logger) (*MQTTBridge, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return &MQTTBridge{
		client:      client,
		topicPrefix: topicPrefix,
		qos:         qos,
		logger:      logger,
	}, nil
}

// Run consumes messages until ctx is cancelled or msgs is closed.
func (b *MQTTBridge) Run(ctx context.Context, msgs <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b.forward(msg)
		}
	}
}

func (b *MQTTBridge) forward(msg Message) {
	body, err := json.Marshal(msg.Payload())
	if err != nil {
		b.logger.Error("marshal cycle payload", zap.Error(err))
		return
	}
	topic := b.topicPrefix + "/" + msg.Topic
	token := b.client.Publish(topic, b.qos, false, body)
	token.Wait()
	if token.Error() != nil {
		b.logger.Warn("MQTT publish failed",
			zap.String("topic", topic), zap.Error(token.Error()))
	}
}

// Close disconnects from the broker.
func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
}
