package ingest

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	mqttKeepAlive      = 30 * time.Second
	mqttConnectTimeout = 10 * time.Second
	mqttQoS            = 1
)

// Consumer bridges the MQTT broker and the ingestion pipeline. It subscribes
// to every device topic under the configured namespace and replays each
// message into the handler; reconnects and resubscribes are delegated to the
// client's own auto-reconnect.
type Consumer struct {
	client    mqtt.Client
	namespace string
	logger    zerolog.Logger
	handler   func(topic string, payload []byte)
}

func NewConsumer(brokerURL, clientID, namespace string, handler func(topic string, payload []byte), logger zerolog.Logger) *Consumer {
	c := &Consumer{
		namespace: namespace,
		logger:    logger,
		handler:   handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetConnectTimeout(mqttConnectTimeout)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt connection lost")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info().Str("broker", brokerURL).Msg("connected to mqtt broker")
		c.subscribe()
	})

	c.client = mqtt.NewClient(opts)
	return c
}

func (c *Consumer) Connect() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	return nil
}

func (c *Consumer) Disconnect() {
	c.client.Disconnect(1000)
}

// Publish sends a payload on a topic, used for pushing commands toward a
// device. Satisfies commands.Publisher.
func (c *Consumer) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, mqttQoS, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

func (c *Consumer) subscribe() {
	topic := fmt.Sprintf("%s/+/+", c.namespace)
	token := c.client.Subscribe(topic, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Str("topic", topic).Msg("failed to subscribe")
		return
	}
	c.logger.Info().Str("topic", topic).Msg("subscribed")
}
