// Package status publishes the source configuration to an MQTT broker whenever it changes.
package status

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ftl/panaweb/core"
)

// DefaultTopic for status messages.
const DefaultTopic = "panaweb/status"

const (
	qos            = 1
	publishTimeout = 5 * time.Second
	quiesce        = 250
)

// Message is the payload of a status message.
type Message struct {
	Timestamp int64             `json:"timestamp"`
	Config    core.SourceConfig `json:"config"`
}

// client is the part of mqtt.Client used by the publisher.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends the latest configuration as retained message.
type Publisher struct {
	client  client
	topic   string
	logger  *zap.Logger
	updates chan core.SourceConfig
}

// Connect to the given broker.
func Connect(broker, topic string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("panaweb_" + uuid.NewString()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connected", zap.String("broker", broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(publishTimeout) {
		logger.Warn("MQTT broker not reachable yet, retrying in the background", zap.String("broker", broker))
	} else if token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "cannot connect to MQTT broker %s", broker)
	}

	return NewPublisher(c, topic, logger), nil
}

// NewPublisher returns a publisher that uses the given client.
func NewPublisher(c client, topic string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		client:  c,
		topic:   topic,
		logger:  logger,
		updates: make(chan core.SourceConfig, 1),
	}
}

// Update schedules the given configuration for publishing. It never blocks, only the latest configuration
// is kept. Update must be called from one goroutine only.
func (p *Publisher) Update(config core.SourceConfig) {
	select {
	case p.updates <- config:
		return
	default:
	}
	select {
	case <-p.updates:
	default:
	}
	select {
	case p.updates <- config:
	default:
	}
}

// Run publishes updates until the context is done.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.client.Disconnect(quiesce)
	for {
		select {
		case config := <-p.updates:
			if err := p.publish(config); err != nil {
				p.logger.Warn("publishing status failed", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Publisher) publish(config core.SourceConfig) error {
	data, err := json.Marshal(Message{Timestamp: time.Now().Unix(), Config: config})
	if err != nil {
		return errors.Wrap(err, "cannot marshal status")
	}
	token := p.client.Publish(p.topic, qos, true, data)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("publishing to %s timed out", p.topic)
	}
	return token.Error()
}
