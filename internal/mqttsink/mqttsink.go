// Package mqttsink publishes one JSON message per tick to an MQTT broker.
package mqttsink

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/vitalis-app/selector/internal/config"
	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/models"
)

const (
	queueSize      = 256
	publishTimeout = 5 * time.Second
	disconnectWait = 250 // milliseconds
)

// ErrQueueFull is returned by Write when the publish queue is saturated.
var ErrQueueFull = errors.New("mqtt publish queue full")

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Sink is a LogSink that forwards snapshots to MQTT. Write only enqueues;
// Start performs the publishing.
type Sink struct {
	client publisher
	topic  string
	qos    byte
	logger *zap.Logger
	queue  chan models.MetricSnapshot
	close  func()
}

// Connect dials the broker described by cfg. runID is substituted into the
// topic pattern.
func Connect(cfg config.MQTTConfig, runID string, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("Connected to broker", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("Connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connect to %s", cfg.Broker)
	}

	s := newSink(client, formatTopic(cfg.Topic, runID), cfg.QoS, logger)
	s.close = func() { client.Disconnect(disconnectWait) }
	return s, nil
}

func newSink(client publisher, topic string, qos byte, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		client: client,
		topic:  topic,
		qos:    qos,
		logger: logger,
		queue:  make(chan models.MetricSnapshot, queueSize),
	}
}

// Topic returns the resolved topic.
func (s *Sink) Topic() string { return s.topic }

// Write queues snap for publishing. It never blocks.
func (s *Sink) Write(snap models.MetricSnapshot) error {
	select {
	case s.queue <- snap:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start publishes queued snapshots until ctx is cancelled, then drains the
// queue and disconnects.
func (s *Sink) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case snap := <-s.queue:
					s.publish(snap)
				default:
					if s.close != nil {
						s.close()
					}
					return
				}
			}
		case snap := <-s.queue:
			s.publish(snap)
		}
	}
}

func (s *Sink) publish(snap models.MetricSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return
	}

	token := s.client.Publish(s.topic, s.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		s.logger.Warn("Publish timed out", zap.Uint64("tick", snap.Tick))
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Warn("Publish failed", zap.Uint64("tick", snap.Tick), zap.Error(err))
	}
}

// formatTopic replaces the {run_id} placeholder.
func formatTopic(pattern, runID string) string {
	return strings.ReplaceAll(pattern, "{run_id}", runID)
}
