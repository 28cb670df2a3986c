package record

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/mklimuk/gpib/plan"
	"github.com/mklimuk/gpib/sampler"
)

const (
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesceMs   = 250
)

var _ sampler.Sink = &MQTTSink{}

// Message is the JSON payload published for every row.
type Message struct {
	Run    string         `json:"run"`
	Seq    uint64         `json:"seq"`
	Time   time.Time      `json:"time"`
	Values map[string]any `json:"values"`
}

// MQTTSink publishes rows as JSON messages. Every sink gets a random run
// identifier so consumers can tell restarts of the logger apart.
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	qos     byte
	retain  bool
	columns []string
	run     string
	seq     atomic.Uint64
	timeout time.Duration
	logger  *slog.Logger
}

// NewMQTTSink creates a sink for the broker described by cfg. Connect must be
// called before the first row is emitted.
func NewMQTTSink(cfg plan.MQTT, columns []string, logger *slog.Logger) *MQTTSink {
	if logger == nil {
		logger = slog.Default()
	}
	run := uuid.NewString()
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gpib-" + run[:8]
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to mqtt broker", "broker", cfg.Broker, "client_id", clientID)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	return newMQTTSink(mqtt.NewClient(opts), cfg, columns, run, logger)
}

func newMQTTSink(client mqtt.Client, cfg plan.MQTT, columns []string, run string, logger *slog.Logger) *MQTTSink {
	return &MQTTSink{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		columns: columns,
		run:     run,
		timeout: defaultPublishTimeout,
		logger:  logger,
	}
}

// Run returns the identifier included in every message.
func (s *MQTTSink) Run() string {
	return s.run
}

func (s *MQTTSink) Connect(ctx context.Context) error {
	if err := wait(ctx, s.client.Connect(), s.timeout); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *MQTTSink) Emit(ctx context.Context, row sampler.Row) error {
	values := make(map[string]any, len(s.columns))
	for i, col := range s.columns {
		if i < len(row.Values) {
			values[col] = row.Values[i]
		}
	}
	payload, err := json.Marshal(Message{
		Run:    s.run,
		Seq:    s.seq.Add(1),
		Time:   row.Start,
		Values: values,
	})
	if err != nil {
		return fmt.Errorf("mqtt payload: %w", err)
	}
	if err := wait(ctx, s.client.Publish(s.topic, s.qos, s.retain, payload), s.timeout); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", s.topic, err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesceMs)
	}
	return nil
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("no acknowledgement within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
