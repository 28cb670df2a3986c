package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/gpib/plan"
	"github.com/mklimuk/gpib/sampler"
)

var start = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func TestCSVSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewCSVSink(&buf, []string{"T7", "T8", "C1"}, plan.DefaultTimeFormat)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, sampler.Row{Start: start, Values: []any{23.456, 24.5, 0.1234568}}))
	require.NoError(t, s.Emit(ctx, sampler.Row{Start: start.Add(5 * time.Second), Values: []any{23.5, "OVERFLOW", 1e-7}}))
	require.NoError(t, s.Close())

	expected := "DateTime,T7,T8,C1\n" +
		"2024-03-09 14:05:07,23.456,24.5,0.1234568\n" +
		"2024-03-09 14:05:12,23.5,OVERFLOW,0.0000001\n"
	assert.Equal(t, expected, buf.String())
}

func TestOpenCSV_AppendsWithoutSecondHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	ctx := context.Background()
	row := sampler.Row{Start: start, Values: []any{1.5}}

	for range 2 {
		s, err := OpenCSV(path, []string{"V1"}, time.RFC3339)
		require.NoError(t, err)
		require.NoError(t, s.Emit(ctx, row))
		require.NoError(t, s.Close())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "DateTime,V1\n2024-03-09T14:05:07Z,1.5\n2024-03-09T14:05:07Z,1.5\n", string(data))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		given    any
		expected string
	}{
		{23.456, "23.456"},
		{-0.5, "-0.5"},
		{"text", "text"},
		{42, "42"},
		{nil, ""},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, FormatValue(test.given))
	}
}

// fakeToken completes immediately with err.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// stalledToken never completes.
type stalledToken struct {
	fakeToken
}

func (t *stalledToken) Done() <-chan struct{} { return nil }

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// fakeClient records publications. Methods not overridden panic through the
// nil embedded interface.
type fakeClient struct {
	mqtt.Client
	mx           sync.Mutex
	messages     []published
	publishErr   error
	stall        bool
	connected    bool
	disconnected int
}

func (c *fakeClient) Connect() mqtt.Token {
	c.connected = true
	return newToken(nil)
}

func (c *fakeClient) IsConnected() bool {
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.connected = false
	c.disconnected++
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	if c.stall {
		return &stalledToken{}
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, retain: retained, payload: payload.([]byte)})
	return newToken(c.publishErr)
}

func TestMQTTSink_Emit(t *testing.T) {
	client := &fakeClient{}
	cfg := plan.MQTT{Broker: "localhost", Port: 1883, Topic: "lab/gpib", QoS: 1, Retain: true}
	s := newMQTTSink(client, cfg, []string{"T7", "SW"}, "run-1", nil)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Emit(ctx, sampler.Row{Start: start, Values: []any{23.456, "OPEN"}}))
	require.NoError(t, s.Emit(ctx, sampler.Row{Start: start, Values: []any{23.5}}))
	require.NoError(t, s.Close())
	assert.Equal(t, 1, client.disconnected)

	require.Len(t, client.messages, 2)
	first := client.messages[0]
	assert.Equal(t, "lab/gpib", first.topic)
	assert.Equal(t, byte(1), first.qos)
	assert.True(t, first.retain)

	var msg Message
	require.NoError(t, json.Unmarshal(first.payload, &msg))
	assert.Equal(t, "run-1", msg.Run)
	assert.Equal(t, uint64(1), msg.Seq)
	assert.True(t, start.Equal(msg.Time))
	assert.Equal(t, map[string]any{"T7": 23.456, "SW": "OPEN"}, msg.Values)

	require.NoError(t, json.Unmarshal(client.messages[1].payload, &msg))
	assert.Equal(t, uint64(2), msg.Seq)
	assert.Equal(t, map[string]any{"T7": 23.5}, msg.Values)
}

func TestMQTTSink_NonFiniteReplies(t *testing.T) {
	client := &fakeClient{}
	s := newMQTTSink(client, plan.MQTT{Topic: "lab/gpib"}, []string{"T7", "T8", "C1"}, "run-1", nil)
	fifteen := 15
	row := sampler.Row{Start: start, Values: []any{
		plan.Value("NAN", nil),
		plan.Value("+INF", nil),
		plan.Value("1E300", &fifteen),
	}}
	require.NoError(t, s.Emit(context.Background(), row))

	require.Len(t, client.messages, 1)
	var msg Message
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &msg))
	assert.Equal(t, map[string]any{"T7": "NAN", "T8": "+INF", "C1": 1e300}, msg.Values)
}

func TestMQTTSink_PublishError(t *testing.T) {
	cause := errors.New("not connected")
	client := &fakeClient{publishErr: cause}
	s := newMQTTSink(client, plan.MQTT{Topic: "lab/gpib"}, []string{"T7"}, "run-1", nil)
	err := s.Emit(context.Background(), sampler.Row{Start: start, Values: []any{1.0}})
	assert.ErrorIs(t, err, cause)
}

func TestMQTTSink_PublishHonorsContext(t *testing.T) {
	client := &fakeClient{stall: true}
	s := newMQTTSink(client, plan.MQTT{Topic: "lab/gpib"}, []string{"T7"}, "run-1", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Emit(ctx, sampler.Row{Start: start, Values: []any{1.0}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s.timeout = 10 * time.Millisecond
	err = s.Emit(context.Background(), sampler.Row{Start: start, Values: []any{1.0}})
	assert.ErrorContains(t, err, "no acknowledgement")
}

func TestNewMQTTSink_RunID(t *testing.T) {
	a := NewMQTTSink(plan.MQTT{Broker: "localhost", Port: 1883, Topic: "t"}, nil, nil)
	b := NewMQTTSink(plan.MQTT{Broker: "localhost", Port: 1883, Topic: "t"}, nil, nil)
	assert.Len(t, a.Run(), 36)
	assert.NotEqual(t, a.Run(), b.Run())
}

type closingSink struct {
	rows   int
	err    error
	closed bool
}

func (s *closingSink) Emit(context.Context, sampler.Row) error {
	s.rows++
	return s.err
}

func (s *closingSink) Close() error {
	s.closed = true
	return nil
}

func TestMulti(t *testing.T) {
	cause := errors.New("broker gone")
	failing := &closingSink{err: cause}
	ok := &closingSink{}
	m := Multi(failing, ok, sampler.Discard)

	err := m.Emit(context.Background(), sampler.Row{Start: start})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, ok.rows)

	require.NoError(t, m.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}
