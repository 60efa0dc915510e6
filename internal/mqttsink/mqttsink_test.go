package mqttsink

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/models"
)

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                       { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool   { return true }
func (t *doneToken) Error() error                     { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return &doneToken{err: f.err}
}

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestFormatTopic(t *testing.T) {
	assert.Equal(t, "selector/abc/metrics", formatTopic("selector/{run_id}/metrics", "abc"))
	assert.Equal(t, "fixed", formatTopic("fixed", "abc"))
}

func TestStart_PublishesAndDrainsOnCancel(t *testing.T) {
	client := &fakeClient{}
	s := newSink(client, "selector/run/metrics", 1, nil)

	require.NoError(t, s.Write(models.MetricSnapshot{Tick: 1, SelectedModel: "mobilenet-v1"}))
	require.NoError(t, s.Write(models.MetricSnapshot{Tick: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)

	require.Equal(t, 2, client.count())
	first := client.msgs[0]
	assert.Equal(t, "selector/run/metrics", first.topic)
	assert.Equal(t, byte(1), first.qos)

	var snap models.MetricSnapshot
	require.NoError(t, json.Unmarshal(first.payload, &snap))
	assert.Equal(t, uint64(1), snap.Tick)
	assert.Equal(t, models.Variant("mobilenet-v1"), snap.SelectedModel)
}

func TestStart_PublishErrorDoesNotStop(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	s := newSink(client, "t", 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.NoError(t, s.Write(models.MetricSnapshot{Tick: 1}))
	require.NoError(t, s.Write(models.MetricSnapshot{Tick: 2}))
	require.Eventually(t, func() bool { return client.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestWrite_QueueFull(t *testing.T) {
	s := newSink(&fakeClient{}, "t", 0, nil)
	for i := 0; i < queueSize; i++ {
		require.NoError(t, s.Write(models.MetricSnapshot{}))
	}
	assert.ErrorIs(t, s.Write(models.MetricSnapshot{}), ErrQueueFull)
}
