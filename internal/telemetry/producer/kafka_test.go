package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs     []kafka.Message
	writeErr error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaProducer_Disabled(t *testing.T) {
	assert.Nil(t, NewKafkaProducer(nil, "topic"))
	assert.Nil(t, NewKafkaProducer([]string{"localhost:9092"}, ""))

	var p *KafkaProducer
	assert.NoError(t, p.Publish(context.Background(), "k", map[string]string{"a": "b"}))
	assert.NoError(t, p.Close())
	assert.Equal(t, "", p.Topic())
}

func TestPublish_WritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "invalidations"}

	err := p.Publish(context.Background(), "builder-1", map[string]any{"type": "claim"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "builder-1", string(w.msgs[0].Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.Equal(t, "claim", body["type"])
}

func TestPublish_WrapsWriteError(t *testing.T) {
	w := &fakeWriter{writeErr: errors.New("broker down")}
	p := &KafkaProducer{writer: w, topic: "audit"}

	err := p.Publish(context.Background(), "", struct{ A int }{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit")
	assert.Contains(t, err.Error(), "broker down")
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "audit"}
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
