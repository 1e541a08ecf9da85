package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	emitErr error
	delay   time.Duration
	ctxErr  error
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.ctxErr = ctx.Err()
			m.mu.Unlock()
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	EmitAsync(nil, context.Background(), NewEvent(EventClaimInitiated, "test"))
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, context.Background(), nil)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, emitter.getEvents())
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	event := NewEvent(EventOTPIssued, "otp").With("method", "sms")
	event.BuilderID = "builder-1"

	EmitAsync(emitter, context.Background(), event)

	require.Eventually(t, func() bool { return len(emitter.getEvents()) == 1 }, time.Second, 5*time.Millisecond)
	got := emitter.getEvents()[0]
	assert.Equal(t, EventOTPIssued, got.Type)
	assert.Equal(t, "sms", got.Attributes["method"])
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("collector down")}
	EmitAsync(emitter, context.Background(), NewEvent(EventSessionEnded, "session"))
	require.Eventually(t, func() bool { return len(emitter.getEvents()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEmitAsync_IgnoresCallerCancellation(t *testing.T) {
	emitter := &mockEventEmitter{delay: 20 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(emitter, ctx, NewEvent(EventClaimFinalized, "claim"))

	require.Eventually(t, func() bool { return len(emitter.getEvents()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEvent_With(t *testing.T) {
	e := NewEvent(EventClaimExpired, "sweeper").With("reason", "ttl").With("count", "2")
	assert.Equal(t, map[string]string{"reason": "ttl", "count": "2"}, e.Attributes)
	assert.False(t, e.Timestamp.IsZero())
}
