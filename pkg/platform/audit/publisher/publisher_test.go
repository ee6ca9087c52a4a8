package publisher

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vouch/pkg/domain"
	audit "vouch/pkg/platform/audit"
	auditmem "vouch/pkg/platform/audit/store/memory"
)

// captureSink records every published event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Publish(_ context.Context, event audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) all() []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Event(nil), c.events...)
}

func TestSyncEmitReachesStoreAndSink(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	p := NewPublisher(auditmem.NewInMemoryStore(), WithSink(sink))
	defer p.Close()

	userID := id.NewUserID()
	require.NoError(t, p.Emit(ctx, audit.Event{
		UserID:  userID,
		Action:  string(audit.EventMessageSent),
		Details: map[string]string{"remaining": "4"},
	}))

	stored, err := p.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, string(audit.EventMessageSent), stored[0].Action)
	assert.False(t, stored[0].Timestamp.IsZero())

	published := sink.all()
	require.Len(t, published, 1)
	assert.Equal(t, "4", published[0].Details["remaining"])
}

func TestAsyncBufferDrainsOnClose(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	p := NewPublisher(auditmem.NewInMemoryStore(), WithAsyncBuffer(16), WithSink(sink))

	userID := id.NewUserID()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Emit(ctx, audit.Event{
			UserID: userID,
			Action: string(audit.EventReferralAccepted),
		}))
	}
	p.Close()

	stored, err := p.List(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
	assert.Len(t, sink.all(), 5)
}

func TestFullAsyncBufferDropsWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	p := NewPublisher(auditmem.NewInMemoryStore(), WithAsyncBuffer(1))
	userID := id.NewUserID()

	// Emits beyond the buffer must return immediately even if the drain
	// goroutine has not caught up; drops are acceptable, blocking is not.
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Emit(ctx, audit.Event{UserID: userID, Action: "burst"}))
	}
	p.Close()

	stored, err := p.List(ctx, userID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)
	assert.LessOrEqual(t, len(stored), 100)
}

func TestEmitAfterCloseIsNoOp(t *testing.T) {
	p := NewPublisher(auditmem.NewInMemoryStore(), WithAsyncBuffer(4))
	p.Close()
	assert.NoError(t, p.Emit(context.Background(), audit.Event{UserID: id.NewUserID(), Action: "late"}))
}
