package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerDeliversToSubscribers(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, RecordChannel)
	require.NoError(t, err)

	change := RecordChange{PatientID: "p1", Kind: "condition", Action: "create", RecordID: "c1"}
	require.NoError(t, b.Publish(ctx, RecordChannel, change))

	select {
	case payload := <-ch:
		var got RecordChange
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, change, got)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestMemoryBrokerClosesSubscriptionOnCancel(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, RecordChannel)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestMemoryBrokerRejectsAfterClose(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), RecordChannel, RecordChange{}), ErrClosed)
	_, err := b.Subscribe(context.Background(), RecordChannel)
	assert.ErrorIs(t, err, ErrClosed)
}
