package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-portal/pkg/messaging"
)

func TestRedisBrokerPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewClient(ctx, Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	logger := zerolog.Nop()
	broker := NewRedisBroker(client, &logger)

	ch, err := broker.Subscribe(ctx, messaging.RecordChannel)
	require.NoError(t, err)

	change := messaging.RecordChange{PatientID: "p1", Kind: "encounter", Action: "delete", RecordID: "e9"}
	require.NoError(t, broker.Publish(ctx, messaging.RecordChannel, change))

	select {
	case payload := <-ch:
		var got messaging.RecordChange
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, change, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{URL: "not a url"})
	assert.Error(t, err)
}
