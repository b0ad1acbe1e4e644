package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-portal/pkg/apiclient"
)

func TestRegistryKeepsOneChannelPerUser(t *testing.T) {
	srv := newWSServer(t)
	reg := NewRegistry(testConfig(srv.base()), WithLogger(zerolog.Nop()))
	t.Cleanup(reg.Close)

	first, err := reg.Ensure(context.Background(), "42", apiclient.StaticToken("a"))
	require.NoError(t, err)
	second, err := reg.Ensure(context.Background(), "42", apiclient.StaticToken("b"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, reg.Len())
	srv.next(t)
	assert.Never(t, func() bool { return srv.accepted.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRegistryRelease(t *testing.T) {
	srv := newWSServer(t)
	reg := NewRegistry(testConfig(srv.base()), WithLogger(zerolog.Nop()))
	t.Cleanup(reg.Close)

	ch, err := reg.Ensure(context.Background(), "42", apiclient.StaticToken("a"))
	require.NoError(t, err)
	srv.next(t)

	reg.Release("42")
	assert.Equal(t, StateClosed, ch.State())
	_, ok := reg.Get("42")
	assert.False(t, ok)

	reg.Release("42")
}

func TestRegistryRequiresIdentity(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	_, err := reg.Ensure(context.Background(), "", apiclient.StaticToken("a"))
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestRegistryReleaseEndsSubscriptions(t *testing.T) {
	srv := newWSServer(t)
	reg := NewRegistry(testConfig(srv.base()), WithLogger(zerolog.Nop()))
	t.Cleanup(reg.Close)

	old, err := reg.Ensure(context.Background(), "42", apiclient.StaticToken("a"))
	require.NoError(t, err)
	srv.next(t)
	stale := old.Subscribe(TopicMessages)

	reg.Release("42")
	select {
	case _, ok := <-stale.C:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription left open after release")
	}

	fresh, err := reg.Ensure(context.Background(), "42", apiclient.StaticToken("b"))
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	sub := fresh.Subscribe(TopicMessages)
	server := srv.next(t)

	send(t, server, `{"receiverId":42}`)
	assert.Equal(t, TopicMessages, recv(t, sub).Topic)
}

func TestChannelCloseEndsSubscriptions(t *testing.T) {
	ch := NewChannel("42", nil, DefaultConfig(), WithLogger(zerolog.Nop()))
	all := ch.Subscribe()
	unseen := ch.Subscribe(TopicUnseen)

	require.NoError(t, ch.Close())

	_, ok := <-all.C
	assert.False(t, ok)
	_, ok = <-unseen.C
	assert.False(t, ok)
	all.Unsubscribe()
}
