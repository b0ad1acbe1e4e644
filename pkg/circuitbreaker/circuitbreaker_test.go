package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:                "users",
		ConsecutiveFailures: 2,
		Timeout:             time.Minute,
	})

	boom := errors.New("boom")
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, "open", cb.State())

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "search", ConsecutiveFailures: 2})

	boom := errors.New("boom")
	_ = cb.Execute(func() error { return boom })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return boom })

	assert.Equal(t, "closed", cb.State())
}

func TestSetReturnsSameBreakerPerName(t *testing.T) {
	set := NewSet(Settings{ConsecutiveFailures: 1})

	a := set.Get("records")
	b := set.Get("records")
	c := set.Get("images")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
