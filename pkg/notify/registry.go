package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/jwalitptl/patient-portal/pkg/apiclient"
)

var ErrNoIdentity = errors.New("notification channel requires a user id")

// Registry keeps at most one channel per user across all of that user's
// sessions.
type Registry struct {
	cfg  Config
	opts []Option

	mu       sync.Mutex
	channels map[string]*Channel
}

func NewRegistry(cfg Config, opts ...Option) *Registry {
	return &Registry{
		cfg:      cfg,
		opts:     opts,
		channels: make(map[string]*Channel),
	}
}

// Ensure returns the user's channel, creating and opening it if needed. The
// credential replaces the one an existing channel dials with.
func (r *Registry) Ensure(ctx context.Context, userID string, tokens apiclient.TokenSource) (*Channel, error) {
	if userID == "" {
		return nil, ErrNoIdentity
	}

	r.mu.Lock()
	ch, ok := r.channels[userID]
	if !ok {
		ch = NewChannel(userID, tokens, r.cfg, r.opts...)
		r.channels[userID] = ch
	} else {
		ch.SetTokens(tokens)
	}
	r.mu.Unlock()

	if err := ch.Open(ctx); err != nil {
		return ch, err
	}
	return ch, nil
}

func (r *Registry) Get(userID string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[userID]
	return ch, ok
}

// Release closes and forgets the user's channel.
func (r *Registry) Release(userID string) {
	r.mu.Lock()
	ch, ok := r.channels[userID]
	delete(r.channels, userID)
	r.mu.Unlock()

	if ok {
		ch.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Close releases every channel.
func (r *Registry) Close() {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
}
