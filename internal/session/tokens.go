package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

var ErrNoCredential = errors.New("session has no usable credential")

// Refresher builds a token source that renews t. *oauth2.Config satisfies it.
type Refresher interface {
	TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource
}

// TokenSource yields a session's access token, refreshing it when it expires
// and writing the new token set back to the store. It satisfies
// apiclient.TokenSource and is safe for concurrent use.
type TokenSource struct {
	store     Store
	id        string
	refresher Refresher

	mu     sync.Mutex
	cached *oauth2.Token
}

func NewTokenSource(store Store, sess *Session, refresher Refresher) *TokenSource {
	ts := &TokenSource{store: store, id: sess.ID, refresher: refresher}
	if sess.Authenticated() {
		ts.cached = sess.Token
	}
	return ts
}

func (ts *TokenSource) AccessToken(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cached.Valid() {
		return ts.cached.AccessToken, nil
	}

	// Another request or replica may already have refreshed.
	sess, err := ts.store.Get(ctx, ts.id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNoCredential
		}
		return "", err
	}
	if !sess.Authenticated() {
		return "", ErrNoCredential
	}

	tok := sess.Token
	if !tok.Valid() {
		if ts.refresher == nil || tok.RefreshToken == "" {
			return "", ErrNoCredential
		}
		fresh, err := ts.refresher.TokenSource(ctx, tok).Token()
		if err != nil {
			return "", fmt.Errorf("failed to refresh access token: %w", err)
		}
		sess.Token = fresh
		if err := ts.store.Save(ctx, sess); err != nil {
			log.Warn().Err(err).Str("session_id", ts.id).Msg("failed to persist refreshed token")
		}
		tok = fresh
	}

	ts.cached = tok
	return tok.AccessToken, nil
}
