// Package session keeps the server side of a browser sign-in: the OAuth
// round-trip state, the verified identity and the sealed token set.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/security"
)

var ErrNotFound = errors.New("session not found")

type Status string

const (
	// StatusPending means an authorization request is in flight.
	StatusPending       Status = "pending"
	StatusAuthenticated Status = "authenticated"
	// StatusError records an identity provider failure for display.
	StatusError Status = "error"
)

type Session struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	State     string         `json:"-"`
	Verifier  string         `json:"-"`
	ReturnTo  string         `json:"return_to,omitempty"`
	Identity  model.Identity `json:"identity"`
	Token     *oauth2.Token  `json:"-"`
	IDToken   string         `json:"-"`
	Error     string         `json:"error,omitempty"`
	Onboarded bool           `json:"onboarded"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func New(lifetime time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
}

func (s *Session) Authenticated() bool {
	return s != nil && s.Status == StatusAuthenticated && s.Token != nil
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s *Session) TTL() time.Duration {
	return time.Until(s.ExpiresAt)
}

// Store persists sessions. Implementations seal tokens at rest.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// secrets is the sealed part of a stored session: the OAuth round-trip
// values while sign-in is pending, the token set afterwards.
type secrets struct {
	State    string        `json:"state,omitempty"`
	Verifier string        `json:"verifier,omitempty"`
	Token    *oauth2.Token `json:"token,omitempty"`
	IDToken  string        `json:"id_token,omitempty"`
}

func (s secrets) empty() bool {
	return s.State == "" && s.Verifier == "" && s.Token == nil && s.IDToken == ""
}

type envelope struct {
	*Session
	Sealed []byte `json:"sealed,omitempty"`
}

// Codec turns sessions into bytes. Secrets are sealed to the session id, so
// a sealed blob only opens inside the record it was written for.
type Codec struct {
	sealer *security.Sealer
}

func NewCodec(secret string) (*Codec, error) {
	sealer, err := security.NewSessionSealer(secret, "portal-session-tokens")
	if err != nil {
		return nil, fmt.Errorf("failed to create session sealer: %w", err)
	}
	return &Codec{sealer: sealer}, nil
}

func (c *Codec) Encode(s *Session) ([]byte, error) {
	env := envelope{Session: s}
	sec := secrets{State: s.State, Verifier: s.Verifier, Token: s.Token, IDToken: s.IDToken}
	if !sec.empty() {
		plain, err := json.Marshal(sec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session secrets: %w", err)
		}
		sealed, err := c.sealer.Seal(plain, s.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to seal session secrets: %w", err)
		}
		env.Sealed = sealed
	}
	return json.Marshal(env)
}

func (c *Codec) Decode(data []byte) (*Session, error) {
	env := envelope{Session: &Session{}}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if len(env.Sealed) == 0 {
		return env.Session, nil
	}

	plain, err := c.sealer.Open(env.Sealed, env.Session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal session secrets: %w", err)
	}
	var sec secrets
	if err := json.Unmarshal(plain, &sec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session secrets: %w", err)
	}
	env.Session.State = sec.State
	env.Session.Verifier = sec.Verifier
	env.Session.Token = sec.Token
	env.Session.IDToken = sec.IDToken
	return env.Session, nil
}
