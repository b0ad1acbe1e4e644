package backend

import (
	"context"
	"net/http"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
)

// Messaging talks to the conversation service.
type Messaging struct {
	svc service
}

func (c *Messaging) SessionsByUser(ctx context.Context, creds apiclient.TokenSource, userID model.ID) ([]model.Session, error) {
	var out []model.Session
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(nil, "sessions", "user", userID.String()), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Messaging) CreateSession(ctx context.Context, creds apiclient.TokenSource, req model.SessionCreate) (*model.Session, error) {
	var s model.Session
	if err := c.svc.call(ctx, creds, http.MethodPost, c.svc.url(nil, "sessions"), req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Messaging) Messages(ctx context.Context, creds apiclient.TokenSource, sessionID model.ID) ([]model.Message, error) {
	var out []model.Message
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(nil, "messages", "session", sessionID.String()), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Messaging) LatestMessage(ctx context.Context, creds apiclient.TokenSource, sessionID model.ID) (*model.Message, error) {
	var m model.Message
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(nil, "messages", "latest", "session", sessionID.String()), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Messaging) CreateMessage(ctx context.Context, creds apiclient.TokenSource, req model.MessageCreate) (*model.Message, error) {
	var m model.Message
	if err := c.svc.call(ctx, creds, http.MethodPost, c.svc.url(nil, "messages"), req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Messaging) DeleteMessage(ctx context.Context, creds apiclient.TokenSource, messageID model.ID) error {
	return c.svc.call(ctx, creds, http.MethodDelete, c.svc.url(nil, "messages", messageID.String()), nil, nil)
}
