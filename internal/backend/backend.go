// Package backend holds typed clients for the REST services behind the
// portal. Every call carries the signed-in user's credential.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	apperrors "github.com/jwalitptl/patient-portal/pkg/errors"
)

const maxErrorBody = 4 << 10

// Requester is satisfied by *apiclient.Client.
type Requester interface {
	Do(ctx context.Context, creds apiclient.TokenSource, rawURL string, opts apiclient.Options) (*http.Response, error)
	DoPublic(ctx context.Context, rawURL string, opts apiclient.Options) (*http.Response, error)
}

// Endpoints are the base URLs of each service.
type Endpoints struct {
	Users     string
	Search    string
	Records   string
	Messaging string
	Images    string
}

type Clients struct {
	Users     *Users
	Search    *Search
	Records   *Records
	Messaging *Messaging
	Images    *Images
}

func New(r Requester, e Endpoints) *Clients {
	return &Clients{
		Users:     &Users{svc: newService("users", e.Users, r)},
		Search:    &Search{svc: newService("search", e.Search, r)},
		Records:   &Records{svc: newService("records", e.Records, r)},
		Messaging: &Messaging{svc: newService("messaging", e.Messaging, r)},
		Images:    &Images{svc: newService("images", e.Images, r)},
	}
}

type service struct {
	name string
	base string
	r    Requester
}

func newService(name, base string, r Requester) service {
	return service{name: name, base: strings.TrimRight(base, "/"), r: r}
}

// url joins escaped path segments onto the base URL.
func (s service) url(query url.Values, segments ...string) string {
	var b strings.Builder
	b.WriteString(s.base)
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(query.Encode())
	}
	return b.String()
}

// call sends a request and decodes a 2xx JSON body into out, when out is
// non-nil.
func (s service) call(ctx context.Context, creds apiclient.TokenSource, method, rawURL string, body, out interface{}) error {
	resp, err := s.r.Do(ctx, creds, rawURL, apiclient.Options{Method: method, Body: body, Service: s.name})
	if err != nil {
		return s.transportError(err)
	}
	return s.handle(resp, out)
}

func (s service) callPublic(ctx context.Context, method, rawURL string, body, out interface{}) error {
	resp, err := s.r.DoPublic(ctx, rawURL, apiclient.Options{Method: method, Body: body, Service: s.name})
	if err != nil {
		return s.transportError(err)
	}
	return s.handle(resp, out)
}

func (s service) transportError(err error) error {
	if errors.Is(err, apiclient.ErrNotAuthenticated) {
		return apperrors.Unauthorized(err)
	}
	return apperrors.Upstream(s.name, 0, err)
}

func (s service) handle(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	if err := s.checkStatus(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty body; out keeps whatever the caller seeded it with.
			return nil
		}
		return apperrors.Upstream(s.name, 0, fmt.Errorf("malformed response body: %w", err))
	}
	return nil
}

func (s service) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return apperrors.Upstream(s.name, resp.StatusCode, errors.New(upstreamMessage(resp.Body)))
}

// upstreamMessage extracts a readable reason from an error body.
func upstreamMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "no response body"
	}
	return msg
}
