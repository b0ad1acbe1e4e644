// Package apiclient sends requests to backend services on behalf of a signed-in
// user, attaching the user's bearer credential to every call.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jwalitptl/patient-portal/pkg/circuitbreaker"
	"github.com/jwalitptl/patient-portal/pkg/metrics"
)

// ErrNotAuthenticated is returned, without any network call, when no
// credential is available for the request.
var ErrNotAuthenticated = errors.New("not authenticated")

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
)

// errServerStatus marks 5xx responses as breaker failures while the response
// itself is still handed back to the caller.
var errServerStatus = errors.New("upstream server error")

// TokenSource yields the current bearer credential. It is consulted on every
// call so rotated credentials are picked up.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken is a fixed credential.
type StaticToken string

func (t StaticToken) AccessToken(context.Context) (string, error) {
	return string(t), nil
}

// Options describe a single call.
type Options struct {
	// Method defaults to GET.
	Method string
	Header http.Header
	// Body is nil, an io.Reader or []byte of JSON text, a *FormData, or any
	// other value which is encoded as JSON.
	Body interface{}
	// Service names the upstream for metrics and circuit breaking; defaults
	// to the URL host.
	Service string
}

// Client is safe for concurrent use. It holds no credential state.
type Client struct {
	httpClient *http.Client
	breakers   *circuitbreaker.Set
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithBreakers(set *circuitbreaker.Set) Option {
	return func(c *Client) { c.breakers = set }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(opts ...Option) *Client {
	c := &Client{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs an authenticated call. The response is returned uninterpreted;
// the caller checks the status and closes the body.
func (c *Client) Do(ctx context.Context, creds TokenSource, rawURL string, opts Options) (*http.Response, error) {
	token, err := currentToken(ctx, creds)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, token, rawURL, opts)
}

// DoPublic performs a call without any credential, for the few endpoints a
// visitor reaches before signing in.
func (c *Client) DoPublic(ctx context.Context, rawURL string, opts Options) (*http.Response, error) {
	return c.do(ctx, "", rawURL, opts)
}

func (c *Client) do(ctx context.Context, token, rawURL string, opts Options) (*http.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if token != "" && req.Header.Get(headerAuthorization) == "" {
		req.Header.Set(headerAuthorization, "Bearer "+token)
	}
	if _, isForm := opts.Body.(*FormData); isForm {
		// Multipart bodies carry their own boundary.
		req.Header.Set(headerContentType, contentType)
	} else if req.Header.Get(headerContentType) == "" {
		req.Header.Set(headerContentType, contentType)
	}

	service := opts.Service
	if service == "" {
		service = req.URL.Host
	}

	return c.send(req, service)
}

func (c *Client) send(req *http.Request, service string) (*http.Response, error) {
	start := time.Now()

	var resp *http.Response
	call := func() error {
		var err error
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return errServerStatus
		}
		return nil
	}

	var err error
	if c.breakers != nil {
		err = c.breakers.Get(service).Execute(call)
	} else {
		err = call()
	}
	if errors.Is(err, errServerStatus) {
		err = nil
	}

	if c.metrics != nil {
		status := "error"
		if resp != nil && err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		c.metrics.UpstreamRequests.WithLabelValues(service, req.Method, status).Inc()
		c.metrics.UpstreamLatency.WithLabelValues(service).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("%s %s: %w", req.Method, redact(req.URL), urlErr.Err)
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, redact(req.URL), err)
	}
	return resp, nil
}

func currentToken(ctx context.Context, creds TokenSource) (string, error) {
	if creds == nil {
		return "", ErrNotAuthenticated
	}
	token, err := creds.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

func encodeBody(body interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, contentTypeJSON, nil
	case *FormData:
		r, err := b.reader()
		if err != nil {
			return nil, "", err
		}
		return r, b.ContentType(), nil
	case []byte:
		return bytes.NewReader(b), contentTypeJSON, nil
	case io.Reader:
		return b, contentTypeJSON, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), contentTypeJSON, nil
	}
}

// redact drops the query string so credentials passed as parameters never
// reach error messages or logs.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}
