package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-portal/pkg/circuitbreaker"
	"github.com/jwalitptl/patient-portal/pkg/metrics"
)

type captured struct {
	method      string
	auth        string
	contentType string
	body        string
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *int32, chan captured) {
	t.Helper()
	var hits int32
	ch := make(chan captured, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		body, _ := io.ReadAll(r.Body)
		ch <- captured{
			method:      r.Method,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, ch
}

func TestDoWithoutCredentialFailsWithoutNetworkCall(t *testing.T) {
	srv, hits, _ := newCaptureServer(t, http.StatusOK)
	client := New()

	tests := []struct {
		name  string
		creds TokenSource
	}{
		{"nil source", nil},
		{"empty token", StaticToken("")},
		{"source error", TokenFunc(func(context.Context) (string, error) {
			return "", errors.New("session expired")
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Do(context.Background(), tt.creds, srv.URL+"/conditions/1", Options{})
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, ErrNotAuthenticated)
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestDoAttachesBearerAndJSONContentType(t *testing.T) {
	srv, _, ch := newCaptureServer(t, http.StatusCreated)
	client := New()

	resp, err := client.Do(context.Background(), StaticToken("abc"), srv.URL+"/conditions", Options{
		Method: http.MethodPost,
		Body:   map[string]interface{}{"conditionName": "Flu"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	got := <-ch
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "Bearer abc", got.auth)
	assert.Equal(t, "application/json", got.contentType)
	assert.JSONEq(t, `{"conditionName":"Flu"}`, got.body)
}

func TestDoKeepsCallerAuthorization(t *testing.T) {
	srv, _, ch := newCaptureServer(t, http.StatusOK)
	client := New()

	header := http.Header{}
	header.Set("Authorization", "Basic xyz")
	resp, err := client.Do(context.Background(), StaticToken("abc"), srv.URL, Options{Header: header})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Basic xyz", (<-ch).auth)
}

func TestDoFormDataUsesMultipartBoundary(t *testing.T) {
	srv, _, ch := newCaptureServer(t, http.StatusOK)
	client := New()

	form := NewFormData()
	require.NoError(t, form.AddField("filename", "xray"))
	require.NoError(t, form.AddFile("image", "xray.png", "image/png", strings.NewReader("PNGDATA")))

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	resp, err := client.Do(context.Background(), StaticToken("abc"), srv.URL+"/images/upload", Options{
		Method: http.MethodPost,
		Header: header,
		Body:   form,
	})
	require.NoError(t, err)
	resp.Body.Close()

	got := <-ch
	assert.True(t, strings.HasPrefix(got.contentType, "multipart/form-data; boundary="))
	assert.Equal(t, form.ContentType(), got.contentType)
	assert.Contains(t, got.body, "PNGDATA")
	assert.Contains(t, got.body, `name="filename"`)
}

func TestDoRereadsCredentialOnEveryCall(t *testing.T) {
	srv, _, ch := newCaptureServer(t, http.StatusOK)
	client := New()

	var n int32
	creds := TokenFunc(func(context.Context) (string, error) {
		if atomic.AddInt32(&n, 1) == 1 {
			return "first", nil
		}
		return "rotated", nil
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Do(context.Background(), creds, srv.URL, Options{})
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, "Bearer first", (<-ch).auth)
	assert.Equal(t, "Bearer rotated", (<-ch).auth)
}

func TestDoReturnsServerErrorsUninterpreted(t *testing.T) {
	srv, _, _ := newCaptureServer(t, http.StatusServiceUnavailable)
	client := New(WithMetrics(metrics.NewNop()))

	resp, err := client.Do(context.Background(), StaticToken("abc"), srv.URL, Options{})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDoOpenBreakerStopsCalls(t *testing.T) {
	srv, hits, _ := newCaptureServer(t, http.StatusInternalServerError)
	breakers := circuitbreaker.NewSet(circuitbreaker.Settings{
		ConsecutiveFailures: 2,
		Timeout:             time.Minute,
	})
	client := New(WithBreakers(breakers))

	for i := 0; i < 2; i++ {
		resp, err := client.Do(context.Background(), StaticToken("abc"), srv.URL, Options{Service: "records"})
		require.NoError(t, err)
		resp.Body.Close()
	}

	_, err := client.Do(context.Background(), StaticToken("abc"), srv.URL, Options{Service: "records"})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestTransportErrorOmitsQueryString(t *testing.T) {
	client := New(WithHTTPClient(&http.Client{Timeout: time.Second}))

	_, err := client.Do(context.Background(), StaticToken("abc"), "http://127.0.0.1:1/ws?access_token=secret", Options{})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestDoPublicSendsNoCredential(t *testing.T) {
	srv, _, ch := newCaptureServer(t, http.StatusCreated)
	client := New()

	resp, err := client.DoPublic(context.Background(), srv.URL+"/patients", Options{
		Method: http.MethodPost,
		Body:   map[string]string{"email": "a@b.c"},
	})
	require.NoError(t, err)
	resp.Body.Close()

	got := <-ch
	assert.Empty(t, got.auth)
	assert.Equal(t, "application/json", got.contentType)
	assert.JSONEq(t, `{"email":"a@b.c"}`, got.body)
}
