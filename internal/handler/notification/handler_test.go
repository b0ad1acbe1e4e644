package notification

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jwalitptl/patient-portal/internal/middleware"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/session"
	"github.com/jwalitptl/patient-portal/pkg/messaging"
	"github.com/jwalitptl/patient-portal/pkg/metrics"
	"github.com/jwalitptl/patient-portal/pkg/notify"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		return 1, f, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	conn *fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (notify.Conn, error) {
	return d.conn, nil
}

type fixture struct {
	engine   *gin.Engine
	store    *session.MemoryStore
	broker   *messaging.MemoryBroker
	conn     *fakeConn
	registry *notify.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := session.NewCodec("test-secret")
	require.NoError(t, err)
	store := session.NewMemoryStore(codec, time.Minute, metrics.NewNop())
	sessions := middleware.NewSessionAuth(store, nil, middleware.CookieConfig{})

	conn := newFakeConn()
	registry := notify.NewRegistry(notify.Config{BaseURL: "ws://notify.test/ws"}, notify.WithDialer(&fakeDialer{conn: conn}))
	t.Cleanup(registry.Close)
	broker := messaging.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	r := gin.New()
	r.Use(sessions.Load())
	NewHandler(registry, broker, sessions.RequireRoles, 20*time.Millisecond).RegisterRoutes(r.Group("/api"))

	return &fixture{engine: r, store: store, broker: broker, conn: conn, registry: registry}
}

func (f *fixture) login(t *testing.T, subject string, roles ...string) *http.Cookie {
	t.Helper()
	sess := session.New(time.Hour)
	sess.Status = session.StatusAuthenticated
	sess.Identity = model.Identity{Subject: subject, Email: subject + "@x.se", Roles: roles}
	sess.Token = &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, f.store.Save(context.Background(), sess))
	return &http.Cookie{Name: "portal_session", Value: sess.ID}
}

func (f *fixture) status(t *testing.T, cookie *http.Cookie) model.NotificationStatus {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data model.NotificationStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data
}

func TestStatusOpensChannelAndClearResetsSignal(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t, "u1", "Patient")

	st := f.status(t, cookie)
	assert.Equal(t, "open", st.Channel)
	assert.False(t, st.HasNewMessages)

	f.conn.frames <- []byte(`{"receiverId":"u1","senderId":7}`)
	assert.Eventually(t, func() bool {
		return f.status(t, cookie).HasNewMessages
	}, time.Second, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodDelete, "/api/notifications", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	st = f.status(t, cookie)
	assert.False(t, st.HasNewMessages)
	assert.Equal(t, "open", st.Channel)
}

func TestNotificationsRequireSession(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, f.registry.Len())
}

// sseReader reads data lines of server-sent events with a deadline.
type sseReader struct {
	lines chan string
}

func openStream(t *testing.T, f *fixture, target string, cookie *http.Cookie) *sseReader {
	t.Helper()
	srv := httptest.NewServer(f.engine)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+target, nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := &sseReader{lines: make(chan string, 64)}
	go func() {
		defer close(r.lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			r.lines <- sc.Text()
		}
	}()
	return r
}

// next returns the first line containing substr, failing after a second.
func (r *sseReader) next(t *testing.T, substr string) string {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case line, ok := <-r.lines:
			require.True(t, ok, "stream ended before %q", substr)
			if strings.Contains(line, substr) {
				return line
			}
		case <-deadline:
			t.Fatalf("no %q on stream", substr)
			return ""
		}
	}
}

func TestStreamPushesWatchedRecordChanges(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t, "doc-1", "Doctor")

	stream := openStream(t, f, "/api/notifications/stream?patient=p-1", cookie)
	stream.next(t, "event:ready")

	ctx := context.Background()
	require.NoError(t, f.broker.Publish(ctx, messaging.RecordChannel, messaging.RecordChange{PatientID: "p-2", Kind: "condition", Action: "created"}))
	require.NoError(t, f.broker.Publish(ctx, messaging.RecordChannel, messaging.RecordChange{PatientID: "p-1", Kind: "condition", Action: "updated"}))

	line := stream.next(t, "records:")
	assert.Contains(t, line, `"topic":"records:p-1"`)
}

func TestStreamPushesMessageInvalidations(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t, "u1", "Patient")

	stream := openStream(t, f, "/api/notifications/stream", cookie)
	stream.next(t, "event:ready")

	f.conn.frames <- []byte(`{"receiverId":"u1"}`)
	stream.next(t, `"topic":"unseen"`)
	stream.next(t, `"topic":"messages"`)
}

func TestStreamHeartbeat(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t, "u1", "Patient")

	stream := openStream(t, f, "/api/notifications/stream", cookie)
	stream.next(t, ": ping")
}

func TestWatchedPatients(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?patient=p-1&patient=p-2&patient=", nil)

	patient := model.Identity{Subject: "u1", Roles: []string{"Patient"}}
	assert.Equal(t, map[string]struct{}{"u1": {}}, watchedPatients(c, patient))

	doctor := model.Identity{Subject: "doc-1", Roles: []string{"Doctor"}}
	assert.Equal(t, map[string]struct{}{"p-1": {}, "p-2": {}}, watchedPatients(c, doctor))
}
