package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/patient-portal/internal/handler"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	"github.com/jwalitptl/patient-portal/pkg/httputil"
	"github.com/jwalitptl/patient-portal/pkg/messaging"
	"github.com/jwalitptl/patient-portal/pkg/notify"
)

const (
	StreamPath = "/notifications/stream"

	eventInvalidate   = "invalidate"
	recordTopicPrefix = "records:"
	maxWatched        = 50
)

// Channels hands out each user's live notification channel.
type Channels interface {
	Ensure(ctx context.Context, userID string, tokens apiclient.TokenSource) (*notify.Channel, error)
}

type Handler struct {
	channels  Channels
	broker    messaging.Broker
	guard     handler.Guard
	heartbeat time.Duration
	handler.BaseHandler
}

// NewHandler streams record changes from broker when it is non-nil.
func NewHandler(channels Channels, broker messaging.Broker, guard handler.Guard, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &Handler{channels: channels, broker: broker, guard: guard, heartbeat: heartbeat}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications", h.guard(model.AllRoles...))
	{
		notifications.GET("", h.Status)
		notifications.DELETE("", h.Clear)
		notifications.GET("/stream", h.Stream)
	}
}

// Status reports the unseen-messages signal, opening the channel if the user
// has none yet.
func (h *Handler) Status(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}

	status := model.NotificationStatus{Channel: notify.StateClosed.String()}
	if ch := h.channel(c, me, creds); ch != nil {
		status.HasNewMessages = ch.HasUnseen()
		status.Channel = ch.State().String()
	}
	httputil.RespondWithSuccess(c, http.StatusOK, status)
}

// Clear resets the unseen signal. The channel itself is untouched.
func (h *Handler) Clear(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	if ch := h.channel(c, me, creds); ch != nil {
		ch.Clear()
	}
	c.Status(http.StatusNoContent)
}

// Stream pushes invalidate events as server-sent events: "messages" and
// "unseen" from the user's channel, and "records:{patientId}" for every
// watched patient. Patients watch their own chart; clinicians name charts
// with repeated patient query parameters.
func (h *Handler) Stream(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var invalidations <-chan notify.Invalidation
	if ch := h.channel(c, me, creds); ch != nil {
		sub := ch.Subscribe(notify.TopicMessages, notify.TopicUnseen)
		defer sub.Unsubscribe()
		invalidations = sub.C
	}

	var changes <-chan []byte
	watched := watchedPatients(c, me)
	if h.broker != nil && len(watched) > 0 {
		var err error
		changes, err = h.broker.Subscribe(ctx, messaging.RecordChannel)
		if err != nil {
			log.Warn().Err(err).Str("user_id", me.Subject).Msg("record changes unavailable")
		}
	}

	// The stream outlives the server write timeout.
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("cannot extend write deadline")
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.SSEvent("ready", gin.H{"channel": invalidations != nil, "patients": keys(watched)})
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case inv, ok := <-invalidations:
			if !ok {
				return false
			}
			c.SSEvent(eventInvalidate, inv)
		case payload, ok := <-changes:
			if !ok {
				changes = nil
				return true
			}
			var change messaging.RecordChange
			if err := json.Unmarshal(payload, &change); err != nil {
				log.Debug().Err(err).Msg("ignoring malformed record change")
				return true
			}
			if _, ok := watched[change.PatientID]; !ok {
				return true
			}
			c.SSEvent(eventInvalidate, notify.Invalidation{
				Topic: recordTopicPrefix + change.PatientID,
				At:    time.Now().UTC(),
			})
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return false
			}
		}
		return true
	})
}

func (h *Handler) channel(c *gin.Context, me model.Identity, creds apiclient.TokenSource) *notify.Channel {
	ch, err := h.channels.Ensure(c.Request.Context(), me.Subject, creds)
	if err != nil {
		log.Warn().Err(err).Str("user_id", me.Subject).Msg("notification channel unavailable")
	}
	return ch
}

func watchedPatients(c *gin.Context, me model.Identity) map[string]struct{} {
	watched := make(map[string]struct{})
	if me.HasRole(model.RolePatient) {
		watched[me.Subject] = struct{}{}
	}
	if me.IsClinician() {
		for _, id := range c.QueryArray("patient") {
			if len(watched) >= maxWatched {
				break
			}
			if !model.ID(id).IsZero() {
				watched[id] = struct{}{}
			}
		}
	}
	return watched
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
