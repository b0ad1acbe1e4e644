package message

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-portal/internal/handler"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/service/messaging"
	"github.com/jwalitptl/patient-portal/pkg/httputil"
)

type Handler struct {
	service *messaging.Service
	guard   handler.Guard
	handler.BaseHandler
}

func NewHandler(service *messaging.Service, guard handler.Guard) *Handler {
	return &Handler{service: service, guard: guard}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	messages := r.Group("/messages", h.guard(model.AllRoles...))
	{
		messages.GET("/sessions", h.Inbox)
		messages.POST("/sessions", h.StartSession)
		messages.GET("/sessions/:sessionId", h.Thread)
		messages.POST("/sessions/:sessionId/messages", h.Send)
		messages.DELETE("/:messageId", h.Delete)
	}
}

func (h *Handler) Inbox(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}

	inbox, err := h.service.Inbox(c.Request.Context(), creds, me.UserID())
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, inbox)
}

func (h *Handler) StartSession(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	var req model.CreateSessionRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	sess, err := h.service.StartSession(c.Request.Context(), creds, me, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, sess)
}

// Thread returns the conversation newest first.
func (h *Handler) Thread(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "sessionId")
	if !ok {
		return
	}

	thread, err := h.service.Thread(c.Request.Context(), creds, me, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, thread)
}

func (h *Handler) Send(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "sessionId")
	if !ok {
		return
	}
	var req model.SendMessageRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	msg, err := h.service.Send(c.Request.Context(), creds, me, id, req.Message)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, msg)
}

func (h *Handler) Delete(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "messageId")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), creds, id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
