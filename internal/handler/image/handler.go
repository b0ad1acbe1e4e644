package image

import (
	"context"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-portal/internal/handler"
	"github.com/jwalitptl/patient-portal/internal/middleware"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	apperrors "github.com/jwalitptl/patient-portal/pkg/errors"
	"github.com/jwalitptl/patient-portal/pkg/httputil"
)

const formFile = "image"

// Store is the image editor service.
type Store interface {
	ByPractitioner(ctx context.Context, creds apiclient.TokenSource, practitionerID model.ID) ([]model.Image, error)
	Fetch(ctx context.Context, creds apiclient.TokenSource, id model.ID) (*model.ImageContent, error)
	Upload(ctx context.Context, creds apiclient.TokenSource, up model.ImageUpload) (*model.Image, error)
	Update(ctx context.Context, creds apiclient.TokenSource, id model.ID, up model.ImageUpdate) (*model.Image, error)
	Delete(ctx context.Context, creds apiclient.TokenSource, id model.ID) error
}

type Handler struct {
	store Store
	guard handler.Guard
	audit *middleware.AuditMiddleware
	handler.BaseHandler
}

func NewHandler(store Store, guard handler.Guard, audit *middleware.AuditMiddleware) *Handler {
	return &Handler{store: store, guard: guard, audit: audit}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	images := r.Group("/images", h.guard(model.RoleDoctor))
	{
		images.GET("", h.List)
		images.POST("", h.audit.AuditLog(model.AuditEntityImage, "imageId"), h.Upload)

		one := images.Group("/:imageId", h.audit.AuditLog(model.AuditEntityImage, "imageId"))
		one.GET("", h.Fetch)
		one.PUT("", h.Update)
		one.DELETE("", h.Delete)
	}
}

// List returns the caller's images with thumbnails.
func (h *Handler) List(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}

	images, err := h.store.ByPractitioner(c.Request.Context(), creds, me.UserID())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if images == nil {
		images = []model.Image{}
	}
	httputil.RespondWithSuccess(c, http.StatusOK, images)
}

// Fetch streams the full-size bitmap through unchanged.
func (h *Handler) Fetch(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "imageId")
	if !ok {
		return
	}

	content, err := h.store.Fetch(c.Request.Context(), creds, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer content.Body.Close()

	contentType := content.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, content.ContentLength, contentType, content.Body, nil)
}

func (h *Handler) Upload(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	patientID := strings.TrimSpace(c.PostForm("patient_id"))
	if patientID == "" {
		_ = c.Error(apperrors.BadRequest("patient_id is required", nil))
		return
	}
	file, header, mimeType, ok := imageFile(c)
	if !ok {
		return
	}
	defer file.Close()

	filename := c.PostForm("filename")
	if filename == "" {
		filename = header.Filename
	}
	img, err := h.store.Upload(c.Request.Context(), creds, model.ImageUpload{
		Filename:       filename,
		MimeType:       mimeType,
		PatientID:      patientID,
		PatientName:    c.PostForm("patient_name"),
		PractitionerID: me.Subject,
		Content:        file,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, img)
}

// Update replaces the bitmap after editing in the browser.
func (h *Handler) Update(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "imageId")
	if !ok {
		return
	}
	width, err := dimension(c, "width")
	if err != nil {
		_ = c.Error(err)
		return
	}
	height, err := dimension(c, "height")
	if err != nil {
		_ = c.Error(err)
		return
	}
	file, header, mimeType, ok := imageFile(c)
	if !ok {
		return
	}
	defer file.Close()

	filename := c.PostForm("filename")
	if filename == "" {
		filename = strings.TrimSuffix(header.Filename, ".png")
	}
	img, err := h.store.Update(c.Request.Context(), creds, id, model.ImageUpdate{
		Filename: filename,
		MimeType: mimeType,
		Width:    width,
		Height:   height,
		Content:  file,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, img)
}

func (h *Handler) Delete(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "imageId")
	if !ok {
		return
	}

	if err := h.store.Delete(c.Request.Context(), creds, id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// imageFile opens the uploaded bitmap. Only image content types are accepted.
func imageFile(c *gin.Context) (multipart.File, *multipart.FileHeader, string, bool) {
	file, header, err := c.Request.FormFile(formFile)
	if err != nil {
		_ = c.Error(apperrors.BadRequest("an image file is required", err))
		return nil, nil, "", false
	}
	mimeType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		file.Close()
		_ = c.Error(apperrors.BadRequest("file must be an image", nil))
		return nil, nil, "", false
	}
	return file, header, mimeType, true
}

func dimension(c *gin.Context, name string) (int, error) {
	v := c.PostForm(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperrors.BadRequest(name+" must be a non-negative integer", err)
	}
	return n, nil
}
