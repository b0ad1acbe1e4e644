package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	apperrors "github.com/jwalitptl/patient-portal/pkg/errors"
)

// Images talks to the image editor service. Bitmaps travel as multipart
// uploads and raw downloads; editing itself happens in the browser.
type Images struct {
	svc service
}

func (c *Images) ByPractitioner(ctx context.Context, creds apiclient.TokenSource, practitionerID model.ID) ([]model.Image, error) {
	var out []model.Image
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(nil, "images", "practitioner", practitionerID.String()), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Fetch streams the full-size bitmap. The caller closes Body.
func (c *Images) Fetch(ctx context.Context, creds apiclient.TokenSource, id model.ID) (*model.ImageContent, error) {
	resp, err := c.svc.r.Do(ctx, creds, c.svc.url(nil, "images", id.String()), apiclient.Options{Service: c.svc.name})
	if err != nil {
		return nil, c.svc.transportError(err)
	}
	if err := c.svc.checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &model.ImageContent{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

func (c *Images) Upload(ctx context.Context, creds apiclient.TokenSource, up model.ImageUpload) (*model.Image, error) {
	form := apiclient.NewFormData()
	if err := form.AddFile("image", up.Filename, up.MimeType, up.Content); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	fields := [][2]string{
		{"filename", up.Filename},
		{"patient_id", up.PatientID},
		{"patient_name", up.PatientName},
		{"practitioner_id", up.PractitionerID},
		{"mime_type", up.MimeType},
	}
	for _, f := range fields {
		if err := form.AddField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to build upload: %w", err)
		}
	}
	return c.sendForm(ctx, creds, http.MethodPost, c.svc.url(nil, "images", "upload"), form)
}

// Update replaces the bitmap of an existing image.
func (c *Images) Update(ctx context.Context, creds apiclient.TokenSource, id model.ID, up model.ImageUpdate) (*model.Image, error) {
	form := apiclient.NewFormData()
	if err := form.AddFile("image", up.Filename+".png", up.MimeType, up.Content); err != nil {
		return nil, fmt.Errorf("failed to build update: %w", err)
	}
	fields := [][2]string{
		{"filename", up.Filename},
		{"mime_type", up.MimeType},
		{"width", strconv.Itoa(up.Width)},
		{"height", strconv.Itoa(up.Height)},
	}
	for _, f := range fields {
		if err := form.AddField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to build update: %w", err)
		}
	}
	return c.sendForm(ctx, creds, http.MethodPut, c.svc.url(nil, "images", id.String()), form)
}

func (c *Images) Delete(ctx context.Context, creds apiclient.TokenSource, id model.ID) error {
	return c.svc.call(ctx, creds, http.MethodDelete, c.svc.url(nil, "images", id.String()), nil, nil)
}

// sendForm tolerates an empty or non-JSON success body; the editor service
// does not always describe the stored image.
func (c *Images) sendForm(ctx context.Context, creds apiclient.TokenSource, method, rawURL string, form *apiclient.FormData) (*model.Image, error) {
	resp, err := c.svc.r.Do(ctx, creds, rawURL, apiclient.Options{Method: method, Body: form, Service: c.svc.name})
	if err != nil {
		return nil, c.svc.transportError(err)
	}
	defer resp.Body.Close()

	if err := c.svc.checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.Upstream(c.svc.name, 0, err)
	}
	var img model.Image
	if len(data) == 0 || json.Unmarshal(data, &img) != nil {
		return &model.Image{}, nil
	}
	return &img, nil
}
