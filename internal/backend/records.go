package backend

import (
	"context"
	"net/http"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
)

// Records talks to the clinical records service. The three record kinds share
// one path layout, so the methods take the kind and decode into out.
type Records struct {
	svc service
}

func (c *Records) Create(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, patientID, practitionerID model.ID, body, out interface{}) error {
	u := c.svc.url(nil, string(kind), "patient", patientID.String(), "practitioner", practitionerID.String())
	return c.svc.call(ctx, creds, http.MethodPost, u, body, out)
}

func (c *Records) Get(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, id model.ID, out interface{}) error {
	return c.svc.call(ctx, creds, http.MethodGet, c.svc.url(nil, string(kind), id.String()), nil, out)
}

// Update replaces the record with body.
func (c *Records) Update(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, id model.ID, body, out interface{}) error {
	return c.svc.call(ctx, creds, http.MethodPut, c.svc.url(nil, string(kind), id.String()), body, out)
}

func (c *Records) Delete(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, id model.ID) error {
	return c.svc.call(ctx, creds, http.MethodDelete, c.svc.url(nil, string(kind), id.String()), nil, nil)
}

// ByPractitioner lists the practitioner's records of one kind, reduced to
// their routing fields.
func (c *Records) ByPractitioner(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, practitionerID model.ID) ([]model.RecordRef, error) {
	var refs []model.RecordRef
	u := c.svc.url(nil, string(kind), "practitioner", practitionerID.String())
	if err := c.svc.call(ctx, creds, http.MethodGet, u, nil, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}
