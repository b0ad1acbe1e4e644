package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
)

// Search talks to the read-side search service.
type Search struct {
	svc service
}

func (c *Search) list(ctx context.Context, creds apiclient.TokenSource, rawURL string) ([]model.PatientSummary, error) {
	var out []model.PatientSummary
	if err := c.svc.call(ctx, creds, http.MethodGet, rawURL, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.PatientSummary{}
	}
	return out, nil
}

func (c *Search) PatientsByName(ctx context.Context, creds apiclient.TokenSource, name string) ([]model.PatientSummary, error) {
	return c.list(ctx, creds, c.svc.url(nil, "search", "patients", "name", name))
}

func (c *Search) PatientsByCondition(ctx context.Context, creds apiclient.TokenSource, condition string) ([]model.PatientSummary, error) {
	return c.list(ctx, creds, c.svc.url(nil, "search", "patients", "condition", condition))
}

func (c *Search) PatientsByPractitioner(ctx context.Context, creds apiclient.TokenSource, practitionerID model.ID) ([]model.PatientSummary, error) {
	return c.list(ctx, creds, c.svc.url(nil, "search", "patients", "practitioner", "id", practitionerID.String()))
}

// PatientsByPractitionerOnDate lists patients the practitioner saw on date
// (YYYY-MM-DD).
func (c *Search) PatientsByPractitionerOnDate(ctx context.Context, creds apiclient.TokenSource, practitionerID model.ID, date string) ([]model.PatientSummary, error) {
	q := url.Values{"localDate": {date}}
	return c.list(ctx, creds, c.svc.url(q, "search", "patients", "practitioner", "id", practitionerID.String(), "date"))
}

// PatientByEmail with eager loads the patient's records too.
func (c *Search) PatientByEmail(ctx context.Context, creds apiclient.TokenSource, email string, eager bool) (*model.Patient, error) {
	var q url.Values
	if eager {
		q = url.Values{"eager": {"true"}}
	}
	var p model.Patient
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(q, "search", "patient", "email", email), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Search) PractitionerByEmail(ctx context.Context, creds apiclient.TokenSource, email string) (*model.Practitioner, error) {
	var p model.Practitioner
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(nil, "search", "practitioner", "email", email), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Search) PractitionerByID(ctx context.Context, creds apiclient.TokenSource, id model.ID) (*model.Practitioner, error) {
	var p model.Practitioner
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(nil, "search", "practitioner", "id", id.String()), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
