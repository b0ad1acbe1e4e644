package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
)

// Users talks to the user-management service.
type Users struct {
	svc service
}

// Patient fetches a patient, with its clinical records when relations is set.
func (c *Users) Patient(ctx context.Context, creds apiclient.TokenSource, id model.ID, relations bool) (*model.Patient, error) {
	q := url.Values{"fetchRelations": {strconv.FormatBool(relations)}}
	var p model.Patient
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(q, "patients", id.String()), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PatientByEmail always includes relations.
func (c *Users) PatientByEmail(ctx context.Context, creds apiclient.TokenSource, email string) (*model.Patient, error) {
	q := url.Values{"fetchRelations": {"true"}}
	var p model.Patient
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(q, "patients", "email", email), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SearchPatients is the paged free-text patient lookup, without relations.
func (c *Users) SearchPatients(ctx context.Context, creds apiclient.TokenSource, query string, pageIndex, pageSize int) ([]model.PatientSummary, error) {
	q := url.Values{
		"q":              {query},
		"pageIndex":      {strconv.Itoa(pageIndex)},
		"pageSize":       {strconv.Itoa(pageSize)},
		"fetchRelations": {"false"},
	}
	var out []model.PatientSummary
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(q, "patients", "search"), nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.PatientSummary{}
	}
	return out, nil
}

func (c *Users) User(ctx context.Context, creds apiclient.TokenSource, id model.ID) (*model.User, error) {
	var u model.User
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(nil, "users", id.String()), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Users) UserByEmail(ctx context.Context, creds apiclient.TokenSource, email string) (*model.User, error) {
	var u model.User
	if err := c.svc.call(ctx, creds, http.MethodGet, c.svc.url(nil, "users", "email", email), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Users) CreatePractitioner(ctx context.Context, creds apiclient.TokenSource, req model.CreatePractitionerRequest) error {
	return c.svc.call(ctx, creds, http.MethodPost, c.svc.url(nil, "users", "practitioners"), req, nil)
}

func (c *Users) CreatePatient(ctx context.Context, creds apiclient.TokenSource, req model.CreatePatientRequest) error {
	return c.svc.call(ctx, creds, http.MethodPost, c.svc.url(nil, "users", "patients"), req, nil)
}

// RegisterPatient is the legacy self-service sign-up. It carries no
// credential.
func (c *Users) RegisterPatient(ctx context.Context, req model.RegisterPatientRequest) error {
	req.UserType = string(model.RolePatient)
	return c.svc.callPublic(ctx, http.MethodPost, c.svc.url(nil, "patients"), req, nil)
}
