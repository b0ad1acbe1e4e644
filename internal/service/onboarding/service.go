// Package onboarding makes sure a freshly signed-in identity exists in user
// management and has reached the search index before the portal serves it.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
)

// ErrUnverified is returned for patients whose profile never showed up in
// search.
var ErrUnverified = errors.New("could not verify your profile")

type Users interface {
	CreatePractitioner(ctx context.Context, creds apiclient.TokenSource, req model.CreatePractitionerRequest) error
	CreatePatient(ctx context.Context, creds apiclient.TokenSource, req model.CreatePatientRequest) error
}

type Search interface {
	PractitionerByEmail(ctx context.Context, creds apiclient.TokenSource, email string) (*model.Practitioner, error)
	PatientByEmail(ctx context.Context, creds apiclient.TokenSource, email string, eager bool) (*model.Patient, error)
}

type Config struct {
	Attempts int
	Interval time.Duration
}

// Result describes how far onboarding got.
type Result struct {
	Practitioner bool
	Verified     bool
}

type Service struct {
	users  Users
	search Search
	cfg    Config
}

func NewService(users Users, search Search, cfg Config) *Service {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	return &Service{users: users, search: search, cfg: cfg}
}

// Onboard registers the identity with user management and waits for the
// profile to become searchable. Practitioners proceed unverified; patients
// get ErrUnverified.
func (s *Service) Onboard(ctx context.Context, creds apiclient.TokenSource, id model.Identity) (Result, error) {
	res := Result{Practitioner: id.IsClinician()}
	logger := log.With().
		Str("user_id", id.Subject).
		Bool("practitioner", res.Practitioner).
		Logger()

	if id.Subject == "" || id.Email == "" {
		return res, fmt.Errorf("failed to onboard: identity is missing subject or email")
	}

	if err := s.create(ctx, creds, id, res.Practitioner); err != nil {
		// The account usually exists already.
		logger.Warn().Err(err).Msg("user registration not accepted")
	}

	err := s.await(ctx, creds, id.Email, res.Practitioner)
	switch {
	case err == nil:
		res.Verified = true
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case res.Practitioner:
		logger.Warn().Err(err).Msg("practitioner profile not found in search, proceeding anyway")
		return res, nil
	default:
		logger.Error().Err(err).Msg("patient profile not found in search")
		return res, ErrUnverified
	}
}

func (s *Service) create(ctx context.Context, creds apiclient.TokenSource, id model.Identity, practitioner bool) error {
	name := id.DisplayName()
	if practitioner {
		return s.users.CreatePractitioner(ctx, creds, model.CreatePractitionerRequest{
			FullName:       name,
			Email:          id.Email,
			Password:       model.ExternallyManagedPassword,
			PractitionerID: id.Subject,
		})
	}
	return s.users.CreatePatient(ctx, creds, model.CreatePatientRequest{
		FullName:  name,
		Email:     id.Email,
		Password:  model.ExternallyManagedPassword,
		PatientID: id.Subject,
	})
}

// await polls search at a fixed interval until the profile is found or the
// attempts run out.
func (s *Service) await(ctx context.Context, creds apiclient.TokenSource, email string, practitioner bool) error {
	lookup := func() error {
		if practitioner {
			_, err := s.search.PractitionerByEmail(ctx, creds, email)
			return err
		}
		_, err := s.search.PatientByEmail(ctx, creds, email, true)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.Interval), uint64(s.cfg.Attempts-1)),
		ctx,
	)
	return backoff.Retry(lookup, policy)
}
