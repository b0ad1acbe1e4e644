// Package identity runs the authorization-code flow against the OpenID
// Connect realm and turns verified access tokens into identities.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/auth"
)

var ErrMissingProfile = errors.New("token is missing the email or subject claim")

type Config struct {
	Issuer                string
	ClientID              string
	ClientSecret          string
	RedirectURL           string
	PostLogoutRedirectURL string
	Scopes                []string
}

type Service struct {
	oauth      *oauth2.Config
	verifier   auth.JWTService
	endSession string
	postLogout string
}

func NewService(cfg Config, verifier auth.JWTService) *Service {
	base := strings.TrimRight(cfg.Issuer, "/") + "/protocol/openid-connect"
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	return &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/auth",
				TokenURL: base + "/token",
			},
		},
		verifier:   verifier,
		endSession: base + "/logout",
		postLogout: cfg.PostLogoutRedirectURL,
	}
}

// OAuth exposes the client configuration; it refreshes session tokens.
func (s *Service) OAuth() *oauth2.Config { return s.oauth }

// NewVerifier returns a PKCE code verifier for one authorization request.
func NewVerifier() string { return oauth2.GenerateVerifier() }

// AuthCodeURL starts sign-in. register asks the realm for its sign-up form.
func (s *Service) AuthCodeURL(state, verifier string, register bool) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if register {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "create"))
	}
	return s.oauth.AuthCodeURL(state, opts...)
}

// Exchange trades the authorization code for tokens and verifies them.
func (s *Service) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, model.Identity, error) {
	tok, err := s.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, model.Identity{}, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	identity, err := s.Verify(tok.AccessToken)
	if err != nil {
		return nil, model.Identity{}, err
	}
	return tok, identity, nil
}

// Verify checks the signature and claims of an access token.
func (s *Service) Verify(accessToken string) (model.Identity, error) {
	claims, err := s.verifier.ValidateToken(accessToken)
	if err != nil {
		return model.Identity{}, err
	}
	identity := model.Identity{
		Subject:           claims.Subject,
		Email:             claims.Email,
		FullName:          claims.Name,
		PreferredUsername: claims.PreferredUsername,
		Roles:             claims.RealmAccess.Roles,
	}
	if identity.Subject == "" || identity.Email == "" {
		return identity, ErrMissingProfile
	}
	return identity, nil
}

// LogoutURL ends the realm session and returns the browser to the portal.
func (s *Service) LogoutURL(idToken string) string {
	q := url.Values{}
	q.Set("client_id", s.oauth.ClientID)
	if s.postLogout != "" {
		q.Set("post_logout_redirect_uri", s.postLogout)
	}
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	return s.endSession + "?" + q.Encode()
}

// IDToken pulls the OpenID id_token out of a token response.
func IDToken(tok *oauth2.Token) string {
	if tok == nil {
		return ""
	}
	s, _ := tok.Extra("id_token").(string)
	return s
}
