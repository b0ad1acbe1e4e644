package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-portal/pkg/auth"
)

type realm struct {
	*httptest.Server
	key      *rsa.PrivateKey
	verifier string
}

func newRealm(t *testing.T, claims auth.RealmClaims) *realm {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	r := &realm{key: key}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/realms/test/protocol/openid-connect/token" {
			http.NotFound(w, req)
			return
		}
		require.NoError(t, req.ParseForm())
		if req.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		r.verifier = req.PostForm.Get("code_verifier")

		claims.Issuer = r.URL + "/realms/test"
		access, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  access,
			"refresh_token": "refresh",
			"id_token":      "id-token",
			"token_type":    "Bearer",
			"expires_in":    300,
		})
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *realm) service() *Service {
	issuer := r.URL + "/realms/test"
	verifier := auth.NewRSAVerifier(&r.key.PublicKey, auth.VerifierOptions{Issuer: issuer, ClientID: "portal"})
	return NewService(Config{
		Issuer:                issuer,
		ClientID:              "portal",
		RedirectURL:           "http://portal/auth/callback",
		PostLogoutRedirectURL: "http://portal/",
	}, verifier)
}

func doctorClaims() auth.RealmClaims {
	return auth.RealmClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "kc-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		Email:           "doc@example.com",
		Name:            "Dr Who",
		AuthorizedParty: "portal",
		RealmAccess:     auth.RealmAccess{Roles: []string{"Doctor"}},
	}
}

func TestAuthCodeURL(t *testing.T) {
	svc := newRealm(t, doctorClaims()).service()

	u, err := url.Parse(svc.AuthCodeURL("state-1", NewVerifier(), false))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "/realms/test/protocol/openid-connect/auth", u.Path)
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "portal", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Empty(t, q.Get("prompt"))

	u, err = url.Parse(svc.AuthCodeURL("state-2", NewVerifier(), true))
	require.NoError(t, err)
	assert.Equal(t, "create", u.Query().Get("prompt"))
}

func TestExchange(t *testing.T) {
	r := newRealm(t, doctorClaims())
	svc := r.service()
	verifier := NewVerifier()

	tok, identity, err := svc.Exchange(context.Background(), "good-code", verifier)
	require.NoError(t, err)

	assert.Equal(t, verifier, r.verifier)
	assert.Equal(t, "kc-123", identity.Subject)
	assert.Equal(t, "doc@example.com", identity.Email)
	assert.Equal(t, "Dr Who", identity.FullName)
	assert.Equal(t, []string{"Doctor"}, identity.Roles)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.Equal(t, "id-token", IDToken(tok))

	_, _, err = svc.Exchange(context.Background(), "bad-code", verifier)
	assert.Error(t, err)
}

func TestExchangeRequiresProfile(t *testing.T) {
	claims := doctorClaims()
	claims.Email = ""
	svc := newRealm(t, claims).service()

	_, _, err := svc.Exchange(context.Background(), "good-code", NewVerifier())
	assert.ErrorIs(t, err, ErrMissingProfile)
}

func TestLogoutURL(t *testing.T) {
	svc := newRealm(t, doctorClaims()).service()

	u, err := url.Parse(svc.LogoutURL("id-token"))
	require.NoError(t, err)
	assert.Equal(t, "/realms/test/protocol/openid-connect/logout", u.Path)
	assert.Equal(t, "id-token", u.Query().Get("id_token_hint"))
	assert.Equal(t, "http://portal/", u.Query().Get("post_logout_redirect_uri"))
	assert.Equal(t, "portal", u.Query().Get("client_id"))
}
