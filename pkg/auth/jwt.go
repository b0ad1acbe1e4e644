package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid RSA public key")
)

// RealmClaims are the access-token claims issued by an OpenID Connect realm.
type RealmClaims struct {
	jwt.RegisteredClaims
	Email             string      `json:"email,omitempty"`
	Name              string      `json:"name,omitempty"`
	PreferredUsername string      `json:"preferred_username,omitempty"`
	AuthorizedParty   string      `json:"azp,omitempty"`
	RealmAccess       RealmAccess `json:"realm_access"`
}

type RealmAccess struct {
	Roles []string `json:"roles"`
}

// JWTService validates tokens signed by the identity provider.
type JWTService interface {
	ValidateToken(token string) (*RealmClaims, error)
}

type VerifierOptions struct {
	Issuer string
	// ClientID, when set, must match the azp claim.
	ClientID string
	Leeway   time.Duration
}

type rsaVerifier struct {
	key  *rsa.PublicKey
	opts VerifierOptions
}

func NewRSAVerifier(key *rsa.PublicKey, opts VerifierOptions) JWTService {
	if opts.Leeway == 0 {
		opts.Leeway = 30 * time.Second
	}
	return &rsaVerifier{key: key, opts: opts}
}

func (v *rsaVerifier) ValidateToken(token string) (*RealmClaims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithLeeway(v.opts.Leeway),
		jwt.WithExpirationRequired(),
	}
	if v.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.opts.Issuer))
	}

	claims := &RealmClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if v.opts.ClientID != "" && claims.AuthorizedParty != "" && claims.AuthorizedParty != v.opts.ClientID {
		return nil, fmt.Errorf("%w: issued to %q", ErrInvalidToken, claims.AuthorizedParty)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// ParseRSAPublicKey accepts a PEM block or the bare base64 DER that realm
// admin consoles display.
func ParseRSAPublicKey(s string) (*rsa.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}

	var der []byte
	if block, _ := pem.Decode([]byte(s)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		der = decoded
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		if rsaKey, pkcs1Err := x509.ParsePKCS1PublicKey(der); pkcs1Err == nil {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKey)
	}
	return key, nil
}
