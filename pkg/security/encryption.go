// Package security seals the secrets a session record carries at rest.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

var (
	ErrInvalidKeySize = errors.New("invalid key size")
	ErrSeal           = errors.New("sealing failed")
	ErrOpen           = errors.New("sealed value is corrupt or belongs to another owner")
	ErrEmptySecret    = errors.New("secret must not be empty")
)

// DeriveKey stretches a configured secret into an AES-256 key bound to
// purpose, so one secret can key several independent uses.
func DeriveKey(secret, purpose string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Sealer encrypts session secrets with AES-256-GCM. A sealed value is the
// random nonce followed by the ciphertext. The owner, typically the session
// id, is authenticated but not stored, so a value copied into another
// session's record fails to open.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// NewSessionSealer derives the key for purpose from secret.
func NewSessionSealer(secret, purpose string) (*Sealer, error) {
	key, err := DeriveKey(secret, purpose)
	if err != nil {
		return nil, err
	}
	return NewSealer(key)
}

func (s *Sealer) Seal(plaintext []byte, owner string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, ErrSeal
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(owner)), nil
}

func (s *Sealer) Open(sealed []byte, owner string) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrOpen
	}
	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(owner))
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
