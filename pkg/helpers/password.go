package helpers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/oksasatya/pix-license-api/pkg/apperror"
)

const passwordKeyInfo = "pix-license-api/password-hmac/v1"

// PasswordHasher hashes passwords with HMAC-SHA256 under a key derived once
// from a dedicated secret. The secret is never shared with license signing.
type PasswordHasher struct {
	key []byte
}

func NewPasswordHasher(secret []byte) (*PasswordHasher, error) {
	if len(secret) == 0 {
		return nil, errors.New("password hash secret is empty")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(passwordKeyInfo)), key); err != nil {
		return nil, err
	}
	return &PasswordHasher{key: key}, nil
}

// HashPassword returns base64(HMAC-SHA256(key, password)).
func (h *PasswordHasher) HashPassword(plain string) (string, error) {
	if plain == "" {
		return "", apperror.Validation("password is required")
	}
	return base64.StdEncoding.EncodeToString(h.mac(plain)), nil
}

// CompareHashAndPassword recomputes the MAC and compares in constant time.
func (h *PasswordHasher) CompareHashAndPassword(hash string, plain string) bool {
	computed := []byte(base64.StdEncoding.EncodeToString(h.mac(plain)))
	stored := []byte(hash)
	if len(computed) != len(stored) {
		return false
	}
	return subtle.ConstantTimeCompare(computed, stored) == 1
}

func (h *PasswordHasher) mac(plain string) []byte {
	m := hmac.New(sha256.New, h.key)
	m.Write([]byte(plain))
	return m.Sum(nil)
}
