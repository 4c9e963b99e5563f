package helpers

import (
	"bytes"
	"compress/gzip"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oksasatya/pix-license-api/pkg/apperror"
)

// isoMillis matches the ISO-8601 form the desktop client parses.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var (
	ErrLicenseMalformed = errors.New("license format invalid")
	ErrLicenseSignature = errors.New("invalid signature")
	ErrLicenseExpired   = errors.New("license expired")
)

// LicensePayload is the content of the signed envelope.
type LicensePayload struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	IssuedAt  string `json:"issuedAt"`
	ExpiresAt string `json:"expiresAt"`
}

func (p LicensePayload) IssuedTime() (time.Time, error)  { return time.Parse(time.RFC3339, p.IssuedAt) }
func (p LicensePayload) ExpiresTime() (time.Time, error) { return time.Parse(time.RFC3339, p.ExpiresAt) }

// LicenseManager issues and verifies license tokens of the form
// base64(gzip(json payload)) "." base64(ed25519 signature over the first part).
// Keys are loaded once at startup and never reloaded.
type LicenseManager struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	now     func() time.Time
}

// NewLicenseManager builds a manager. A nil private key yields a verify-only manager.
func NewLicenseManager(private ed25519.PrivateKey, public ed25519.PublicKey) *LicenseManager {
	if public == nil && private != nil {
		public = private.Public().(ed25519.PublicKey)
	}
	return &LicenseManager{private: private, public: public, now: time.Now}
}

// WithClock overrides the time source; used by tests.
func (m *LicenseManager) WithClock(now func() time.Time) *LicenseManager {
	m.now = now
	return m
}

// LoadLicenseManager reads a PKCS#8 Ed25519 private key and, optionally, a
// PKIX public key from PEM files.
func LoadLicenseManager(privatePath, publicPath string) (*LicenseManager, error) {
	var (
		priv ed25519.PrivateKey
		pub  ed25519.PublicKey
	)
	if privatePath != "" {
		raw, err := os.ReadFile(privatePath)
		if err != nil {
			return nil, fmt.Errorf("read license private key: %w", err)
		}
		priv, err = ParseLicensePrivateKey(raw)
		if err != nil {
			return nil, err
		}
	}
	if publicPath != "" {
		raw, err := os.ReadFile(publicPath)
		if err != nil {
			return nil, fmt.Errorf("read license public key: %w", err)
		}
		pub, err = ParseLicensePublicKey(raw)
		if err != nil {
			return nil, err
		}
	}
	if priv == nil && pub == nil {
		return nil, errors.New("no license key configured")
	}
	return NewLicenseManager(priv, pub), nil
}

func ParseLicensePrivateKey(pemBytes []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("license private key: no PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("license private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("license private key: not an ed25519 key")
	}
	return priv, nil
}

func ParseLicensePublicKey(pemBytes []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("license public key: no PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("license public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("license public key: not an ed25519 key")
	}
	return pub, nil
}

// GenerateLicense signs a license for userID/email valid for the given number of days.
func (m *LicenseManager) GenerateLicense(userID, email string, days int) (string, LicensePayload, error) {
	if days <= 0 {
		return "", LicensePayload{}, apperror.Validation("days must be positive")
	}
	now := m.now().UTC()
	return m.sign(userID, email, now, now.Add(time.Duration(days)*24*time.Hour))
}

// GenerateLicenseUntil signs a license expiring at expiresAt. Renewals use it
// to extend an active license instead of restarting from now.
func (m *LicenseManager) GenerateLicenseUntil(userID, email string, expiresAt time.Time) (string, LicensePayload, error) {
	now := m.now().UTC()
	if !expiresAt.After(now) {
		return "", LicensePayload{}, apperror.Validation("expiry must be in the future")
	}
	return m.sign(userID, email, now, expiresAt.UTC())
}

func (m *LicenseManager) sign(userID, email string, issued, expires time.Time) (string, LicensePayload, error) {
	if strings.TrimSpace(userID) == "" {
		return "", LicensePayload{}, apperror.Validation("userId is required")
	}
	if strings.TrimSpace(email) == "" {
		return "", LicensePayload{}, apperror.Validation("email is required")
	}
	if !strings.Contains(email, "@") {
		return "", LicensePayload{}, apperror.Validation("email is invalid")
	}
	if m.private == nil {
		return "", LicensePayload{}, errors.New("license manager has no private key")
	}

	payload := LicensePayload{
		UserID:    userID,
		Email:     email,
		IssuedAt:  issued.Format(isoMillis),
		ExpiresAt: expires.Format(isoMillis),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", LicensePayload{}, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", LicensePayload{}, err
	}
	if err := zw.Close(); err != nil {
		return "", LicensePayload{}, err
	}

	payload64 := base64.StdEncoding.EncodeToString(buf.Bytes())
	sig := ed25519.Sign(m.private, []byte(payload64))
	return payload64 + "." + base64.StdEncoding.EncodeToString(sig), payload, nil
}

// VerifyLicense checks the signature and expiry and returns the payload.
func (m *LicenseManager) VerifyLicense(token string) (*LicensePayload, error) {
	if m.public == nil {
		return nil, errors.New("license manager has no public key")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrLicenseMalformed
	}
	sig, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrLicenseMalformed
	}
	if !ed25519.Verify(m.public, []byte(parts[0]), sig) {
		return nil, ErrLicenseSignature
	}
	packed, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrLicenseMalformed
	}
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, ErrLicenseMalformed
	}
	defer func() { _ = zr.Close() }()
	raw, err := io.ReadAll(io.LimitReader(zr, 64<<10))
	if err != nil {
		return nil, ErrLicenseMalformed
	}

	var payload LicensePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrLicenseMalformed
	}
	exp, err := payload.ExpiresTime()
	if err != nil {
		return nil, ErrLicenseMalformed
	}
	if !exp.After(m.now()) {
		return &payload, ErrLicenseExpired
	}
	return &payload, nil
}
