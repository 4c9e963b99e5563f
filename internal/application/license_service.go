package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	repo "github.com/oksasatya/pix-license-api/internal/domain/repository"
	"github.com/oksasatya/pix-license-api/pkg/apperror"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
)

var (
	ErrInvalidCredentials = apperror.Unauthorized("invalid email or password")
	ErrInvalidRefresh     = apperror.Unauthorized("invalid refresh token")
)

type SessionStore interface {
	Save(ctx context.Context, sess entity.Session, ttl time.Duration) error
	Get(ctx context.Context, userID, sessionID string) (*entity.Session, bool, error)
	Delete(ctx context.Context, userID, sessionID string) error
}

// Renewer enqueues a renewal charge for a user. *OnboardingService satisfies it.
type Renewer interface {
	RequestRenewal(ctx context.Context, u *entity.User) error
}

// LicenseService answers license queries from the desktop client.
type LicenseService struct {
	Users    repo.UserRepository
	Licenses LicenseIssuer
	Hasher   PasswordHasher
	JWT      *helpers.JWTManager
	Sessions SessionStore
	Renewer  Renewer
	Logger   *logrus.Logger

	now func() time.Time
}

func NewLicenseService(s LicenseService) *LicenseService {
	if s.Logger == nil {
		s.Logger = helpers.NewNopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return &s
}

type LicenseStatus struct {
	UserID           string                 `json:"userId"`
	Email            string                 `json:"email"`
	LicenseActive    bool                   `json:"licenseActive"`
	LicenseExpiresAt *time.Time             `json:"licenseExpiresAt"`
	LicenseToken     *string                `json:"licenseToken"`
	OnboardingState  entity.OnboardingState `json:"onboardingState"`
}

// Status looks the user up by id, or by email when id is empty. An expired
// license is reported inactive.
func (s *LicenseService) Status(ctx context.Context, userID, email string) (*LicenseStatus, error) {
	userID, email = strings.TrimSpace(userID), strings.TrimSpace(email)
	var (
		u   *entity.User
		err error
	)
	switch {
	case userID != "":
		u, err = s.Users.GetByID(ctx, userID)
	case email != "":
		u, err = s.Users.GetByEmail(ctx, email)
	default:
		return nil, apperror.Validation("userId or email is required")
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperror.NotFound("user not found")
		}
		return nil, err
	}
	return s.statusOf(u), nil
}

func (s *LicenseService) statusOf(u *entity.User) *LicenseStatus {
	st := &LicenseStatus{
		UserID:           u.ID,
		Email:            u.Email,
		LicenseActive:    u.LicenseActiveAt(s.now()),
		LicenseExpiresAt: u.LicenseExpiresAt,
		OnboardingState:  u.OnboardingState,
	}
	if u.LicenseToken != "" {
		token := u.LicenseToken
		st.LicenseToken = &token
	}
	return st
}

type VerifyResult struct {
	Valid   bool                    `json:"valid"`
	Payload *helpers.LicensePayload `json:"payload,omitempty"`
	Reason  string                  `json:"reason,omitempty"`
}

// Verify runs the same check the desktop client does offline.
func (s *LicenseService) Verify(token string) VerifyResult {
	token = strings.TrimSpace(token)
	if token == "" {
		return VerifyResult{Reason: helpers.ErrLicenseMalformed.Error()}
	}
	payload, err := s.Licenses.VerifyLicense(token)
	if err != nil {
		res := VerifyResult{Reason: err.Error()}
		if errors.Is(err, helpers.ErrLicenseExpired) {
			res.Payload = payload
		}
		return res
	}
	return VerifyResult{Valid: true, Payload: payload}
}

type CheckLicenseResult struct {
	UserID           string     `json:"userId"`
	LicenseStatus    string     `json:"licenseStatus"`
	LicenseExpiresAt *time.Time `json:"licenseExpiresAt,omitempty"`
	LicenseToken     string     `json:"licenseToken,omitempty"`
	RenewalQueued    bool       `json:"renewalQueued"`
}

// CheckLicense authenticates the user, opens a session and reports the
// license. An inactive license with a known provider customer triggers a
// renewal charge.
func (s *LicenseService) CheckLicense(ctx context.Context, email, password string) (*CheckLicenseResult, helpers.TokenPair, error) {
	u, err := s.Users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, helpers.TokenPair{}, ErrInvalidCredentials
		}
		return nil, helpers.TokenPair{}, err
	}
	if !s.Hasher.CompareHashAndPassword(u.PasswordHash, password) {
		return nil, helpers.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.openSession(ctx, u)
	if err != nil {
		return nil, helpers.TokenPair{}, err
	}

	res := &CheckLicenseResult{UserID: u.ID, LicenseStatus: "inactive"}
	if u.LicenseActiveAt(s.now()) {
		res.LicenseStatus = "active"
		res.LicenseExpiresAt = u.LicenseExpiresAt
		res.LicenseToken = u.LicenseToken
		return res, pair, nil
	}
	if u.ProviderCustomerID != "" && s.Renewer != nil {
		if err := s.Renewer.RequestRenewal(ctx, u); err != nil {
			helpers.LogError(s.Logger, "renewal enqueue failed", err, logrus.Fields{"user_id": u.ID})
		} else {
			res.RenewalQueued = true
		}
	}
	return res, pair, nil
}

func (s *LicenseService) openSession(ctx context.Context, u *entity.User) (helpers.TokenPair, error) {
	pair, err := s.JWT.IssuePair(u.ID)
	if err != nil {
		return helpers.TokenPair{}, apperror.Internal("issue tokens", err)
	}
	if s.Sessions != nil {
		sess := entity.Session{UserID: u.ID, SessionID: pair.SessionID, Email: u.Email, Name: u.Name, CreatedAt: s.now()}
		if err := s.Sessions.Save(ctx, sess, s.JWT.RefreshTTL); err != nil {
			return helpers.TokenPair{}, apperror.External("session store unavailable", 503, err)
		}
	}
	return pair, nil
}

// Refresh trades a refresh token for a new pair under a new session id. The
// old session is dropped, so each refresh token works once.
func (s *LicenseService) Refresh(ctx context.Context, refreshToken string) (helpers.TokenPair, error) {
	claims, err := s.JWT.ParseRefreshToken(refreshToken)
	if err != nil {
		return helpers.TokenPair{}, ErrInvalidRefresh
	}
	if s.Sessions != nil {
		_, ok, err := s.Sessions.Get(ctx, claims.UserID, claims.SessionID)
		if err != nil {
			return helpers.TokenPair{}, apperror.External("session store unavailable", 503, err)
		}
		if !ok {
			return helpers.TokenPair{}, ErrInvalidRefresh
		}
	}
	u, err := s.Users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return helpers.TokenPair{}, ErrInvalidRefresh
		}
		return helpers.TokenPair{}, err
	}

	pair, err := s.openSession(ctx, u)
	if err != nil {
		return helpers.TokenPair{}, err
	}
	if s.Sessions != nil {
		if err := s.Sessions.Delete(ctx, claims.UserID, claims.SessionID); err != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Warn("drop rotated session failed")
		}
	}
	return pair, nil
}

// Logout drops the session behind the presented token.
func (s *LicenseService) Logout(ctx context.Context, userID, sessionID string) error {
	if s.Sessions == nil {
		return nil
	}
	return s.Sessions.Delete(ctx, userID, sessionID)
}
