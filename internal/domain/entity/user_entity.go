package entity

import (
	"time"
)

// OnboardingState tracks how far a user got through customer and charge creation.
type OnboardingState string

const (
	OnboardingPendingCustomer OnboardingState = "PENDING_CUSTOMER"
	OnboardingPendingCharge   OnboardingState = "PENDING_CHARGE"
	OnboardingReady           OnboardingState = "READY"
	OnboardingFailed          OnboardingState = "FAILED"
)

func (s OnboardingState) Valid() bool {
	switch s {
	case OnboardingPendingCustomer, OnboardingPendingCharge, OnboardingReady, OnboardingFailed:
		return true
	}
	return false
}

// User is the aggregate root for identity and license state.
// PasswordHash holds the keyed MAC produced by helpers.PasswordHasher.
//
// LicenseActive implies LicenseExpiresAt and LicenseToken are set.
// LicensePaymentID is the payment that produced the current license; it makes
// license issuance idempotent per payment.
type User struct {
	ID                 string
	Email              string
	Name               string
	TaxID              string
	Cellphone          string
	PasswordHash       string
	ProviderCustomerID string
	LicenseActive      bool
	LicenseExpiresAt   *time.Time
	LicenseToken       string
	LicensePaymentID   string
	OnboardingState    OnboardingState
	OnboardingError    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LicenseActiveAt reports whether the license is active and not expired at now.
func (u *User) LicenseActiveAt(now time.Time) bool {
	return u.LicenseActive && u.LicenseExpiresAt != nil && u.LicenseExpiresAt.After(now)
}

// LicenseGrant is the set of license fields written in one update.
type LicenseGrant struct {
	PaymentID string
	Token     string
	ExpiresAt time.Time
}
