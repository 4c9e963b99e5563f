package repository

import (
	"context"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/pkg/apperror"
)

var (
	ErrNotFound  = apperror.NotFound("record not found")
	ErrDuplicate = apperror.Conflict("record already exists")
)

// UserRepository defines user persistence. Every mutation is a single-row
// UPDATE; none of them read-modify-write.
type UserRepository interface {
	// Create inserts u and fills ID and timestamps. Duplicate email yields ErrDuplicate.
	Create(ctx context.Context, u *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	Delete(ctx context.Context, id string) error

	// SetProviderCustomerID stores the provider customer and moves the user
	// to PENDING_CHARGE.
	SetProviderCustomerID(ctx context.Context, id, customerID string) error
	SetOnboardingState(ctx context.Context, id string, state entity.OnboardingState, reason string) error

	// ActivateLicense writes the grant unless the user's license was already
	// issued for grant.PaymentID. It reports whether a row changed.
	ActivateLicense(ctx context.Context, id string, grant entity.LicenseGrant) (bool, error)
}

// PaymentRepository defines payment persistence.
type PaymentRepository interface {
	// Create inserts p. A repeated provider charge id or request id yields ErrDuplicate.
	Create(ctx context.Context, p *entity.Payment) error
	GetByID(ctx context.Context, id string) (*entity.Payment, error)
	GetByProviderChargeID(ctx context.Context, chargeID string) (*entity.Payment, error)
	GetByRequestID(ctx context.Context, requestID string) (*entity.Payment, error)
	LatestPendingForUser(ctx context.Context, userID string) (*entity.Payment, error)

	// Transition moves the payment from -> to only if it is currently in
	// from. It reports whether the row changed.
	Transition(ctx context.Context, id string, from, to entity.PaymentStatus) (bool, error)
	SetQrCodeURL(ctx context.Context, id, url string) error
}
