package application

import (
	"context"
	"time"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/pkg/abacatepay"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
	"github.com/oksasatya/pix-license-api/pkg/mailer/templates"
)

// Queue is the producer side of a work queue. *helpers.WorkQueue satisfies it.
type Queue interface {
	Send(ctx context.Context, body any) error
}

// PaymentProvider is the subset of the PIX provider the workflow calls.
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, cust abacatepay.Customer) (*abacatepay.CustomerResult, error)
	CreatePixQrCode(ctx context.Context, req abacatepay.PixChargeRequest) (*abacatepay.PixCharge, error)
	SimulatePixPayment(ctx context.Context, chargeID string) error
}

type Notifier interface {
	Notify(ctx context.Context, ev entity.PushEvent) error
}

type AuditLog interface {
	Record(ctx context.Context, rec entity.PaymentEventRecord) error
	Search(ctx context.Context, q string, size int) ([]entity.PaymentEventRecord, error)
}

type LicenseIssuer interface {
	GenerateLicenseUntil(userID, email string, expiresAt time.Time) (string, helpers.LicensePayload, error)
	VerifyLicense(token string) (*helpers.LicensePayload, error)
}

type PasswordHasher interface {
	HashPassword(plain string) (string, error)
	CompareHashAndPassword(hash string, plain string) bool
}

// Settings are the business constants shared by the services.
type Settings struct {
	LicensePrice        int64
	LicenseDays         int
	PixExpiresInMinutes int
	ChargeDescription   string
	AllowSimulation     bool
	Branding            templates.Branding
}

func (s Settings) withDefaults() Settings {
	if s.LicenseDays <= 0 {
		s.LicenseDays = 365
	}
	if s.PixExpiresInMinutes <= 0 {
		s.PixExpiresInMinutes = 30
	}
	if s.ChargeDescription == "" {
		s.ChargeDescription = "Software license"
	}
	return s
}
