package application

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	repo "github.com/oksasatya/pix-license-api/internal/domain/repository"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/metrics"
	"github.com/oksasatya/pix-license-api/pkg/apperror"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
	"github.com/oksasatya/pix-license-api/pkg/mailer/templates"
)

// Outcomes recorded for every payment event.
const (
	OutcomeApplied      = "applied"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
	OutcomeNotFound     = "not_found"
	OutcomeInconsistent = "inconsistent"
)

const (
	SourceWebhook    = "webhook"
	SourceSimulation = "simulation"
)

// WebhookEvent is the provider's payment event body.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID     string `json:"id"`
		Status string `json:"status,omitempty"`
	} `json:"data"`
}

type ReconcileResult struct {
	Event     string `json:"event"`
	PaymentID string `json:"paymentId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Status    string `json:"status"`
	Outcome   string `json:"-"`
}

// PaymentService reconciles provider payment events with local payment and
// license state.
type PaymentService struct {
	Users    repo.UserRepository
	Payments repo.PaymentRepository
	Licenses LicenseIssuer
	Provider PaymentProvider
	Notifier Notifier
	Mail     Queue
	Audit    AuditLog
	Metrics  *metrics.Metrics
	Settings Settings
	Logger   *logrus.Logger

	now func() time.Time
}

func NewPaymentService(s PaymentService) *PaymentService {
	if s.Logger == nil {
		s.Logger = helpers.NewNopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.Settings = s.Settings.withDefaults()
	return &s
}

// HandleWebhook applies one verified provider event. An unknown charge is
// a soft miss reported with status "not_found", not an error.
func (s *PaymentService) HandleWebhook(ctx context.Context, ev WebhookEvent) (*ReconcileResult, error) {
	target, ok := entity.StatusForEvent(ev.Event)
	if !ok {
		return nil, apperror.Validation("unsupported event " + ev.Event)
	}
	if ev.Data.ID == "" {
		return nil, apperror.Validation("event data.id is required")
	}

	p, err := s.Payments.GetByProviderChargeID(ctx, ev.Data.ID)
	if errors.Is(err, repo.ErrNotFound) {
		res := &ReconcileResult{Event: ev.Event, Status: OutcomeNotFound, Outcome: OutcomeNotFound}
		s.Logger.WithFields(logrus.Fields{"event": ev.Event, "charge_id": ev.Data.ID}).Info("payment event for unknown charge")
		s.record(ctx, ev.Data.ID, SourceWebhook, res, nil)
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, p, ev.Event, target, SourceWebhook)
}

// Simulate marks a pending payment as paid through the provider's dev-mode
// endpoint, then applies the same confirmation as the webhook.
func (s *PaymentService) Simulate(ctx context.Context, paymentID string) (*ReconcileResult, error) {
	if !s.Settings.AllowSimulation {
		return nil, apperror.Forbidden("payment simulation is only available in development")
	}
	p, err := s.Payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperror.NotFound("payment not found")
		}
		return nil, err
	}
	if p.Status == entity.PaymentPaid {
		return nil, apperror.Conflict("payment already paid")
	}
	if p.Status.Terminal() {
		return nil, apperror.Conflict("payment is " + string(p.Status))
	}
	if err := s.Provider.SimulatePixPayment(ctx, p.ProviderChargeID); err != nil {
		return nil, err
	}
	return s.apply(ctx, p, entity.EventPaymentConfirmed, entity.PaymentPaid, SourceSimulation)
}

func (s *PaymentService) apply(ctx context.Context, p *entity.Payment, event string, target entity.PaymentStatus, source string) (*ReconcileResult, error) {
	log := s.Logger.WithFields(logrus.Fields{
		"event":      event,
		"payment_id": p.ID,
		"charge_id":  p.ProviderChargeID,
		"user_id":    p.UserID,
	})

	changed := false
	if p.Status == entity.PaymentPending {
		ok, err := s.Payments.Transition(ctx, p.ID, entity.PaymentPending, target)
		if err != nil {
			return nil, err
		}
		if ok {
			changed = true
			p.Status = target
		} else if p, err = s.Payments.GetByID(ctx, p.ID); err != nil {
			return nil, err
		}
	}

	res := &ReconcileResult{Event: event, PaymentID: p.ID, UserID: p.UserID, Status: string(p.Status)}
	switch {
	case changed:
		res.Outcome = OutcomeApplied
	case p.Status == target:
		res.Outcome = OutcomeDuplicate
	default:
		res.Outcome = OutcomeIgnored
	}

	var err error
	if p.Status == entity.PaymentPaid && target == entity.PaymentPaid {
		var issued bool
		issued, err = s.ensureLicense(ctx, p)
		if err != nil {
			if apperror.KindOf(err) == apperror.KindInconsistency {
				res.Outcome = OutcomeInconsistent
				helpers.LogError(log, "payment references missing user", err, nil)
			}
		} else if issued && res.Outcome == OutcomeDuplicate {
			// Payment was PAID but the license write had not landed yet.
			res.Outcome = OutcomeApplied
		}
	}

	if err == nil {
		log.WithField("outcome", res.Outcome).Info("payment event processed")
	}
	s.record(ctx, p.ProviderChargeID, source, res, err)
	return res, err
}

// ensureLicense activates the user's license for p unless it was already
// issued for this payment. An active license is extended from its current
// expiry.
func (s *PaymentService) ensureLicense(ctx context.Context, p *entity.Payment) (bool, error) {
	u, err := s.Users.GetByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, apperror.Inconsistency("payment " + p.ID + " belongs to missing user " + p.UserID)
		}
		return false, err
	}
	if u.LicensePaymentID == p.ID {
		return false, nil
	}

	now := s.now().UTC()
	base := now
	if u.LicenseActiveAt(now) {
		base = u.LicenseExpiresAt.UTC()
	}
	expiresAt := base.Add(time.Duration(s.Settings.LicenseDays) * 24 * time.Hour)

	token, _, err := s.Licenses.GenerateLicenseUntil(u.ID, u.Email, expiresAt)
	if err != nil {
		return false, err
	}
	changed, err := s.Users.ActivateLicense(ctx, u.ID, entity.LicenseGrant{PaymentID: p.ID, Token: token, ExpiresAt: expiresAt})
	if err != nil || !changed {
		return false, err
	}

	s.Metrics.LicenseIssued()
	s.Logger.WithFields(logrus.Fields{"user_id": u.ID, "payment_id": p.ID}).Info("license issued")
	if s.Notifier != nil {
		if err := s.Notifier.Notify(ctx, entity.PushEvent{ClientID: u.ID, Status: entity.PushLicenseActivated}); err != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Warn("push notify failed")
		}
	}
	sendMail(ctx, s.Mail, s.Logger, templates.LicenseActivated, u.Email,
		templates.NewLicenseActivatedData(s.Settings.Branding, u.Name, u.Email, token, expiresAt))
	return true, nil
}

func (s *PaymentService) record(ctx context.Context, chargeID, source string, res *ReconcileResult, cause error) {
	s.Metrics.PaymentEvent(res.Event, res.Outcome)
	if s.Audit == nil {
		return
	}
	rec := entity.PaymentEventRecord{
		Event:      res.Event,
		ChargeID:   chargeID,
		PaymentID:  res.PaymentID,
		UserID:     res.UserID,
		Outcome:    res.Outcome,
		Source:     source,
		ReceivedAt: s.now().UTC(),
	}
	if cause != nil {
		rec.Detail = cause.Error()
		if rec.Outcome == "" {
			rec.Outcome = "error"
		}
	}
	if err := s.Audit.Record(ctx, rec); err != nil {
		s.Logger.WithError(err).WithField("charge_id", chargeID).Warn("audit record failed")
	}
}

// SearchEvents queries the payment event audit log.
func (s *PaymentService) SearchEvents(ctx context.Context, q string, size int) ([]entity.PaymentEventRecord, error) {
	if s.Audit == nil {
		return nil, apperror.External("payment event log is not configured", 503, nil)
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	return s.Audit.Search(ctx, q, size)
}
