package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	repo "github.com/oksasatya/pix-license-api/internal/domain/repository"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/metrics"
	"github.com/oksasatya/pix-license-api/pkg/abacatepay"
	"github.com/oksasatya/pix-license-api/pkg/apperror"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
	"github.com/oksasatya/pix-license-api/pkg/mailer"
	"github.com/oksasatya/pix-license-api/pkg/mailer/templates"
)

const (
	stageCreateCustomer = "create_customer"
	stageCreateCharge   = "create_charge"
)

// OnboardingService owns registration and the two queue stages that create
// the provider customer and the first PIX charge.
type OnboardingService struct {
	Users    repo.UserRepository
	Payments repo.PaymentRepository
	Queue    Queue
	Mail     Queue
	Provider PaymentProvider
	Notifier Notifier
	Store    helpers.ObjectStore
	Hasher   PasswordHasher
	Metrics  *metrics.Metrics
	Settings Settings
	Logger   *logrus.Logger
}

// NewOnboardingService fills defaults on a populated service value.
func NewOnboardingService(s OnboardingService) *OnboardingService {
	if s.Logger == nil {
		s.Logger = helpers.NewNopLogger()
	}
	s.Settings = s.Settings.withDefaults()
	return &s
}

type RegisterInput struct {
	Email     string
	Name      string
	TaxID     string
	Cellphone string
	Password  string
}

type RegisterResult struct {
	UserID          string                 `json:"userId"`
	OnboardingState entity.OnboardingState `json:"onboardingState"`
}

// Register persists the user and enqueues CREATE_USER_STRATEGY. The user row
// is removed again when the message cannot be enqueued.
func (s *OnboardingService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := strings.TrimSpace(in.Email)
	if _, err := s.Users.GetByEmail(ctx, email); err == nil {
		return nil, apperror.Conflict("email already registered")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	hash, err := s.Hasher.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &entity.User{
		Email:           email,
		Name:            strings.TrimSpace(in.Name),
		TaxID:           strings.TrimSpace(in.TaxID),
		Cellphone:       strings.TrimSpace(in.Cellphone),
		PasswordHash:    hash,
		OnboardingState: entity.OnboardingPendingCustomer,
	}
	if err := s.Users.Create(ctx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, apperror.Conflict("email already registered")
		}
		return nil, err
	}

	env, err := entity.NewEnvelope(entity.CreateUserStrategy{CustomerDetails: detailsOf(u)})
	if err == nil {
		err = s.Queue.Send(ctx, env)
	}
	if err != nil {
		helpers.LogError(s.Logger, "enqueue CREATE_USER_STRATEGY failed, rolling back user", err, logrus.Fields{"user_id": u.ID})
		if delErr := s.Users.Delete(ctx, u.ID); delErr != nil {
			helpers.LogError(s.Logger, "rollback delete user failed", delErr, logrus.Fields{"user_id": u.ID})
		}
		return nil, apperror.External("onboarding queue unavailable", 503, err)
	}

	s.Logger.WithFields(logrus.Fields{"user_id": u.ID, "message_type": entity.MessageCreateUser}).Info("user registered")
	return &RegisterResult{UserID: u.ID, OnboardingState: u.OnboardingState}, nil
}

// HandleDelivery is the queue handler for both onboarding stages.
func (s *OnboardingService) HandleDelivery(ctx context.Context, d helpers.Delivery) error {
	msg, err := entity.DecodeMessage(d.Body)
	if err != nil {
		return err
	}
	log := s.Logger.WithFields(logrus.Fields{
		"user_id":        msg.Customer().UserID,
		"message_type":   msg.Type(),
		"delivery_count": d.Attempt,
	})
	log.Debug("processing onboarding message")

	switch m := msg.(type) {
	case entity.CreateUserStrategy:
		err = s.createCustomer(ctx, m, d.MessageID)
		s.Metrics.StageResult(stageCreateCustomer, err)
	case entity.CreatePixStrategy:
		err = s.createCharge(ctx, m)
		s.Metrics.StageResult(stageCreateCharge, err)
	default:
		err = apperror.Validation(fmt.Sprintf("unhandled onboarding message %T", msg))
	}
	if err != nil {
		log.WithError(err).Warn("onboarding stage failed")
	}
	return err
}

func (s *OnboardingService) loadUser(ctx context.Context, id string) (*entity.User, error) {
	u, err := s.Users.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, apperror.Inconsistency("user " + id + " does not exist")
	}
	return u, err
}

func (s *OnboardingService) createCustomer(ctx context.Context, m entity.CreateUserStrategy, messageID string) error {
	u, err := s.loadUser(ctx, m.UserID)
	if err != nil {
		return err
	}

	customerID := u.ProviderCustomerID
	if customerID == "" {
		res, err := s.Provider.CreateCustomer(ctx, abacatepay.Customer{
			Name:      m.Name,
			Email:     m.Email,
			TaxID:     m.TaxID,
			Cellphone: m.Cellphone,
		})
		if err != nil {
			return err
		}
		customerID = res.ID
		if err := s.Users.SetProviderCustomerID(ctx, u.ID, customerID); err != nil {
			return err
		}
	}

	// A redelivered stage-one message keeps its message id, so the charge
	// request id stays stable and stage two does not charge twice.
	requestID := uuid.NewString()
	if messageID != "" {
		requestID = "pix:" + messageID
	}
	return s.enqueueCharge(ctx, m.CustomerDetails, customerID, requestID)
}

func (s *OnboardingService) enqueueCharge(ctx context.Context, details entity.CustomerDetails, customerID, requestID string) error {
	env, err := entity.NewEnvelope(entity.CreatePixStrategy{
		CustomerDetails: details,
		CustomerID:      customerID,
		RequestID:       requestID,
	})
	if err != nil {
		return err
	}
	if err := s.Queue.Send(ctx, env); err != nil {
		return apperror.External("enqueue CREATE_PIX_STRATEGY", 503, err)
	}
	return nil
}

func (s *OnboardingService) createCharge(ctx context.Context, m entity.CreatePixStrategy) error {
	if m.RequestID != "" {
		existing, err := s.Payments.GetByRequestID(ctx, m.RequestID)
		switch {
		case err == nil:
			return s.finishCharge(ctx, m, existing)
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}
	}
	if _, err := s.loadUser(ctx, m.UserID); err != nil {
		return err
	}

	metadata := map[string]string{"userId": m.UserID}
	if m.RequestID != "" {
		metadata["requestId"] = m.RequestID
	}
	charge, err := s.Provider.CreatePixQrCode(ctx, abacatepay.PixChargeRequest{
		Amount:           s.Settings.LicensePrice,
		Description:      s.Settings.ChargeDescription,
		ExpiresInMinutes: s.Settings.PixExpiresInMinutes,
		Customer: abacatepay.Customer{
			Name:      m.Name,
			Email:     m.Email,
			TaxID:     m.TaxID,
			Cellphone: m.Cellphone,
		},
		Metadata: metadata,
	})
	if err != nil {
		return err
	}

	amount := charge.Amount
	if amount == 0 {
		amount = s.Settings.LicensePrice
	}
	p := &entity.Payment{
		UserID:             m.UserID,
		ProviderCustomerID: m.CustomerID,
		ProviderChargeID:   charge.ID,
		RequestID:          m.RequestID,
		Amount:             amount,
		Status:             entity.PaymentPending,
		PixCode:            charge.PixCode,
		PixQrCode:          charge.PixQrCode,
		ExpiresAt:          charge.ExpiresAt,
	}
	if err := s.Payments.Create(ctx, p); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return err
		}
		existing, getErr := s.existingCharge(ctx, m.RequestID, charge.ID)
		if getErr != nil {
			return getErr
		}
		p = existing
	}
	s.uploadQrCode(ctx, p)
	s.enqueueMail(ctx, templates.PixCreated, m.Email, templates.NewPixCreatedData(
		s.Settings.Branding, m.Name, m.Email, p.Amount, p.PixCode, p.PixQrCodeURL, p.ExpiresAt))
	return s.finishCharge(ctx, m, p)
}

// existingCharge finds the row that won a unique-key race. A concurrent
// delivery of the same message collides on request_id, not on the charge id.
func (s *OnboardingService) existingCharge(ctx context.Context, requestID, chargeID string) (*entity.Payment, error) {
	if requestID != "" {
		p, err := s.Payments.GetByRequestID(ctx, requestID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	return s.Payments.GetByProviderChargeID(ctx, chargeID)
}

func (s *OnboardingService) finishCharge(ctx context.Context, m entity.CreatePixStrategy, p *entity.Payment) error {
	if err := s.Users.SetOnboardingState(ctx, m.UserID, entity.OnboardingReady, ""); err != nil {
		return err
	}
	s.notify(ctx, entity.PushEvent{ClientID: m.UserID, Status: entity.PushPixCreated, Payment: pushPayment(p)})
	s.Logger.WithFields(logrus.Fields{
		"user_id":    m.UserID,
		"payment_id": p.ID,
		"charge_id":  p.ProviderChargeID,
	}).Info("pix charge ready")
	return nil
}

func (s *OnboardingService) uploadQrCode(ctx context.Context, p *entity.Payment) {
	if s.Store == nil || p.PixQrCode == "" || p.PixQrCodeURL != "" {
		return
	}
	data, contentType, err := helpers.DecodeImageDataURI(p.PixQrCode)
	if err != nil {
		s.Logger.WithError(err).WithField("payment_id", p.ID).Warn("qr code is not an image, skipping upload")
		return
	}
	url, err := s.Store.Upload(ctx, "pix/"+p.ID+".png", contentType, data)
	if err != nil {
		s.Logger.WithError(err).WithField("payment_id", p.ID).Warn("qr code upload failed")
		return
	}
	if err := s.Payments.SetQrCodeURL(ctx, p.ID, url); err != nil {
		s.Logger.WithError(err).WithField("payment_id", p.ID).Warn("store qr code url failed")
		return
	}
	p.PixQrCodeURL = url
}

// OnPark marks the user FAILED once a message is given up on.
func (s *OnboardingService) OnPark(ctx context.Context, d helpers.Delivery, cause error) {
	var env entity.Envelope
	var details entity.CustomerDetails
	if err := json.Unmarshal(d.Body, &env); err != nil || json.Unmarshal(env.Payload, &details) != nil || details.UserID == "" {
		s.Logger.WithField("message_id", d.MessageID).Error("parked message has no user id")
		return
	}
	reason := "onboarding failed"
	if cause != nil {
		reason = cause.Error()
	}
	if err := s.Users.SetOnboardingState(ctx, details.UserID, entity.OnboardingFailed, reason); err != nil && !errors.Is(err, repo.ErrNotFound) {
		helpers.LogError(s.Logger, "mark onboarding failed", err, logrus.Fields{"user_id": details.UserID})
	}
	s.notify(ctx, entity.PushEvent{ClientID: details.UserID, Status: entity.PushOnboardingFailed, Error: reason})
}

// Renew enqueues a new charge for a user that already has a provider customer.
func (s *OnboardingService) Renew(ctx context.Context, userID string) (*RegisterResult, error) {
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperror.NotFound("user not found")
		}
		return nil, err
	}
	if err := s.RequestRenewal(ctx, u); err != nil {
		return nil, err
	}
	return &RegisterResult{UserID: u.ID, OnboardingState: entity.OnboardingPendingCharge}, nil
}

// RequestRenewal enqueues CREATE_PIX_STRATEGY with the stored customer id.
func (s *OnboardingService) RequestRenewal(ctx context.Context, u *entity.User) error {
	if u.ProviderCustomerID == "" {
		return apperror.Conflict("user has no payment customer yet")
	}
	// The consumer may finish the charge before Send returns, so the state
	// has to be PENDING_CHARGE before the message exists.
	if err := s.Users.SetOnboardingState(ctx, u.ID, entity.OnboardingPendingCharge, ""); err != nil {
		return err
	}
	if err := s.enqueueCharge(ctx, detailsOf(u), u.ProviderCustomerID, uuid.NewString()); err != nil {
		if rbErr := s.Users.SetOnboardingState(ctx, u.ID, u.OnboardingState, u.OnboardingError); rbErr != nil {
			helpers.LogError(s.Logger, "restore onboarding state failed", rbErr, logrus.Fields{"user_id": u.ID})
		}
		return err
	}
	s.Logger.WithField("user_id", u.ID).Info("renewal charge enqueued")
	return nil
}

type OnboardingStatus struct {
	UserID          string                 `json:"userId"`
	OnboardingState entity.OnboardingState `json:"onboardingState"`
	OnboardingError string                 `json:"onboardingError,omitempty"`
	Payment         *entity.PushPayment    `json:"payment,omitempty"`
}

// Status is the polling fallback for clients that lost the push stream.
func (s *OnboardingService) Status(ctx context.Context, userID string) (*OnboardingStatus, error) {
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperror.NotFound("user not found")
		}
		return nil, err
	}
	out := &OnboardingStatus{UserID: u.ID, OnboardingState: u.OnboardingState, OnboardingError: u.OnboardingError}
	p, err := s.Payments.LatestPendingForUser(ctx, u.ID)
	switch {
	case err == nil:
		out.Payment = pushPayment(p)
	case !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}
	return out, nil
}

func (s *OnboardingService) notify(ctx context.Context, ev entity.PushEvent) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, ev); err != nil {
		s.Logger.WithError(err).WithFields(logrus.Fields{"user_id": ev.ClientID, "status": ev.Status}).Warn("push notify failed")
	}
}

func (s *OnboardingService) enqueueMail(ctx context.Context, template, to string, data map[string]any) {
	sendMail(ctx, s.Mail, s.Logger, template, to, data)
}

func sendMail(ctx context.Context, q Queue, log *logrus.Logger, template, to string, data map[string]any) {
	if q == nil {
		return
	}
	job := mailer.EmailJob{To: to, Template: template, Data: data}
	if err := q.Send(ctx, job); err != nil {
		log.WithError(err).WithField("template", template).Warn("enqueue email failed")
	}
}

func detailsOf(u *entity.User) entity.CustomerDetails {
	return entity.CustomerDetails{
		UserID:    u.ID,
		Email:     u.Email,
		Name:      u.Name,
		TaxID:     u.TaxID,
		Cellphone: u.Cellphone,
	}
}

func pushPayment(p *entity.Payment) *entity.PushPayment {
	return &entity.PushPayment{
		PaymentID:    p.ID,
		PixCode:      p.PixCode,
		PixQrCode:    p.PixQrCode,
		PixQrCodeURL: p.PixQrCodeURL,
		ExpiresAt:    p.ExpiresAt.UTC().Format(time.RFC3339),
		Amount:       float64(p.Amount) / 100,
	}
}
