// Package memory holds map-backed repositories with the same conditional
// update semantics as the postgres ones. Used by tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/internal/domain/repository"
)

type UserRepository struct {
	mu    sync.RWMutex
	users map[string]entity.User
	now   func() time.Time
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: map[string]entity.User{}, now: time.Now}
}

func (r *UserRepository) Create(_ context.Context, u *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("email %s: %w", u.Email, repository.ErrDuplicate)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.OnboardingState == "" {
		u.OnboardingState = entity.OnboardingPendingCustomer
	}
	now := r.now()
	u.CreatedAt, u.UpdatedAt = now, now
	r.users[u.ID] = *u
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *UserRepository) update(id string, fn func(u *entity.User) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !fn(&u) {
		return false, nil
	}
	u.UpdatedAt = r.now()
	r.users[id] = u
	return true, nil
}

func (r *UserRepository) SetProviderCustomerID(_ context.Context, id, customerID string) error {
	_, err := r.update(id, func(u *entity.User) bool {
		u.ProviderCustomerID = customerID
		u.OnboardingState = entity.OnboardingPendingCharge
		u.OnboardingError = ""
		return true
	})
	return err
}

func (r *UserRepository) SetOnboardingState(_ context.Context, id string, state entity.OnboardingState, reason string) error {
	_, err := r.update(id, func(u *entity.User) bool {
		u.OnboardingState = state
		u.OnboardingError = reason
		return true
	})
	return err
}

func (r *UserRepository) ActivateLicense(_ context.Context, id string, grant entity.LicenseGrant) (bool, error) {
	return r.update(id, func(u *entity.User) bool {
		if u.LicensePaymentID == grant.PaymentID {
			return false
		}
		exp := grant.ExpiresAt
		u.LicenseActive = true
		u.LicenseExpiresAt = &exp
		u.LicenseToken = grant.Token
		u.LicensePaymentID = grant.PaymentID
		return true
	})
}

type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]entity.Payment
	now      func() time.Time
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: map[string]entity.Payment{}, now: time.Now}
}

func (r *PaymentRepository) Create(_ context.Context, p *entity.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.ProviderChargeID == p.ProviderChargeID {
			return fmt.Errorf("charge %s: %w", p.ProviderChargeID, repository.ErrDuplicate)
		}
		if p.RequestID != "" && existing.RequestID == p.RequestID {
			return fmt.Errorf("request %s: %w", p.RequestID, repository.ErrDuplicate)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = entity.PaymentPending
	}
	now := r.now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.payments[p.ID] = *p
	return nil
}

func (r *PaymentRepository) find(match func(p entity.Payment) bool) (*entity.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if match(p) {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *PaymentRepository) GetByID(_ context.Context, id string) (*entity.Payment, error) {
	return r.find(func(p entity.Payment) bool { return p.ID == id })
}

func (r *PaymentRepository) GetByProviderChargeID(_ context.Context, chargeID string) (*entity.Payment, error) {
	return r.find(func(p entity.Payment) bool { return p.ProviderChargeID == chargeID })
}

func (r *PaymentRepository) GetByRequestID(_ context.Context, requestID string) (*entity.Payment, error) {
	if requestID == "" {
		return nil, repository.ErrNotFound
	}
	return r.find(func(p entity.Payment) bool { return p.RequestID == requestID })
}

func (r *PaymentRepository) LatestPendingForUser(_ context.Context, userID string) (*entity.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *entity.Payment
	for _, p := range r.payments {
		if p.UserID != userID || p.Status != entity.PaymentPending {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			cp := p
			latest = &cp
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (r *PaymentRepository) Transition(_ context.Context, id string, from, to entity.PaymentStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if p.Status != from || !entity.CanTransition(from, to) {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = r.now()
	r.payments[id] = p
	return true, nil
}

func (r *PaymentRepository) SetQrCodeURL(_ context.Context, id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.PixQrCodeURL = url
	p.UpdatedAt = r.now()
	r.payments[id] = p
	return nil
}

var (
	_ repository.UserRepository    = (*UserRepository)(nil)
	_ repository.PaymentRepository = (*PaymentRepository)(nil)
)
