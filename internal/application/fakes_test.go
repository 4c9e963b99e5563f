package application

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/audit"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/memory"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/realtime"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/session"
	"github.com/oksasatya/pix-license-api/pkg/abacatepay"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
)

type fakeQueue struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (q *fakeQueue) Send(_ context.Context, body any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	q.sent = append(q.sent, b)
	return nil
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sent)
}

// pop removes the oldest message and wraps it as a first delivery.
func (q *fakeQueue) pop(t *testing.T, messageID string) helpers.Delivery {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.sent, "queue is empty")
	body := q.sent[0]
	q.sent = q.sent[1:]
	return helpers.Delivery{MessageID: messageID, Body: body, Attempt: 1}
}

// inlineQueue hands every message straight to a consumer before Send
// returns, like a worker that is faster than the producer.
type inlineQueue struct {
	handle helpers.HandleFunc
	n      int
}

func (q *inlineQueue) Send(ctx context.Context, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	q.n++
	return q.handle(ctx, helpers.Delivery{MessageID: fmt.Sprintf("inline-%d", q.n), Body: b, Attempt: 1})
}

// racingPayments lets a competing delivery insert the same request first.
type racingPayments struct {
	*memory.PaymentRepository
	raced bool
}

func (r *racingPayments) Create(ctx context.Context, p *entity.Payment) error {
	if !r.raced {
		r.raced = true
		rival := *p
		rival.ID = ""
		rival.ProviderChargeID = "pix_rival"
		if err := r.PaymentRepository.Create(ctx, &rival); err != nil {
			return err
		}
	}
	return r.PaymentRepository.Create(ctx, p)
}

type fakeProvider struct {
	mu            sync.Mutex
	customerID    string
	charge        abacatepay.PixCharge
	customerErr   error
	chargeErr     error
	simulateErr   error
	customerCalls int
	chargeCalls   int
	lastCharge    abacatepay.PixChargeRequest
	simulated     []string
}

func (p *fakeProvider) CreateCustomer(_ context.Context, _ abacatepay.Customer) (*abacatepay.CustomerResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customerCalls++
	if p.customerErr != nil {
		return nil, p.customerErr
	}
	return &abacatepay.CustomerResult{ID: p.customerID}, nil
}

func (p *fakeProvider) CreatePixQrCode(_ context.Context, req abacatepay.PixChargeRequest) (*abacatepay.PixCharge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chargeCalls++
	p.lastCharge = req
	if p.chargeErr != nil {
		return nil, p.chargeErr
	}
	c := p.charge
	return &c, nil
}

func (p *fakeProvider) SimulatePixPayment(_ context.Context, chargeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.simulateErr != nil {
		return p.simulateErr
	}
	p.simulated = append(p.simulated, chargeID)
	return nil
}

type fakeStore struct {
	uploaded map[string][]byte
	err      error
}

func (s *fakeStore) Upload(_ context.Context, objectPath, _ string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.uploaded == nil {
		s.uploaded = map[string][]byte{}
	}
	s.uploaded[objectPath] = data
	return "https://storage.googleapis.com/qr/" + objectPath, nil
}

var errBrokerDown = errors.New("broker down")

type harness struct {
	users      *memory.UserRepository
	payments   *memory.PaymentRepository
	queue      *fakeQueue
	mail       *fakeQueue
	provider   *fakeProvider
	hub        *realtime.Hub
	audit      *audit.MemoryLog
	store      *fakeStore
	licenses   *helpers.LicenseManager
	hasher     *helpers.PasswordHasher
	sessions   *session.MemoryStore
	onboarding *OnboardingService
	payment    *PaymentService
	license    *LicenseService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hasher, err := helpers.NewPasswordHasher([]byte("test-password-secret"))
	require.NoError(t, err)

	h := &harness{
		users:    memory.NewUserRepository(),
		payments: memory.NewPaymentRepository(),
		queue:    &fakeQueue{},
		mail:     &fakeQueue{},
		provider: &fakeProvider{
			customerID: "cus_1",
			charge: abacatepay.PixCharge{
				ID:        "pix_1",
				PixCode:   "000201010212",
				PixQrCode: "data:image/png;base64,iVBORw0KGgo=",
				Amount:    50000,
				ExpiresAt: time.Now().Add(30 * time.Minute).UTC(),
			},
		},
		hub:      realtime.NewHub(),
		audit:    audit.NewMemoryLog(),
		store:    &fakeStore{},
		licenses: helpers.NewLicenseManager(priv, nil),
		hasher:   hasher,
		sessions: session.NewMemoryStore(),
	}
	settings := Settings{LicensePrice: 50000, LicenseDays: 365, PixExpiresInMinutes: 30, AllowSimulation: true}

	h.onboarding = NewOnboardingService(OnboardingService{
		Users:    h.users,
		Payments: h.payments,
		Queue:    h.queue,
		Mail:     h.mail,
		Provider: h.provider,
		Notifier: h.hub,
		Store:    h.store,
		Hasher:   hasher,
		Settings: settings,
	})
	h.payment = NewPaymentService(PaymentService{
		Users:    h.users,
		Payments: h.payments,
		Licenses: h.licenses,
		Provider: h.provider,
		Notifier: h.hub,
		Mail:     h.mail,
		Audit:    h.audit,
		Settings: settings,
	})
	h.license = NewLicenseService(LicenseService{
		Users:    h.users,
		Licenses: h.licenses,
		Hasher:   hasher,
		JWT:      helpers.NewJWTManager("access", "refresh", time.Hour, 24*time.Hour),
		Sessions: h.sessions,
		Renewer:  h.onboarding,
	})
	return h
}
