package entity

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentExpired   PaymentStatus = "EXPIRED"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentCancelled || s == PaymentExpired
}

// CanTransition reports whether from -> to is allowed. Only PENDING moves,
// and only into a terminal state.
func CanTransition(from, to PaymentStatus) bool {
	return from == PaymentPending && to.Terminal()
}

// Provider webhook event names.
const (
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentCancelled = "payment.cancelled"
	EventPaymentExpired   = "payment.expired"
)

// StatusForEvent maps a provider event to the target payment status.
func StatusForEvent(event string) (PaymentStatus, bool) {
	switch event {
	case EventPaymentConfirmed:
		return PaymentPaid, true
	case EventPaymentCancelled:
		return PaymentCancelled, true
	case EventPaymentExpired:
		return PaymentExpired, true
	}
	return "", false
}

// Payment is one PIX charge attempt. ProviderChargeID is the correlation key
// for webhook events. RequestID identifies the queue message that created it.
type Payment struct {
	ID                 string
	UserID             string
	ProviderCustomerID string
	ProviderChargeID   string
	RequestID          string
	Amount             int64
	Status             PaymentStatus
	PixCode            string
	PixQrCode          string
	PixQrCodeURL       string
	ExpiresAt          time.Time
	Error              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
