package entity

// Push statuses delivered to a waiting client.
const (
	PushPixCreated       = "PIX_CREATED"
	PushOnboardingFailed = "ONBOARDING_FAILED"
	PushLicenseActivated = "LICENSE_ACTIVATED"
)

// PushPayment is the charge summary a client needs to show the QR code.
// Amount is in currency units (cents / 100).
type PushPayment struct {
	PaymentID    string  `json:"paymentId"`
	PixCode      string  `json:"pixCode"`
	PixQrCode    string  `json:"pixQrCode"`
	PixQrCodeURL string  `json:"pixQrCodeUrl,omitempty"`
	ExpiresAt    string  `json:"expiresAt"`
	Amount       float64 `json:"amount"`
}

// PushEvent is one server-push message for clientId (the user id).
type PushEvent struct {
	ClientID string       `json:"clientId"`
	Status   string       `json:"status"`
	Payment  *PushPayment `json:"payment,omitempty"`
	Error    string       `json:"error,omitempty"`
}
