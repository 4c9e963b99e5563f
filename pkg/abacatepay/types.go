package abacatepay

import "time"

// Customer is the data sent to /customer/create and the PIX charge.
type Customer struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	TaxID     string `json:"taxId"`
	Cellphone string `json:"cellphone"`
}

type CustomerResult struct {
	ID string
}

// PixChargeRequest describes one PIX QR code charge. Amount is in cents.
type PixChargeRequest struct {
	Amount           int64
	Description      string
	ExpiresInMinutes int
	Customer         Customer
	Metadata         map[string]string
}

type PixCharge struct {
	ID        string
	PixCode   string // copy-and-paste BR code
	PixQrCode string // base64 PNG, possibly a data URI
	Amount    int64
	ExpiresAt time.Time
}

type envelope[T any] struct {
	Data    *T     `json:"data"`
	Error   any    `json:"error"`
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

type customerData struct {
	ID string `json:"id"`
}

type pixCreateBody struct {
	Amount      int64             `json:"amount"`
	ExpiresIn   int               `json:"expiresIn"`
	Description string            `json:"description"`
	Customer    Customer          `json:"customer"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type pixData struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	BrCode       string `json:"brCode"`
	BrCodeBase64 string `json:"brCodeBase64"`
	ExpiresAt    string `json:"expiresAt"`
}
