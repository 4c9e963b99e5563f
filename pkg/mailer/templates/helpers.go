package templates

import (
	"fmt"
	"time"
)

// Branding holds the company fields every template shows.
type Branding struct {
	AppName     string
	CompanyName string
	SupportURL  string
}

const displayLayout = "02 January 2006, 15:04 MST"

// FormatBRL renders an amount in cents as "R$ 500,00".
func FormatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, cents/100, cents%100)
}

func base(b Branding, name, email string) EmailData {
	return EmailData{
		Name:        name,
		Email:       email,
		AppName:     b.AppName,
		CompanyName: b.CompanyName,
		SupportURL:  b.SupportURL,
	}
}

func NewLicenseActivatedData(b Branding, name, email, token string, expiresAt time.Time) map[string]any {
	d := base(b, name, email)
	d.LicenseToken = token
	d.LicenseExpiresAtText = expiresAt.UTC().Format(displayLayout)
	return ToMap(d)
}

func NewPixCreatedData(b Branding, name, email string, amountCents int64, pixCode, qrURL string, expiresAt time.Time) map[string]any {
	d := base(b, name, email)
	d.AmountText = FormatBRL(amountCents)
	d.PixCode = pixCode
	d.QrCodeURL = qrURL
	d.ExpiresAtText = expiresAt.UTC().Format(displayLayout)
	return ToMap(d)
}
