package entity

import "time"

// PaymentEventRecord is the audit trail entry for one processed payment event.
type PaymentEventRecord struct {
	Event      string    `json:"event"`
	ChargeID   string    `json:"chargeId"`
	PaymentID  string    `json:"paymentId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Outcome    string    `json:"outcome"`
	Source     string    `json:"source"` // "webhook" or "simulation"
	Detail     string    `json:"detail,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}
