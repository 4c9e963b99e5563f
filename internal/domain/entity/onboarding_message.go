package entity

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/oksasatya/pix-license-api/pkg/apperror"
)

type MessageType string

const (
	MessageCreateUser MessageType = "CREATE_USER_STRATEGY"
	MessageCreatePix  MessageType = "CREATE_PIX_STRATEGY"
)

// OnboardingMessage is one of CreateUserStrategy or CreatePixStrategy.
type OnboardingMessage interface {
	Type() MessageType
	Customer() CustomerDetails
	Validate() error
}

// CustomerDetails are the fields both onboarding stages carry.
type CustomerDetails struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	TaxID     string `json:"taxId"`
	Cellphone string `json:"cellphone"`
}

func (d CustomerDetails) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"userId": d.UserID, "email": d.Email, "name": d.Name, "taxId": d.TaxID, "cellphone": d.Cellphone,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return apperror.Validation(fmt.Sprintf("message payload missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

type CreateUserStrategy struct {
	CustomerDetails
}

func (CreateUserStrategy) Type() MessageType           { return MessageCreateUser }
func (m CreateUserStrategy) Customer() CustomerDetails { return m.CustomerDetails }
func (m CreateUserStrategy) Validate() error           { return m.validate() }

// CreatePixStrategy carries the provider customer id produced by stage one.
// RequestID is set by the producer and deduplicates charge creation when the
// message is redelivered.
type CreatePixStrategy struct {
	CustomerDetails
	CustomerID string `json:"customerId"`
	RequestID  string `json:"requestId,omitempty"`
}

func (CreatePixStrategy) Type() MessageType           { return MessageCreatePix }
func (m CreatePixStrategy) Customer() CustomerDetails { return m.CustomerDetails }

func (m CreatePixStrategy) Validate() error {
	if err := m.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(m.CustomerID) == "" {
		return apperror.Validation("message payload missing customerId")
	}
	return nil
}

// Envelope is the wire form: {"type": ..., "payload": {...}}.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewEnvelope(m OnboardingMessage) (Envelope, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: m.Type(), Payload: raw}, nil
}

// DecodeMessage parses and validates a queue body. Every failure is a
// validation error so the queue parks the message instead of retrying it.
func DecodeMessage(body []byte) (OnboardingMessage, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperror.Validation("malformed onboarding message: " + err.Error())
	}
	var msg OnboardingMessage
	switch env.Type {
	case MessageCreateUser:
		var m CreateUserStrategy
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, apperror.Validation("malformed CREATE_USER_STRATEGY payload: " + err.Error())
		}
		msg = m
	case MessageCreatePix:
		var m CreatePixStrategy
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, apperror.Validation("malformed CREATE_PIX_STRATEGY payload: " + err.Error())
		}
		msg = m
	default:
		return nil, apperror.Validation(fmt.Sprintf("unknown onboarding message type %q", env.Type))
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
