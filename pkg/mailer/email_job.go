package mailer

import (
	"errors"
	"strings"
)

// EmailJob is the JSON payload put on the emails queue.
// Either Template (+ Data) or Subject with Text/HTML must be set.
type EmailJob struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject,omitempty"`
	Text     string         `json:"text,omitempty"`
	HTML     string         `json:"html,omitempty"`
	Template string         `json:"template,omitempty"` // "license_activated", "pix_created"
	Data     map[string]any `json:"data,omitempty"`
}

func (j EmailJob) Validate() error {
	if strings.TrimSpace(j.To) == "" {
		return errors.New("email job: recipient is required")
	}
	if j.Template == "" && j.Subject == "" {
		return errors.New("email job: template or subject is required")
	}
	return nil
}
