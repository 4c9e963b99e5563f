package entity

import "time"

// Session is one login, keyed by user and session id.
type Session struct {
	UserID    string
	SessionID string
	Email     string
	Name      string
	CreatedAt time.Time
}
