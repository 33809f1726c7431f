package models

import "time"

// User represents an account that can sign in and assert an identity
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullname"`
	PasswordHash []byte    `json:"-"` // Never serialized
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session represents a browser session as carried by the session cookie
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticated reports whether a user is signed in to the session
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// TrustDecision is a remembered "always trust" choice
type TrustDecision struct {
	UserID      string `json:"user_id"`
	TrustRoot   string `json:"trust_root"`
	AlwaysTrust bool   `json:"always_trust"`
	Found       bool   `json:"found"`
}

// HealthStatus is the body of the health endpoint
type HealthStatus struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Error  string `json:"error,omitempty"`
}
