package domain

import (
	"fmt"
	"strings"
	"time"
)

// Keys holds the encryption material a browser hands out with a push subscription.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is the single live push endpoint registered for a user identity.
type Subscription struct {
	ID        string
	UserID    string
	Username  string
	Endpoint  string
	Keys      Keys
	UserAgent string
	UpdatedAt time.Time
}

// Validate rejects records that must never be persisted or dispatched to.
func (s *Subscription) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: subscription is required", ErrInvalidSubscription)
	}
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	if strings.TrimSpace(s.Keys.P256dh) == "" || strings.TrimSpace(s.Keys.Auth) == "" {
		return fmt.Errorf("%w: p256dh and auth keys are required", ErrInvalidSubscription)
	}
	return nil
}

// IsDeliverable reports whether the record carries everything needed to encrypt and send a payload.
func (s *Subscription) IsDeliverable() bool {
	return s.Validate() == nil
}

// Normalize trims whitespace the browser or a proxy may have introduced.
func (s *Subscription) Normalize() {
	s.UserID = strings.TrimSpace(s.UserID)
	s.Username = strings.TrimSpace(s.Username)
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Keys.P256dh = strings.TrimSpace(s.Keys.P256dh)
	s.Keys.Auth = strings.TrimSpace(s.Keys.Auth)
}
