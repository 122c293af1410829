package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultIcon = "/img/favicons/android-chrome-192x192.png"
	DefaultURL  = "/"

	// TargetAll addresses every registered subscription.
	TargetAll = "all"
)

// Urgency is the Web Push urgency hint sent to the push service.
type Urgency string

const (
	UrgencyVeryLow Urgency = "very-low"
	UrgencyLow     Urgency = "low"
	UrgencyNormal  Urgency = "normal"
	UrgencyHigh    Urgency = "high"
)

func (u Urgency) String() string { return string(u) }

func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyVeryLow, UrgencyLow, UrgencyNormal, UrgencyHigh:
		return true
	}
	return false
}

func ParseUrgencyFromString(s string) (Urgency, error) {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	if !u.IsValid() {
		return "", fmt.Errorf("%w: invalid urgency %q", ErrValidation, s)
	}
	return u, nil
}

// NotificationData is the click-through metadata carried inside a payload.
type NotificationData struct {
	URL string `json:"url"`
	Tag string `json:"tag,omitempty"`
}

// Payload is the JSON document encrypted and delivered to the service worker.
type Payload struct {
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Message   string           `json:"message"`
	Icon      string           `json:"icon"`
	Badge     string           `json:"badge"`
	Data      NotificationData `json:"data"`
	Tag       string           `json:"tag"`
	Timestamp int64            `json:"timestamp"`
}

// NewPayload builds a payload with the storefront defaults applied.
func NewPayload(title, body, url, tag string, now time.Time) Payload {
	if strings.TrimSpace(url) == "" {
		url = DefaultURL
	}
	return Payload{
		Title:     title,
		Body:      body,
		Message:   body,
		Icon:      DefaultIcon,
		Badge:     DefaultIcon,
		Data:      NotificationData{URL: url, Tag: tag},
		Tag:       tag,
		Timestamp: now.UnixMilli(),
	}
}

// PendingNotification is a payload waiting for its recipient to register a live subscription.
type PendingNotification struct {
	ID        string
	UserID    string
	Payload   Payload
	CreatedAt time.Time
}

// Notification is the user-visible inbox copy of a sent or attempted push.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	Icon      string
	Data      NotificationData
	Tag       string
	Read      bool
	CreatedAt time.Time
	ReadAt    *time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(n.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if strings.TrimSpace(n.Tag) == "" {
		return fmt.Errorf("%w: tag is required", ErrValidation)
	}
	return nil
}

// NotificationFromPayload derives the inbox record persisted alongside a delivery attempt.
func NotificationFromPayload(userID string, p Payload, now time.Time) Notification {
	return Notification{
		UserID:    userID,
		Title:     p.Title,
		Body:      p.Body,
		Icon:      p.Icon,
		Data:      p.Data,
		Tag:       p.Tag,
		CreatedAt: now,
	}
}

// NormalizeTarget maps the admin target field onto a user identity, or "" for every subscription.
func NormalizeTarget(target string) string {
	trimmed := strings.TrimSpace(target)
	if strings.EqualFold(trimmed, TargetAll) {
		return ""
	}
	return trimmed
}
