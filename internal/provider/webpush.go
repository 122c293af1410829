package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/kursadbilgin/push-engine/internal/domain"
)

const (
	defaultPushTimeout   = 10 * time.Second
	defaultPushTTL       = 24 * time.Hour
	maxResponseBodyBytes = 512
)

// WebPushConfig carries the VAPID identity and delivery hints.
type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	// Subject is the contact for the push service, a mailto: address or https URL.
	Subject string
	TTL     time.Duration
	Urgency domain.Urgency
}

// Receipt is what a push service returned for an accepted message.
type Receipt struct {
	StatusCode int
	Body       string
	// MessageID is the Location the push service assigned to the message, if any.
	MessageID string
}

// WebPushProvider encrypts payloads and posts them to subscription endpoints.
type WebPushProvider struct {
	cfg    WebPushConfig
	client webpush.HTTPClient
}

func NewWebPushProvider(cfg WebPushConfig) (*WebPushProvider, error) {
	return NewWebPushProviderWithClient(cfg, &http.Client{Timeout: defaultPushTimeout})
}

func NewWebPushProviderWithClient(cfg WebPushConfig, client *http.Client) (*WebPushProvider, error) {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, fmt.Errorf("vapid key pair is required")
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return nil, fmt.Errorf("vapid subject is required")
	}
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if client.Timeout == 0 {
		client.Timeout = defaultPushTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultPushTTL
	}
	if cfg.Urgency == "" {
		cfg.Urgency = domain.UrgencyNormal
	}
	if !cfg.Urgency.IsValid() {
		return nil, fmt.Errorf("invalid urgency %q", cfg.Urgency)
	}

	return &WebPushProvider{cfg: cfg, client: client}, nil
}

func (p *WebPushProvider) Send(ctx context.Context, sub domain.Subscription, payload []byte) (*Receipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := sub.Validate(); err != nil {
		return nil, &SendError{Kind: KindPermanent, Detail: "subscription is not deliverable", Err: err}
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, p.options())
	if err != nil {
		return nil, classifySendError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	responseBody := strings.TrimSpace(string(body))
	statusCode := resp.StatusCode

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Receipt{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  strings.TrimSpace(resp.Header.Get("Location")),
		}, nil
	}

	return nil, &SendError{
		Kind:       kindForStatus(statusCode),
		StatusCode: statusCode,
		Detail:     responseBody,
	}
}

func (p *WebPushProvider) options() *webpush.Options {
	return &webpush.Options{
		HTTPClient:      p.client,
		Subscriber:      strings.TrimPrefix(p.cfg.Subject, "mailto:"),
		TTL:             int(p.cfg.TTL / time.Second),
		Urgency:         webpush.Urgency(p.cfg.Urgency),
		VAPIDPublicKey:  p.cfg.PublicKey,
		VAPIDPrivateKey: p.cfg.PrivateKey,
	}
}

// classifySendError separates transport failures, which are retried, from
// encryption failures caused by malformed subscription keys, which are not.
func classifySendError(err error) error {
	if errors.Is(err, context.Canceled) {
		return &SendError{Kind: KindPermanent, Detail: "push request canceled", Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return &SendError{Kind: KindTransient, Detail: "push request failed", Err: err}
	}

	return &SendError{Kind: KindPermanent, Detail: "failed to encrypt push payload", Err: err}
}
