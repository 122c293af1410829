package pushclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultAPITimeout = 15 * time.Second

// SubscriptionKeys is the key block of a serialized subscription.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// SubscriptionPayload is the JSON form of a push subscription sent to the server.
type SubscriptionPayload struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

// ServerAPI is the server surface the negotiator depends on.
type ServerAPI interface {
	PublicKey(ctx context.Context) (string, error)
	Register(ctx context.Context, sub SubscriptionPayload) error
	Unregister(ctx context.Context, endpoint string) error
}

type vapidKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type subscribeRequest struct {
	Subscription SubscriptionPayload `json:"subscription"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type apiErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

var _ ServerAPI = (*HTTPServerAPI)(nil)

// HTTPServerAPI talks to the push endpoints over HTTP.
type HTTPServerAPI struct {
	client *resty.Client
}

// NewHTTPServerAPI builds a client rooted at baseURL. token is the session bearer token and may be empty.
func NewHTTPServerAPI(baseURL string, token string) (*HTTPServerAPI, error) {
	client := resty.New()
	client.SetTimeout(defaultAPITimeout)
	return NewHTTPServerAPIWithClient(baseURL, token, client)
}

func NewHTTPServerAPIWithClient(baseURL string, token string, client *resty.Client) (*HTTPServerAPI, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	client.SetBaseURL(trimmed)
	client.SetJSONMarshaler(json.Marshal)
	client.SetJSONUnmarshaler(json.Unmarshal)
	client.SetRetryCount(0)
	if token = strings.TrimSpace(token); token != "" {
		client.SetAuthToken(token)
	}

	return &HTTPServerAPI{client: client}, nil
}

func (a *HTTPServerAPI) PublicKey(ctx context.Context) (string, error) {
	var body vapidKeyResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/push/vapid-key")
	if err != nil {
		return "", fmt.Errorf("failed to fetch vapid key: %w", err)
	}
	if resp.IsError() {
		return "", serverError(resp)
	}

	return strings.TrimSpace(body.PublicKey), nil
}

func (a *HTTPServerAPI) Register(ctx context.Context, sub SubscriptionPayload) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(subscribeRequest{Subscription: sub}).
		Post("/push/subscribe")
	if err != nil {
		return fmt.Errorf("failed to register subscription: %w", err)
	}
	if resp.IsError() {
		return serverError(resp)
	}
	return nil
}

func (a *HTTPServerAPI) Unregister(ctx context.Context, endpoint string) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(unsubscribeRequest{Endpoint: endpoint}).
		Post("/push/unsubscribe")
	if err != nil {
		return fmt.Errorf("failed to unregister subscription: %w", err)
	}
	if resp.IsError() {
		return serverError(resp)
	}
	return nil
}

func serverError(resp *resty.Response) error {
	var body apiErrorResponse
	_ = json.Unmarshal(resp.Body(), &body)

	message := strings.TrimSpace(body.Message)
	if message == "" {
		message = strings.TrimSpace(body.Error)
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode())
	}

	return &ServerError{StatusCode: resp.StatusCode(), Message: message}
}
