package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-engine/internal/auth"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/service"
	ua "github.com/mileusna/useragent"
)

// PublicKeySource exposes the server's VAPID public key.
type PublicKeySource interface {
	PublicKey() string
}

type SubscriptionService interface {
	Register(ctx context.Context, sub domain.Subscription) (*service.RegisterResult, error)
	Unregister(ctx context.Context, userID, endpoint string, fallbackAll bool) (int64, error)
	Current(ctx context.Context, userID string) (*domain.Subscription, error)
}

type PushHandler struct {
	keys          PublicKeySource
	subscriptions SubscriptionService
}

func NewPushHandler(keys PublicKeySource, subscriptions SubscriptionService) (*PushHandler, error) {
	if keys == nil {
		return nil, fmt.Errorf("vapid key source is required")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription service is required")
	}
	return &PushHandler{keys: keys, subscriptions: subscriptions}, nil
}

func RegisterPushRoutes(router fiber.Router, tokens *auth.TokenService, keys PublicKeySource, subscriptions SubscriptionService) error {
	h, err := NewPushHandler(keys, subscriptions)
	if err != nil {
		return err
	}

	push := router.Group("/push")
	push.Get("/vapid-key", h.GetPublicKey)
	push.Post("/subscribe", tokens.Middleware(true), h.Subscribe)
	push.Post("/unsubscribe", tokens.Middleware(true), h.Unsubscribe)
	push.Get("/subscription", tokens.Middleware(true), h.GetSubscription)

	return nil
}

type subscriptionKeysBody struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

type subscriptionBody struct {
	Endpoint string               `json:"endpoint" validate:"required"`
	Keys     subscriptionKeysBody `json:"keys"`
}

type subscribeRequest struct {
	Subscription *subscriptionBody `json:"subscription" validate:"required"`
}

type subscribeResponse struct {
	Message      string           `json:"message"`
	Subscription subscriptionBody `json:"subscription"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

type browserInfo struct {
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	BrowserVer string `json:"browserVersion"`
	Mobile     bool   `json:"mobile"`
}

type subscriptionResponse struct {
	Endpoint    string      `json:"endpoint"`
	Username    string      `json:"username,omitempty"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	BrowserInfo browserInfo `json:"browserInfo"`
}

func (h *PushHandler) GetPublicKey(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"publicKey": h.keys.PublicKey()})
}

func (h *PushHandler) Subscribe(c *fiber.Ctx) error {
	session, _ := auth.SessionFrom(c)

	var req subscribeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.subscriptions.Register(c.UserContext(), domain.Subscription{
		UserID:    session.UserID,
		Username:  session.Username,
		Endpoint:  req.Subscription.Endpoint,
		Keys:      domain.Keys{P256dh: req.Subscription.Keys.P256dh, Auth: req.Subscription.Keys.Auth},
		UserAgent: c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(subscribeResponse{
		Message: "Subscription saved",
		Subscription: subscriptionBody{
			Endpoint: result.Subscription.Endpoint,
			Keys: subscriptionKeysBody{
				P256dh: result.Subscription.Keys.P256dh,
				Auth:   result.Subscription.Keys.Auth,
			},
		},
	})
}

// Unsubscribe always targets the session user; a userId in the body is ignored.
func (h *PushHandler) Unsubscribe(c *fiber.Ctx) error {
	var req unsubscribeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	userID, ok := sessionUserID(c)
	if !ok || userID == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}

	removed, err := h.subscriptions.Unregister(c.UserContext(), userID, req.Endpoint, true)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(fiber.Map{
		"message": "Subscription removed",
		"removed": removed,
	})
}

func (h *PushHandler) GetSubscription(c *fiber.Ctx) error {
	userID, _ := sessionUserID(c)

	sub, err := h.subscriptions.Current(c.UserContext(), userID)
	if err != nil {
		return toHTTPError(err)
	}

	agent := ua.Parse(sub.UserAgent)
	return c.JSON(fiber.Map{
		"subscription": subscriptionResponse{
			Endpoint:  sub.Endpoint,
			Username:  sub.Username,
			UpdatedAt: sub.UpdatedAt,
			BrowserInfo: browserInfo{
				OS:         agent.OS,
				Browser:    agent.Name,
				BrowserVer: agent.Version,
				Mobile:     agent.Mobile || agent.Tablet,
			},
		},
	})
}
