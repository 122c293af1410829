package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-engine/internal/auth"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/service"
)

type InboxService interface {
	List(ctx context.Context, userID string) ([]domain.Notification, error)
	MarkRead(ctx context.Context, userID, id string, read bool) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, id string) error
	Save(ctx context.Context, req service.SaveRequest) (*service.SaveResult, error)
}

type InboxHandler struct {
	inbox InboxService
}

func NewInboxHandler(inbox InboxService) (*InboxHandler, error) {
	if inbox == nil {
		return nil, fmt.Errorf("inbox service is required")
	}
	return &InboxHandler{inbox: inbox}, nil
}

func RegisterInboxRoutes(router fiber.Router, tokens *auth.TokenService, inbox InboxService) error {
	h, err := NewInboxHandler(inbox)
	if err != nil {
		return err
	}

	router.Post("/notifications/save", tokens.Middleware(false), h.Save)

	notifications := router.Group("/notifications", tokens.Middleware(true))
	notifications.Get("/", h.List)
	notifications.Post("/", h.MarkRead)
	notifications.Put("/", h.MarkAllRead)
	notifications.Delete("/", h.Delete)

	return nil
}

type markReadRequest struct {
	NotificationID string `json:"notificationId" validate:"required"`
	Read           *bool  `json:"read"`
}

type deleteNotificationRequest struct {
	NotificationID string `json:"notificationId" validate:"required"`
}

type saveNotificationRequest struct {
	UserID string `json:"userId"`
	Title  string `json:"title" validate:"required"`
	Body   string `json:"body" validate:"required"`
	Icon   string `json:"icon"`
	Tag    string `json:"tag"`
	URL    string `json:"url"`
	Data   *struct {
		URL string `json:"url"`
	} `json:"data"`
}

type notificationData struct {
	URL string `json:"url"`
	Tag string `json:"tag,omitempty"`
}

type notificationResponse struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Icon      string           `json:"icon"`
	Data      notificationData `json:"data"`
	Tag       string           `json:"tag"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
}

func (h *InboxHandler) List(c *fiber.Ctx) error {
	userID, _ := sessionUserID(c)

	notifications, err := h.inbox.List(c.UserContext(), userID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(fiber.Map{"notifications": toNotificationResponses(notifications)})
}

func (h *InboxHandler) MarkRead(c *fiber.Ctx) error {
	userID, _ := sessionUserID(c)

	var req markReadRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	read := true
	if req.Read != nil {
		read = *req.Read
	}

	if err := h.inbox.MarkRead(c.UserContext(), userID, req.NotificationID, read); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{"message": "Notification updated"})
}

func (h *InboxHandler) MarkAllRead(c *fiber.Ctx) error {
	userID, _ := sessionUserID(c)

	updated, err := h.inbox.MarkAllRead(c.UserContext(), userID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{
		"message": "All notifications marked as read",
		"updated": updated,
	})
}

func (h *InboxHandler) Delete(c *fiber.Ctx) error {
	userID, _ := sessionUserID(c)

	var req deleteNotificationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if err := h.inbox.Delete(c.UserContext(), userID, req.NotificationID); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{"message": "Notification deleted"})
}

// Save accepts calls from the service worker, so an explicit userId wins over the session.
func (h *InboxHandler) Save(c *fiber.Ctx) error {
	var req saveNotificationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	userID := req.UserID
	if userID == "" {
		userID, _ = sessionUserID(c)
	}
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "userId, title and body are required")
	}

	url := req.URL
	if url == "" && req.Data != nil {
		url = req.Data.URL
	}

	result, err := h.inbox.Save(c.UserContext(), service.SaveRequest{
		UserID: userID,
		Title:  req.Title,
		Body:   req.Body,
		Icon:   req.Icon,
		URL:    url,
		Tag:    req.Tag,
	})
	if err != nil {
		return toHTTPError(err)
	}

	if !result.Created {
		return c.JSON(fiber.Map{
			"message":        "Notification already exists",
			"notificationId": result.Notification.ID,
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":        "Notification saved",
		"notificationId": result.Notification.ID,
	})
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, notificationResponse{
			ID:        n.ID,
			UserID:    n.UserID,
			Title:     n.Title,
			Body:      n.Body,
			Icon:      n.Icon,
			Data:      notificationData{URL: n.Data.URL, Tag: n.Data.Tag},
			Tag:       n.Tag,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
			ReadAt:    n.ReadAt,
		})
	}
	return responses
}
