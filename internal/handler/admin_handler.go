package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-engine/internal/auth"
	"github.com/kursadbilgin/push-engine/internal/service"
)

type DispatchService interface {
	Dispatch(ctx context.Context, req service.DispatchRequest) (*service.DispatchResult, error)
	Enqueue(ctx context.Context, req service.DispatchRequest, requestedBy string) (string, error)
}

type AdminHandler struct {
	dispatcher DispatchService
}

func NewAdminHandler(dispatcher DispatchService) (*AdminHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &AdminHandler{dispatcher: dispatcher}, nil
}

func RegisterAdminRoutes(router fiber.Router, tokens *auth.TokenService, dispatcher DispatchService) error {
	h, err := NewAdminHandler(dispatcher)
	if err != nil {
		return err
	}

	admin := router.Group("/admin", tokens.Middleware(true), auth.RequireAdmin())
	admin.Post("/send-notification", h.SendNotification)

	return nil
}

type sendNotificationRequest struct {
	Title   string `json:"title" validate:"required"`
	Message string `json:"message" validate:"required"`
	UserID  string `json:"userId"`
	Tag     string `json:"tag"`
	URL     string `json:"url"`
	Async   bool   `json:"async"`
}

type sendNotificationResponse struct {
	Message string `json:"message"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Total   int    `json:"total"`
	Tag     string `json:"tag"`
}

func (h *AdminHandler) SendNotification(c *fiber.Ctx) error {
	var req sendNotificationRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	dispatch := service.DispatchRequest{
		Title:  req.Title,
		Body:   req.Message,
		Target: req.UserID,
		Tag:    req.Tag,
		URL:    req.URL,
	}

	if req.Async {
		requestedBy, _ := sessionUserID(c)
		jobID, err := h.dispatcher.Enqueue(c.UserContext(), dispatch, requestedBy)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"queued": true,
			"jobId":  jobID,
		})
	}

	result, err := h.dispatcher.Dispatch(c.UserContext(), dispatch)
	if err != nil {
		return toHTTPError(err)
	}

	message := "Notifications sent"
	if result.Pending {
		message = "User offline: notification saved for later delivery"
	}

	return c.JSON(sendNotificationResponse{
		Message: message,
		Sent:    result.Sent,
		Failed:  result.Failed,
		Total:   result.Total,
		Tag:     result.Tag,
	})
}
