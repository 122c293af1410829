package queue

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kursadbilgin/push-engine/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DispatchMessage is the broker payload for an asynchronous admin dispatch.
type DispatchMessage struct {
	JobID         string    `json:"jobId"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Target        string    `json:"target"`
	Tag           string    `json:"tag,omitempty"`
	URL           string    `json:"url,omitempty"`
	RequestedBy   string    `json:"requestedBy,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	RequestedAt   time.Time `json:"requestedAt"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("%w: jobId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Title) == "" || strings.TrimSpace(m.Body) == "" {
		return fmt.Errorf("%w: title and body are required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Target) == "" {
		return fmt.Errorf("%w: target is required", domain.ErrValidation)
	}
	return nil
}

func encodeMessage(msg DispatchMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dispatch message: %w", err)
	}
	return payload, nil
}

func decodeMessage(body []byte) (DispatchMessage, error) {
	var msg DispatchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return DispatchMessage{}, fmt.Errorf("invalid dispatch message json: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return DispatchMessage{}, err
	}
	return msg, nil
}
