package domain

import "errors"

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrNoSubscriptions     = errors.New("no subscriptions found")
)
