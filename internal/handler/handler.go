package handler

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-engine/internal/auth"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/service"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// parseBody decodes the JSON body into dest and runs its validate tags.
func parseBody(c *fiber.Ctx, dest any) error {
	if err := c.BodyParser(dest); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(dest); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return "validation failed"
	}

	fields := make([]string, 0, len(errs))
	for _, fieldErr := range errs {
		fields = append(fields, fieldErr.Namespace())
	}
	sort.Strings(fields)

	return fmt.Sprintf("validation failed: %s required", strings.Join(trimRoot(fields), ", "))
}

// trimRoot drops the struct name validator prefixes to every namespace.
func trimRoot(fields []string) []string {
	for i, f := range fields {
		if idx := strings.Index(f, "."); idx >= 0 {
			fields[i] = f[idx+1:]
		}
	}
	return fields
}

func sessionUserID(c *fiber.Ctx) (string, bool) {
	session, ok := auth.SessionFrom(c)
	if !ok {
		return "", false
	}
	return session.UserID, true
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidSubscription):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoSubscriptions):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrAsyncDispatchUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
