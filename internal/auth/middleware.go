package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const sessionLocalsKey = "auth.session"

// Middleware resolves the bearer token into a Session stored on the request.
// With required set, requests without a valid token are rejected with 401.
// Without it, anonymous requests pass but an invalid token is still rejected.
func (s *TokenService) Middleware(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			if required {
				return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
			}
			return c.Next()
		}

		session, err := s.Parse(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid session")
		}

		c.Locals(sessionLocalsKey, session)
		return c.Next()
	}
}

// RequireAdmin must run after Middleware(true).
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, ok := SessionFrom(c)
		if !ok || !session.Admin {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
		}
		return c.Next()
	}
}

// SessionFrom returns the session resolved by Middleware, if any.
func SessionFrom(c *fiber.Ctx) (*Session, bool) {
	session, ok := c.Locals(sessionLocalsKey).(*Session)
	return session, ok && session != nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
