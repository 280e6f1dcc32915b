package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/crosslink-chat/crosslink-server/internal/httputil"
)

// identityKey is the Locals key holding the authenticated *Identity.
const identityKey = "identity"

// RequireAuth returns Fiber middleware that validates the Bearer token from the Authorization header and stores the
// authenticated identity in the request locals.
func RequireAuth(svc *Service) fiber.Handler {
	return func(c fiber.Ctx) error {
		token, ok := BearerToken(c)
		if !ok {
			return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing or malformed authorization header")
		}

		identity, err := svc.Authenticate(c, token)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidToken):
				return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Invalid or expired token")
			case errors.Is(err, ErrSessionRevoked):
				return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Session has been revoked")
			default:
				return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Authentication backend unavailable")
			}
		}

		c.Locals(identityKey, identity)
		return c.Next()
	}
}

// BearerToken extracts the token from the Authorization header; ok is false when the header is absent or malformed.
func BearerToken(c fiber.Ctx) (string, bool) {
	header := c.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// IdentityFrom returns the authenticated identity stored by RequireAuth, or nil on unauthenticated routes.
func IdentityFrom(c fiber.Ctx) *Identity {
	identity, _ := c.Locals(identityKey).(*Identity)
	return identity
}
