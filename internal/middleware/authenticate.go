package middleware

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/onlinebank/onlinebank/internal/account"
	"github.com/onlinebank/onlinebank/internal/auth"
	"github.com/onlinebank/onlinebank/internal/bankerr"
)

const (
	// OwnerLocal is the fiber local carrying the authenticated owner id.
	OwnerLocal = account.OwnerLocal
	// OperatorLocal is true for callers holding the operator role.
	OperatorLocal = account.OperatorLocal
)

// Authenticate validates HS256 bearer tokens and stores the subject, the
// owner id, in the request locals.
func Authenticate(secret []byte, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return bankerr.New(bankerr.BadCredential, "missing bearer token")
		}
		token := strings.TrimSpace(authz[len("Bearer "):])

		claims, err := auth.ParseAndVerifyHS256(token, secret)
		if err != nil {
			logger.Debug("token rejected", slog.Any("error", err))
			return bankerr.New(bankerr.BadCredential, "invalid token")
		}
		sub, err := auth.Subject(claims, time.Now())
		if err != nil {
			return bankerr.New(bankerr.BadCredential, err.Error())
		}
		if _, err := uuid.Parse(sub); err != nil {
			return bankerr.New(bankerr.BadCredential, "token subject is not an owner id")
		}

		c.Locals(OwnerLocal, sub)
		c.Locals(OperatorLocal, slices.Contains(auth.Roles(claims), auth.RoleOperator))
		return c.Next()
	}
}

// RequireOperator rejects callers without the operator role.
func RequireOperator() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !account.IsOperator(c) {
			return bankerr.ErrForbidden
		}
		return c.Next()
	}
}
