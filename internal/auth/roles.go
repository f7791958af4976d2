package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/approval-service/pkg/util/errorutil"
)

// RequireAccount ensures an account principal is present.
func RequireAccount() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}

// RequireRole ensures the caller holds one of the given directory roles.
func RequireRole(roleIDs ...int64) fiber.Handler {
	allowed := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		allowed[id] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowed) == 0 {
			return c.Next()
		}
		if principal.Account == nil || principal.Account.RoleID == nil {
			return apperrors.NewForbidden("role required")
		}
		if _, exists := allowed[*principal.Account.RoleID]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
