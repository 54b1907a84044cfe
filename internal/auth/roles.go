package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/membership-backend/internal/domain"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

// RequireCustomer ensures a customer is authenticated.
func RequireCustomer() fiber.Handler {
	return requireRole(domain.RoleCustomer, "customer account required")
}

// RequireAgent ensures a support agent is authenticated.
func RequireAgent() fiber.Handler {
	return requireRole(domain.RoleAgent, "agent role required")
}

// RequireAnyRole ensures caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}

func requireRole(role domain.Role, message string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if principal.Role != role {
			return apperrors.NewForbidden(message)
		}
		return c.Next()
	}
}
