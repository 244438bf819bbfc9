package auth

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// HasRole reports whether the caller holds one of roles. Admins hold every
// role.
func HasRole(ctx context.Context, roles ...string) bool {
	held := RolesFromContext(ctx)
	if slices.Contains(held, RoleAdmin) {
		return true
	}
	return slices.ContainsFunc(roles, func(r string) bool {
		return slices.Contains(held, r)
	})
}

// RequireRole rejects anonymous callers with 401 and callers lacking every
// one of roles with 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	denied := fmt.Sprintf("required role: %s", strings.Join(roles, " or "))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if HasRole(ctx, roles...) {
				return next(c)
			}
			if len(RolesFromContext(ctx)) == 0 && UserIDFromContext(ctx) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return echo.NewHTTPError(http.StatusForbidden, denied)
		}
	}
}
