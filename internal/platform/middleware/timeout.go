package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const timeoutMessage = "request processing exceeded the allowed time limit"

// longLived reports requests that must not get a deadline: websocket
// upgrades and the websocket endpoint itself.
func longLived(c echo.Context) bool {
	return c.IsWebSocket() || strings.HasSuffix(c.Request().URL.Path, "/ws")
}

// RequestTimeout puts a deadline on the request context and answers 504 when
// the handler has not returned by then. Backend calls made by the handler
// inherit the deadline.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if longLived(c) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() { done <- next(c) }()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					// client went away
					return ctx.Err()
				}
				if c.Response().Committed {
					return nil
				}
				return c.JSON(http.StatusGatewayTimeout, map[string]string{"message": timeoutMessage})
			}
		}
	}
}
