package middleware

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/auth"
)

// Logger emits one structured line per request. Probe endpoints log at debug
// so readiness polling does not drown the kiosk traffic.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			status := responseStatus(c, err)
			rid, _ := c.Get("request_id").(string)

			evt := logger.WithLevel(requestLevel(status, auth.IsPublicPath(req.URL.Path)))
			if err != nil {
				evt = evt.Err(err)
			}
			evt.Str("request_id", rid).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("path", req.URL.Path).
				Int("status", status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Str("user_id", auth.UserIDFromContext(req.Context())).
				Msg("request")
			return err
		}
	}
}

// responseStatus prefers the error's code since the error handler has not
// written the response yet.
func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}

func requestLevel(status int, probe bool) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	case probe:
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
