package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const defaultBodyLimit int64 = 1 << 20

var sizeUnits = []struct {
	suffix string
	shift  uint
}{
	{"GB", 30}, {"G", 30},
	{"MB", 20}, {"M", 20},
	{"KB", 10}, {"K", 10},
}

// BodyLimit caps request bodies at defaultLimit, except the camera frame push
// whose base64 data URL gets frameLimit. Sizes read like "1M", "512K" or a
// bare byte count.
func BodyLimit(defaultLimit, frameLimit string) echo.MiddlewareFunc {
	def, frame := parseLimit(defaultLimit), parseLimit(frameLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := def
			if req.Method == http.MethodPost && isFramePath(req.URL.Path) {
				limit = frame
			}
			if req.ContentLength > limit {
				return tooLarge(limit)
			}

			// ContentLength is absent on chunked uploads.
			req.Body = &cappedBody{
				body:  http.MaxBytesReader(c.Response(), req.Body, limit),
				limit: limit,
			}
			return next(c)
		}
	}
}

func isFramePath(path string) bool {
	return strings.HasSuffix(strings.TrimSuffix(path, "/"), "/camera/frame")
}

// cappedBody turns the stdlib overflow error into a 413.
type cappedBody struct {
	body  io.ReadCloser
	limit int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return n, tooLarge(b.limit)
	}
	return n, err
}

func (b *cappedBody) Close() error { return b.body.Close() }

func tooLarge(limit int64) error {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit))
}

// parseLimit converts "12M" style sizes to bytes, falling back to 1 MiB.
func parseLimit(s string) int64 {
	n, err := parseSize(s)
	if err != nil || n <= 0 {
		return defaultBodyLimit
	}
	return n
}

func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	var shift uint
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, shift = strings.TrimSuffix(s, u.suffix), u.shift
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n << shift, nil
}
