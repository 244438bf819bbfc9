// Package ocr is the HTTP client for the ID recognition service. The kiosk
// sends one captured frame per request and receives the fields it could read.
package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

var ErrUnreadable = errors.New("no text could be read from the image")

type extractRequest struct {
	IDType      string `json:"id_type"`
	Image       string `json:"image"`
	ContentType string `json:"content_type"`
}

type extractResponse struct {
	Success    bool              `json:"success"`
	Fields     map[string]string `json:"fields"`
	Confidence float64           `json:"confidence,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Client calls the OCR service. Requests are bounded only by the caller's
// context; the client sets no timeout of its own.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient creates a client posting to url.
func NewClient(url string, logger zerolog.Logger) *Client {
	hc := resty.New().
		SetBaseURL(strings.TrimRight(url, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{http: hc, logger: logger.With().Str("component", "ocr").Logger()}
}

// Extract posts the image and returns the recognized fields keyed by form
// field name (full_name, sex, birthday, address, id_number).
func (c *Client) Extract(ctx context.Context, idType string, image []byte, contentType string) (map[string]string, error) {
	var out extractResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&extractRequest{
			IDType:      idType,
			Image:       base64.StdEncoding.EncodeToString(image),
			ContentType: contentType,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/extract")
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	if resp.IsError() {
		msg := out.Error
		if msg == "" {
			msg = resp.Status()
		}
		return nil, fmt.Errorf("ocr service: %s", msg)
	}
	if !out.Success || len(out.Fields) == 0 {
		return nil, ErrUnreadable
	}

	c.logger.Debug().
		Str("id_type", idType).
		Int("fields", len(out.Fields)).
		Float64("confidence", out.Confidence).
		Msg("ocr extracted")
	return out.Fields, nil
}
