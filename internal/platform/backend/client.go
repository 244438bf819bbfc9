// Package backend is the typed HTTP client for the hospital REST API that the
// kiosk gateway consumes. Every method maps to exactly one backend endpoint and
// forwards the bearer token carried by the request context.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

type tokenKey struct{}

// WithToken returns a context whose backend calls carry the given bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the bearer token stored by WithToken.
func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

// Client talks to the hospital backend.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient creates a client for baseURL. No automatic retries are configured:
// every retry in the kiosk flow is user initiated.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:   hc,
		logger: logger.With().Str("component", "backend").Logger(),
	}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx).SetError(&APIError{})
	if tok := TokenFromContext(ctx); tok != "" {
		req.SetAuthToken(tok)
	}
	return req
}

func (c *Client) do(req *resty.Request, method, path string) error {
	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("backend call failed")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("backend call")

	if resp.IsError() {
		apiErr, _ := resp.Error().(*APIError)
		if apiErr == nil {
			apiErr = &APIError{}
		}
		apiErr.Status = resp.StatusCode()
		if apiErr.Text() == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}
	return nil
}

// -- Registration and visits --

func (c *Client) RegisterPatient(ctx context.Context, in *RegisterRequest) (*SubmissionResult, error) {
	var out SubmissionResult
	req := c.request(ctx).SetBody(in).SetResult(&out)
	if err := c.do(req, http.MethodPost, "/api/patient/register"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BookVisit(ctx context.Context, in *VisitRequest) (*SubmissionResult, error) {
	var out SubmissionResult
	req := c.request(ctx).SetBody(in).SetResult(&out)
	if err := c.do(req, http.MethodPost, "/api/patient/visit"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckDuplicate(ctx context.Context, field, value string) (*DuplicateCheckResponse, error) {
	var out DuplicateCheckResponse
	req := c.request(ctx).SetBody(&DuplicateCheckRequest{Field: field, Value: value}).SetResult(&out)
	if err := c.do(req, http.MethodPost, "/api/check-duplicate"); err != nil {
		return nil, err
	}
	return &out, nil
}

// -- Catalogs --

func (c *Client) Symptoms(ctx context.Context) ([]SymptomCategory, error) {
	var out []SymptomCategory
	req := c.request(ctx).SetResult(&out)
	if err := c.do(req, http.MethodGet, "/api/symptoms"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DepartmentMappings(ctx context.Context) ([]DepartmentMapping, error) {
	var out []DepartmentMapping
	req := c.request(ctx).SetResult(&out)
	if err := c.do(req, http.MethodGet, "/api/symptom-department-mapping"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TimeSlots(ctx context.Context) ([]TimeSlot, error) {
	var out []TimeSlot
	req := c.request(ctx).SetResult(&out)
	if err := c.do(req, http.MethodGet, "/api/time-slots"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Relationships(ctx context.Context) ([]Option, error) {
	return c.options(ctx, "/api/relationships")
}

func (c *Client) SeverityLevels(ctx context.Context) ([]Option, error) {
	return c.options(ctx, "/api/severity-levels")
}

func (c *Client) DurationOptions(ctx context.Context) ([]Option, error) {
	return c.options(ctx, "/api/duration-options")
}

func (c *Client) options(ctx context.Context, path string) ([]Option, error) {
	var out []Option
	req := c.request(ctx).SetResult(&out)
	if err := c.do(req, http.MethodGet, path); err != nil {
		return nil, err
	}
	return out, nil
}

// Lookups fetches every option list in turn. The first failure aborts.
func (c *Client) Lookups(ctx context.Context) (*Lookups, error) {
	var (
		out Lookups
		err error
	)
	if out.TimeSlots, err = c.TimeSlots(ctx); err != nil {
		return nil, err
	}
	if out.Relationships, err = c.Relationships(ctx); err != nil {
		return nil, err
	}
	if out.SeverityLevels, err = c.SeverityLevels(ctx); err != nil {
		return nil, err
	}
	if out.DurationOptions, err = c.DurationOptions(ctx); err != nil {
		return nil, err
	}
	return &out, nil
}

// -- QR handoff records --

func (c *Client) TempRegistration(ctx context.Context, id string) (*TempRegistration, error) {
	var out TempRegistration
	req := c.request(ctx).SetPathParam("id", id).SetResult(&out)
	if err := c.do(req, http.MethodGet, "/api/temp-registration/{id}"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) HealthAssessment(ctx context.Context, id string) (*HealthAssessmentRecord, error) {
	var out HealthAssessmentRecord
	req := c.request(ctx).SetPathParam("id", id).SetResult(&out)
	if err := c.do(req, http.MethodGet, "/api/health-assessment/{id}"); err != nil {
		return nil, err
	}
	return &out, nil
}

// -- ID images --

// UploadIDImage posts the captured ID frame as multipart form data.
func (c *Client) UploadIDImage(ctx context.Context, in *IDImageUpload) error {
	req := c.request(ctx).
		SetFormData(map[string]string{
			"patient_id": in.PatientID,
			"id_type":    in.IDType,
		}).
		SetMultipartField("id_image", in.FileName, in.ContentType, bytes.NewReader(in.Content))
	return c.do(req, http.MethodPost, "/api/upload-id-image")
}

// -- Queue --

func (c *Client) TodayQueue(ctx context.Context) ([]QueueEntry, error) {
	var out []QueueEntry
	req := c.request(ctx).SetResult(&out)
	if err := c.do(req, http.MethodGet, "/api/queue/today"); err != nil {
		return nil, err
	}
	return out, nil
}
