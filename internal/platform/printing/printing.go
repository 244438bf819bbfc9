// Package printing renders kiosk receipts from templates and sends them to
// the receipt printer service. Every job is kept in memory so staff can look
// it up and reprint it.
package printing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var (
	ErrJobNotFound      = errors.New("print job not found")
	ErrTemplateNotFound = errors.New("receipt template not found")
)

// ---------------------------------------------------------------------------
// Receipts
// ---------------------------------------------------------------------------

// Receipt is what the kiosk hands to the patient after a successful
// registration or visit booking.
type Receipt struct {
	Flow        string    `json:"flow"`
	PatientID   string    `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	Department  string    `json:"department"`
	QueueNumber string    `json:"queue_number"`
	IssuedAt    time.Time `json:"issued_at"`
}

// TemplateID selects the receipt layout for the flow.
func (r Receipt) TemplateID() string {
	if r.Flow == "returning" {
		return "visit-receipt"
	}
	return "registration-receipt"
}

func (r Receipt) data() map[string]string {
	return map[string]string{
		"patient_id":   r.PatientID,
		"patient_name": r.PatientName,
		"department":   r.Department,
		"queue_number": r.QueueNumber,
		"date":         r.IssuedAt.Format("Jan 2, 2006"),
		"time":         r.IssuedAt.Format("3:04 PM"),
	}
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template is a receipt layout with {{key}} placeholders.
type Template struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TemplateEngine holds receipt templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in receipts registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:    "registration-receipt",
			Name:  "New Patient Registration",
			Title: "CLICARE Queue No. {{queue_number}}",
			Body: "Welcome, {{patient_name}}!\n" +
				"Patient ID: {{patient_id}}\n" +
				"Department: {{department}}\n" +
				"Queue Number: {{queue_number}}\n" +
				"{{date}} {{time}}\n" +
				"Please keep your Patient ID for future visits.",
		},
		{
			ID:    "visit-receipt",
			Name:  "Returning Patient Visit",
			Title: "CLICARE Queue No. {{queue_number}}",
			Body: "Welcome back, {{patient_name}}!\n" +
				"Patient ID: {{patient_id}}\n" +
				"Department: {{department}}\n" +
				"Queue Number: {{queue_number}}\n" +
				"{{date}} {{time}}",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrTemplateNotFound, templateID)
	}

	title = t.Title
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body, nil
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// Sender delivers a rendered job to a printer.
type Sender interface {
	Send(ctx context.Context, job *Job) error
}

// HTTPSender posts rendered receipts to the print service at PRINT_URL.
type HTTPSender struct {
	http *resty.Client
}

// NewHTTPSender creates a sender for the print service at baseURL.
func NewHTTPSender(baseURL string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

type printRequest struct {
	JobID string `json:"job_id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type printError struct {
	Message string `json:"message"`
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, job *Job) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(printRequest{JobID: job.ID, Title: job.Title, Body: job.Body}).
		SetError(&printError{}).
		Post("/print")
	if err != nil {
		return fmt.Errorf("print service: %w", err)
	}
	if resp.IsError() {
		if pe, ok := resp.Error().(*printError); ok && pe.Message != "" {
			return fmt.Errorf("print service: %s", pe.Message)
		}
		return fmt.Errorf("print service: status %d", resp.StatusCode())
	}
	return nil
}

// LogSender writes receipts to the log. It is used when no printer is
// configured.
type LogSender struct {
	Logger zerolog.Logger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, job *Job) error {
	s.Logger.Info().Str("job_id", job.ID).Str("title", job.Title).Msg("receipt (no printer configured)")
	return nil
}

// PrintCall records a single call to MockSender.Send.
type PrintCall struct {
	Title string
	Body  string
}

// MockSender is a test double for Sender.
type MockSender struct {
	mu         sync.Mutex
	calls      []PrintCall
	ShouldFail bool
	FailError  string
}

// Send records the call and optionally returns an error.
func (m *MockSender) Send(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, PrintCall{Title: job.Title, Body: job.Body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockSender) Calls() []PrintCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PrintCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Print Manager
// ---------------------------------------------------------------------------

// Job is one rendered receipt and its delivery state.
type Job struct {
	ID         string     `json:"id"`
	TemplateID string     `json:"template_id"`
	Receipt    Receipt    `json:"receipt"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
	PrintedAt  *time.Time `json:"printed_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Manager renders receipts, sends them and remembers every job.
type Manager struct {
	sender    Sender
	templates *TemplateEngine
	mu        sync.RWMutex
	jobs      map[string]*Job
}

// NewManager constructs a Manager.
func NewManager(sender Sender, tpl *TemplateEngine) *Manager {
	return &Manager{
		sender:    sender,
		templates: tpl,
		jobs:      make(map[string]*Job),
	}
}

// Print renders r and sends it. The job is stored even when sending fails so
// it can be reprinted.
func (m *Manager) Print(ctx context.Context, r Receipt) (*Job, error) {
	if r.IssuedAt.IsZero() {
		r.IssuedAt = time.Now()
	}
	title, body, err := m.templates.Render(r.TemplateID(), r.data())
	if err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}

	job := &Job{
		ID:         uuid.New().String(),
		TemplateID: r.TemplateID(),
		Receipt:    r,
		Title:      title,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	err = m.send(ctx, job)

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return job, err
}

func (m *Manager) send(ctx context.Context, job *Job) error {
	job.Attempts++
	if err := m.sender.Send(ctx, job); err != nil {
		job.Status = "failed"
		job.Error = err.Error()
		return err
	}
	now := time.Now().UTC()
	job.Status = "printed"
	job.Error = ""
	job.PrintedAt = &now
	return nil
}

// Get returns a job by id.
func (m *Manager) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// List returns the most recent jobs first, at most limit of them.
func (m *Manager) List(_ context.Context, limit int) []*Job {
	m.mu.RLock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		cp := *j
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Reprint sends a stored job again.
func (m *Manager) Reprint(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	err := m.send(ctx, job)
	cp := *job
	return &cp, err
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes print jobs to staff.
type Handler struct {
	manager *Manager
}

// NewHandler creates a Handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes registers the print job routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/print-jobs", h.HandleList)
	g.GET("/print-jobs/:id", h.HandleGet)
	g.POST("/print-jobs/:id/reprint", h.HandleReprint)
}

// HandleList handles GET /print-jobs.
func (h *Handler) HandleList(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.List(c.Request().Context(), 100))
}

// HandleGet handles GET /print-jobs/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	job, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}

// HandleReprint handles POST /print-jobs/:id/reprint.
func (h *Handler) HandleReprint(c echo.Context) error {
	job, err := h.manager.Reprint(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrJobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return c.JSON(http.StatusBadGateway, job)
	}
	return c.JSON(http.StatusOK, job)
}
