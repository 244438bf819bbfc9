package printing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Template Engine Tests
// ---------------------------------------------------------------------------

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:    "test-tpl",
		Title: "Queue {{queue_number}}",
		Body:  "Hello {{patient_name}}, go to {{department}}.",
	})

	title, body, err := eng.Render("test-tpl", map[string]string{
		"queue_number": "IM-014",
		"patient_name": "Juan Dela Cruz",
		"department":   "Internal Medicine",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Queue IM-014" {
		t.Errorf("title = %q", title)
	}
	if body != "Hello Juan Dela Cruz, go to Internal Medicine." {
		t.Errorf("body = %q", body)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, _, err := eng.Render("nonexistent", nil); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestReceipt_TemplateByFlow(t *testing.T) {
	if (Receipt{Flow: "new"}).TemplateID() != "registration-receipt" {
		t.Error("new patients get the registration receipt")
	}
	if (Receipt{Flow: "returning"}).TemplateID() != "visit-receipt" {
		t.Error("returning patients get the visit receipt")
	}
}

// ---------------------------------------------------------------------------
// Manager Tests
// ---------------------------------------------------------------------------

func testReceipt() Receipt {
	return Receipt{
		Flow:        "new",
		PatientID:   "PAT001",
		PatientName: "Juan Dela Cruz",
		Department:  "Internal Medicine",
		QueueNumber: "IM-014",
		IssuedAt:    time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
	}
}

func TestManager_Print(t *testing.T) {
	sender := &MockSender{}
	mgr := NewManager(sender, NewTemplateEngine())

	job, err := mgr.Print(context.Background(), testReceipt())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != "printed" || job.PrintedAt == nil {
		t.Errorf("job = %+v", job)
	}
	calls := sender.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 print call, got %d", len(calls))
	}
	for _, want := range []string{"PAT001", "Internal Medicine", "IM-014", "Mar 10, 2026"} {
		if !strings.Contains(calls[0].Body, want) {
			t.Errorf("receipt body missing %q:\n%s", want, calls[0].Body)
		}
	}
}

func TestManager_PrintFailureKeepsJob(t *testing.T) {
	sender := &MockSender{ShouldFail: true, FailError: "printer offline"}
	mgr := NewManager(sender, NewTemplateEngine())

	job, err := mgr.Print(context.Background(), testReceipt())
	if err == nil {
		t.Fatal("expected error")
	}
	if job.Status != "failed" || job.Error != "printer offline" {
		t.Errorf("job = %+v", job)
	}

	sender.ShouldFail = false
	again, err := mgr.Reprint(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("reprint: %v", err)
	}
	if again.Status != "printed" || again.Attempts != 2 {
		t.Errorf("reprinted job = %+v", again)
	}
}

func TestManager_ReprintNotFound(t *testing.T) {
	mgr := NewManager(&MockSender{}, NewTemplateEngine())
	if _, err := mgr.Reprint(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// HTTP Sender Tests
// ---------------------------------------------------------------------------

func TestHTTPSender_Send(t *testing.T) {
	var got printRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/print" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, time.Second)
	if err := s.Send(context.Background(), &Job{ID: "j1", Title: "T", Body: "B"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.JobID != "j1" || got.Body != "B" {
		t.Errorf("request = %+v", got)
	}
}

func TestHTTPSender_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"out of paper"}`))
	}))
	defer srv.Close()

	err := NewHTTPSender(srv.URL, time.Second).Send(context.Background(), &Job{ID: "j1"})
	if err == nil || !strings.Contains(err.Error(), "out of paper") {
		t.Fatalf("expected printer message, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Handler Tests
// ---------------------------------------------------------------------------

func TestHandler_GetAndReprint(t *testing.T) {
	mgr := NewManager(&MockSender{}, NewTemplateEngine())
	job, _ := mgr.Print(context.Background(), testReceipt())
	h := NewHandler(mgr)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/print-jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(job.ID)
	if err := h.HandleGet(c); err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/print-jobs/missing/reprint", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")
	err := h.HandleReprint(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/print-jobs", nil)
	rec = httptest.NewRecorder()
	if err := h.HandleList(e.NewContext(req, rec)); err != nil {
		t.Fatalf("list: %v", err)
	}
	var jobs []Job
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil || len(jobs) != 1 {
		t.Errorf("list = %s (%v)", rec.Body.String(), err)
	}
}
