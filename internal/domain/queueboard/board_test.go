package queueboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/backend"
	"github.com/clicare/kiosk/internal/platform/websocket"
)

var testNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu      sync.Mutex
	entries []backend.QueueEntry
	err     error
	tokens  []string
	calls   int
}

func (s *fakeSource) TodayQueue(ctx context.Context) ([]backend.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.tokens = append(s.tokens, backend.TokenFromContext(ctx))
	if s.err != nil {
		return nil, s.err
	}
	return append([]backend.QueueEntry(nil), s.entries...), nil
}

func (s *fakeSource) set(entries ...backend.QueueEntry) {
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Topic
	}
	return out
}

func newTestRefresher(src Source, pub websocket.EventPublisher) *Refresher {
	return NewRefresher(src, pub, Config{
		Interval: 5 * time.Millisecond,
		Token:    "service-token",
		Now:      func() time.Time { return testNow },
	}, zerolog.Nop())
}

var (
	a001 = backend.QueueEntry{QueueNumber: "A-001", PatientID: "PAT100", Department: "Pulmonology", Status: "waiting"}
	a002 = backend.QueueEntry{QueueNumber: "A-002", PatientID: "PAT101", Department: "Pulmonology", Status: "serving"}
	b014 = backend.QueueEntry{QueueNumber: "B-014", PatientID: "PAT002", Department: "Internal Medicine", Status: "waiting"}
)

func TestRefresh_PublishesBoards(t *testing.T) {
	src := &fakeSource{entries: []backend.QueueEntry{a001, a002, b014}}
	pub := &recordingPublisher{}
	r := newTestRefresher(src, pub)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	want := []string{"queue", "queue/Internal Medicine", "queue/Pulmonology"}
	got := pub.topics()
	if len(got) != len(want) {
		t.Fatalf("expected topics %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topic %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	var board Board
	if err := json.Unmarshal(pub.events[2].Data, &board); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if board.Department != "Pulmonology" || len(board.Entries) != 2 || board.Waiting != 1 {
		t.Errorf("unexpected pulmonology board %+v", board)
	}
	if pub.events[0].Type != websocket.EventQueueSnapshot {
		t.Errorf("expected snapshot events, got %q", pub.events[0].Type)
	}

	snap := r.Snapshot()
	if snap.All.Waiting != 2 || len(snap.Departments) != 2 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if src.tokens[0] != "service-token" {
		t.Errorf("expected service token on backend call, got %q", src.tokens[0])
	}
}

func TestRefresh_SkipsUnchangedBoards(t *testing.T) {
	src := &fakeSource{entries: []backend.QueueEntry{a001, b014}}
	pub := &recordingPublisher{}
	r := newTestRefresher(src, pub)
	ctx := context.Background()

	if err := r.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(pub.topics()); n != 3 {
		t.Fatalf("expected no republish of unchanged boards, got %d events", n)
	}

	src.set(a001, a002, b014)
	if err := r.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	got := pub.topics()[3:]
	if len(got) != 2 || got[0] != "queue" || got[1] != "queue/Pulmonology" {
		t.Errorf("expected only changed boards, got %v", got)
	}
}

func TestRefresh_BackendFailureKeepsLastSnapshot(t *testing.T) {
	src := &fakeSource{entries: []backend.QueueEntry{a001}}
	r := newTestRefresher(src, &recordingPublisher{})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	src.err = errors.New("backend down")
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if len(r.Snapshot().All.Entries) != 1 {
		t.Error("expected the last good snapshot to be kept")
	}
}

func TestRefresh_EmptyQueue(t *testing.T) {
	pub := &recordingPublisher{}
	r := newTestRefresher(&fakeSource{}, pub)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	var board Board
	if err := json.Unmarshal(pub.events[0].Data, &board); err != nil {
		t.Fatal(err)
	}
	if board.Entries == nil || len(board.Entries) != 0 {
		t.Errorf("expected an empty entry list, got %#v", board.Entries)
	}
}

func TestRun_StopsOnCancelAndStop(t *testing.T) {
	src := &fakeSource{entries: []backend.QueueEntry{a001}}
	r := newTestRefresher(src, &recordingPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for src.Calls() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if src.Calls() < 3 {
		t.Fatalf("expected periodic refreshes, got %d", src.Calls())
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	r2 := newTestRefresher(src, &recordingPublisher{})
	go func() { done <- r2.Run(context.Background()) }()
	r2.Stop()
	r2.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil after Stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestHandler_Boards(t *testing.T) {
	r := newTestRefresher(&fakeSource{entries: []backend.QueueEntry{a001, b014}}, &recordingPublisher{})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(r)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil), rec)
	if err := h.GetBoard(c); err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.All.Entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(snap.All.Entries))
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("department")
	c.SetParamValues("Internal%20Medicine")
	if err := h.GetDepartment(c); err != nil {
		t.Fatal(err)
	}
	var board Board
	if err := json.Unmarshal(rec.Body.Bytes(), &board); err != nil {
		t.Fatal(err)
	}
	if board.Department != "Internal Medicine" || board.Entries[0].QueueNumber != "B-014" {
		t.Errorf("unexpected board %+v", board)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("department")
	c.SetParamValues("Dermatology")
	err := h.GetDepartment(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
