package registration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/backend"
)

type dupCall struct {
	field, value string
}

// scriptedDuplicates answers lookups from a table. Values listed in hold
// block until released.
type scriptedDuplicates struct {
	mu      sync.Mutex
	calls   []dupCall
	exists  map[string]string
	failing map[string]bool
	hold    map[string]chan struct{}
}

func newScriptedDuplicates() *scriptedDuplicates {
	return &scriptedDuplicates{
		exists:  make(map[string]string),
		failing: make(map[string]bool),
		hold:    make(map[string]chan struct{}),
	}
}

func (s *scriptedDuplicates) CheckDuplicate(ctx context.Context, field, value string) (*backend.DuplicateCheckResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, dupCall{field, value})
	gate := s.hold[value]
	msg, exists := s.exists[value]
	fail := s.failing[value]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("connection refused")
	}
	return &backend.DuplicateCheckResponse{Exists: exists, Field: field, Message: msg}, nil
}

func (s *scriptedDuplicates) Calls() []dupCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dupCall(nil), s.calls...)
}

type appliedResults struct {
	mu  sync.Mutex
	got []DuplicateResult
}

func (a *appliedResults) apply(r DuplicateResult) {
	a.mu.Lock()
	a.got = append(a.got, r)
	a.mu.Unlock()
}

func (a *appliedResults) All() []DuplicateResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]DuplicateResult(nil), a.got...)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestChecker(src DuplicateSource, delay time.Duration) (*duplicateChecker, *appliedResults) {
	applied := &appliedResults{}
	d := newDuplicateChecker(context.Background(), src, delay, applied.apply, zerolog.Nop())
	return d, applied
}

func TestDuplicateChecker_DebounceSendsLastValue(t *testing.T) {
	src := newScriptedDuplicates()
	d, applied := newTestChecker(src, 30*time.Millisecond)
	defer d.Close()

	d.Changed(FieldEmail, "juan@exa")
	d.Changed(FieldEmail, "juan@example.c")
	d.Changed(FieldEmail, "juan@example.com")

	waitUntil(t, "one result", func() bool { return len(applied.All()) == 1 })
	calls := src.Calls()
	if len(calls) != 1 || calls[0].value != "juan@example.com" {
		t.Fatalf("calls = %+v, want one call for the final value", calls)
	}
}

func TestDuplicateChecker_InvalidValuesNotChecked(t *testing.T) {
	src := newScriptedDuplicates()
	d, _ := newTestChecker(src, 5*time.Millisecond)
	defer d.Close()

	d.Changed(FieldEmail, "not-an-email")
	d.Changed(FieldContactNo, "0917")
	d.Changed(FieldFullName, "Juan Dela Cruz")
	time.Sleep(40 * time.Millisecond)
	if n := len(src.Calls()); n != 0 {
		t.Fatalf("expected no lookups, got %d", n)
	}
}

func TestDuplicateChecker_SameValueNotResent(t *testing.T) {
	src := newScriptedDuplicates()
	src.exists["09171234567"] = "This contact number is already registered"
	d, applied := newTestChecker(src, 5*time.Millisecond)
	defer d.Close()

	d.Changed(FieldContactNo, "0917-123-4567")
	waitUntil(t, "first result", func() bool { return len(applied.All()) == 1 })

	cached, ok := d.Changed(FieldContactNo, "09171234567")
	if !ok || !cached.Exists || cached.Message == "" {
		t.Fatalf("expected cached positive result, got %+v ok=%v", cached, ok)
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(src.Calls()); n != 1 {
		t.Fatalf("expected a single lookup, got %d", n)
	}
}

func TestDuplicateChecker_StaleResponseDropped(t *testing.T) {
	src := newScriptedDuplicates()
	slow := make(chan struct{})
	src.hold["first@example.com"] = slow
	src.exists["first@example.com"] = "This email is already registered"
	d, applied := newTestChecker(src, 5*time.Millisecond)
	defer d.Close()

	d.Changed(FieldEmail, "first@example.com")
	waitUntil(t, "first lookup", func() bool { return len(src.Calls()) == 1 })

	d.Changed(FieldEmail, "second@example.com")
	waitUntil(t, "second result", func() bool { return len(applied.All()) == 1 })

	close(slow)
	time.Sleep(30 * time.Millisecond)

	got := applied.All()
	if len(got) != 1 {
		t.Fatalf("stale response was applied: %+v", got)
	}
	if got[0].Value != "second@example.com" || got[0].Exists {
		t.Fatalf("unexpected result %+v", got[0])
	}
	if got[0].Seq != d.Latest(FieldEmail) {
		t.Fatalf("applied seq %d, latest %d", got[0].Seq, d.Latest(FieldEmail))
	}
}

func TestDuplicateChecker_FailureIsNotCached(t *testing.T) {
	src := newScriptedDuplicates()
	src.failing["juan@example.com"] = true
	d, applied := newTestChecker(src, 5*time.Millisecond)
	defer d.Close()

	d.Changed(FieldEmail, "juan@example.com")
	waitUntil(t, "failed result", func() bool { return len(applied.All()) == 1 })
	if applied.All()[0].Err == nil {
		t.Fatal("expected transport error in result")
	}

	if _, ok := d.Changed(FieldEmail, "juan@example.com"); ok {
		t.Fatal("a failed lookup must not be cached")
	}
	waitUntil(t, "second lookup", func() bool { return len(src.Calls()) == 2 })
}

func TestDuplicateChecker_CloseStopsTimer(t *testing.T) {
	src := newScriptedDuplicates()
	d, _ := newTestChecker(src, 20*time.Millisecond)
	d.Changed(FieldEmail, "juan@example.com")
	d.Close()
	time.Sleep(50 * time.Millisecond)
	if n := len(src.Calls()); n != 0 {
		t.Fatalf("lookup sent after Close: %d", n)
	}
	if _, ok := d.Changed(FieldEmail, "juan@example.com"); ok {
		t.Fatal("closed checker should ignore edits")
	}
}
