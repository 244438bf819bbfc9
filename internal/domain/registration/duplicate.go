package registration

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/backend"
)

// DefaultDuplicateDebounce is the quiet period after the last edit before a
// duplicate lookup is sent.
const DefaultDuplicateDebounce = 800 * time.Millisecond

// DuplicateSource performs the remote duplicate lookup.
type DuplicateSource interface {
	CheckDuplicate(ctx context.Context, field, value string) (*backend.DuplicateCheckResponse, error)
}

// Duplicate check outcomes reported to observers.
const (
	DuplicateExists = "exists"
	DuplicateClear  = "clear"
	DuplicateError  = "error"
	DuplicateStale  = "stale"
)

// DuplicateResult is the answer to one lookup. Seq is the per-field request
// number it answers; Err is set on transport failure.
type DuplicateResult struct {
	Field   string
	Value   string
	Seq     uint64
	Exists  bool
	Message string
	Err     error
}

type checkedValue struct {
	value  string
	result DuplicateResult
}

// duplicateChecker debounces email and phone edits into lookups. It keeps a
// single timer for all fields and numbers every request per field so that a
// response older than the latest request is dropped.
type duplicateChecker struct {
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	delay    time.Duration
	timer    *time.Timer
	pending  map[string]string
	inflight map[string]string
	seq      map[string]uint64
	checked  map[string]checkedValue
	closed   bool

	source  DuplicateSource
	apply   func(DuplicateResult)
	observe func(outcome string)
	logger  zerolog.Logger
}

func newDuplicateChecker(ctx context.Context, source DuplicateSource, delay time.Duration, apply func(DuplicateResult), logger zerolog.Logger) *duplicateChecker {
	if delay <= 0 {
		delay = DefaultDuplicateDebounce
	}
	ctx, cancel := context.WithCancel(ctx)
	return &duplicateChecker{
		ctx:      ctx,
		cancel:   cancel,
		delay:    delay,
		pending:  make(map[string]string),
		inflight: make(map[string]string),
		seq:      make(map[string]uint64),
		checked:  make(map[string]checkedValue),
		source:   source,
		apply:    apply,
		observe:  func(string) {},
		logger:   logger,
	}
}

// duplicateCheckable reports whether field takes part in duplicate detection.
func duplicateCheckable(field string) bool {
	return field == FieldEmail || field == FieldContactNo
}

// normalizeForDuplicate returns the value to send, or "" when the value is
// not syntactically valid and must not be checked.
func normalizeForDuplicate(field, value string) string {
	switch field {
	case FieldEmail:
		if ValidateEmail(value) != "" {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(value))
	case FieldContactNo:
		if ValidatePhone(value) != "" {
			return ""
		}
		return NormalizePhone(value)
	}
	return ""
}

// Changed records an edit. When the value was already checked the cached
// result is returned so the caller can re-apply it without a new request.
func (d *duplicateChecker) Changed(field, value string) (DuplicateResult, bool) {
	v := normalizeForDuplicate(field, value)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return DuplicateResult{}, false
	}

	delete(d.pending, field)
	if v == "" {
		return DuplicateResult{}, false
	}
	if c, ok := d.checked[field]; ok && c.value == v {
		return c.result, true
	}
	if d.inflight[field] == v {
		return DuplicateResult{}, false
	}

	d.pending[field] = v
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
	return DuplicateResult{}, false
}

// Latest returns the sequence number of the newest request issued for field.
func (d *duplicateChecker) Latest(field string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq[field]
}

// Pending reports whether an edit is waiting for the debounce or a lookup is
// outstanding.
func (d *duplicateChecker) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0 || len(d.inflight) > 0
}

func (d *duplicateChecker) fire() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	batch := d.pending
	d.pending = make(map[string]string)
	d.timer = nil
	type req struct {
		field, value string
		seq          uint64
	}
	reqs := make([]req, 0, len(batch))
	for field, value := range batch {
		d.seq[field]++
		d.inflight[field] = value
		reqs = append(reqs, req{field, value, d.seq[field]})
	}
	d.mu.Unlock()

	for _, r := range reqs {
		go d.lookup(r.field, r.value, r.seq)
	}
}

func (d *duplicateChecker) lookup(field, value string, seq uint64) {
	res := DuplicateResult{Field: field, Value: value, Seq: seq}
	resp, err := d.source.CheckDuplicate(d.ctx, field, value)
	if err != nil {
		res.Err = err
	} else {
		res.Exists = resp.Exists
		res.Message = resp.Message
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.inflight[field] == value && d.seq[field] == seq {
		delete(d.inflight, field)
	}
	stale := d.seq[field] != seq
	if !stale && err == nil {
		d.checked[field] = checkedValue{value: value, result: res}
	}
	d.mu.Unlock()

	switch {
	case stale:
		d.logger.Debug().Str("field", field).Uint64("seq", seq).Msg("dropping stale duplicate check response")
		d.observe(DuplicateStale)
		return
	case err != nil:
		d.logger.Warn().Err(err).Str("field", field).Msg("duplicate check failed")
		d.observe(DuplicateError)
	case res.Exists:
		d.observe(DuplicateExists)
	default:
		d.observe(DuplicateClear)
	}
	d.apply(res)
}

// Close stops the timer and abandons outstanding lookups. It does not wait
// for them, so it is safe to call while holding the wizard lock.
func (d *duplicateChecker) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.cancel()
}
