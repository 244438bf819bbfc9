// Package queueboard keeps doctor and admin dashboards in step with today's
// queue. A refresher polls the hospital backend and publishes a snapshot of
// every department's queue over the websocket hub; kiosk registrations are
// published on the same topics as they happen.
package queueboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clicare/kiosk/internal/platform/auth"
	"github.com/clicare/kiosk/internal/platform/backend"
	"github.com/clicare/kiosk/internal/platform/websocket"
)

const statusWaiting = "waiting"

// Source loads today's queue.
type Source interface {
	TodayQueue(ctx context.Context) ([]backend.QueueEntry, error)
}

// Board is the queue of one department, or of the whole hospital when
// Department is empty.
type Board struct {
	Department string               `json:"department,omitempty"`
	Entries    []backend.QueueEntry `json:"entries"`
	Waiting    int                  `json:"waiting"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// Snapshot is the last published state of every board.
type Snapshot struct {
	All         Board            `json:"all"`
	Departments map[string]Board `json:"departments"`
}

type Config struct {
	Interval time.Duration
	// Token authenticates the backend calls; the refresher runs outside any
	// kiosk session.
	Token string
	Now   func() time.Time
}

// Refresher polls the backend and publishes changed boards.
type Refresher struct {
	src    Source
	pub    websocket.EventPublisher
	cfg    Config
	logger zerolog.Logger

	mu        sync.RWMutex
	snapshot  Snapshot
	published map[string][]byte
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewRefresher(src Source, pub websocket.EventPublisher, cfg Config, logger zerolog.Logger) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Refresher{
		src:       src,
		pub:       pub,
		cfg:       cfg,
		logger:    logger.With().Str("component", "queueboard").Logger(),
		published: make(map[string][]byte),
		stopCh:    make(chan struct{}),
	}
}

// Run refreshes immediately and then on every interval until ctx is
// cancelled or Stop is called. Failed refreshes are logged and retried on
// the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.refreshLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			return nil
		case <-ticker.C:
			r.refreshLogged(ctx)
		}
	}
}

// Stop ends Run.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Refresher) refreshLogged(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("queue refresh failed")
	}
}

// Refresh loads the queue once and publishes every board whose entries
// changed since the last publish.
func (r *Refresher) Refresh(ctx context.Context) error {
	if r.cfg.Token != "" {
		ctx = backend.WithToken(ctx, r.cfg.Token)
	}
	entries, err := r.src.TodayQueue(ctx)
	if err != nil {
		return fmt.Errorf("load today's queue: %w", err)
	}

	snap := buildSnapshot(entries, r.cfg.Now().UTC())

	r.mu.Lock()
	r.snapshot = snap
	r.mu.Unlock()

	if err := r.publishIfChanged(ctx, websocket.TopicQueue, snap.All); err != nil {
		return err
	}
	depts := make([]string, 0, len(snap.Departments))
	for d := range snap.Departments {
		depts = append(depts, d)
	}
	sort.Strings(depts)
	for _, d := range depts {
		if err := r.publishIfChanged(ctx, websocket.DepartmentTopic(d), snap.Departments[d]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Refresher) publishIfChanged(ctx context.Context, topic string, b Board) error {
	// UpdatedAt changes on every refresh and is not part of the comparison.
	key, err := json.Marshal(b.Entries)
	if err != nil {
		return fmt.Errorf("marshal %s entries: %w", topic, err)
	}
	r.mu.Lock()
	if prev, ok := r.published[topic]; ok && bytes.Equal(prev, key) {
		r.mu.Unlock()
		return nil
	}
	r.published[topic] = key
	r.mu.Unlock()

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal %s board: %w", topic, err)
	}
	return r.pub.Publish(ctx, websocket.Event{
		Type:       websocket.EventQueueSnapshot,
		Topic:      topic,
		Department: b.Department,
		Timestamp:  b.UpdatedAt,
		Data:       data,
	})
}

// Snapshot returns the boards of the last successful refresh.
func (r *Refresher) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{All: r.snapshot.All, Departments: make(map[string]Board, len(r.snapshot.Departments))}
	for k, v := range r.snapshot.Departments {
		out.Departments[k] = v
	}
	return out
}

func buildSnapshot(entries []backend.QueueEntry, now time.Time) Snapshot {
	if entries == nil {
		entries = []backend.QueueEntry{}
	}
	snap := Snapshot{
		All:         Board{Entries: entries, UpdatedAt: now},
		Departments: make(map[string]Board),
	}
	for _, e := range entries {
		b := snap.Departments[e.Department]
		b.Department = e.Department
		b.UpdatedAt = now
		b.Entries = append(b.Entries, e)
		if e.Status == statusWaiting {
			b.Waiting++
			snap.All.Waiting++
		}
		snap.Departments[e.Department] = b
	}
	return snap
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// Handler serves the current boards to dashboards that poll instead of
// subscribing.
type Handler struct {
	refresher *Refresher
}

func NewHandler(r *Refresher) *Handler {
	return &Handler{refresher: r}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/queue", auth.RequireRole(auth.RoleDoctor))
	g.GET("", h.GetBoard)
	g.GET("/:department", h.GetDepartment)
}

func (h *Handler) GetBoard(c echo.Context) error {
	return c.JSON(http.StatusOK, h.refresher.Snapshot())
}

func (h *Handler) GetDepartment(c echo.Context) error {
	dept, err := url.PathUnescape(c.Param("department"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid department")
	}
	b, ok := h.refresher.Snapshot().Departments[dept]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no queue for department "+dept)
	}
	return c.JSON(http.StatusOK, b)
}
