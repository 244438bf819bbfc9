// Package session stores the handoff records that carry a patient from the
// terminal login or mobile pre-registration page into a kiosk wizard. Records
// are written once, read when the wizard starts and deleted after a
// successful submission.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("handoff not found")
	ErrInvalidKind   = errors.New("handoff kind must be new or returning")
	ErrMissingRecord = errors.New("returning handoff requires a patient record")
)

// Kind mirrors the wizard flows.
type Kind string

const (
	KindNew       Kind = "new"
	KindReturning Kind = "returning"
)

// PatientRecord is the already registered patient a terminal login resolved.
type PatientRecord struct {
	PatientID             string `json:"patient_id"`
	Name                  string `json:"name"`
	Sex                   string `json:"sex,omitempty"`
	Birthday              string `json:"birthday,omitempty"`
	Age                   string `json:"age,omitempty"`
	ContactNumber         string `json:"contact_no,omitempty"`
	Email                 string `json:"email,omitempty"`
	Address               string `json:"address,omitempty"`
	EmergencyContactName  string `json:"emergency_contact_name,omitempty"`
	EmergencyContactNo    string `json:"emergency_contact_no,omitempty"`
	EmergencyRelationship string `json:"emergency_contact_relationship,omitempty"`
}

// Handoff is the state passed into a wizard at construction.
type Handoff struct {
	Key                string         `json:"key"`
	Kind               Kind           `json:"kind"`
	Patient            *PatientRecord `json:"patient,omitempty"`
	TempRegistrationID string         `json:"temp_registration_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Validate checks the record before it is stored.
func (h *Handoff) Validate() error {
	switch h.Kind {
	case KindNew:
	case KindReturning:
		if h.Patient == nil || strings.TrimSpace(h.Patient.PatientID) == "" {
			return ErrMissingRecord
		}
	default:
		return ErrInvalidKind
	}
	return nil
}

// Store persists handoff records.
type Store interface {
	// Put stores h under a fresh key and returns it.
	Put(ctx context.Context, h *Handoff) (string, error)
	Get(ctx context.Context, key string) (*Handoff, error)
	Delete(ctx context.Context, key string) error
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

const keyPrefix = "clicare:handoff:"

// RedisStore keeps handoffs in Redis with a TTL so abandoned records expire.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, h *Handoff) (string, error) {
	if err := h.Validate(); err != nil {
		return "", err
	}
	rec := *h
	rec.Key = uuid.New().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal handoff: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+rec.Key, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store handoff: %w", err)
	}
	return rec.Key, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Handoff, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load handoff: %w", err)
	}
	var h Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode handoff: %w", err)
	}
	return &h, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete handoff: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// In-memory
// ---------------------------------------------------------------------------

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Handoff
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore creates a MemoryStore. A zero ttl never expires records.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{items: make(map[string]Handoff), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, h *Handoff) (string, error) {
	if err := h.Validate(); err != nil {
		return "", err
	}
	rec := *h
	rec.Key = uuid.New().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.Patient != nil {
		p := *rec.Patient
		rec.Patient = &p
	}
	s.mu.Lock()
	s.items[rec.Key] = rec
	s.mu.Unlock()
	return rec.Key, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Handoff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.ttl > 0 && s.now().Sub(rec.CreatedAt) > s.ttl {
		delete(s.items, key)
		return nil, ErrNotFound
	}
	if rec.Patient != nil {
		p := *rec.Patient
		rec.Patient = &p
	}
	return &rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}
