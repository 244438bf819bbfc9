package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type storedBlob struct {
	meta    BlobMetadata
	content []byte
}

// MemoryStore keeps staged images in process memory. Staged images never
// outlive the sessions that took them, so they need no durable storage.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*storedBlob), now: time.Now}
}

func (s *MemoryStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := meta.validate(); err != nil {
		if err == ErrInvalidContentType {
			return nil, fmt.Errorf("%w: %q", err, meta.ContentType)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	sum := sha256.Sum256(data)
	meta.ID = uuid.NewString()
	meta.Size = int64(len(data))
	meta.Hash = hex.EncodeToString(sum[:])
	meta.CreatedAt = s.now().UTC()

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{meta: meta, content: data}
	s.mu.Unlock()
	return &meta, nil
}

func (s *MemoryStore) get(id string) (*storedBlob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return b, nil
}

func (s *MemoryStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	b, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	meta := b.meta
	return io.NopCloser(bytes.NewReader(b.content)), &meta, nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	b, err := s.get(id)
	if err != nil {
		return nil, err
	}
	meta := b.meta
	return &meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

func (s *MemoryStore) ListBySession(_ context.Context, sessionID string) ([]*BlobMetadata, error) {
	s.mu.RLock()
	out := make([]*BlobMetadata, 0, len(s.blobs))
	for _, b := range s.blobs {
		if sessionID == "" || b.meta.SessionID == sessionID {
			meta := b.meta
			out = append(out, &meta)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *BlobMetadata) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// PurgeOlderThan drops images staged before cutoff and returns how many went.
func (s *MemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, b := range s.blobs {
		if b.meta.CreatedAt.Before(cutoff) {
			delete(s.blobs, id)
			n++
		}
	}
	return n, nil
}

// RunJanitor purges images older than maxAge every interval until ctx is
// done. It catches images of sessions that ended without cleaning up.
func RunJanitor(ctx context.Context, store BlobStore, interval, maxAge time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeOlderThan(ctx, now.Add(-maxAge))
			if err != nil {
				logger.Warn().Err(err).Msg("purge staged images")
				continue
			}
			if n > 0 {
				logger.Info().Int("purged", n).Msg("purged abandoned staged images")
			}
		}
	}
}
