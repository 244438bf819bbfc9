// Package blobstore stages captured ID images between the moment they are
// photographed at the kiosk and their upload to the hospital backend after
// registration.
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// MaxFileSize is the largest staged image in bytes (10 MB).
const MaxFileSize = 10 << 20

// AllowedContentTypes lists the image formats the kiosk camera produces.
var AllowedContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// BlobMetadata describes a staged image.
type BlobMetadata struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SessionID   string    `json:"session_id,omitempty"`
	IDType      string    `json:"id_type,omitempty"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

func (m BlobMetadata) validate() error {
	if m.FileName == "" {
		return ErrMissingFileName
	}
	if !AllowedContentTypes[m.ContentType] {
		return ErrInvalidContentType
	}
	return nil
}

// BlobStore stages images by ID.
type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, id string) error
	GetMetadata(ctx context.Context, id string) (*BlobMetadata, error)
	// ListBySession lists the images of one session, oldest first. An empty
	// sessionID lists everything.
	ListBySession(ctx context.Context, sessionID string) ([]*BlobMetadata, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
