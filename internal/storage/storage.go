package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("object not found")
	ErrPresignNotSupported = errors.New("storage does not support presigned uploads")
)

// Store is the blob surface the service reads sources from and writes
// renditions to. Keys are slash-separated paths relative to the store root.
type Store interface {
	Open(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

// Presigner is implemented by stores that can hand out direct-upload URLs,
// letting clients push source bytes without routing them through the API.
type Presigner interface {
	PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
