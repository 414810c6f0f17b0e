package pipeline

import (
	"context"
	"errors"

	"imgfield/internal/domain"
	"imgfield/internal/storage"
)

// StorageFetcher reads source bytes from the configured blob store.
type StorageFetcher struct {
	Store storage.Store
}

func (f StorageFetcher) Fetch(ctx context.Context, rec domain.Record) ([]byte, error) {
	if f.Store == nil {
		return nil, errors.New("storage backend is required")
	}
	return f.Store.Open(ctx, rec.SourceKey)
}

// StorageEmitter writes rendition bytes to the configured blob store.
type StorageEmitter struct {
	Store storage.Store
}

func (e StorageEmitter) Emit(ctx context.Context, key string, data []byte, contentType string) error {
	if e.Store == nil {
		return errors.New("storage backend is required")
	}
	return e.Store.Save(ctx, key, data, contentType)
}
