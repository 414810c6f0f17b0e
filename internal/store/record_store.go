package store

import (
	"context"
	"errors"

	"imgfield/internal/domain"
)

var ErrRecordNotFound = errors.New("record not found")

type RecordStore interface {
	Create(ctx context.Context, rec domain.Record) error
	Get(ctx context.Context, id string) (domain.Record, bool, error)
	// Update persists the full record (status, dimensions, rendition
	// bookkeeping) and bumps updated_at.
	Update(ctx context.Context, rec domain.Record) (domain.Record, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Record, error)
	Delete(ctx context.Context, id string) error
	// ListByField returns every record attached to a field label, oldest
	// first. Batch regeneration walks this.
	ListByField(ctx context.Context, field string) ([]domain.Record, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
