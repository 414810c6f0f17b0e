package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"imgfield/internal/domain"
)

// MemoryRecordStore keeps records in a mutex-guarded map. It backs tests and
// single-process deployments; it also collects usage logs so the worker can
// run without Postgres.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]domain.Record
	usage   []domain.UsageLog
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]domain.Record),
	}
}

func (s *MemoryRecordStore) Create(_ context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *MemoryRecordStore) Get(_ context.Context, id string) (domain.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.Record{}, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (s *MemoryRecordStore) Update(_ context.Context, rec domain.Record) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		return domain.Record{}, ErrRecordNotFound
	}
	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.ID] = cloneRecord(rec)
	return cloneRecord(rec), nil
}

func (s *MemoryRecordStore) UpdateStatus(_ context.Context, id, status string) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.Record{}, ErrRecordNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return cloneRecord(rec), nil
}

func (s *MemoryRecordStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryRecordStore) ListByField(_ context.Context, field string) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Record, 0)
	for _, rec := range s.records {
		if rec.Field == field {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryRecordStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

// UsageLogs returns a copy of everything recorded so far.
func (s *MemoryRecordStore) UsageLogs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UsageLog, len(s.usage))
	copy(out, s.usage)
	return out
}

// cloneRecord copies the rendition map so callers cannot mutate stored state
// through the shared reference.
func cloneRecord(rec domain.Record) domain.Record {
	if rec.Renditions == nil {
		return rec
	}
	renditions := make(map[string]domain.Rendition, len(rec.Renditions))
	for name, r := range rec.Renditions {
		renditions[name] = r
	}
	rec.Renditions = renditions
	return rec
}
