package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"imgfield/internal/domain"
)

const recordSchemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	field TEXT NOT NULL,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	source_key TEXT NOT NULL DEFAULT '',
	ppoi TEXT NOT NULL DEFAULT '0.5x0.5',
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	webhook_url TEXT NOT NULL DEFAULT '',
	renditions JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS records_field_idx ON records (field);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	record_id TEXT NOT NULL,
	field TEXT NOT NULL,
	renditions INTEGER NOT NULL,
	pixels_processed BIGINT NOT NULL,
	bytes_written BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(ctx context.Context, dsn string) (*PostgresRecordStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresRecordStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresRecordStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, recordSchemaSQL); err != nil {
		return fmt.Errorf("ensure records schema: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRecordStore) Create(ctx context.Context, rec domain.Record) error {
	renditionsJSON, err := marshalRenditions(rec.Renditions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO records (id, field, status, source_type, source_key, ppoi, width, height, webhook_url, renditions, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID,
		rec.Field,
		rec.Status,
		rec.SourceType,
		rec.SourceKey,
		rec.PPOI,
		rec.Width,
		rec.Height,
		rec.WebhookURL,
		renditionsJSON,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	return nil
}

const recordColumns = `id, field, status, source_type, source_key, ppoi, width, height, webhook_url, renditions, created_at, updated_at`

func (s *PostgresRecordStore) Get(ctx context.Context, id string) (domain.Record, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1`,
		id,
	)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("query record: %w", err)
	}
	return rec, true, nil
}

func (s *PostgresRecordStore) Update(ctx context.Context, rec domain.Record) (domain.Record, error) {
	renditionsJSON, err := marshalRenditions(rec.Renditions)
	if err != nil {
		return domain.Record{}, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE records
		 SET status = $1, source_type = $2, source_key = $3, ppoi = $4, width = $5, height = $6, webhook_url = $7, renditions = $8, updated_at = $9
		 WHERE id = $10`,
		rec.Status,
		rec.SourceType,
		rec.SourceKey,
		rec.PPOI,
		rec.Width,
		rec.Height,
		rec.WebhookURL,
		renditionsJSON,
		now,
		rec.ID,
	)
	if err != nil {
		return domain.Record{}, fmt.Errorf("update record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Record{}, ErrRecordNotFound
	}

	rec.UpdatedAt = now
	return rec, nil
}

func (s *PostgresRecordStore) UpdateStatus(ctx context.Context, id, status string) (domain.Record, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE records SET status = $1, updated_at = $2 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.Record{}, fmt.Errorf("update record status: %w", err)
	}

	rec, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if !ok {
		return domain.Record{}, ErrRecordNotFound
	}

	return rec, nil
}

func (s *PostgresRecordStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PostgresRecordStore) ListByField(ctx context.Context, field string) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM records WHERE field = $1 ORDER BY created_at, id`,
		field,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

func (s *PostgresRecordStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (record_id, field, renditions, pixels_processed, bytes_written, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.RecordID,
		usage.Field,
		usage.Renditions,
		usage.PixelsProcessed,
		usage.BytesWritten,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.Record, error) {
	var (
		rec            domain.Record
		renditionsJSON []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Field,
		&rec.Status,
		&rec.SourceType,
		&rec.SourceKey,
		&rec.PPOI,
		&rec.Width,
		&rec.Height,
		&rec.WebhookURL,
		&renditionsJSON,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return domain.Record{}, err
	}

	if err := json.Unmarshal(renditionsJSON, &rec.Renditions); err != nil {
		return domain.Record{}, fmt.Errorf("unmarshal renditions: %w", err)
	}
	return rec, nil
}

func marshalRenditions(renditions map[string]domain.Rendition) ([]byte, error) {
	if renditions == nil {
		renditions = map[string]domain.Rendition{}
	}
	data, err := json.Marshal(renditions)
	if err != nil {
		return nil, fmt.Errorf("marshal renditions: %w", err)
	}
	return data, nil
}
