package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RecordStatusCreated    = "created"
	RecordStatusQueued     = "queued"
	RecordStatusProcessing = "processing"
	RecordStatusReady      = "ready"
	RecordStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

// Record is one image attached to a named field, together with the
// renditions that have been derived from it so far. Rendition entries are
// bookkeeping: once a format has an entry it is assumed to exist in storage
// until the record is deleted or reprocessing is forced.
type Record struct {
	ID         string
	Field      string
	Status     string
	SourceType string
	SourceKey  string
	PPOI       string
	Width      int
	Height     int
	WebhookURL string
	Renditions map[string]Rendition
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Rendition describes one derived file written to storage. The struct is
// stored as JSON in the record's renditions column.
type Rendition struct {
	Format      string    `json:"format"`
	StorageKey  string    `json:"storage_key"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Bytes       int64     `json:"bytes"`
	Fallback    bool      `json:"fallback,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

type CreateRecordRequest struct {
	Field      string `json:"field"`
	SourceType string `json:"source_type"`
	ObjectKey  string `json:"object_key,omitempty"`
	PPOI       string `json:"ppoi,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

type ProcessRecordRequest struct {
	Formats []string `json:"formats,omitempty"`
	Force   bool     `json:"force,omitempty"`
}

func (r CreateRecordRequest) Validate() error {
	if strings.TrimSpace(r.Field) == "" {
		return errors.New("field is required")
	}
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if strings.TrimSpace(r.PPOI) != "" {
		if _, ok := ParsePPOI(r.PPOI); !ok {
			return fmt.Errorf("malformed ppoi: %q", r.PPOI)
		}
	}
	return nil
}

func (r ProcessRecordRequest) Validate() error {
	for i, format := range r.Formats {
		if strings.TrimSpace(format) == "" {
			return fmt.Errorf("formats[%d] is empty", i)
		}
	}
	return nil
}
