package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"imgfield/internal/domain"
	"imgfield/internal/field"
	"imgfield/internal/id"
	"imgfield/internal/queue"
	"imgfield/internal/storage"
	"imgfield/internal/store"
)

// Server exposes the record lifecycle over HTTP: create a record, attach and
// validate its source image, read it back with rendition URLs, force one
// format synchronously, queue batch regeneration, and delete with storage
// cleanup. Rendition URLs are plain accessors; a GET never triggers
// generation.
type Server struct {
	logger          *log.Logger
	fields          *field.Set
	records         store.RecordStore
	queueClient     QueueEnqueuer
	storage         storage.Store
	presignTTL      time.Duration
	validateOnSave  bool
	rateLimiter     RateLimiter
	rateLimitHeader string
	metrics         *metrics
	tracer          trace.Tracer
	mux             *http.ServeMux
}

type QueueEnqueuer interface {
	EnqueueGenerateRenditions(ctx context.Context, payload queue.GenerateRenditionsPayload) (*asynq.TaskInfo, error)
}

// Options carries the server's collaborators. Queue and RateLimiter may be
// nil: without a queue the async endpoints answer 503, without a limiter
// requests pass unthrottled.
type Options struct {
	Fields          *field.Set
	Records         store.RecordStore
	Queue           QueueEnqueuer
	Storage         storage.Store
	PresignTTL      time.Duration
	ValidateOnSave  bool
	RateLimiter     RateLimiter
	RateLimitHeader string
}

func NewServer(logger *log.Logger, opts Options) *Server {
	presignTTL := opts.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	rateLimitHeader := opts.RateLimitHeader
	if rateLimitHeader == "" {
		rateLimitHeader = "X-User-ID"
	}

	s := &Server{
		logger:          logger,
		fields:          opts.Fields,
		records:         opts.Records,
		queueClient:     opts.Queue,
		storage:         opts.Storage,
		presignTTL:      presignTTL,
		validateOnSave:  opts.ValidateOnSave,
		rateLimiter:     opts.RateLimiter,
		rateLimitHeader: rateLimitHeader,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("imgfield/api"),
	}
	s.routes()
	return s
}

// Handler returns the route mux wrapped in the metrics, tracing and
// rate-limit middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	return h
}

func (s *Server) routes() {
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/records", s.handleCreateRecord)
	s.mux.HandleFunc("GET /v1/records/", s.handleGetRecord)
	s.mux.HandleFunc("POST /v1/records/", s.handleRecordAction)
	s.mux.HandleFunc("DELETE /v1/records/", s.handleDeleteRecord)
	s.mux.HandleFunc("POST /v1/fields/", s.handleProcessField)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := s.fields.Get(strings.TrimSpace(req.Field)); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	recordID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		presigner, ok := s.storage.(storage.Presigner)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": storage.ErrPresignNotSupported.Error()})
			return
		}
		objectKey = fmt.Sprintf("uploads/%s/source", recordID)
		url, err := presigner.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed for record %s: %v", recordID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	ppoi := strings.TrimSpace(req.PPOI)
	if ppoi == "" {
		ppoi = domain.DefaultPPOI().String()
	}

	rec := domain.Record{
		ID:         recordID,
		Field:      strings.TrimSpace(req.Field),
		Status:     domain.RecordStatusCreated,
		SourceType: sourceType,
		SourceKey:  objectKey,
		PPOI:       ppoi,
		WebhookURL: req.WebhookURL,
		Renditions: map[string]domain.Rendition{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.records.Create(r.Context(), rec); err != nil {
		s.logger.Printf("create record failed for record %s: %v", rec.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create record"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"record_id": rec.ID,
		"field":     rec.Field,
		"status":    rec.Status,
		"upload": map[string]string{
			"object_key":          rec.SourceKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"attach_url": fmt.Sprintf("/v1/records/%s/source", rec.ID),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := recordIDFromPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rec, ok := s.loadRecord(w, r.Context(), recordID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.recordView(rec))
}

// handleRecordAction dispatches the POST subresources:
// {id}/source, {id}/process and {id}/renditions/{format}.
func (s *Server) handleRecordAction(w http.ResponseWriter, r *http.Request) {
	parts := splitRecordPath(r.URL.Path)
	switch {
	case len(parts) == 2 && parts[1] == "source":
		s.handleAttachSource(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "process":
		s.handleProcessRecord(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "renditions" && parts[2] != "":
		s.handleForceRendition(w, r, parts[0], parts[2])
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "expected /v1/records/{id}/source, /v1/records/{id}/process or /v1/records/{id}/renditions/{format}",
		})
	}
}

type attachSourceRequest struct {
	ObjectKey string `json:"object_key,omitempty"`
	PPOI      string `json:"ppoi,omitempty"`
}

// handleAttachSource binds uploaded bytes to the record: it checks the
// object exists, validates it decodes with the active backend, captures the
// intrinsic dimensions, and queues rendition generation when the field has
// autogenerate enabled. Broken uploads are rejected here, not at render
// time.
func (s *Server) handleAttachSource(w http.ResponseWriter, r *http.Request, recordID string) {
	var req attachSourceRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	rec, ok := s.loadRecord(w, r.Context(), recordID)
	if !ok {
		return
	}

	fld, err := s.fields.Get(rec.Field)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	if key := strings.TrimSpace(req.ObjectKey); key != "" {
		rec.SourceKey = key
	}
	if rec.SourceKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "record has no source object key"})
		return
	}
	if ppoi := strings.TrimSpace(req.PPOI); ppoi != "" {
		if _, ok := domain.ParsePPOI(ppoi); !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("malformed ppoi: %q", ppoi)})
			return
		}
		rec.PPOI = ppoi
	}

	exists, err := s.storage.Exists(r.Context(), rec.SourceKey)
	if err != nil {
		s.logger.Printf("source check failed for record %s: %v", rec.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "source object check failed"})
		return
	}
	if !exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": fmt.Sprintf("source object is missing: %s", rec.SourceKey)})
		return
	}

	if s.validateOnSave {
		width, height, err := fld.ValidateSource(r.Context(), rec)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("source image for field %s is not usable: %v", rec.Field, err),
			})
			return
		}
		rec.Width = width
		rec.Height = height
	}

	rec.Status = domain.RecordStatusReady
	var task *asynq.TaskInfo
	if fld.Autogenerate && s.queueClient != nil {
		task, err = s.queueClient.EnqueueGenerateRenditions(r.Context(), queue.GenerateRenditionsPayload{
			RecordID:    rec.ID,
			RequestedAt: time.Now().UTC(),
		})
		if err != nil {
			s.logger.Printf("autogenerate enqueue failed for record %s: %v", rec.ID, err)
		} else {
			rec.Status = domain.RecordStatusQueued
			s.metrics.queueEnqueued.WithLabelValues(task.Queue).Inc()
		}
	}

	updated, err := s.records.Update(r.Context(), rec)
	if err != nil {
		s.logger.Printf("update record failed for record %s: %v", rec.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update record"})
		return
	}

	resp := s.recordView(updated)
	if task != nil {
		resp["task"] = map[string]any{
			"queue":   task.Queue,
			"task_id": task.ID,
			"state":   task.State.String(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcessRecord(w http.ResponseWriter, r *http.Request, recordID string) {
	var req domain.ProcessRecordRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "processing queue is not configured"})
		return
	}

	rec, ok := s.loadRecord(w, r.Context(), recordID)
	if !ok {
		return
	}
	if rec.SourceKey == "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "record has no source attached"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueGenerateRenditions(r.Context(), queue.GenerateRenditionsPayload{
		RecordID:    rec.ID,
		Formats:     req.Formats,
		Force:       req.Force,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Printf("enqueue failed for record %s: %v", rec.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue record"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.records.UpdateStatus(r.Context(), rec.ID, domain.RecordStatusQueued); err != nil {
		s.logger.Printf("update status failed for record %s: %v", rec.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"record_id":   rec.ID,
		"status":      domain.RecordStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

// handleProcessField enqueues rendition regeneration for every record
// attached to a field label. Records without a source yet are skipped; a
// record that fails to enqueue is counted and left in its current status.
func (s *Server) handleProcessField(w http.ResponseWriter, r *http.Request) {
	label, err := fieldLabelFromPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var req domain.ProcessRecordRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "processing queue is not configured"})
		return
	}
	if _, err := s.fields.Get(label); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	recs, err := s.records.ListByField(r.Context(), label)
	if err != nil {
		s.logger.Printf("list records failed for field %s: %v", label, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list records"})
		return
	}

	requestedAt := time.Now().UTC()
	var enqueued, skipped, failed int
	for _, rec := range recs {
		if rec.SourceKey == "" {
			skipped++
			continue
		}
		task, err := s.queueClient.EnqueueGenerateRenditions(r.Context(), queue.GenerateRenditionsPayload{
			RecordID:    rec.ID,
			Formats:     req.Formats,
			Force:       req.Force,
			RequestedAt: requestedAt,
		})
		if err != nil {
			s.logger.Printf("enqueue failed for record %s: %v", rec.ID, err)
			failed++
			continue
		}
		enqueued++
		s.metrics.queueEnqueued.WithLabelValues(task.Queue).Inc()
		if _, err := s.records.UpdateStatus(r.Context(), rec.ID, domain.RecordStatusQueued); err != nil {
			s.logger.Printf("update status failed for record %s: %v", rec.ID, err)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"field":    label,
		"records":  len(recs),
		"enqueued": enqueued,
		"skipped":  skipped,
		"failed":   failed,
	})
}

// handleForceRendition regenerates one format synchronously, bypassing the
// rendition bookkeeping shortcut. This is the only read-path operation that
// touches pixels.
func (s *Server) handleForceRendition(w http.ResponseWriter, r *http.Request, recordID, format string) {
	rec, ok := s.loadRecord(w, r.Context(), recordID)
	if !ok {
		return
	}
	if rec.SourceKey == "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "record has no source attached"})
		return
	}

	fld, err := s.fields.Get(rec.Field)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	rendition, _, err := fld.Process(r.Context(), &rec, format, true)
	if err != nil {
		if errors.Is(err, field.ErrUnknownFormat) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Printf("force rendition failed for record %s format %s: %v", rec.ID, format, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if _, err := s.records.Update(r.Context(), rec); err != nil {
		s.logger.Printf("update record failed for record %s: %v", rec.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record rendition"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"record_id": rec.ID,
		"format":    format,
		"url":       fld.URLs(rec)[format],
		"rendition": rendition,
	})
}

// handleDeleteRecord removes the record row together with its source object
// and every tracked rendition.
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := recordIDFromPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rec, ok := s.loadRecord(w, r.Context(), recordID)
	if !ok {
		return
	}

	if fld, err := s.fields.Get(rec.Field); err == nil {
		if err := fld.Cleanup(r.Context(), rec); err != nil {
			s.logger.Printf("storage cleanup failed for record %s: %v", rec.ID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete stored objects"})
			return
		}
	} else {
		s.logger.Printf("skipping storage cleanup for record %s: %v", rec.ID, err)
	}

	if err := s.records.Delete(r.Context(), rec.ID); err != nil {
		s.logger.Printf("delete record failed for record %s: %v", rec.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete record"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"record_id": rec.ID,
		"status":    "deleted",
	})
}

// loadRecord fetches the record or writes the 404/500 response itself; the
// bool reports whether the caller should continue.
func (s *Server) loadRecord(w http.ResponseWriter, ctx context.Context, recordID string) (domain.Record, bool) {
	rec, ok, err := s.records.Get(ctx, recordID)
	if err != nil {
		s.logger.Printf("fetch record failed for record %s: %v", recordID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load record"})
		return domain.Record{}, false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
		return domain.Record{}, false
	}
	return rec, true
}

// recordView renders a record with its cache-free URLs. Every URL is derived
// from bookkeeping alone; no storage I/O happens here.
func (s *Server) recordView(rec domain.Record) map[string]any {
	view := map[string]any{
		"record_id":   rec.ID,
		"field":       rec.Field,
		"status":      rec.Status,
		"source_type": rec.SourceType,
		"source_key":  rec.SourceKey,
		"ppoi":        rec.PPOI,
		"width":       rec.Width,
		"height":      rec.Height,
		"created_at":  rec.CreatedAt,
		"updated_at":  rec.UpdatedAt,
	}

	fld, err := s.fields.Get(rec.Field)
	if err != nil {
		return view
	}
	view["source_url"] = fld.SourceURL(rec)

	urls := fld.URLs(rec)
	renditions := make(map[string]any, len(rec.Renditions))
	for name, rendition := range rec.Renditions {
		renditions[name] = map[string]any{
			"url":          urls[name],
			"format":       rendition.Format,
			"width":        rendition.Width,
			"height":       rendition.Height,
			"bytes":        rendition.Bytes,
			"fallback":     rendition.Fallback,
			"generated_at": rendition.GeneratedAt,
		}
	}
	view["renditions"] = renditions
	return view
}

func splitRecordPath(path string) []string {
	trimmed := strings.TrimPrefix(path, "/v1/records/")
	return strings.Split(strings.Trim(trimmed, "/"), "/")
}

func recordIDFromPath(path string) (string, error) {
	parts := splitRecordPath(path)
	if len(parts) != 1 || parts[0] == "" {
		return "", errors.New("expected path format /v1/records/{id}")
	}
	return parts[0], nil
}

func fieldLabelFromPath(path string) (string, error) {
	trimmed := strings.TrimPrefix(path, "/v1/fields/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "process" {
		return "", errors.New("expected path format /v1/fields/{label}/process")
	}
	return parts[0], nil
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
