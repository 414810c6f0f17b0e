package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"imgfield/internal/config"
	"imgfield/internal/domain"
	"imgfield/internal/field"
	"imgfield/internal/imaging"
	"imgfield/internal/pipeline"
	"imgfield/internal/queue"
	"imgfield/internal/store"
	"imgfield/internal/webhook"
)

// Server consumes rendition generation tasks. Each task names a record; the
// worker loads it, runs the record's field formats through the imaging
// pipeline, persists the updated bookkeeping, and notifies the record's
// webhook endpoint.
type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	fields        *field.Set
	records       store.RecordStore
	usage         store.UsageStore
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	fields *field.Set,
	records store.RecordStore,
	usage store.UsageStore,
	webhookClient *webhook.Client,
) (*Server, error) {
	if fields == nil {
		return nil, fmt.Errorf("field set is required")
	}
	if records == nil {
		return nil, fmt.Errorf("record store is required")
	}

	if usage == nil {
		if recordAndUsageStore, ok := records.(store.UsageStore); ok {
			usage = recordAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveRecords)),
		fields:        fields,
		records:       records,
		usage:         usage,
		webhookClient: webhookClient,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("imgfield/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeGenerateRenditions, s.handleGenerateRenditions)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleGenerateRenditions(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.RecordStatusFailed

	payload, err := queue.ParseGenerateRenditionsPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.generate_renditions", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("record.id", payload.RecordID),
		attribute.Int("record.formats", len(payload.Formats)),
		attribute.Bool("record.force", payload.Force),
	)
	defer span.End()
	defer func() {
		s.metrics.recordDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.recordsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeRecords.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeRecords.Dec()
	}()

	rec, ok, err := s.records.Get(ctx, payload.RecordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", payload.RecordID, err)
	}
	if !ok {
		// The record was deleted between enqueue and pickup; retrying
		// cannot bring it back.
		return fmt.Errorf("record %s is gone: %w", payload.RecordID, asynq.SkipRetry)
	}

	fld, err := s.fields.Get(rec.Field)
	if err != nil {
		s.updateRecordStatus(ctx, rec.ID, domain.RecordStatusFailed)
		return fmt.Errorf("record %s: %v: %w", rec.ID, err, asynq.SkipRetry)
	}

	s.logger.Printf(
		"Working... record_id=%s field=%s formats=%d force=%v",
		rec.ID,
		rec.Field,
		len(payload.Formats),
		payload.Force,
	)

	s.updateRecordStatus(ctx, rec.ID, domain.RecordStatusProcessing)

	outcomes := fld.ProcessAll(ctx, &rec, payload.Formats, payload.Force)

	generated := 0
	var failures []error
	for _, oc := range outcomes {
		if oc.Err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", oc.Format, oc.Err))
			s.metrics.renditionFailures.WithLabelValues(failureStage(oc.Err)).Inc()
			continue
		}
		if oc.Generated {
			generated++
			s.metrics.renditionsTotal.Inc()
		}
	}

	if len(failures) > 0 {
		runErr := errors.Join(failures...)
		// Keep whatever bookkeeping the successful formats produced.
		rec.Status = domain.RecordStatusFailed
		if _, uerr := s.records.Update(ctx, rec); uerr != nil {
			s.logger.Printf("record update failed record_id=%s err=%v", rec.ID, uerr)
		}
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "rendition generation failed")
		s.dispatchWebhook(ctx, rec, webhook.EventRecordFailed, map[string]any{
			"record_id":    rec.ID,
			"field":        rec.Field,
			"status":       domain.RecordStatusFailed,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        runErr.Error(),
		})
		return fmt.Errorf("generate renditions: %w", runErr)
	}

	rec.Status = domain.RecordStatusReady
	updated, err := s.records.Update(ctx, rec)
	if err != nil {
		return fmt.Errorf("persist record %s: %w", rec.ID, err)
	}

	s.logger.Printf("Processed record_id=%s renditions=%d generated=%d", updated.ID, len(outcomes), generated)
	s.recordUsage(ctx, updated, outcomes, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, updated, webhook.EventRecordProcessed, map[string]any{
		"record_id":    updated.ID,
		"field":        updated.Field,
		"status":       domain.RecordStatusReady,
		"requested_at": payload.RequestedAt,
		"processed_at": time.Now().UTC(),
		"renditions":   updated.Renditions,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.RecordStatusReady
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// failureStage buckets a per-format error for metrics: unknown format or
// processor names are configuration mistakes, imaging failures carry a
// RenderError, and the rest is fetch/emit I/O. The config check runs first
// because the driver wraps unknown processors in a RenderError too.
func failureStage(err error) string {
	var re *pipeline.RenderError
	switch {
	case errors.Is(err, field.ErrUnknownFormat), errors.Is(err, imaging.ErrUnknownProcessor):
		return "config"
	case errors.As(err, &re):
		return "imaging"
	default:
		return "io"
	}
}

func (s *Server) updateRecordStatus(ctx context.Context, recordID, status string) {
	if _, err := s.records.UpdateStatus(ctx, recordID, status); err != nil {
		s.logger.Printf("record status update failed record_id=%s status=%s err=%v", recordID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, rec domain.Record, event string, body map[string]any) error {
	if rec.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, rec.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed record_id=%s event=%s err=%v", rec.ID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, rec domain.Record, outcomes []field.Outcome, computeDuration time.Duration) {
	if s.usage == nil {
		return
	}

	var (
		generated       int
		pixelsProcessed int64
		bytesWritten    int64
	)
	for _, oc := range outcomes {
		if oc.Err != nil || !oc.Generated {
			continue
		}
		generated++
		pixelsProcessed += int64(oc.Rendition.Width) * int64(oc.Rendition.Height)
		bytesWritten += oc.Rendition.Bytes
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		RecordID:        rec.ID,
		Field:           rec.Field,
		Renditions:      generated,
		PixelsProcessed: pixelsProcessed,
		BytesWritten:    bytesWritten,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usage.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed record_id=%s err=%v", rec.ID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesWrittenTotal.Add(float64(bytesWritten))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
