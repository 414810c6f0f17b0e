package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"imgfield/internal/config"
	"imgfield/internal/field"
	"imgfield/internal/imaging"
	"imgfield/internal/pipeline"
	"imgfield/internal/storage"
	"imgfield/internal/store"
	"imgfield/internal/telemetry"
	"imgfield/internal/webhook"
	"imgfield/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "imgfield-worker",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	if err := imaging.Startup(); err != nil {
		logger.Fatalf("imaging runtime startup failed: %v", err)
	}
	defer imaging.Shutdown()

	mediaStore, err := buildStorage(cfg.Storage)
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}

	backend, err := imaging.Select(cfg.Imaging.Backend)
	if err != nil {
		logger.Fatalf("imaging backend selection failed: %v", err)
	}

	fields, err := buildFields(cfg.Imaging, backend, mediaStore, logger)
	if err != nil {
		logger.Fatalf("field configuration failed: %v", err)
	}

	records, closeRecords, err := buildRecordStore(context.Background(), cfg.Database, logger)
	if err != nil {
		logger.Fatalf("record store setup failed: %v", err)
	}
	defer closeRecords()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	logger.Printf(
		"starting worker backend=%s concurrency=%d max_active_records=%d queue=%s redis=%s",
		backend.Name(),
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveRecords,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, fields, records, nil, webhookClient)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	if cfg.Worker.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", srv.MetricsHandler())
			logger.Printf("worker metrics on %s", cfg.Worker.MetricsAddr)
			if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
	}

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

func buildStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "minio", "s3":
		objectStore, err := storage.NewObjectStore(storage.ObjectStoreConfig{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := objectStore.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return objectStore, nil
	case "", "fs":
		return storage.NewFileStore(cfg.FileRoot, cfg.PublicURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func buildFields(cfg config.ImagingConfig, backend imaging.Backend, mediaStore storage.Store, logger *log.Logger) (*field.Set, error) {
	formats, err := field.ParseFormats(cfg.Formats)
	if err != nil {
		return nil, err
	}

	driver := &pipeline.Driver{
		Backend:       backend,
		Fetcher:       pipeline.StorageFetcher{Store: mediaStore},
		Emitter:       pipeline.StorageEmitter{Store: mediaStore},
		SilentFailure: cfg.SilentFailure,
		Logger:        logger,
	}

	fields := make([]*field.Field, 0, len(formats))
	for label, specs := range formats {
		fields = append(fields, &field.Field{
			Label:        label,
			Formats:      specs,
			Driver:       driver,
			Store:        mediaStore,
			Autogenerate: field.AutogenerateAllowed(cfg.Autogenerate, label),
		})
	}
	return field.NewSet(fields...), nil
}

func buildRecordStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.RecordStore, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return store.NewMemoryRecordStore(), func() {}, nil
	}

	pg, err := store.NewPostgresRecordStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("record store close error: %v", err)
		}
	}, nil
}
