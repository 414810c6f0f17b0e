package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"imgfield/internal/api"
	"imgfield/internal/config"
	"imgfield/internal/field"
	"imgfield/internal/imaging"
	"imgfield/internal/pipeline"
	"imgfield/internal/queue"
	"imgfield/internal/ratelimit"
	"imgfield/internal/storage"
	"imgfield/internal/store"
	"imgfield/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "imgfield-api",
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

	mediaStore, err := buildStorage(cfg.Storage)
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}

	backend, err := imaging.Select(cfg.Imaging.Backend)
	if err != nil {
		logger.Fatalf("imaging backend selection failed: %v", err)
	}
	logger.Printf("imaging backend=%s storage=%s", backend.Name(), cfg.Storage.Driver)

	fields, err := buildFields(cfg.Imaging, backend, mediaStore, logger)
	if err != nil {
		logger.Fatalf("field configuration failed: %v", err)
	}

	records, closeRecords, err := buildRecordStore(context.Background(), cfg.Database, logger)
	if err != nil {
		logger.Fatalf("record store setup failed: %v", err)
	}
	defer closeRecords()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	var limiter api.RateLimiter
	if cfg.API.RateLimitCapacity > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis client close error: %v", err)
			}
		}()

		limiter, err = ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitCapacity, cfg.API.RateLimitWindow, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
	}

	app := api.NewServer(logger, api.Options{
		Fields:          fields,
		Records:         records,
		Queue:           queueClient,
		Storage:         mediaStore,
		PresignTTL:      cfg.API.PresignTTL,
		ValidateOnSave:  cfg.Imaging.ValidateOnSave,
		RateLimiter:     limiter,
		RateLimitHeader: cfg.API.RateLimitUserHeader,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
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
