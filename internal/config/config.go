package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API      APIConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Imaging  ImagingConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Webhook  WebhookConfig
	Trace    TraceConfig
}

type APIConfig struct {
	Addr                string
	PresignTTL          time.Duration
	RateLimitCapacity   int
	RateLimitWindow     time.Duration
	RateLimitUserHeader string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency      int
	MaxActiveRecords int
	MetricsAddr      string
}

// ImagingConfig selects the imaging engine and the rendition policy knobs.
// Formats holds the raw JSON document mapping field labels to format names
// to processor lists; field.ParseFormats decodes it at startup.
type ImagingConfig struct {
	Backend        string
	SilentFailure  bool
	ValidateOnSave bool
	Autogenerate   []string
	Formats        string
}

type StorageConfig struct {
	Driver    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	FileRoot  string
	PublicURL string
}

// DatabaseConfig selects the record store. An empty DSN keeps records in
// process memory, which is enough for a single-node deployment.
type DatabaseConfig struct {
	DSN string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

// defaultFormats is the rendition configuration used when IMGFIELD_FORMATS
// is unset: one field with a PPOI crop, a square crop and a bounding-box
// thumbnail.
const defaultFormats = `{
  "records.image": {
    "thumb":   ["default", ["crop", [300, 300]]],
    "square":  ["default", ["crop", [100, 100]]],
    "desktop": ["default", ["thumbnail", [1000, 1000]]]
  }
}`

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:                env("IMGFIELD_API_ADDR", ":8080"),
			PresignTTL:          envDuration("IMGFIELD_PRESIGN_TTL", 15*time.Minute),
			RateLimitCapacity:   envInt("IMGFIELD_RATE_LIMIT_CAPACITY", 60),
			RateLimitWindow:     envDuration("IMGFIELD_RATE_LIMIT_WINDOW", time.Minute),
			RateLimitUserHeader: env("IMGFIELD_RATE_LIMIT_USER_HEADER", "X-User-ID"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("IMGFIELD_QUEUE", "renditions"),
		},
		Worker: WorkerConfig{
			Concurrency:      envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveRecords: envInt("WORKER_MAX_ACTIVE_RECORDS", defaultWorkerSlots),
			MetricsAddr:      env("WORKER_METRICS_ADDR", ":9090"),
		},
		Imaging: ImagingConfig{
			Backend:        env("IMGFIELD_BACKEND", "std"),
			SilentFailure:  envBool("IMGFIELD_SILENT_FAILURE", false),
			ValidateOnSave: envBool("IMGFIELD_VALIDATE_ON_SAVE", true),
			Autogenerate:   envList("IMGFIELD_AUTOGENERATE", "all"),
			Formats:        env("IMGFIELD_FORMATS", defaultFormats),
		},
		Storage: StorageConfig{
			Driver:    env("IMGFIELD_STORAGE", "fs"),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "imgfield-media"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
			FileRoot:  env("IMGFIELD_STORAGE_ROOT", "./.imgfield-media"),
			PublicURL: env("IMGFIELD_PUBLIC_URL", ""),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 30*time.Second),
		},
		Trace: TraceConfig{
			Exporter:     env("IMGFIELD_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("IMGFIELD_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("IMGFIELD_OTLP_INSECURE", false),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envList splits a comma-separated value, dropping empty entries.
func envList(key, fallback string) []string {
	value := env(key, fallback)
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
