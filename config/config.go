package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeAll    = "all"
	ModeAPI    = "api"
	ModeWorker = "worker"

	QueueSQLite = "sqlite"
	QueueRedis  = "redis"
)

type Config struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`

	DataDir     string `yaml:"data_dir"`
	StoragePath string `yaml:"storage_path"`
	LegacyDir   string `yaml:"legacy_dir"`

	WorkerID          string `yaml:"worker_id"`
	WorkerConcurrency int    `yaml:"worker_concurrency"`

	QueueBackend      string        `yaml:"queue_backend"`
	QueueName         string        `yaml:"queue_name"`
	QueueAttempts     int           `yaml:"queue_attempts"`
	QueueBackoff      time.Duration `yaml:"queue_backoff"`
	QueuePollInterval time.Duration `yaml:"queue_poll_interval"`
	RedisURL          string        `yaml:"redis_url"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	YtdlpPath   string `yaml:"ytdlp_path"`

	MaxRequestBodyKB int `yaml:"max_request_body_kb"`
	MaxUploadMB      int `yaml:"max_upload_mb"`
	// SubmitLimit caps job submissions per user per minute; 0 disables it.
	SubmitLimit int `yaml:"submit_limit"`
	// RetentionInterval is how often expired files are swept; 0 disables it.
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

func defaults() *Config {
	return &Config{
		Port:              7890,
		Mode:              ModeAll,
		DataDir:           "/data",
		LegacyDir:         filepath.Join("..", "backend"),
		WorkerConcurrency: 2,
		QueueBackend:      QueueSQLite,
		QueueName:         "media-processing",
		QueueAttempts:     3,
		QueueBackoff:      2 * time.Second,
		QueuePollInterval: 500 * time.Millisecond,
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		YtdlpPath:         "yt-dlp",
		MaxRequestBodyKB:  64,
		MaxUploadMB:       5120,
		SubmitLimit:       30,
		RetentionInterval: time.Hour,
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.StoragePath == "" {
		cfg.StoragePath = filepath.Join(cfg.DataDir, "uploads")
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = defaultWorkerID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error

	if cfg.Port, err = strconv.Atoi(getEnv("PORT", strconv.Itoa(cfg.Port))); err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}
	if cfg.WorkerConcurrency, err = strconv.Atoi(getEnv("WORKER_CONCURRENCY", strconv.Itoa(cfg.WorkerConcurrency))); err != nil {
		return fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}
	if cfg.QueueAttempts, err = strconv.Atoi(getEnv("QUEUE_ATTEMPTS", strconv.Itoa(cfg.QueueAttempts))); err != nil {
		return fmt.Errorf("invalid QUEUE_ATTEMPTS: %w", err)
	}
	if cfg.MaxRequestBodyKB, err = strconv.Atoi(getEnv("MAX_REQUEST_BODY_KB", strconv.Itoa(cfg.MaxRequestBodyKB))); err != nil {
		return fmt.Errorf("invalid MAX_REQUEST_BODY_KB: %w", err)
	}
	if cfg.MaxUploadMB, err = strconv.Atoi(getEnv("MAX_UPLOAD_MB", strconv.Itoa(cfg.MaxUploadMB))); err != nil {
		return fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
	}
	if cfg.SubmitLimit, err = strconv.Atoi(getEnv("SUBMIT_LIMIT", strconv.Itoa(cfg.SubmitLimit))); err != nil {
		return fmt.Errorf("invalid SUBMIT_LIMIT: %w", err)
	}
	if cfg.QueueBackoff, err = time.ParseDuration(getEnv("QUEUE_BACKOFF", cfg.QueueBackoff.String())); err != nil {
		return fmt.Errorf("invalid QUEUE_BACKOFF: %w", err)
	}
	if cfg.QueuePollInterval, err = time.ParseDuration(getEnv("QUEUE_POLL_INTERVAL", cfg.QueuePollInterval.String())); err != nil {
		return fmt.Errorf("invalid QUEUE_POLL_INTERVAL: %w", err)
	}
	if cfg.RetentionInterval, err = time.ParseDuration(getEnv("RETENTION_INTERVAL", cfg.RetentionInterval.String())); err != nil {
		return fmt.Errorf("invalid RETENTION_INTERVAL: %w", err)
	}

	cfg.Mode = getEnv("MODE", cfg.Mode)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.StoragePath = getEnv("STORAGE_PATH", cfg.StoragePath)
	cfg.LegacyDir = getEnv("LEGACY_DIR", cfg.LegacyDir)
	cfg.WorkerID = getEnv("WORKER_ID", cfg.WorkerID)
	cfg.QueueBackend = getEnv("QUEUE_BACKEND", cfg.QueueBackend)
	cfg.QueueName = getEnv("QUEUE_NAME", cfg.QueueName)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.FFmpegPath = getEnv("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.FFprobePath = getEnv("FFPROBE_PATH", cfg.FFprobePath)
	cfg.YtdlpPath = getEnv("YTDLP_PATH", cfg.YtdlpPath)
	return nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	switch c.Mode {
	case ModeAll, ModeAPI, ModeWorker:
	default:
		return fmt.Errorf("invalid MODE %q: want all, api or worker", c.Mode)
	}
	switch c.QueueBackend {
	case QueueSQLite:
	case QueueRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when QUEUE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND %q: want sqlite or redis", c.QueueBackend)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.QueueAttempts < 1 {
		return fmt.Errorf("QUEUE_ATTEMPTS must be at least 1")
	}
	if c.QueueBackoff <= 0 || c.QueuePollInterval <= 0 {
		return fmt.Errorf("QUEUE_BACKOFF and QUEUE_POLL_INTERVAL must be positive")
	}
	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}
	if c.DataDir == "" || c.StoragePath == "" {
		return fmt.Errorf("DATA_DIR and STORAGE_PATH are required")
	}
	if c.MaxRequestBodyKB < 1 {
		return fmt.Errorf("MAX_REQUEST_BODY_KB must be at least 1")
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_MB must be at least 1")
	}
	if c.SubmitLimit < 0 {
		return fmt.Errorf("SUBMIT_LIMIT must not be negative")
	}
	if c.RetentionInterval < 0 {
		return fmt.Errorf("RETENTION_INTERVAL must not be negative")
	}
	return nil
}

// RunsAPI reports whether this process serves HTTP.
func (c *Config) RunsAPI() bool { return c.Mode == ModeAll || c.Mode == ModeAPI }

// RunsWorker reports whether this process consumes the queue.
func (c *Config) RunsWorker() bool { return c.Mode == ModeAll || c.Mode == ModeWorker }

func defaultWorkerID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-1"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
