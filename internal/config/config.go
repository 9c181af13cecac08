package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	MemoryStore bool

	RunStreamer       bool
	KafkaBrokers      []string
	KafkaTopic        string
	ArchiveBucket     string
	ArchivePrefix     string
	StreamBatchSize   int
	StreamInterval    time.Duration
	StreamConcurrency int
	StreamAttempts    int

	Seed bool
}

const (
	defaultAddr              = ":8070"
	defaultKafkaTopic        = "balancer.outcomes"
	defaultStreamBatchSize   = 10
	defaultStreamInterval    = 3 * time.Second
	defaultStreamConcurrency = 5
	defaultStreamAttempts    = 5
)

func Load() (Config, error) {
	cfg := Config{
		Addr:              getEnv("EXECUTOR_BALANCER_ADDR", defaultAddr),
		DatabaseURL:       firstNonEmpty(os.Getenv("EXECUTOR_BALANCER_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		MemoryStore:       getBool("EXECUTOR_BALANCER_MEMORY", false),
		RunStreamer:       getBool("EXECUTOR_BALANCER_STREAMER", false),
		KafkaBrokers:      parseCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        getEnv("EXECUTOR_BALANCER_KAFKA_TOPIC", defaultKafkaTopic),
		ArchiveBucket:     os.Getenv("EXECUTOR_BALANCER_ARCHIVE_BUCKET"),
		ArchivePrefix:     os.Getenv("EXECUTOR_BALANCER_ARCHIVE_PREFIX"),
		StreamBatchSize:   getInt("EXECUTOR_BALANCER_STREAM_BATCH", defaultStreamBatchSize),
		StreamInterval:    getDuration("EXECUTOR_BALANCER_STREAM_INTERVAL", defaultStreamInterval),
		StreamConcurrency: getInt("EXECUTOR_BALANCER_STREAM_CONCURRENCY", defaultStreamConcurrency),
		StreamAttempts:    getInt("EXECUTOR_BALANCER_STREAM_ATTEMPTS", defaultStreamAttempts),
		Seed:              getBool("EXECUTOR_BALANCER_SEED", false),
	}
	if cfg.DatabaseURL == "" && !cfg.MemoryStore {
		return Config{}, fmt.Errorf("DATABASE_URL or EXECUTOR_BALANCER_DATABASE_URL required (or set EXECUTOR_BALANCER_MEMORY=true)")
	}
	if cfg.RunStreamer && len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_BROKERS required when EXECUTOR_BALANCER_STREAMER is set")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func parseCSV(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
