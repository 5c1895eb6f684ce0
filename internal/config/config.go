/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	DBBackend DatabaseBackend
	DBDSN     string

	// Transcoder
	FFmpegBin      string
	FFmpegLogLevel string

	// Playback decision cache mirror
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Distributed event fanout
	NATSURL string

	// Tracing
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Playout policy
	ThrottleThreshold      int
	ThrottleWindow         time.Duration
	StreamSlack            time.Duration
	StatusReportingEnabled bool
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("VIDAR_ENV", "development"),
		HTTPBind:    getEnv("VIDAR_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("VIDAR_HTTP_PORT", 8000),
		MetricsBind: getEnv("VIDAR_METRICS_BIND", "127.0.0.1:9000"),

		DBBackend: DatabaseBackend(getEnv("VIDAR_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("VIDAR_DB_DSN", "vidar.db"),

		FFmpegBin:      getEnv("VIDAR_FFMPEG_BIN", "ffmpeg"),
		FFmpegLogLevel: getEnv("VIDAR_FFMPEG_LOG_LEVEL", "error"),

		RedisAddr:     getEnv("VIDAR_REDIS_ADDR", ""),
		RedisPassword: getEnv("VIDAR_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("VIDAR_REDIS_DB", 0),

		NATSURL: getEnv("VIDAR_NATS_URL", ""),

		TracingEnabled:    getEnvBool("VIDAR_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("VIDAR_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("VIDAR_TRACING_SAMPLE_RATE", 1.0),

		ThrottleThreshold:      getEnvInt("VIDAR_THROTTLE_THRESHOLD", 5),
		ThrottleWindow:         time.Duration(getEnvInt("VIDAR_THROTTLE_WINDOW_SECONDS", 60)) * time.Second,
		StreamSlack:            time.Duration(getEnvInt("VIDAR_STREAM_SLACK_MS", 700)) * time.Millisecond,
		StatusReportingEnabled: getEnvBool("VIDAR_STATUS_REPORTING_ENABLED", false),
	}

	switch cfg.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return nil, fmt.Errorf("unknown database backend: %s", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("VIDAR_DB_DSN must be set")
	}

	if cfg.ThrottleThreshold < 1 {
		return nil, fmt.Errorf("VIDAR_THROTTLE_THRESHOLD must be >= 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
