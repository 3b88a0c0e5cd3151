package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Event configuration
	EventTimezone string

	// Reconciliation configuration
	StoreBatchSize int
	ImportMaxPages int
	ImportPageSize int

	// Auto-import configuration
	AutoImportInterval time.Duration
	ImportHTTPTimeout  time.Duration

	// Analytics configuration
	TimeBucketWidth time.Duration

	// Security heuristics thresholds
	OperatorMinAttempts int
	OperatorErrorCutoff float64
	DeviceMinAttempts   int

	// Scan protection
	ScanRateLimit  int
	ScanRateWindow time.Duration

	// Recent scan cache
	RecentScanLimit int

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Event
		EventTimezone: getEnv("EVENT_TIMEZONE", "Local"),

		// Reconciliation
		StoreBatchSize: getEnvAsInt("STORE_BATCH_SIZE", 450),
		ImportMaxPages: getEnvAsInt("IMPORT_MAX_PAGES", 50),
		ImportPageSize: getEnvAsInt("IMPORT_PAGE_SIZE", 200),

		// Auto-import
		AutoImportInterval: getEnvAsDuration("AUTO_IMPORT_INTERVAL", "2m"),
		ImportHTTPTimeout:  getEnvAsDuration("IMPORT_HTTP_TIMEOUT", "30s"),

		// Analytics
		TimeBucketWidth: getEnvAsDuration("TIME_BUCKET_WIDTH", "30m"),

		// Security heuristics
		OperatorMinAttempts: getEnvAsInt("OPERATOR_MIN_ATTEMPTS", 5),
		OperatorErrorCutoff: getEnvAsFloat("OPERATOR_ERROR_CUTOFF", 0.15),
		DeviceMinAttempts:   getEnvAsInt("DEVICE_MIN_ATTEMPTS", 10),

		// Scan protection
		ScanRateLimit:  getEnvAsInt("SCAN_RATE_LIMIT", 60),
		ScanRateWindow: getEnvAsDuration("SCAN_RATE_WINDOW", "1m"),

		// Recent scan cache
		RecentScanLimit: getEnvAsInt("RECENT_SCAN_LIMIT", 100),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

// Location resolves the configured event timezone. Falls back to the
// process-local zone when the name does not resolve.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.EventTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
