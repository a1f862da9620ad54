package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // fleet timezone must resolve on hosts without zoneinfo
)

// Config holds application configuration
type Config struct {
	// Server
	ServerPort int

	// Store
	StoreType string // "mongo" or "memory"

	// MongoDB
	MongoURI      string
	MongoDatabase string

	// InfluxDB archive, disabled when URL is empty
	InfluxURL      string
	InfluxToken    string
	InfluxDatabase string

	// Redis cooldown store, memory when Addr is empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Engine
	FleetTimezone        string
	RulesFile            string
	SitesFile            string
	AlertOwnerID         string
	AutoResolve          bool
	AlertRefreshInterval time.Duration
	RawRetentionDays     int

	// Archive batching
	ArchiveBatchSize     int
	ArchiveFlushInterval int // milliseconds

	// Notifications
	NotifyWebhookURL string

	// Logging
	LogLevel      string
	LogDir        string
	LogFileMaxAge int // days
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		StoreType:  getEnv("STORE_TYPE", "mongo"),

		// MongoDB
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "solar_monitoring"),

		// InfluxDB
		InfluxURL:      getEnv("INFLUXDB_URL", ""),
		InfluxToken:    getEnv("INFLUXDB_TOKEN", ""),
		InfluxDatabase: getEnv("INFLUXDB_DATABASE", "solar_monitoring"),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Engine
		FleetTimezone:        getEnv("FLEET_TIMEZONE", "Asia/Kolkata"),
		RulesFile:            getEnv("RULES_FILE", ""),
		SitesFile:            getEnv("SITES_FILE", ""),
		AlertOwnerID:         getEnv("ALERT_OWNER_ID", "system"),
		AutoResolve:          getEnvBool("AUTO_RESOLVE", false),
		AlertRefreshInterval: getEnvDuration("ALERT_REFRESH_INTERVAL", 30*time.Second),
		RawRetentionDays:     getEnvInt("RAW_RETENTION_DAYS", 7),

		// Archive
		ArchiveBatchSize:     getEnvInt("ARCHIVE_BATCH_SIZE", 100),
		ArchiveFlushInterval: getEnvInt("ARCHIVE_FLUSH_INTERVAL", 200),

		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),

		// Logging
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogDir:        getEnv("LOG_DIRECTORY", ""),
		LogFileMaxAge: getEnvInt("LOG_FILE_MAX_AGE", 7),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.StoreType != "mongo" && c.StoreType != "memory" {
		return fmt.Errorf("invalid STORE_TYPE: %s (use 'mongo' or 'memory')", c.StoreType)
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %d", c.ServerPort)
	}

	if c.ArchiveBatchSize < 1 || c.ArchiveBatchSize > 10000 {
		return fmt.Errorf("invalid ARCHIVE_BATCH_SIZE: %d (must be 1-10000)", c.ArchiveBatchSize)
	}

	if c.ArchiveFlushInterval < 50 || c.ArchiveFlushInterval > 5000 {
		return fmt.Errorf("invalid ARCHIVE_FLUSH_INTERVAL: %d (must be 50-5000ms)", c.ArchiveFlushInterval)
	}

	if c.AlertRefreshInterval < time.Second {
		return fmt.Errorf("invalid ALERT_REFRESH_INTERVAL: %s (must be at least 1s)", c.AlertRefreshInterval)
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid FLEET_TIMEZONE: %w", err)
	}

	return nil
}

// Location resolves the fleet timezone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.FleetTimezone)
}

// FlushInterval returns the archive flush interval as a duration
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.ArchiveFlushInterval) * time.Millisecond
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
