// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// DefaultPort is used when PORT is not set.
const DefaultPort = "8000"

// Config holds everything the process needs at boot.
type Config struct {
	Port string
	// PublicURL is the externally visible address, used for links in the archive feed.
	PublicURL string

	// DBDriver is "sqlite" or "postgres".
	DBDriver    string
	SQLitePath  string
	DatabaseURL string

	MediaDir  string
	UploadDir string

	// ScheduleFile is the JSON file holding the scheduler's active flag and post time.
	ScheduleFile string

	TumblrBlog         string
	TumblrAPIBase      string
	TumblrClientID     string
	TumblrClientSecret string
	TumblrAccessToken  string
	TumblrRefreshToken string

	// DryRun logs what would be published without touching Tumblr or the archive.
	DryRun bool

	HousekeepingSchedule string

	// FeedCacheTTL is how long the blog's public feed is cached. Zero disables caching.
	FeedCacheTTL time.Duration
	// PublishTimeout bounds one scheduled publish, retries included.
	PublishTimeout time.Duration
}

// LoadEnv loads variables from .env files in the working directory, if any.
func LoadEnv(logger *logrus.Logger) {
	files := []string{".env", ".env.local"}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger != nil && len(loaded) > 0 {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}
}

// FromEnv builds a Config from the current environment.
func FromEnv() Config {
	return Config{
		Port:                 GetEnv("PORT", DefaultPort),
		PublicURL:            GetEnv("PUBLIC_URL", "http://localhost:"+GetEnv("PORT", DefaultPort)),
		DBDriver:             GetEnv("DB_DRIVER", "sqlite"),
		SQLitePath:           GetEnv("SQLITE_PATH", "roadtrip.db"),
		DatabaseURL:          GetEnv("DATABASE_URL", ""),
		MediaDir:             GetEnv("MEDIA_DIR", "media"),
		UploadDir:            GetEnv("UPLOAD_DIR", "uploads"),
		ScheduleFile:         GetEnv("SCHEDULE_FILE", "schedule.json"),
		TumblrBlog:           GetEnv("TUMBLR_BLOG", "x86-roadtrip"),
		TumblrAPIBase:        GetEnv("TUMBLR_API_BASE", "https://api.tumblr.com"),
		TumblrClientID:       GetEnv("TUMBLR_CLIENT_ID", ""),
		TumblrClientSecret:   GetEnv("TUMBLR_CLIENT_SECRET", ""),
		TumblrAccessToken:    GetEnv("TUMBLR_ACCESS_TOKEN", ""),
		TumblrRefreshToken:   GetEnv("TUMBLR_REFRESH_TOKEN", ""),
		DryRun:               GetEnvBool("DRY_RUN", false),
		HousekeepingSchedule: GetEnv("HOUSEKEEPING_SCHEDULE", "@hourly"),
		FeedCacheTTL:         time.Duration(GetEnvInt("FEED_CACHE_TTL_SECONDS", 300)) * time.Second,
		PublishTimeout:       time.Duration(GetEnvInt("PUBLISH_TIMEOUT_MINUTES", 30)) * time.Minute,
	}
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}

// GetEnv gets an environment variable with a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable with a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
