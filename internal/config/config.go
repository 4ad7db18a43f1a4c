// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"nearfeed/internal/domain/feed"
	"nearfeed/internal/domain/location"
	"nearfeed/internal/service/profile"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Feed        FeedConfig
	Location    LocationConfig
	Identity    IdentityConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// FeedConfig holds feed aggregation configuration
type FeedConfig struct {
	DefaultRadius float64
	MinRadius     float64
	MaxRadius     float64
	LookupTimeout time.Duration
}

// LocationConfig holds observer location configuration
type LocationConfig struct {
	MinInterval          time.Duration
	MinDisplacementMeter float64
}

// IdentityConfig holds identity service configuration
type IdentityConfig struct {
	TokenSecret string
	TokenExpiry time.Duration
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "nearfeed"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Feed: FeedConfig{
			DefaultRadius: getEnvAsFloat("FEED_DEFAULT_RADIUS", feed.DefaultRadius),
			MinRadius:     getEnvAsFloat("FEED_MIN_RADIUS", feed.MinRadius),
			MaxRadius:     getEnvAsFloat("FEED_MAX_RADIUS", feed.MaxRadius),
			LookupTimeout: getEnvAsDuration("FEED_LOOKUP_TIMEOUT", profile.DefaultLookupTimeout),
		},
		Location: LocationConfig{
			MinInterval:          getEnvAsDuration("LOCATION_MIN_INTERVAL", location.DefaultMinInterval),
			MinDisplacementMeter: getEnvAsFloat("LOCATION_MIN_DISPLACEMENT_METERS", location.DefaultMinDisplacement),
		},
		Identity: IdentityConfig{
			TokenSecret: getEnv("IDENTITY_TOKEN_SECRET", "your-secret-key"),
			TokenExpiry: getEnvAsDuration("IDENTITY_TOKEN_EXPIRY", 24*time.Hour),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Identity.TokenSecret == "your-secret-key" && config.Environment != "development" {
		return fmt.Errorf("token secret must be set in non-development environments")
	}

	if config.Feed.MinRadius <= 0 || config.Feed.MaxRadius < config.Feed.MinRadius {
		return fmt.Errorf("invalid feed radius bounds [%.1f, %.1f]", config.Feed.MinRadius, config.Feed.MaxRadius)
	}
	if config.Feed.DefaultRadius < config.Feed.MinRadius || config.Feed.DefaultRadius > config.Feed.MaxRadius {
		return fmt.Errorf("default radius %.1f outside [%.1f, %.1f]", config.Feed.DefaultRadius, config.Feed.MinRadius, config.Feed.MaxRadius)
	}

	return nil
}

// Helper functions

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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
