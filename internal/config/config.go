package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode   string // Set via flag, not env
	EnvPrefix string // Prefixes shared rate-limit keys so environments never collide

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Server
	ApiPort string
	BaseURL string // Public base URL used when composing verification links

	// Staff auth
	JwtSecret string

	// Rate limiting (endorsement submission, verify and resend endpoints)
	RateLimitMaxAttempts   int
	RateLimitWindowSeconds int

	// Burst guard defaults (process-local, in front of the shared limiter)
	BurstGuardRate int // tokens per second
	BurstGuardSize int // bucket size

	// Spam scoring
	SpamThreshold    float64
	MinSubmitSeconds float64
	MaxSubmitSeconds float64
	ClassifierURL    string
	ClassifierAPIKey string

	// Endorsement lifecycle
	AutoApprove   bool // global default; campaigns may override
	TokenLifetime time.Duration

	// Geocoding
	GeocoderURL    string
	GeocoderAPIKey string

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// App Defaults
	AppName string

	// MockServices routes outbound email to Redis instead of SMTP so
	// integration tests can observe delivery.
	MockServices bool
}

// tokenLifetime is fixed at 24 hours. Shortening it breaks the resend flow and
// lengthening it widens the takeover window, so it is not an environment knob.
const tokenLifetime = 24 * time.Hour

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode:       runMode, // Set from flag
		TokenLifetime: tokenLifetime,
	}

	var err error

	// Helper function to get env var or default
	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	// Helper function to get required env var
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "coalition")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.EnvPrefix = getEnv("ENV_PREFIX", "dev")
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.BaseURL = getEnv("BASE_URL", "http://localhost:8080")
	cfg.ClassifierURL = getEnv("CLASSIFIER_URL", "")
	cfg.ClassifierAPIKey = getEnv("CLASSIFIER_API_KEY", "")
	cfg.GeocoderURL = getEnv("GEOCODER_URL", "")
	cfg.GeocoderAPIKey = getEnv("GEOCODER_API_KEY", "")
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@coalition.example.org")
	cfg.AppName = getEnv("APP_NAME", "Coalition Builder")

	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg.RateLimitMaxAttempts, err = strconv.Atoi(getEnv("RATE_LIMIT_MAX_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_MAX_ATTEMPTS: %w", err)
	}

	cfg.RateLimitWindowSeconds, err = strconv.Atoi(getEnv("RATE_LIMIT_WINDOW_SECONDS", "300"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW_SECONDS: %w", err)
	}

	cfg.BurstGuardRate, err = strconv.Atoi(getEnv("BURST_GUARD_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid BURST_GUARD_REFILL_RATE: %w", err)
	}

	cfg.BurstGuardSize, err = strconv.Atoi(getEnv("BURST_GUARD_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid BURST_GUARD_BUCKET_SIZE: %w", err)
	}

	cfg.SpamThreshold, err = strconv.ParseFloat(getEnv("SPAM_THRESHOLD", "0.7"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SPAM_THRESHOLD: %w", err)
	}

	cfg.MinSubmitSeconds, err = strconv.ParseFloat(getEnv("SPAM_MIN_SUBMIT_SECONDS", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SPAM_MIN_SUBMIT_SECONDS: %w", err)
	}

	cfg.MaxSubmitSeconds, err = strconv.ParseFloat(getEnv("SPAM_MAX_SUBMIT_SECONDS", "1800"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SPAM_MAX_SUBMIT_SECONDS: %w", err)
	}

	cfg.AutoApprove, err = strconv.ParseBool(getEnv("AUTO_APPROVE", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_APPROVE: %w", err)
	}

	cfg.MockServices, err = strconv.ParseBool(getEnv("MOCK_SERVICES", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid MOCK_SERVICES: %w", err)
	}

	return cfg, nil
}
