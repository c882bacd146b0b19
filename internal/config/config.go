package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity provider
	IdentityAPIKey    string
	IdentityProjectID string
	IdentityBaseURL   string
	AppID             string

	// Federated sign-in (Google OAuth)。未設定の場合は無効。
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Generative AI
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	AITimeout     time.Duration

	// Mock test attempts
	RedisURL   string
	AttemptTTL time.Duration

	// Storage
	StorageBackend  string
	StorageLocalDir string
	S3Endpoint      string
	S3Bucket        string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3UseSSL        bool

	// Profile photo
	PhotoMaxWidth int
	PhotoMaxBytes int64

	// Practice
	DailyGoal int

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitAI      int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// FederatedEnabled はGoogleサインインの設定が揃っているかを返す。
func (c *Config) FederatedEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.IdentityAPIKey = os.Getenv("IDENTITY_API_KEY")
	if cfg.IdentityAPIKey == "" {
		missing = append(missing, "IDENTITY_API_KEY")
	}

	cfg.IdentityProjectID = os.Getenv("IDENTITY_PROJECT_ID")
	if cfg.IdentityProjectID == "" {
		missing = append(missing, "IDENTITY_PROJECT_ID")
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.IdentityBaseURL = getEnvString("IDENTITY_BASE_URL", "")
	cfg.AppID = getEnvString("APP_ID", "ieltsprep")
	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = getEnvString("GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", "")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", "gemini-2.5-flash")
	cfg.GeminiBaseURL = getEnvString("GEMINI_BASE_URL", "")
	cfg.AITimeout = getEnvDuration("AI_TIMEOUT", 60*time.Second)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.AttemptTTL = getEnvDuration("ATTEMPT_TTL", 2*time.Hour)
	cfg.StorageBackend = strings.ToLower(getEnvString("STORAGE_BACKEND", "local"))
	cfg.StorageLocalDir = getEnvString("STORAGE_LOCAL_DIR", "./data/uploads")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.S3Region = getEnvString("S3_REGION", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_KEY", "")
	cfg.S3UseSSL = getEnvBool("S3_USE_SSL", true)
	cfg.PhotoMaxWidth = getEnvInt("PHOTO_MAX_WIDTH", 500)
	cfg.PhotoMaxBytes = getEnvInt64("PHOTO_MAX_BYTES", 5242880)
	cfg.DailyGoal = getEnvInt("DAILY_GOAL", 5)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAI = getEnvInt("RATE_LIMIT_AI", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.StorageBackend != "local" && cfg.StorageBackend != "s3" {
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND: %s (allowed: local, s3)", cfg.StorageBackend)
	}
	if cfg.StorageBackend == "s3" && (cfg.S3Endpoint == "" || cfg.S3Bucket == "") {
		return nil, fmt.Errorf("S3_ENDPOINT and S3_BUCKET are required when STORAGE_BACKEND=s3")
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
