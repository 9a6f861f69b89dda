// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ExchangeFailurePolicy はOAuthトークン交換失敗時のセッションの扱いを表す。
type ExchangeFailurePolicy string

const (
	// ExchangeFailureKeep は縮退セッション（バックエンドトークンなし）を維持する。
	ExchangeFailureKeep ExchangeFailurePolicy = "keep"
	// ExchangeFailureTeardown はセッションを破棄して再ログインを求める。
	ExchangeFailureTeardown ExchangeFailurePolicy = "teardown"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend Auth Gateway
	BackendAPIURL  string
	BackendTimeout time.Duration // 0の場合はトランスポートのタイムアウトに任せる

	// OAuth（ClientIDとClientSecretの両方が揃った場合のみ有効）
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURL     string
	ExchangeFailurePolicy ExchangeFailurePolicy

	// Session
	SessionSecret          string
	SessionMaxAge          int // 秒
	SessionCleanupInterval time.Duration

	// Database（空の場合はインメモリのセッションレジストリを使用する）
	DatabaseURL string

	// Rate Limit
	RateLimitLogin int // req/min/browser

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// OAuthEnabled はGoogle OAuthログインが設定済みかどうかを返す。
func (c *Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.BackendAPIURL = strings.TrimRight(getEnvString("BACKEND_API_URL", "http://localhost:5013"), "/")
	cfg.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", 0)
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 30*24*60*60)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", "http://localhost:8080"), "/")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/auth/google/callback")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	policy := ExchangeFailurePolicy(getEnvString("OAUTH_EXCHANGE_FAILURE_POLICY", string(ExchangeFailureKeep)))
	switch policy {
	case ExchangeFailureKeep, ExchangeFailureTeardown:
		cfg.ExchangeFailurePolicy = policy
	default:
		return nil, fmt.Errorf("invalid OAUTH_EXCHANGE_FAILURE_POLICY: %q (want keep or teardown)", policy)
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

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
