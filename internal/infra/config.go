package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EmptyCatalogPolicy decides what the workflow does when the catalog
// webhook answers successfully but normalization yields zero products.
type EmptyCatalogPolicy string

const (
	// EmptyCatalogStay keeps the workflow on the upload stage with an error.
	EmptyCatalogStay EmptyCatalogPolicy = "stay"
	// EmptyCatalogProceed advances to selection with an empty product list.
	EmptyCatalogProceed EmptyCatalogPolicy = "proceed"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv                string
	Port                  string
	CatalogURL            string
	TryOnURL              string
	WebhookTimeout        time.Duration
	MaxPhotoBytes         int64
	EmptyCatalog          EmptyCatalogPolicy
	SessionTTL            time.Duration
	AllowedOrigins        []string
	RateLimitPerMin       int
	GeoIPDBPath           string
	DebugDetails          bool
	DefaultLocale         string
	HTTPReadTimeout       time.Duration
	HTTPReadHeaderTimeout time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. The webhook endpoints have documented fallbacks so
// the service runs with an empty environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8080"),
		CatalogURL:            getEnv("N8N_PRODUTOS_URL", "https://testes-n8n.t4tvrg.easypanel.host/webhook/produtos"),
		TryOnURL:              getEnv("N8N_TRYON_URL", "https://testes-n8n.t4tvrg.easypanel.host/webhook/gerar-tryon"),
		WebhookTimeout:        time.Second * time.Duration(getEnvInt("WEBHOOK_TIMEOUT_SECONDS", 30)),
		MaxPhotoBytes:         int64(getEnvInt("MAX_PHOTO_MB", 5)) << 20,
		SessionTTL:            time.Minute * time.Duration(getEnvInt("SESSION_TTL_MINUTES", 30)),
		AllowedOrigins:        splitList(os.Getenv("ALLOWED_ORIGINS")),
		RateLimitPerMin:       getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		GeoIPDBPath:           os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:         getEnv("DEFAULT_LOCALE", "pt"),
		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPReadHeaderTimeout: time.Second * time.Duration(getEnvInt("HTTP_READ_HEADER_TIMEOUT_SECONDS", 5)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	policy := EmptyCatalogPolicy(getEnv("EMPTY_CATALOG_POLICY", string(EmptyCatalogStay)))
	switch policy {
	case EmptyCatalogStay, EmptyCatalogProceed:
		cfg.EmptyCatalog = policy
	default:
		return nil, fmt.Errorf("EMPTY_CATALOG_POLICY must be %q or %q", EmptyCatalogStay, EmptyCatalogProceed)
	}

	cfg.DebugDetails = getEnvBool("DEBUG_DETAILS", cfg.AppEnv == "development")

	if cfg.MaxPhotoBytes <= 0 {
		return nil, fmt.Errorf("MAX_PHOTO_MB must be positive")
	}
	if cfg.RateLimitPerMin <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
