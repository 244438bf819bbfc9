package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	BackendURL           string        `mapstructure:"BACKEND_URL"`
	BackendTimeout       time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	BackendServiceToken  string        `mapstructure:"BACKEND_SERVICE_TOKEN"`
	OCRURL               string        `mapstructure:"OCR_URL"`
	PrintURL             string        `mapstructure:"PRINT_URL"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL          string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	DuplicateDebounce    time.Duration `mapstructure:"DUPLICATE_DEBOUNCE"`
	QRScanInterval       time.Duration `mapstructure:"QR_SCAN_INTERVAL"`
	QRScanTimeout        time.Duration `mapstructure:"QR_SCAN_TIMEOUT"`
	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	HandoffTTL           time.Duration `mapstructure:"HANDOFF_TTL"`
	CatalogCacheTTL      time.Duration `mapstructure:"CATALOG_CACHE_TTL"`
	QueueRefreshInterval time.Duration `mapstructure:"QUEUE_REFRESH_INTERVAL"`
	DefaultDepartment    string        `mapstructure:"DEFAULT_DEPARTMENT"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"BACKEND_URL", "BACKEND_TIMEOUT", "BACKEND_SERVICE_TOKEN", "OCR_URL", "PRINT_URL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"DUPLICATE_DEBOUNCE", "QR_SCAN_INTERVAL", "QR_SCAN_TIMEOUT",
	"SESSION_TTL", "HANDOFF_TTL", "CATALOG_CACHE_TTL", "QUEUE_REFRESH_INTERVAL",
	"DEFAULT_DEPARTMENT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("BACKEND_URL", "http://localhost:5000")
	v.SetDefault("BACKEND_TIMEOUT", "15s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("DUPLICATE_DEBOUNCE", "800ms")
	v.SetDefault("QR_SCAN_INTERVAL", "300ms")
	v.SetDefault("QR_SCAN_TIMEOUT", "30s")
	v.SetDefault("SESSION_TTL", "30m")
	v.SetDefault("HANDOFF_TTL", "2h")
	v.SetDefault("CATALOG_CACHE_TTL", "10m")
	v.SetDefault("QUEUE_REFRESH_INTERVAL", "15s")
	v.SetDefault("DEFAULT_DEPARTMENT", "Internal Medicine")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: kiosk gateway running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: unauthenticated requests are treated as an admin terminal.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_SIGNING_KEY or AUTH_ISSUER must be present so bearer tokens are
// verified, and the scan/debounce timings must be positive.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_ISSUER must be set when ENV=%q", c.Env)
	}
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.DuplicateDebounce <= 0 {
		return fmt.Errorf("DUPLICATE_DEBOUNCE must be positive, got %s", c.DuplicateDebounce)
	}
	if c.QRScanInterval <= 0 || c.QRScanTimeout <= 0 {
		return fmt.Errorf("QR_SCAN_INTERVAL and QR_SCAN_TIMEOUT must be positive")
	}
	if c.QRScanInterval >= c.QRScanTimeout {
		return fmt.Errorf("QR_SCAN_INTERVAL (%s) must be shorter than QR_SCAN_TIMEOUT (%s)", c.QRScanInterval, c.QRScanTimeout)
	}
	if c.DefaultDepartment == "" {
		return fmt.Errorf("DEFAULT_DEPARTMENT must not be empty")
	}
	return nil
}
