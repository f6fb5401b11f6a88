// Package config loads service configuration from an optional YAML file,
// an optional .env file and the environment. Environment variables win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Port           string        `yaml:"port"`
	DatabaseURL    string        `yaml:"databaseUrl"`
	CatalogDir     string        `yaml:"catalogDir"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	Redis RedisConfig `yaml:"redis"`
	Cache CacheConfig `yaml:"cache"`
	PDF   PDFConfig   `yaml:"pdf"`
	S3    S3Config    `yaml:"s3"`
	Rate  RateConfig  `yaml:"rateLimit"`
	Auth  AuthConfig  `yaml:"auth"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// PDFConfig points at a Gotenberg-compatible conversion service. An empty
// URL disables PDF output.
type PDFConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// S3Config enables artifact storage when Bucket is set.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// RateConfig limits requests per client IP. RPS <= 0 disables limiting.
type RateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AuthConfig selects JWT verification when JWTSecret is set; otherwise the
// X-User-ID header set by the fronting gateway is trusted.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:           "8080",
		CatalogDir:     "content",
		RequestTimeout: 60 * time.Second,
		Cache:          CacheConfig{TTL: 10 * time.Minute},
		PDF:            PDFConfig{Timeout: 30 * time.Second},
		S3:             S3Config{Region: "us-east-1", Prefix: "documents/"},
		Rate:           RateConfig{RPS: 10, Burst: 20},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE, then .env (never overriding variables already set), then the
// environment.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(filepath.Clean(path), &cfg); err != nil {
			return cfg, err
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("CATALOG_DIR", &cfg.CatalogDir)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("PDF_SERVICE_URL", &cfg.PDF.URL)
	str("S3_BUCKET", &cfg.S3.Bucket)
	str("S3_REGION", &cfg.S3.Region)
	str("S3_ENDPOINT", &cfg.S3.Endpoint)
	str("S3_PREFIX", &cfg.S3.Prefix)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("JWT_ISSUER", &cfg.Auth.Issuer)

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"CACHE_TTL", &cfg.Cache.TTL},
		{"PDF_TIMEOUT", &cfg.PDF.Timeout},
	} {
		if v, ok := os.LookupEnv(d.key); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
			}
			*d.dst = parsed
		}
	}

	if v, ok := os.LookupEnv("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		cfg.Redis.DB = n
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS %q: %w", v, err)
		}
		cfg.Rate.RPS = f
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_BURST %q: %w", v, err)
		}
		cfg.Rate.Burst = n
	}
	return nil
}
