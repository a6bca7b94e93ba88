// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server configures cmd/dashboard.
type Server struct {
	Port           string
	DatabaseURL    string
	AccessCode     string
	JWTSecret      string
	TokenTTL       time.Duration
	LoginPerMinute int
	SeedFile       string
	OTLPEndpoint   string
	LogLevel       slog.Level
	AllowedOrigins []string
	ChaosLatency   time.Duration
	ChaosFailRate  float64
}

// Client configures cmd/milesctl.
type Client struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	LogLevel slog.Level
}

// LoadDotEnv loads path (or ".env" when empty) if it exists. Variables
// already set in the environment win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadServer reads the server configuration.
func LoadServer() (Server, error) {
	var errs []error
	cfg := Server{
		Port:           getEnv("PORT", "8001"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		AccessCode:     os.Getenv("ACCESS_CODE"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		SeedFile:       os.Getenv("SEED_FILE"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AllowedOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
	}
	cfg.TokenTTL = getDuration("TOKEN_TTL", 12*time.Hour, &errs)
	cfg.LoginPerMinute = getInt("LOGIN_RATE_PER_MINUTE", 5, &errs)
	cfg.LogLevel = getLevel("LOG_LEVEL", &errs)
	cfg.ChaosLatency = getDuration("CHAOS_LATENCY", 0, &errs)
	cfg.ChaosFailRate = getRate("CHAOS_FAIL_RATE", &errs)
	return cfg, errors.Join(errs...)
}

// LoadClient reads the CLI configuration.
func LoadClient() (Client, error) {
	var errs []error
	cfg := Client{
		BaseURL: strings.TrimRight(getEnv("DASHBOARD_URL", "http://localhost:8001"), "/"),
		Token:   os.Getenv("DASHBOARD_TOKEN"),
	}
	cfg.Timeout = getDuration("DASHBOARD_TIMEOUT", 10*time.Second, &errs)
	cfg.LogLevel = getLevel("LOG_LEVEL", &errs)
	return cfg, errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int, errs *[]error) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: expected a positive integer, got %q", key, raw))
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: expected a positive duration, got %q", key, raw))
		return defaultValue
	}
	return d
}

func getRate(key string, errs *[]error) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > 1 {
		*errs = append(*errs, fmt.Errorf("%s: expected a rate between 0 and 1, got %q", key, raw))
		return 0
	}
	return f
}

func getLevel(key string, errs *[]error) slog.Level {
	var level slog.Level
	raw := getEnv(key, "info")
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return slog.LevelInfo
	}
	return level
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
