package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config contains the runtime configuration shared by the binaries. Secrets
// and connection strings come from the environment (with .env support);
// pipeline tuning lives in an optional YAML file, see pipeline.go.
type Config struct {
	DatabaseURL    string
	GoogleAPIKey   string
	OpenCageAPIKey string
	HTTPAddr       string
	LogLevel       string
}

// Load reads required values from environment variables, loading a local
// .env file first when present.
func Load() (Config, error) {
	// Best effort: a missing .env is normal outside local dev.
	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		return Config{}, errors.New("DATABASE_URL required")
	}

	addr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if addr == "" {
		addr = ":8080"
	}

	return Config{
		DatabaseURL:    dbURL,
		GoogleAPIKey:   strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		OpenCageAPIKey: strings.TrimSpace(os.Getenv("OPENCAGE_API_KEY")),
		HTTPAddr:       addr,
		LogLevel:       strings.TrimSpace(os.Getenv("LOG_LEVEL")),
	}, nil
}
