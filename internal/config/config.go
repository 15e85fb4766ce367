package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/andresmejia3/blurface/internal/types"
	"github.com/joho/godotenv"
)

// Defaults used when neither the environment nor a flag says otherwise
const (
	DefaultCascadePath    = "" // empty selects the cascade built into the binary
	DefaultBackend        = "pigo"
	DefaultAddr           = ":8080"
	DefaultUploadDir      = "uploads"
	DefaultResultDir      = "results"
	DefaultMaxUploadBytes = 100 << 20
	DefaultRateLimit      = 30 // uploads per IP per minute
)

type Config struct {
	// DatabaseURL is empty when no job ledger is configured
	DatabaseURL string

	Backend     string
	CascadePath string
	DNNPrototxt string
	DNNWeights  string

	Addr           string
	UploadDir      string
	ResultDir      string
	MaxUploadBytes int64
	RateLimit      int

	Processing types.Config
}

// Load reads a .env file if one exists, then BLURFACE_* and POSTGRES_* variables.
// Variables already set in the environment win over the .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    databaseURL(),
		Backend:        getenv("BLURFACE_BACKEND", DefaultBackend),
		CascadePath:    getenv("BLURFACE_CASCADE", DefaultCascadePath),
		DNNPrototxt:    os.Getenv("BLURFACE_DNN_PROTOTXT"),
		DNNWeights:     os.Getenv("BLURFACE_DNN_WEIGHTS"),
		Addr:           getenv("BLURFACE_ADDR", DefaultAddr),
		UploadDir:      getenv("BLURFACE_UPLOAD_DIR", DefaultUploadDir),
		ResultDir:      getenv("BLURFACE_RESULT_DIR", DefaultResultDir),
		MaxUploadBytes: DefaultMaxUploadBytes,
		RateLimit:      DefaultRateLimit,
		Processing:     types.DefaultConfig(),
	}

	var err error
	if cfg.MaxUploadBytes, err = getInt64("BLURFACE_MAX_UPLOAD_BYTES", cfg.MaxUploadBytes); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = getInt("BLURFACE_RATE_LIMIT", cfg.RateLimit); err != nil {
		return nil, err
	}

	p := &cfg.Processing
	if p.ConfidenceThreshold, err = getFloat("BLURFACE_THRESHOLD", p.ConfidenceThreshold); err != nil {
		return nil, err
	}
	if p.BlurStrength, err = getInt("BLURFACE_BLUR_STRENGTH", p.BlurStrength); err != nil {
		return nil, err
	}
	if p.Padding, err = getInt("BLURFACE_PADDING", p.Padding); err != nil {
		return nil, err
	}
	if p.Workers, err = getInt("BLURFACE_WORKERS", p.Workers); err != nil {
		return nil, err
	}
	p.Range = types.Range(getenv("BLURFACE_RANGE", string(p.Range)))

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// databaseURL prefers BLURFACE_DB, then builds a connection string from the POSTGRES_* variables
func databaseURL() string {
	if url := os.Getenv("BLURFACE_DB"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: expected an integer, got %q", key, v)
	}
	return n, nil
}

func getInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: expected an integer, got %q", key, v)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: expected a number, got %q", key, v)
	}
	return f, nil
}
