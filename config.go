package mapres

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default configuration values.
const (
	// DefaultRetryBackoff is the delay before the first re-request of a
	// tile whose provider failed.
	DefaultRetryBackoff = 250 * time.Millisecond

	// DefaultRetryBackoffMax caps the exponential retry backoff.
	DefaultRetryBackoffMax = 30 * time.Second

	// DefaultMaxRetries is the number of failed requests after which a tile
	// is not requested again until it leaves the active zone.
	DefaultMaxRetries = 5

	// DefaultRetryTrackerSize bounds the number of tracked failing tiles.
	DefaultRetryTrackerSize = 4096

	// DefaultUnbindWait is how long an unbinding caller waits for a GPU sync
	// pass before re-checking its collections.
	DefaultUnbindWait = 250 * time.Millisecond

	// DefaultMaxUploadAttempts is the number of consecutive failed uploads
	// after which a resource is dropped and handed to the retry policy.
	DefaultMaxUploadAttempts = 3

	// DefaultUploadWaitTimeout bounds a single WaitUntilUploadComplete call.
	DefaultUploadWaitTimeout = 5 * time.Second
)

// Environment variables read by LoadConfig.
const (
	EnvWorkers           = "MAPRES_WORKERS"
	EnvBackend           = "MAPRES_BACKEND"
	EnvWaitForUploads    = "MAPRES_WAIT_FOR_UPLOADS"
	EnvMaxRetries        = "MAPRES_MAX_RETRIES"
	EnvRetryBackoff      = "MAPRES_RETRY_BACKOFF"
	EnvRetryBackoffMax   = "MAPRES_RETRY_BACKOFF_MAX"
	EnvRetryTrackerSize  = "MAPRES_RETRY_TRACKER_SIZE"
	EnvUnbindWait        = "MAPRES_UNBIND_WAIT"
	EnvUploadWaitTimeout = "MAPRES_UPLOAD_WAIT_TIMEOUT"
	EnvMaxUploadAttempts = "MAPRES_MAX_UPLOAD_ATTEMPTS"
)

// Config holds the tunable parameters of an Engine.
type Config struct {
	// Workers is the number of request workers. Defaults to GOMAXPROCS.
	Workers int `json:"workers"`

	// Backend names the uploader to create from the backend registry when
	// no uploader is passed with WithUploader. Empty selects the default.
	Backend string `json:"backend"`

	// WaitForUploads makes every upload wait for GPU completion before the
	// resource is marked uploaded. Only effective with uploaders that
	// implement gpucore.UploadWaiter.
	WaitForUploads bool `json:"wait_for_uploads"`

	// MaxRetries is the number of provider failures after which a tile is
	// no longer requested until it leaves the active zone. Zero disables
	// the cap.
	MaxRetries int `json:"max_retries"`

	// RetryBackoff is the delay after the first failure; it doubles with
	// every further failure up to RetryBackoffMax.
	RetryBackoff time.Duration `json:"retry_backoff"`

	// RetryBackoffMax caps RetryBackoff.
	RetryBackoffMax time.Duration `json:"retry_backoff_max"`

	// RetryTrackerSize bounds the number of failing tiles remembered.
	RetryTrackerSize int `json:"retry_tracker_size"`

	// UnbindWait is the per-attempt wait for a GPU sync while unbinding.
	UnbindWait time.Duration `json:"unbind_wait"`

	// UploadWaitTimeout bounds WaitUntilUploadComplete.
	UploadWaitTimeout time.Duration `json:"upload_wait_timeout"`

	// MaxUploadAttempts is the number of consecutive failed uploads after
	// which a resource is dropped. Its tile is then requested again under
	// the retry policy.
	MaxUploadAttempts int `json:"max_upload_attempts"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:           runtime.GOMAXPROCS(0),
		MaxRetries:        DefaultMaxRetries,
		RetryBackoff:      DefaultRetryBackoff,
		RetryBackoffMax:   DefaultRetryBackoffMax,
		RetryTrackerSize:  DefaultRetryTrackerSize,
		UnbindWait:        DefaultUnbindWait,
		UploadWaitTimeout: DefaultUploadWaitTimeout,
		MaxUploadAttempts: DefaultMaxUploadAttempts,
	}
}

// Validate checks the configuration for out-of-range values.
func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrInvalidConfig, c.MaxRetries)
	case c.RetryBackoff <= 0:
		return fmt.Errorf("%w: retry backoff must be positive, got %v", ErrInvalidConfig, c.RetryBackoff)
	case c.RetryBackoffMax < c.RetryBackoff:
		return fmt.Errorf("%w: retry backoff max %v below backoff %v", ErrInvalidConfig, c.RetryBackoffMax, c.RetryBackoff)
	case c.RetryTrackerSize <= 0:
		return fmt.Errorf("%w: retry tracker size must be positive, got %d", ErrInvalidConfig, c.RetryTrackerSize)
	case c.UnbindWait <= 0:
		return fmt.Errorf("%w: unbind wait must be positive, got %v", ErrInvalidConfig, c.UnbindWait)
	case c.UploadWaitTimeout <= 0:
		return fmt.Errorf("%w: upload wait timeout must be positive, got %v", ErrInvalidConfig, c.UploadWaitTimeout)
	case c.MaxUploadAttempts <= 0:
		return fmt.Errorf("%w: max upload attempts must be positive, got %d", ErrInvalidConfig, c.MaxUploadAttempts)
	}
	return nil
}

// LoadConfig returns DefaultConfig overridden by MAPRES_* environment
// variables. Any files given are loaded first as .env files; variables
// already set in the environment take precedence over them.
func LoadConfig(envFiles ...string) (Config, error) {
	cfg := DefaultConfig()
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return cfg, fmt.Errorf("mapres: load env files: %w", err)
		}
	}

	var err error
	if cfg.Workers, err = envInt(EnvWorkers, cfg.Workers); err != nil {
		return cfg, err
	}
	if v, ok := os.LookupEnv(EnvBackend); ok {
		cfg.Backend = v
	}
	if cfg.WaitForUploads, err = envBool(EnvWaitForUploads, cfg.WaitForUploads); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = envInt(EnvMaxRetries, cfg.MaxRetries); err != nil {
		return cfg, err
	}
	if cfg.RetryBackoff, err = envDuration(EnvRetryBackoff, cfg.RetryBackoff); err != nil {
		return cfg, err
	}
	if cfg.RetryBackoffMax, err = envDuration(EnvRetryBackoffMax, cfg.RetryBackoffMax); err != nil {
		return cfg, err
	}
	if cfg.RetryTrackerSize, err = envInt(EnvRetryTrackerSize, cfg.RetryTrackerSize); err != nil {
		return cfg, err
	}
	if cfg.UnbindWait, err = envDuration(EnvUnbindWait, cfg.UnbindWait); err != nil {
		return cfg, err
	}
	if cfg.UploadWaitTimeout, err = envDuration(EnvUploadWaitTimeout, cfg.UploadWaitTimeout); err != nil {
		return cfg, err
	}
	if cfg.MaxUploadAttempts, err = envInt(EnvMaxUploadAttempts, cfg.MaxUploadAttempts); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, key, v, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, key, v, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, key, v, err)
	}
	return d, nil
}
