// Package config loads service configuration from environment variables
// using github.com/caarlos0/env.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration.
type Config struct {
	// Addr is the address the HTTP server binds to.
	Addr string `env:"APP_ADDR" envDefault:":8080"`

	// UploadsDir receives raw user uploads; OutputsDir receives artifacts.
	UploadsDir string `env:"UPLOADS_DIR" envDefault:"uploads"`
	OutputsDir string `env:"OUTPUTS_DIR" envDefault:"outputs"`

	// MaxUploadBytes caps a single multipart upload.
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"524288000"`

	// MaxConcurrentDownloads bounds remote-download admissions.
	MaxConcurrentDownloads int64 `env:"MAX_CONCURRENT_DOWNLOADS" envDefault:"3"`

	// Retention windows. Grace bounds how long a downloaded artifact lingers;
	// Ceiling is the absolute limit for any artifact.
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	DownloadGrace    time.Duration `env:"DOWNLOAD_GRACE" envDefault:"5m"`
	RetentionCeiling time.Duration `env:"RETENTION_CEILING" envDefault:"30m"`

	// Token-bucket limit applied to job-creating routes.
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"10"`
	BurstSize         int     `env:"BURST_SIZE" envDefault:"20"`

	// Optional redis mirror. Empty addr disables it.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// External tool binaries, overridable for tests and exotic installs.
	FFmpegBin      string `env:"FFMPEG_BIN" envDefault:"ffmpeg"`
	FFprobeBin     string `env:"FFPROBE_BIN" envDefault:"ffprobe"`
	YtDlpBin       string `env:"YTDLP_BIN" envDefault:"yt-dlp"`
	PythonBin      string `env:"PYTHON_BIN" envDefault:"python3"`
	RemoveBGScript string `env:"REMOVE_BG_SCRIPT" envDefault:"scripts/remove_bg.py"`
}

// Load parses configuration from the environment and applies guardrails.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize clamps values that would otherwise break invariants.
func (c *Config) Sanitize() {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 500 * 1024 * 1024
	}
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = 3
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.DownloadGrace <= 0 {
		c.DownloadGrace = 5 * time.Minute
	}
	if c.RetentionCeiling <= 0 {
		c.RetentionCeiling = 30 * time.Minute
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 20
	}
}
