// Package config provides configuration loading and validation for the server and CLI.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/web2pdf/internal/schemas"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Every section may be omitted from the file.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Renderer    RendererConfig    `yaml:"renderer" json:"renderer"`
	Pipeline    PipelineConfig    `yaml:"pipeline" json:"pipeline"`
	Crawler     CrawlerConfig     `yaml:"crawler" json:"crawler"`
	Compression CompressionConfig `yaml:"compression" json:"compression"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Redis       RedisConfig       `yaml:"redis" json:"redis"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int      `yaml:"port" json:"port"`
	PublicBaseURL   string   `yaml:"public_base_url" json:"public_base_url"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// StorageConfig controls where artifacts live and how long they are kept.
type StorageConfig struct {
	OutputDir     string   `yaml:"output_dir" json:"output_dir"`
	Retention     Duration `yaml:"retention" json:"retention"`
	SweepInterval Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// RendererConfig selects and tunes the headless browser engine.
type RendererConfig struct {
	Engine    string `yaml:"engine" json:"engine"`
	ExecPath  string `yaml:"exec_path" json:"exec_path"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	NoSandbox bool   `yaml:"no_sandbox" json:"no_sandbox"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"` // 0 derives the size from GOMAXPROCS
}

// PipelineConfig bounds a single conversion run.
type PipelineConfig struct {
	RequestTimeout     Duration `yaml:"request_timeout" json:"request_timeout"`
	MainTimeout        Duration `yaml:"main_timeout" json:"main_timeout"`
	SubpageTimeout     Duration `yaml:"subpage_timeout" json:"subpage_timeout"`
	SubpageConcurrency int      `yaml:"subpage_concurrency" json:"subpage_concurrency"`
}

// CrawlerConfig paces subpage navigations and caches robots.txt.
type CrawlerConfig struct {
	RequestsPerSecond float64  `yaml:"requests_per_second" json:"requests_per_second"` // 0 disables pacing
	Burst             int      `yaml:"burst" json:"burst"`
	RobotsTTL         Duration `yaml:"robots_ttl" json:"robots_ttl"`
}

// CompressionConfig locates the ghostscript binary.
type CompressionConfig struct {
	GSPath  string   `yaml:"gs_path" json:"gs_path"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// DatabaseConfig enables the conversion history store when URL is set.
type DatabaseConfig struct {
	URL         string `yaml:"url" json:"url"`
	AutoMigrate bool   `yaml:"auto_migrate" json:"auto_migrate"`
}

// RedisConfig enables shared rate limiting when URL is set.
type RedisConfig struct {
	URL string `yaml:"url" json:"url"`
}

// LoggingConfig controls the structured logger and optional rotating log file.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            3001,
			ShutdownTimeout: DurationFrom(30 * time.Second),
			MaxBodyBytes:    1 << 20,
		},
		Storage: StorageConfig{
			OutputDir:     "output",
			Retention:     DurationFrom(7 * 24 * time.Hour),
			SweepInterval: DurationFrom(24 * time.Hour),
		},
		Renderer: RendererConfig{
			Engine: "chromedp",
		},
		Pipeline: PipelineConfig{
			RequestTimeout:     DurationFrom(5 * time.Minute),
			MainTimeout:        DurationFrom(60 * time.Second),
			SubpageTimeout:     DurationFrom(30 * time.Second),
			SubpageConcurrency: 3,
		},
		Crawler: CrawlerConfig{
			Burst:     1,
			RobotsTTL: DurationFrom(30 * time.Minute),
		},
		Compression: CompressionConfig{
			GSPath:  "gs",
			Timeout: DurationFrom(2 * time.Minute),
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// Load reads the configuration file at path on top of Default, applies environment
// overrides and validates the result. An empty path skips the file.
// Files ending in .json are parsed as JSON, everything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return c.decodeJSON(data)
	}
	return c.decodeYAML(data)
}

func (c *Config) decodeYAML(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if doc == nil {
		return nil
	}
	if err := schemas.ValidateConfig(doc); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to decode config YAML: %w", err)
	}
	return nil
}

func (c *Config) decodeJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := schemas.ValidateConfig(doc); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to decode config JSON: %w", err)
	}
	return nil
}

// ApplyEnv overrides file values with environment variables. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %v", err)
		}
		c.Server.Port = port
	}
	if v := getenv("PUBLIC_BASE_URL"); v != "" {
		c.Server.PublicBaseURL = v
	}
	if v := getenv("OUTPUT_DIR"); v != "" {
		c.Storage.OutputDir = v
	}
	if v := getenv("RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RETENTION_DAYS: %v", err)
		}
		c.Storage.Retention = DurationFrom(time.Duration(days) * 24 * time.Hour)
	}
	if v := getenv("RENDERER_ENGINE"); v != "" {
		c.Renderer.Engine = strings.ToLower(v)
	}
	if v := getenv("CHROME_PATH"); v != "" {
		c.Renderer.ExecPath = v
	}
	if v := getenv("GS_PATH"); v != "" {
		c.Compression.GSPath = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// Validate checks that the configuration has usable values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: 'server.port' must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.PublicBaseURL != "" {
		u, err := url.Parse(c.Server.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config error: 'server.public_base_url' must be an absolute http(s) URL")
		}
	}
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("config error: 'storage.output_dir' is required")
	}
	if c.Storage.Retention.Duration <= 0 {
		return fmt.Errorf("config error: 'storage.retention' must be positive")
	}
	if c.Storage.SweepInterval.Duration <= 0 {
		return fmt.Errorf("config error: 'storage.sweep_interval' must be positive")
	}

	switch c.Renderer.Engine {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("config error: 'renderer.engine' must be chromedp or rod, got %q", c.Renderer.Engine)
	}
	if c.Renderer.PoolSize < 0 {
		return fmt.Errorf("config error: 'renderer.pool_size' must be non-negative")
	}

	if c.Pipeline.SubpageConcurrency < 1 {
		return fmt.Errorf("config error: 'pipeline.subpage_concurrency' must be at least 1")
	}
	for name, d := range map[string]Duration{
		"pipeline.request_timeout": c.Pipeline.RequestTimeout,
		"pipeline.main_timeout":    c.Pipeline.MainTimeout,
		"pipeline.subpage_timeout": c.Pipeline.SubpageTimeout,
		"compression.timeout":      c.Compression.Timeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("config error: '%s' must be positive", name)
		}
	}

	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("config error: 'crawler.requests_per_second' must be non-negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config error: 'logging.level' must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}
