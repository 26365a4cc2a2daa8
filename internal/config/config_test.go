package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "PUBLIC_BASE_URL", "OUTPUT_DIR", "RETENTION_DAYS", "RENDERER_ENGINE",
		"CHROME_PATH", "GS_PATH", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Storage.Retention.Duration)
	assert.Equal(t, 24*time.Hour, cfg.Storage.SweepInterval.Duration)
	assert.Equal(t, "chromedp", cfg.Renderer.Engine)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.MainTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.SubpageTimeout.Duration)
	assert.Equal(t, 3, cfg.Pipeline.SubpageConcurrency)
	assert.Equal(t, "gs", cfg.Compression.GSPath)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "web2pdf.yaml", `
server:
  port: 8080
  public_base_url: https://pdf.example.com
storage:
  output_dir: /var/lib/web2pdf
  retention: 48h
renderer:
  engine: rod
  pool_size: 2
pipeline:
  subpage_timeout: 45
  subpage_concurrency: 5
crawler:
  requests_per_second: 2.5
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://pdf.example.com", cfg.Server.PublicBaseURL)
	assert.Equal(t, "/var/lib/web2pdf", cfg.Storage.OutputDir)
	assert.Equal(t, 48*time.Hour, cfg.Storage.Retention.Duration)
	assert.Equal(t, "rod", cfg.Renderer.Engine)
	assert.Equal(t, 2, cfg.Renderer.PoolSize)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.SubpageTimeout.Duration)
	assert.Equal(t, 5, cfg.Pipeline.SubpageConcurrency)
	assert.InDelta(t, 2.5, cfg.Crawler.RequestsPerSecond, 0.0001)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 24*time.Hour, cfg.Storage.SweepInterval.Duration)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.MainTimeout.Duration)
}

func TestLoad_JSON(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "web2pdf.json", `{
		"server": {"port": 9090},
		"pipeline": {"request_timeout": "10m", "main_timeout": 90}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.RequestTimeout.Duration)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.MainTimeout.Duration)
}

func TestLoad_EmptyYAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "empty.yaml", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{name: "malformed YAML", file: "c.yaml", content: "server: [", want: "failed to parse config YAML"},
		{name: "malformed JSON", file: "c.json", content: "{ invalid json }", want: "failed to parse config JSON"},
		{name: "unknown section", file: "c.yaml", content: "llm:\n  model: x\n", want: "does not match schema"},
		{name: "unknown field", file: "c.yaml", content: "server:\n  hostname: x\n", want: "does not match schema"},
		{name: "bad engine", file: "c.yaml", content: "renderer:\n  engine: webkit\n", want: "does not match schema"},
		{name: "bad duration", file: "c.json", content: `{"storage": {"retention": "a week"}}`, want: "does not match schema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := writeConfig(t, tt.file, tt.content)

			cfg, err := Load(path)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/web2pdf.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "web2pdf.yaml", "server:\n  port: 8080\nlogging:\n  level: info\n")
	t.Setenv("PORT", "4000")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("RETENTION_DAYS", "2")
	t.Setenv("DATABASE_URL", "postgres://localhost/web2pdf")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RENDERER_ENGINE", "Rod")
	t.Setenv("GS_PATH", "/opt/gs/bin/gs")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 48*time.Hour, cfg.Storage.Retention.Duration)
	assert.Equal(t, "postgres://localhost/web2pdf", cfg.Database.URL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "rod", cfg.Renderer.Engine)
	assert.Equal(t, "/opt/gs/bin/gs", cfg.Compression.GSPath)
}

func TestApplyEnv_InvalidNumbers(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(key string) string {
		if key == "PORT" {
			return "eighty"
		}
		return ""
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")

	cfg = Default()
	err = cfg.ApplyEnv(func(key string) string {
		if key == "RETENTION_DAYS" {
			return "weekly"
		}
		return ""
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RETENTION_DAYS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "relative base url", mutate: func(c *Config) { c.Server.PublicBaseURL = "/pdfs" }, want: "public_base_url"},
		{name: "output dir", mutate: func(c *Config) { c.Storage.OutputDir = "" }, want: "output_dir"},
		{name: "retention", mutate: func(c *Config) { c.Storage.Retention = Duration{} }, want: "retention"},
		{name: "engine", mutate: func(c *Config) { c.Renderer.Engine = "webkit" }, want: "renderer.engine"},
		{name: "pool size", mutate: func(c *Config) { c.Renderer.PoolSize = -1 }, want: "pool_size"},
		{name: "concurrency", mutate: func(c *Config) { c.Pipeline.SubpageConcurrency = 0 }, want: "subpage_concurrency"},
		{name: "subpage timeout", mutate: func(c *Config) { c.Pipeline.SubpageTimeout = Duration{} }, want: "subpage_timeout"},
		{name: "rate", mutate: func(c *Config) { c.Crawler.RequestsPerSecond = -2 }, want: "requests_per_second"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, want: "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDuration_Decoding(t *testing.T) {
	type holder struct {
		D Duration `yaml:"d" json:"d"`
	}

	yamlCases := map[string]time.Duration{
		"d: 30s":   30 * time.Second,
		"d: 90":    90 * time.Second,
		"d: 1.5":   1500 * time.Millisecond,
		"d: 1h30m": 90 * time.Minute,
		"d: ":      0,
	}
	for input, want := range yamlCases {
		var h holder
		require.NoError(t, yaml.Unmarshal([]byte(input), &h), input)
		assert.Equal(t, want, h.D.Duration, input)
	}

	jsonCases := map[string]time.Duration{
		`{"d": "2m"}`: 2 * time.Minute,
		`{"d": 15}`:   15 * time.Second,
		`{"d": null}`: 0,
	}
	for input, want := range jsonCases {
		var h holder
		require.NoError(t, json.Unmarshal([]byte(input), &h), input)
		assert.Equal(t, want, h.D.Duration, input)
	}

	var h holder
	assert.Error(t, yaml.Unmarshal([]byte("d: soon"), &h))
	assert.Error(t, json.Unmarshal([]byte(`{"d": "soon"}`), &h))
}

func TestDuration_Encoding(t *testing.T) {
	d := DurationFrom(90 * time.Second)

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(out))

	y, err := yaml.Marshal(map[string]Duration{"d": d})
	require.NoError(t, err)
	assert.Equal(t, "d: 1m30s\n", string(y))

	assert.True(t, Duration{}.IsZero())
	assert.False(t, d.IsZero())
}
