// Package config provides configuration loading for docingest.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the docingest service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	OAuth     OAuthConfig     `koanf:"oauth"`
	Storage   StorageConfig   `koanf:"storage"`
	Qdrant    QdrantConfig    `koanf:"qdrant"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// OAuthConfig holds delegated-authorization settings for the identity
// provider. Endpoint URLs default to Google's OAuth2 endpoints but are
// overridable for testing.
type OAuthConfig struct {
	ClientID     string   `koanf:"client_id"`
	ClientSecret Secret   `koanf:"client_secret"`
	RedirectURL  string   `koanf:"redirect_url"`
	Scopes       []string `koanf:"scopes"`

	// StateSecret signs OAuth state tokens. Required in production.
	StateSecret Secret   `koanf:"state_secret"`
	StateTTL    Duration `koanf:"state_ttl"`

	// SweepInterval controls how often expired authorization states are
	// removed from storage.
	SweepInterval Duration `koanf:"sweep_interval"`

	AuthURL     string `koanf:"auth_url"`
	TokenURL    string `koanf:"token_url"`
	RevokeURL   string `koanf:"revoke_url"`
	UserInfoURL string `koanf:"userinfo_url"`
	DriveAPIURL string `koanf:"drive_api_url"`
}

// StorageConfig holds connection store settings.
type StorageConfig struct {
	// Path is the BadgerDB directory for connections and authorization
	// states.
	Path string `koanf:"path"`

	// KeyPath is the at-rest encryption key file. Created with 0600
	// permissions on first use if absent.
	KeyPath string `koanf:"key_path"`
}

// QdrantConfig holds vector store connection settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	Model    string `koanf:"model"`
	CacheDir string `koanf:"cache_dir"`
}

// IngestConfig holds pipeline tuning knobs.
type IngestConfig struct {
	ChunkSize    int   `koanf:"chunk_size"`
	ChunkOverlap int   `koanf:"chunk_overlap"`
	BatchSize    int   `koanf:"batch_size"`
	MaxFileSize  int64 `koanf:"max_file_size"`
	JobWorkers   int   `koanf:"job_workers"`
}

// TelemetryConfig holds OpenTelemetry export settings. Disabled by default;
// when disabled, instrumentation falls back to no-op providers.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		OAuth: OAuthConfig{
			Scopes: []string{
				"https://www.googleapis.com/auth/drive.readonly",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			StateTTL:      Duration(10 * time.Minute),
			SweepInterval: Duration(15 * time.Minute),
			AuthURL:       "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:      "https://oauth2.googleapis.com/token",
			RevokeURL:     "https://oauth2.googleapis.com/revoke",
			UserInfoURL:   "https://www.googleapis.com/oauth2/v2/userinfo",
			DriveAPIURL:   "https://www.googleapis.com/drive/v3",
		},
		Storage: StorageConfig{
			Path:    "./data/connections",
			KeyPath: "./data/token_cipher.key",
		},
		Qdrant: QdrantConfig{
			Host: "localhost",
			Port: 6334,
		},
		Embedding: EmbeddingConfig{
			Model:    "BAAI/bge-small-en-v1.5",
			CacheDir: "./data/models",
		},
		Ingest: IngestConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			BatchSize:    5,
			MaxFileSize:  50 * 1024 * 1024,
			JobWorkers:   4,
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if !c.OAuth.StateSecret.IsSet() {
		return fmt.Errorf("oauth.state_secret is required")
	}
	if c.OAuth.StateTTL.Duration() <= 0 {
		return fmt.Errorf("oauth.state_ttl must be > 0")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.KeyPath == "" {
		return fmt.Errorf("storage.key_path is required")
	}
	if c.Qdrant.Host == "" {
		return fmt.Errorf("qdrant.host is required")
	}
	if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("qdrant.port must be in (0, 65535], got %d", c.Qdrant.Port)
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be > 0")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be > 0")
	}
	if c.Ingest.JobWorkers <= 0 {
		return fmt.Errorf("ingest.job_workers must be > 0")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be in [0, 1]")
	}
	return nil
}
