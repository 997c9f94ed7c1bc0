package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"kin-go/internal/resolver"
	"kin-go/internal/scoring"
)

// Config represents the main configuration for kin.
type Config struct {
	HostID        string           `toml:"host_id" validate:"required"`
	DataDir       string           `toml:"data_dir" validate:"required"`
	LogDir        string           `toml:"log_dir"`
	DefaultRegion string           `toml:"default_region" validate:"omitempty,len=2"`
	Database      DatabaseConfig   `toml:"database"`
	People        PeopleConfig     `toml:"people"`
	Resolver      resolver.Options `toml:"resolver"`
	Scoring       scoring.Config   `toml:"scoring"`
	Sync          SyncConfig       `toml:"sync"`
	Adapters      []AdapterConfig  `toml:"adapters" validate:"dive"`
	Server        ServerConfig     `toml:"server"`
	Archive       ArchiveConfig    `toml:"archive"`
}

// DatabaseConfig represents configuration for the relational stores.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`
}

// PeopleConfig represents configuration for the person snapshot.
type PeopleConfig struct {
	Type string `toml:"type" validate:"oneof=file memory"`
	Path string `toml:"path,omitempty" validate:"required_if=Type file"`
}

// SyncConfig bounds adapter calls made by the orchestrator.
type SyncConfig struct {
	AdapterTimeoutSecs int `toml:"adapter_timeout_secs"`
	MaxAttempts        int `toml:"max_attempts"`
	BaseBackoffMillis  int `toml:"base_backoff_ms"`
	Parallelism        int `toml:"parallelism"`
	RefreshTTLMins     int `toml:"refresh_ttl_mins"`
	RefreshCacheSize   int `toml:"refresh_cache_size"`
	// AutoAccept is the link confidence at or above which no pending link is raised.
	AutoAccept float64 `toml:"auto_accept" validate:"gte=0,lte=1"`
}

// AdapterTimeout returns the per-call timeout, defaulting to 60s.
func (s SyncConfig) AdapterTimeout() time.Duration {
	if s.AdapterTimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.AdapterTimeoutSecs) * time.Second
}

// BaseBackoff returns the first retry interval, defaulting to 500ms.
func (s SyncConfig) BaseBackoff() time.Duration {
	if s.BaseBackoffMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(s.BaseBackoffMillis) * time.Millisecond
}

// AutoAcceptConfidence returns the auto-accept bar, defaulting to 0.95.
func (s SyncConfig) AutoAcceptConfidence() float64 {
	if s.AutoAccept <= 0 {
		return 0.95
	}
	return s.AutoAccept
}

// RefreshTTL returns how long a per-person refresh is cached, defaulting to 30m.
func (s SyncConfig) RefreshTTL() time.Duration {
	if s.RefreshTTLMins <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.RefreshTTLMins) * time.Minute
}

// AdapterConfig represents one observation source.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type AdapterConfig struct {
	Type       string `toml:"type" validate:"oneof=jsonl xlsx http"`
	Name       string `toml:"name" validate:"required"`
	Phase      int    `toml:"phase" validate:"gte=0"`
	SourceType string `toml:"source_type,omitempty"`

	// File-backed fields (jsonl, xlsx)
	Path  string `toml:"path,omitempty" validate:"required_unless=Type http"`
	Sheet string `toml:"sheet,omitempty"`

	// HTTP-specific fields
	URL      string `toml:"url,omitempty" validate:"required_if=Type http"`
	TokenEnv string `toml:"token_env,omitempty"`

	// Exclude lists sender patterns (gitignore-style globs over the email) never ingested.
	Exclude []string `toml:"exclude,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// ArchiveConfig configures the encrypted snapshot archive.
type ArchiveConfig struct {
	Enabled    bool             `toml:"enabled"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for an archive backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
	// S3AccessKeyEnv and S3SecretKeyEnv name environment variables holding
	// static credentials. When unset the default AWS credential chain is used.
	S3AccessKeyEnv string `toml:"s3_access_key_env,omitempty"`
	S3SecretKeyEnv string `toml:"s3_secret_key_env,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// NewConfig creates a new Config rooted at dataDir with default settings.
func NewConfig(hostID, dataDir string) *Config {
	return &Config{
		HostID:        hostID,
		DataDir:       dataDir,
		LogDir:        filepath.Join(dataDir, "log"),
		DefaultRegion: "US",
		Database:      DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(dataDir, "db")},
		People:        PeopleConfig{Type: "file", Path: filepath.Join(dataDir, "people.json")},
		Resolver:      resolver.DefaultOptions(),
		Scoring:       scoring.DefaultConfig(),
		Sync: SyncConfig{
			AdapterTimeoutSecs: 60,
			MaxAttempts:        3,
			BaseBackoffMillis:  500,
			Parallelism:        4,
			RefreshTTLMins:     30,
			RefreshCacheSize:   256,
			AutoAccept:         0.95,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8787"},
		Archive: ArchiveConfig{
			Vault: VaultConfig{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(dataDir, "archive")},
			Encryption: EncryptionConfig{
				Type:           "age",
				PublicKeyPath:  filepath.Join(dataDir, "keys", "kin.pub"),
				PrivateKeyPath: filepath.Join(dataDir, "keys", "kin.key"),
			},
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the tagged unions and required fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	names := make(map[string]bool, len(c.Adapters))
	for _, a := range c.Adapters {
		if names[a.Name] {
			return fmt.Errorf("invalid config: duplicate adapter name %q", a.Name)
		}
		names[a.Name] = true
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file. It refuses to overwrite an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
