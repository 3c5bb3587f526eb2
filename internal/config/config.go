// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SnapshotFileName is the runtime settings file written into the data dir.
const SnapshotFileName = "config.json"

// Config holds the settings shared by the server and the CLI.
type Config struct {
	Port      string `mapstructure:"port" json:"port" yaml:"port"`
	DataDir   string `mapstructure:"data_dir" json:"data_dir" yaml:"data_dir"`
	LogDir    string `mapstructure:"log_dir" json:"log_dir" yaml:"log_dir"`
	DebugMode bool   `mapstructure:"debug_mode" json:"debug_mode" yaml:"debug_mode"`

	// StoreBackend is "file" or "sqlite".
	StoreBackend string `mapstructure:"store_backend" json:"store_backend" yaml:"store_backend"`
	SQLitePath   string `mapstructure:"sqlite_path" json:"sqlite_path" yaml:"sqlite_path"`
	NATSURL      string `mapstructure:"nats_url" json:"nats_url,omitempty" yaml:"nats_url"`

	// AuthSecret enables bearer tokens; it is never written to the snapshot.
	AuthSecret         string        `mapstructure:"auth_secret" json:"-" yaml:"auth_secret"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl" json:"cache_ttl" yaml:"cache_ttl"`

	// client side
	ServerURL string `mapstructure:"server_url" json:"server_url" yaml:"server_url"`
	UserID    string `mapstructure:"user_id" json:"user_id,omitempty" yaml:"user_id"`
	Token     string `mapstructure:"token" json:"-" yaml:"token"`
}

var keys = []string{
	"port", "data_dir", "log_dir", "debug_mode",
	"store_backend", "sqlite_path", "nats_url",
	"auth_secret", "rate_limit_per_minute", "cache_ttl",
	"server_url", "user_id", "token",
}

// Load reads configuration with precedence ENV (BRC_*) > config file > defaults.
// A .env file in the working directory is loaded into the environment first.
// configPath may be empty, in which case ./brc.yaml is used when present.
func Load(configPath string) (*Config, error) {
	// optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("port", "8080")
	v.SetDefault("data_dir", "data")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("debug_mode", false)
	v.SetDefault("store_backend", "file")
	v.SetDefault("sqlite_path", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("auth_secret", "")
	v.SetDefault("rate_limit_per_minute", 120)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("user_id", "")
	v.SetDefault("token", "")

	v.SetEnvPrefix("BRC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key, "BRC_"+strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("binding %s env: %w", key, err)
		}
	}

	if configPath == "" && fileExists(ProjectPath()) {
		configPath = ProjectPath()
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "brc.db")
	}
	return &cfg, nil
}

// Validate checks values viper cannot check by type.
func (c *Config) Validate() error {
	switch strings.ToLower(c.StoreBackend) {
	case "file", "sqlite":
	default:
		return fmt.Errorf("store_backend must be file or sqlite, got %q", c.StoreBackend)
	}
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must not be negative")
	}
	return nil
}

// ProjectPath returns the project-local config path.
func ProjectPath() string {
	return "brc.yaml"
}

// SnapshotPath returns where SaveSnapshot writes.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, SnapshotFileName)
}

// SaveSnapshot writes the effective server settings to the data dir.
// Secrets are left out.
func (c *Config) SaveSnapshot() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(c.SnapshotPath(), data, 0644); err != nil {
		return fmt.Errorf("writing config snapshot: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
