// Package config provides configuration management for the klasslink tools.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/klasslink/pkg/telemetry"
)

// Config holds all configuration for the application.
type Config struct {
	ClassPath    ClassPathConfig    `mapstructure:"classpath"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Redefinition RedefinitionConfig `mapstructure:"redefinition"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Telemetry    telemetry.Config   `mapstructure:"telemetry"`
	Log          LogConfig          `mapstructure:"log"`
}

// ClassPathConfig describes where the bootstrap loader reads class bytes.
type ClassPathConfig struct {
	// Entries are searched in order. For local storage each entry is a
	// directory; for cos storage each entry is a key prefix.
	Entries []string      `mapstructure:"entries"`
	Storage StorageConfig `mapstructure:"storage"`
}

// StorageConfig holds class-byte storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // local, cos or memory
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"` // e.g. "myqcloud.com"
	Scheme    string `mapstructure:"scheme"` // "https" or "http"
	Endpoint  string `mapstructure:"endpoint"` // overrides the bucket URL
}

// RegistryConfig holds class registry configuration.
type RegistryConfig struct {
	PreloadWorkers int      `mapstructure:"preload_workers"`
	Preload        []string `mapstructure:"preload"`
}

// RedefinitionConfig holds hot-swap configuration.
type RedefinitionConfig struct {
	// Capability is method_body, add_method or arbitrary.
	Capability          string `mapstructure:"capability"`
	PersistFingerprints bool   `mapstructure:"persist_fingerprints"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // postgres, mysql or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
	Path     string `mapstructure:"path"` // sqlite file, ":memory:" allowed
	// Compression of stored fingerprint payloads: zstd, gzip or none.
	Compression string `mapstructure:"compression"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads configuration from the specified file path. A missing file is
// not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("klasslink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/klasslink")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("KLASSLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return unmarshal(v)
}

// LoadFromReader loads configuration from raw bytes of the given type.
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Telemetry.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration produced by an empty config file.
func Default() *Config {
	cfg, err := LoadFromReader("yaml", nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("classpath.entries", []string{})
	v.SetDefault("classpath.storage.type", "local")
	v.SetDefault("classpath.storage.scheme", "https")
	v.SetDefault("classpath.storage.domain", "myqcloud.com")

	v.SetDefault("registry.preload_workers", 4)
	v.SetDefault("registry.preload", []string{})

	v.SetDefault("redefinition.capability", "method_body")
	v.SetDefault("redefinition.persist_fingerprints", false)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.path", "klasslink.db")
	v.SetDefault("database.compression", "zstd")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "klasslink")
	v.SetDefault("telemetry.service_version", "unknown")
	v.SetDefault("telemetry.protocol", "grpc")
	v.SetDefault("telemetry.always_sample", []string{"redefine."})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.ClassPath.Storage.Type {
	case "local", "memory":
	case "cos":
		if c.ClassPath.Storage.Bucket == "" || c.ClassPath.Storage.Region == "" {
			return fmt.Errorf("cos storage requires bucket and region")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.ClassPath.Storage.Type)
	}

	switch c.Redefinition.Capability {
	case "method_body", "add_method", "arbitrary":
	default:
		return fmt.Errorf("unsupported redefinition capability: %s", c.Redefinition.Capability)
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("sqlite database requires a path")
		}
	case "postgres", "mysql":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	switch c.Database.Compression {
	case "zstd", "gzip", "none":
	default:
		return fmt.Errorf("unsupported database compression: %s", c.Database.Compression)
	}

	if c.Registry.PreloadWorkers < 1 {
		return fmt.Errorf("preload workers must be at least 1")
	}
	return nil
}
