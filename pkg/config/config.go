/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/AdrianIt2306/OpenMVS/pkg/codec"
	"github.com/AdrianIt2306/OpenMVS/pkg/framing"
)

// Sentinel validation errors
var (
	ErrInvalidAddr = errors.New("transport address is required")
	ErrInvalidPort = errors.New("invalid api port")
	ErrInvalidPath = errors.New("output directory is required")
)

// EnvPrefix prefixes every environment override, e.g. BRIDGE_SPOOL_ADDR
const EnvPrefix = "BRIDGE"

// Config represents the OpenMVS bridge configuration
type Config struct {
	Spool   Transport `yaml:"spool" mapstructure:"spool"`
	Watch   Transport `yaml:"watch" mapstructure:"watch"`
	Dialect Dialect   `yaml:"dialect" mapstructure:"dialect"`
	Paths   Paths     `yaml:"paths" mapstructure:"paths"`
	Archive Archive   `yaml:"archive" mapstructure:"archive"`
	API     API       `yaml:"api" mapstructure:"api"`
	Logging Logging   `yaml:"logging" mapstructure:"logging"`
}

// Transport configures one emulator connection
type Transport struct {
	Addr           string        `yaml:"addr" mapstructure:"addr"`
	Codec          string        `yaml:"codec" mapstructure:"codec"`
	ReadSize       int           `yaml:"read_size" mapstructure:"read_size"`
	RefusedDelay   time.Duration `yaml:"refused_delay" mapstructure:"refused_delay"`
	ErrorDelay     time.Duration `yaml:"error_delay" mapstructure:"error_delay"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`
}

// MarshalYAML writes durations as Go duration strings
func (t Transport) MarshalYAML() (interface{}, error) {
	return struct {
		Addr           string `yaml:"addr"`
		Codec          string `yaml:"codec"`
		ReadSize       int    `yaml:"read_size"`
		RefusedDelay   string `yaml:"refused_delay"`
		ErrorDelay     string `yaml:"error_delay"`
		ReconnectDelay string `yaml:"reconnect_delay"`
	}{
		Addr:           t.Addr,
		Codec:          t.Codec,
		ReadSize:       t.ReadSize,
		RefusedDelay:   t.RefusedDelay.String(),
		ErrorDelay:     t.ErrorDelay.String(),
		ReconnectDelay: t.ReconnectDelay.String(),
	}, nil
}

// Dialect holds the record marker patterns
type Dialect struct {
	Start  string `yaml:"start" mapstructure:"start"`
	ID     string `yaml:"id" mapstructure:"id"`
	End    string `yaml:"end" mapstructure:"end"`
	Window int    `yaml:"window" mapstructure:"window"`
}

// Paths holds the artifact locations shared by the components
type Paths struct {
	OutDir     string `yaml:"out_dir" mapstructure:"out_dir"`
	LogDir     string `yaml:"log_dir" mapstructure:"log_dir"`
	PIDDir     string `yaml:"pid_dir" mapstructure:"pid_dir"`
	ReadyFile  string `yaml:"ready_file" mapstructure:"ready_file"`
	CatalogDir string `yaml:"catalog_dir" mapstructure:"catalog_dir"`
}

// Archive configures the raw session archive
type Archive struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	FsyncInterval time.Duration `yaml:"fsync_interval" mapstructure:"fsync_interval"`
	BufferSize    int           `yaml:"buffer_size" mapstructure:"buffer_size"`
}

// MarshalYAML writes durations as Go duration strings
func (a Archive) MarshalYAML() (interface{}, error) {
	return struct {
		Enabled       bool   `yaml:"enabled"`
		FsyncInterval string `yaml:"fsync_interval"`
		BufferSize    int    `yaml:"buffer_size"`
	}{
		Enabled:       a.Enabled,
		FsyncInterval: a.FsyncInterval.String(),
		BufferSize:    a.BufferSize,
	}, nil
}

// API configures the read-only HTTP surface
type API struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Bind    string `yaml:"bind" mapstructure:"bind"`
	Port    int    `yaml:"port" mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// Logging contains logging configuration
type Logging struct {
	Level      string `yaml:"level" mapstructure:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	Console    bool   `yaml:"console" mapstructure:"console"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Spool: Transport{
			Addr:           "127.0.0.1:5000",
			Codec:          string(codec.ModeNative),
			ReadSize:       64 * 1024,
			RefusedDelay:   500 * time.Millisecond,
			ErrorDelay:     time.Second,
			ReconnectDelay: 200 * time.Millisecond,
		},
		Watch: Transport{
			Addr:           "127.0.0.1:5002",
			Codec:          string(codec.ModeNative),
			ReadSize:       64 * 1024,
			RefusedDelay:   700 * time.Millisecond,
			ErrorDelay:     time.Second,
			ReconnectDelay: 300 * time.Millisecond,
		},
		Dialect: Dialect{
			Start:  framing.DefaultStartPattern,
			ID:     framing.DefaultIDPattern,
			End:    framing.DefaultEndPattern,
			Window: framing.DefaultWindow,
		},
		Paths: Paths{
			OutDir: "./spool",
			LogDir: "./logs",
			PIDDir: "./pids",
		},
		Archive: Archive{
			Enabled:       true,
			FsyncInterval: time.Second,
			BufferSize:    64 * 1024,
		},
		API: API{
			Enabled: true,
			Bind:    "0.0.0.0",
			Port:    8000,
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// legacyEnv maps configuration keys to the variable names the bridge
// scripts used before the BRIDGE_<SECTION>_<KEY> scheme
var legacyEnv = map[string]string{
	"paths.out_dir":    "BRIDGE_OUTDIR",
	"paths.log_dir":    "BRIDGE_LOGDIR",
	"paths.pid_dir":    "BRIDGE_PIDDIR",
	"paths.ready_file": "BRIDGE_READYFILE",
	"api.port":         "API_PORT",
}

// LoadConfig loads configuration from the file at configPath (optional)
// and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(GetDefaultConfigPath()))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		modern := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, modern, legacy); err != nil {
			return nil, fmt.Errorf("bind %s: %w", legacy, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	for name, t := range map[string]Transport{"spool": d.Spool, "watch": d.Watch} {
		v.SetDefault(name+".addr", t.Addr)
		v.SetDefault(name+".codec", t.Codec)
		v.SetDefault(name+".read_size", t.ReadSize)
		v.SetDefault(name+".refused_delay", t.RefusedDelay)
		v.SetDefault(name+".error_delay", t.ErrorDelay)
		v.SetDefault(name+".reconnect_delay", t.ReconnectDelay)
	}

	v.SetDefault("dialect.start", d.Dialect.Start)
	v.SetDefault("dialect.id", d.Dialect.ID)
	v.SetDefault("dialect.end", d.Dialect.End)
	v.SetDefault("dialect.window", d.Dialect.Window)

	v.SetDefault("paths.out_dir", d.Paths.OutDir)
	v.SetDefault("paths.log_dir", d.Paths.LogDir)
	v.SetDefault("paths.pid_dir", d.Paths.PIDDir)
	v.SetDefault("paths.ready_file", d.Paths.ReadyFile)
	v.SetDefault("paths.catalog_dir", d.Paths.CatalogDir)

	v.SetDefault("archive.enabled", d.Archive.Enabled)
	v.SetDefault("archive.fsync_interval", d.Archive.FsyncInterval)
	v.SetDefault("archive.buffer_size", d.Archive.BufferSize)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.bind", d.API.Bind)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("api.api_key", d.API.APIKey)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.console", d.Logging.Console)
}

// Validate checks the configuration for values the components cannot use
func (c *Config) Validate() error {
	for name, t := range map[string]Transport{"spool": c.Spool, "watch": c.Watch} {
		if strings.TrimSpace(t.Addr) == "" {
			return fmt.Errorf("%s: %w", name, ErrInvalidAddr)
		}
		if _, err := codec.ParseMode(t.Codec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if _, err := c.Dialect.Compile(); err != nil {
		return fmt.Errorf("dialect: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutDir) == "" {
		return ErrInvalidPath
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.API.Port)
	}
	return nil
}

// Compile builds the marker strategy described by d
func (d Dialect) Compile() (*framing.PatternDialect, error) {
	return framing.NewPatternDialect(framing.DialectConfig{
		Start:  d.Start,
		ID:     d.ID,
		End:    d.End,
		Window: d.Window,
	})
}

// ReadyFilePath returns the readiness marker path, defaulting to a file in
// the pid directory
func (p Paths) ReadyFilePath() string {
	if p.ReadyFile != "" {
		return p.ReadyFile
	}
	if p.PIDDir == "" {
		return ""
	}
	return filepath.Join(p.PIDDir, "console_bridge.ready")
}

// CatalogPath returns the record catalog directory
func (p Paths) CatalogPath() string {
	if p.CatalogDir != "" {
		return p.CatalogDir
	}
	return filepath.Join(p.OutDir, ".catalog")
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write with secure permissions (0600)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateSecureKey generates a cryptographically secure random key
func GenerateSecureKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// BootstrapConfig writes a default configuration rooted at baseDir. When
// withAPIKey is set a random API key protects the HTTP surface.
func BootstrapConfig(configPath string, baseDir string, withAPIKey bool) (*Config, error) {
	config := DefaultConfig()
	if baseDir != "" {
		config.Paths.OutDir = filepath.Join(baseDir, "spool")
		config.Paths.LogDir = filepath.Join(baseDir, "logs")
		config.Paths.PIDDir = filepath.Join(baseDir, "pids")
	}

	if withAPIKey {
		key, err := GenerateSecureKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate api key: %w", err)
		}
		config.API.APIKey = key
	}

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}
	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./openmvs.yaml"
	}

	// For Linux/macOS, use ~/.config/openmvs/config.yaml
	return filepath.Join(homeDir, ".config", "openmvs", "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
