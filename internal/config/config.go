// Package config provides configuration management for prt.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultStateDirName is the per-user state directory under $HOME
	DefaultStateDirName = ".prt"
	// DefaultKeyBits matches the key strength prt has always generated
	DefaultKeyBits = 8192
	// MinKeyBits is the weakest RSA key prt will generate
	MinKeyBits = 2048
	// MaxConcurrency bounds the worker pool regardless of pool size
	MaxConcurrency = 1000

	PrivateKeyFile = "prt_rsa.key"
	PublicKeyFile  = "prt_rsa.pub"
	LogFile        = "prt.log"
)

// Config represents the application configuration structure
type Config struct {
	StateDir       string        `mapstructure:"state-dir"`        // Pools, keys, transcripts and logs live here
	Concurrency    int           `mapstructure:"concurrency"`      // Worker cap (0 = one worker per host)
	Timeout        time.Duration `mapstructure:"timeout"`          // Per-host session timeout (0 = none)
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`  // TCP dial timeout (0 = OS default)
	DialRate       float64       `mapstructure:"dial-rate"`        // New sessions per second (0 = unlimited)
	KeyBits        int           `mapstructure:"key-bits"`         // RSA size for a freshly generated identity
	StrictHostKeys bool          `mapstructure:"strict-host-keys"` // Reject hosts missing from known_hosts
	KnownHosts     []string      `mapstructure:"known-hosts"`      // known_hosts files consulted for host keys
	Color          string        `mapstructure:"color"`            // auto, always or never
	Progress       bool          `mapstructure:"progress"`         // Show a progress bar while dispatching
	LogLevel       string        `mapstructure:"log-level"`        // debug, info or error
	LogFormat      string        `mapstructure:"log-format"`       // text or json
	LogFile        string        `mapstructure:"log-file"`         // Log destination ("" = state dir, "-" = stderr)
	Quiet          bool          `mapstructure:"quiet"`            // Suppress informational log entries
}

// PrivateKeyPath returns the fixed location of the shared private key
func (c *Config) PrivateKeyPath() string {
	return filepath.Join(c.StateDir, PrivateKeyFile)
}

// PublicKeyPath returns the fixed location of the shared public key
func (c *Config) PublicKeyPath() string {
	return filepath.Join(c.StateDir, PublicKeyFile)
}

// TranscriptPath returns the append-only transcript for a pool
func (c *Config) TranscriptPath(pool string) string {
	return filepath.Join(c.StateDir, pool+"_output.txt")
}

// LogPath returns the log destination; "-" means stderr
func (c *Config) LogPath() string {
	if c.LogFile == "" {
		return filepath.Join(c.StateDir, LogFile)
	}
	return c.LogFile
}

// Manager defines the interface for configuration management
type Manager interface {
	// Load reads configuration from all sources (files, env vars, bound flags)
	Load() (*Config, error)

	// SetDefaults establishes default configuration values
	SetDefaults()

	// BindFlags lets explicitly set command-line flags override other sources
	BindFlags(flags *pflag.FlagSet) error

	// Validate ensures configuration values are valid and consistent
	Validate(config *Config) error
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	v          *viper.Viper
	configFile string
}

// NewManager creates a new configuration manager. configFile may be empty,
// in which case the standard search paths are used.
func NewManager(configFile string) Manager {
	return &ViperManager{
		v:          viper.New(),
		configFile: configFile,
	}
}

// DefaultStateDir returns ~/.prt, or .prt in the working directory when the
// home directory cannot be determined.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultStateDirName
	}
	return filepath.Join(home, DefaultStateDirName)
}

// DefaultKnownHosts returns the user and system known_hosts files
func DefaultKnownHosts() []string {
	files := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(home, ".ssh", "known_hosts"))
	}
	return append(files, "/etc/ssh/ssh_known_hosts")
}

// SetDefaults establishes default configuration values
func (m *ViperManager) SetDefaults() {
	m.v.SetDefault("state-dir", DefaultStateDir())
	m.v.SetDefault("concurrency", 0)
	m.v.SetDefault("timeout", time.Duration(0)) // No per-host timeout unless asked for
	m.v.SetDefault("connect-timeout", time.Duration(0))
	m.v.SetDefault("dial-rate", 0.0)
	m.v.SetDefault("key-bits", DefaultKeyBits)
	m.v.SetDefault("strict-host-keys", false)
	m.v.SetDefault("known-hosts", DefaultKnownHosts())
	m.v.SetDefault("color", "auto")
	m.v.SetDefault("progress", false)
	m.v.SetDefault("log-level", "info")
	m.v.SetDefault("log-format", "text")
	m.v.SetDefault("log-file", "")
	m.v.SetDefault("quiet", false)
}

// BindFlags binds command-line flags to configuration keys of the same name
func (m *ViperManager) BindFlags(flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || !m.isConfigKey(f.Name) {
			return
		}
		if err := m.v.BindPFlag(f.Name, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag --%s: %w", f.Name, err)
		}
	})
	return bindErr
}

func (m *ViperManager) isConfigKey(name string) bool {
	for _, key := range ConfigKeys() {
		if key == name {
			return true
		}
	}
	return false
}

// Load reads configuration from all sources with proper precedence
func (m *ViperManager) Load() (*Config, error) {
	m.SetDefaults()

	if m.configFile != "" {
		m.v.SetConfigFile(m.configFile)
	} else {
		m.v.SetConfigName("config")
		m.v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			m.v.AddConfigPath(filepath.Join(homeDir, ".config", "prt"))
		}
		m.v.AddConfigPath("/etc/prt/")
	}

	m.v.SetEnvPrefix("PRT")
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.StateDir = expandHome(config.StateDir)
	if config.LogFile != "-" {
		config.LogFile = expandHome(config.LogFile)
	}
	for i, path := range config.KnownHosts {
		config.KnownHosts[i] = expandHome(path)
	}

	if err := m.Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate ensures configuration values are valid and consistent
func (m *ViperManager) Validate(config *Config) error {
	if strings.TrimSpace(config.StateDir) == "" {
		return fmt.Errorf("state-dir must not be empty")
	}

	if config.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative, got %d", config.Concurrency)
	}
	if config.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency too high: %d (maximum %d)", config.Concurrency, MaxConcurrency)
	}

	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", config.Timeout)
	}
	if config.ConnectTimeout < 0 {
		return fmt.Errorf("connect-timeout must be non-negative, got %v", config.ConnectTimeout)
	}
	if config.DialRate < 0 {
		return fmt.Errorf("dial-rate must be non-negative, got %v", config.DialRate)
	}

	if config.KeyBits < MinKeyBits {
		return fmt.Errorf("key-bits must be at least %d, got %d", MinKeyBits, config.KeyBits)
	}

	validColors := map[string]bool{"auto": true, "always": true, "never": true}
	if !validColors[config.Color] {
		return fmt.Errorf("invalid color mode '%s': must be one of 'auto', 'always' or 'never'", config.Color)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "error": true}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level '%s': must be one of 'debug', 'info' or 'error'", config.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.LogFormat] {
		return fmt.Errorf("invalid log format '%s': must be one of 'json' or 'text'", config.LogFormat)
	}

	return nil
}

// ConfigKeys returns every configuration key; each is also a flag name and,
// upper-cased with a PRT_ prefix, an environment variable.
func ConfigKeys() []string {
	return []string{
		"state-dir",
		"concurrency",
		"timeout",
		"connect-timeout",
		"dial-rate",
		"key-bits",
		"strict-host-keys",
		"known-hosts",
		"color",
		"progress",
		"log-level",
		"log-format",
		"log-file",
		"quiet",
	}
}

// GetEnvVarNames returns a list of all supported environment variable names
func GetEnvVarNames() []string {
	keys := ConfigKeys()
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, "PRT_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")))
	}
	return names
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
