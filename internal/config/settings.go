// Package config loads application settings and persists the configured sync pairs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/logger"
)

// EnvPrefix prefixes every environment override, e.g. VAULTSYNC_DATA_DIR
const EnvPrefix = "VAULTSYNC"

// Settings is the application configuration
type Settings struct {
	DataDir  string           `mapstructure:"data_dir"`
	Log      LogSettings      `mapstructure:"log"`
	Daemon   DaemonSettings   `mapstructure:"daemon"`
	Watcher  WatcherSettings  `mapstructure:"watcher"`
	Transfer TransferSettings `mapstructure:"transfer"`
	GDrive   GDriveSettings   `mapstructure:"gdrive"`
}

// LogSettings controls logger output and rotation
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DaemonSettings controls the background worker
type DaemonSettings struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// WatcherSettings controls local change detection
type WatcherSettings struct {
	Debounce  time.Duration `mapstructure:"debounce"`
	Extension string        `mapstructure:"extension"`
}

// TransferSettings controls retry behaviour
type TransferSettings struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// GDriveSettings holds the OAuth client for the Drive vault
type GDriveSettings struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenPath    string `mapstructure:"token_path"`
}

// DefaultConfigPaths returns the default paths to search for config.yaml
func DefaultConfigPaths() []string {
	paths := []string{"."}

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "vaultsync"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".vaultsync"))
	}
	return paths
}

// DefaultDataDir returns ~/.vaultsync, falling back to the working directory
func DefaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".vaultsync")
	}
	return ".vaultsync"
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("daemon.poll_interval", 30*time.Second)
	v.SetDefault("watcher.debounce", 300*time.Millisecond)
	v.SetDefault("watcher.extension", ".md")
	v.SetDefault("transfer.max_attempts", 3)
	v.SetDefault("transfer.base_delay", 500*time.Millisecond)
	v.SetDefault("gdrive.client_id", "")
	v.SetDefault("gdrive.client_secret", "")
	v.SetDefault("gdrive.token_path", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings reads config.yaml from path, or from the default locations when
// path is empty. A missing file in the default locations yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		switch {
		case missing && path != "":
			return nil, domain.ErrConfigNotFound
		case missing:
			// defaults and environment only
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	}

	return decode(v)
}

// LoadSettingsFromString parses settings from YAML content
func LoadSettingsFromString(yamlContent string) (*Settings, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	s.DataDir = expandHome(s.DataDir)
	s.GDrive.TokenPath = expandHome(s.GDrive.TokenPath)
	if s.GDrive.TokenPath == "" {
		s.GDrive.TokenPath = filepath.Join(s.DataDir, "gdrive-token.json")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings for values the engine cannot work with
func (s *Settings) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("%w: data_dir cannot be empty", domain.ErrConfigInvalid)
	}
	if s.Transfer.MaxAttempts < 1 {
		return fmt.Errorf("%w: transfer.max_attempts must be at least 1", domain.ErrConfigInvalid)
	}
	if s.Transfer.BaseDelay < 0 {
		return fmt.Errorf("%w: transfer.base_delay cannot be negative", domain.ErrConfigInvalid)
	}
	if s.Daemon.PollInterval <= 0 {
		return fmt.Errorf("%w: daemon.poll_interval must be positive", domain.ErrConfigInvalid)
	}
	if s.Watcher.Debounce <= 0 {
		return fmt.Errorf("%w: watcher.debounce must be positive", domain.ErrConfigInvalid)
	}
	if !strings.HasPrefix(s.Watcher.Extension, ".") {
		return fmt.Errorf("%w: watcher.extension must start with a dot", domain.ErrConfigInvalid)
	}
	return nil
}

// SyncsPath is the sync pair store
func (s *Settings) SyncsPath() string {
	return filepath.Join(s.DataDir, "syncs.yaml")
}

// PIDPath is the daemon PID record
func (s *Settings) PIDPath() string {
	return filepath.Join(s.DataDir, "daemon.pid")
}

// DaemonLogPath is the daemon worker's log file
func (s *Settings) DaemonLogPath() string {
	return filepath.Join(s.DataDir, "daemon.log")
}

// LoggerConfig builds the logger configuration. The daemon logs to its file
// only; interactive commands log to stderr.
func (s *Settings) LoggerConfig(daemon bool) logger.Config {
	cfg := logger.Config{
		Level:  logger.ParseLevel(s.Log.Level),
		Format: logger.ParseFormat(s.Log.Format),
	}
	if !daemon {
		cfg.Outputs = []logger.OutputConfig{{Type: logger.OutputStderr}}
		return cfg
	}

	cfg.Outputs = []logger.OutputConfig{{Type: logger.OutputFile}}
	cfg.File = logger.FileConfig{
		Enabled:    true,
		Path:       s.DaemonLogPath(),
		MaxSizeMB:  s.Log.MaxSizeMB,
		MaxAgeDays: s.Log.MaxAgeDays,
		MaxBackups: s.Log.MaxBackups,
	}
	return cfg
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
