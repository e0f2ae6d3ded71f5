package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Library LibraryConfig `mapstructure:"library"`
	Favicon FaviconConfig `mapstructure:"favicon"`
	Query   QueryConfig   `mapstructure:"query"`
	Search  SearchConfig  `mapstructure:"search"`
	Reader  ReaderConfig  `mapstructure:"reader"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// LibraryConfig locates the archives and the catalog
type LibraryConfig struct {
	DataDir    string   `mapstructure:"data_dir"`    // Where zimshelf.db lives
	Dirs       []string `mapstructure:"dirs"`        // Directories scanned for .zim files
	CatalogURL string   `mapstructure:"catalog_url"` // OPDS catalog base URL
}

// FaviconConfig tunes the favicon fetch coordinator
type FaviconConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"` // 0 = unlimited
	AutoFetch      bool          `mapstructure:"auto_fetch"`      // Fetch favicons for new archives
}

// QueryConfig holds query defaults
type QueryConfig struct {
	Locale         string `mapstructure:"locale"`           // Collation locale for title sorting
	DefaultSortKey string `mapstructure:"default_sort_key"` // Used until the user picks one
	TitleAscending bool   `mapstructure:"title_ascending"`
	SizeAscending  bool   `mapstructure:"size_ascending"`
	DateAscending  bool   `mapstructure:"date_ascending"`
}

// SearchConfig holds search history settings
type SearchConfig struct {
	RecentCap int `mapstructure:"recent_cap"`
}

// ReaderConfig selects the external ZIM reader
type ReaderConfig struct {
	Command string   `mapstructure:"command"` // Empty = auto-detect
	Args    []string `mapstructure:"args"`    // Passed before the file path
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Library: LibraryConfig{
			DataDir:    defaultDataPath(),
			Dirs:       []string{defaultLibraryPath()},
			CatalogURL: "https://library.kiwix.org",
		},
		Favicon: FaviconConfig{
			MaxConcurrent:  4,
			MaxAttempts:    3,
			AttemptTimeout: 10 * time.Second,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			RatePerSecond:  8,
			AutoFetch:      true,
		},
		Query: QueryConfig{
			Locale:         "und",
			DefaultSortKey: string(domain.SortByTitle),
			TitleAscending: true,
			SizeAscending:  false,
			DateAscending:  true,
		},
		Search: SearchConfig{
			RecentCap: 10,
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// DefaultAscending returns the configured default direction for key.
func (q QueryConfig) DefaultAscending(key domain.SortKey) bool {
	switch key {
	case domain.SortBySize:
		return q.SizeAscending
	case domain.SortByDate:
		return q.DateAscending
	default:
		return q.TitleAscending
	}
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if _, err := domain.ParseSortKey(c.Query.DefaultSortKey); err != nil {
		return fmt.Errorf("query.default_sort_key: %w", err)
	}
	if c.Favicon.MaxConcurrent < 0 || c.Favicon.MaxAttempts < 0 {
		return fmt.Errorf("favicon limits must not be negative")
	}
	if c.Search.RecentCap < 0 {
		return fmt.Errorf("search.recent_cap must not be negative")
	}
	return nil
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	return filepath.Join(defaultDataPath(), "zimshelf.log")
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "zimshelf")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "zimshelf")
	}
}

// defaultLibraryPath returns where downloaded archives are kept by default
func defaultLibraryPath() string {
	return filepath.Join(defaultDataPath(), "archives")
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "zimshelf")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "zimshelf")
	}
}

// ConfigFile returns the path SaveConfig writes to.
func ConfigFile() string {
	return filepath.Join(defaultConfigPath(), "config.yaml")
}

// LoadConfig loads configuration from file and environment. An empty
// configFile searches the default locations.
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// Environment variable overrides, e.g. ZIMSHELF_LIBRARY_DATA_DIR
	v.SetEnvPrefix("ZIMSHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	cfg.Library.DataDir = expandHome(cfg.Library.DataDir)
	for i, dir := range cfg.Library.Dirs {
		cfg.Library.Dirs[i] = expandHome(dir)
	}
	cfg.Logging.File = expandHome(cfg.Logging.File)
	cfg.Reader.Command = expandHome(cfg.Reader.Command)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("library.data_dir", cfg.Library.DataDir)
	v.SetDefault("library.dirs", cfg.Library.Dirs)
	v.SetDefault("library.catalog_url", cfg.Library.CatalogURL)

	v.SetDefault("favicon.max_concurrent", cfg.Favicon.MaxConcurrent)
	v.SetDefault("favicon.max_attempts", cfg.Favicon.MaxAttempts)
	v.SetDefault("favicon.attempt_timeout", cfg.Favicon.AttemptTimeout)
	v.SetDefault("favicon.initial_backoff", cfg.Favicon.InitialBackoff)
	v.SetDefault("favicon.max_backoff", cfg.Favicon.MaxBackoff)
	v.SetDefault("favicon.rate_per_second", cfg.Favicon.RatePerSecond)
	v.SetDefault("favicon.auto_fetch", cfg.Favicon.AutoFetch)

	v.SetDefault("query.locale", cfg.Query.Locale)
	v.SetDefault("query.default_sort_key", cfg.Query.DefaultSortKey)
	v.SetDefault("query.title_ascending", cfg.Query.TitleAscending)
	v.SetDefault("query.size_ascending", cfg.Query.SizeAscending)
	v.SetDefault("query.date_ascending", cfg.Query.DateAscending)

	v.SetDefault("search.recent_cap", cfg.Search.RecentCap)

	v.SetDefault("reader.command", cfg.Reader.Command)
	v.SetDefault("reader.args", cfg.Reader.Args)

	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

// SaveConfig writes cfg to path, or to the default location when path is empty.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = ConfigFile()
	}

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v, cfg)

	// Durations are written as strings so the file stays readable
	v.Set("favicon.attempt_timeout", cfg.Favicon.AttemptTimeout.String())
	v.Set("favicon.initial_backoff", cfg.Favicon.InitialBackoff.String())
	v.Set("favicon.max_backoff", cfg.Favicon.MaxBackoff.String())

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandHome expands a leading ~ to the user's home directory
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
