package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/felo/mailstore/internal/db"
)

// EnvPrefix prefixes environment overrides: MAILSTORE_DATA_DIR,
// MAILSTORE_POOL_MAX_OPEN_CONNS and so on.
const EnvPrefix = "MAILSTORE"

// Config holds application configuration
type Config struct {
	// DataDir holds the database and any legacy JSON files
	DataDir string `mapstructure:"data_dir"`
	// DBFile is the database file name, relative to DataDir unless absolute
	DBFile   string      `mapstructure:"db_file"`
	LogLevel string      `mapstructure:"log_level"`
	Pool     PoolConfig  `mapstructure:"pool"`
	User     UserConfig  `mapstructure:"user"`
	Queue    QueueConfig `mapstructure:"queue"`
}

// PoolConfig tunes the connection pool
type PoolConfig struct {
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	BusyTimeout  time.Duration `mapstructure:"busy_timeout"`
	CacheSizeKB  int           `mapstructure:"cache_size_kb"`
	MmapSize     int64         `mapstructure:"mmap_size"`
}

// UserConfig describes the local account
type UserConfig struct {
	Email       string `mapstructure:"email"`
	DisplayName string `mapstructure:"display_name"`
}

// QueueConfig configures the delivery queue
type QueueConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	pool := db.DefaultPoolOptions()

	return &Config{
		DataDir:  filepath.Join(homeDir, ".mailstore"),
		DBFile:   "mailstore.db",
		LogLevel: "info",
		Pool: PoolConfig{
			MaxOpenConns: pool.MaxOpenConns,
			BusyTimeout:  pool.BusyTimeout,
			CacheSizeKB:  pool.CacheSizeKB,
			MmapSize:     pool.MmapSize,
		},
		User: UserConfig{
			Email:       "user@localhost",
			DisplayName: "Local User",
		},
		Queue: QueueConfig{MaxAttempts: 3},
	}
}

// New returns a viper instance carrying the defaults and reading
// MAILSTORE_ environment overrides.
func New() *viper.Viper {
	d := Default()
	v := viper.New()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("db_file", d.DBFile)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("pool.max_open_conns", d.Pool.MaxOpenConns)
	v.SetDefault("pool.busy_timeout", d.Pool.BusyTimeout)
	v.SetDefault("pool.cache_size_kb", d.Pool.CacheSizeKB)
	v.SetDefault("pool.mmap_size", d.Pool.MmapSize)
	v.SetDefault("user.email", d.User.Email)
	v.SetDefault("user.display_name", d.User.DisplayName)
	v.SetDefault("queue.max_attempts", d.Queue.MaxAttempts)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from the YAML file at path, or from config.yaml
// in the working directory or the default data directory when path is empty.
// A .env file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	return Read(New(), path)
}

// Read is Load on a prepared viper instance, for callers that bind flags.
func Read(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Default().DataDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	return cfg, nil
}

// DBPath returns the database file path
func (c *Config) DBPath() string {
	if filepath.IsAbs(c.DBFile) {
		return c.DBFile
	}
	return filepath.Join(c.DataDir, c.DBFile)
}

// PoolOptions converts the pool section for db.OpenPool
func (c *Config) PoolOptions() db.PoolOptions {
	return db.PoolOptions{
		MaxOpenConns: c.Pool.MaxOpenConns,
		BusyTimeout:  c.Pool.BusyTimeout,
		CacheSizeKB:  c.Pool.CacheSizeKB,
		MmapSize:     c.Pool.MmapSize,
	}
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
