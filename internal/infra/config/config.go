package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app" yaml:"app"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	Extract ExtractConfig `mapstructure:"extract" yaml:"extract"`
	Runtime RuntimeConfig `mapstructure:"runtime" yaml:"runtime"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

type AppConfig struct {
	// ID is the package/bundle identifier baked into the payload file name.
	ID            string `mapstructure:"id" yaml:"id"`
	PayloadPrefix string `mapstructure:"payload_prefix" yaml:"payload_prefix"`
	PayloadSuffix string `mapstructure:"payload_suffix" yaml:"payload_suffix"`
}

type StorageConfig struct {
	Root         string `mapstructure:"root" yaml:"root"`
	BundleDir    string `mapstructure:"bundle_dir" yaml:"bundle_dir"`
	BundleSuffix string `mapstructure:"bundle_suffix" yaml:"bundle_suffix"`
}

type RemoteConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	URLBase64      bool          `mapstructure:"url_base64" yaml:"url_base64"`
	OfflineOnly    bool          `mapstructure:"offline_only" yaml:"offline_only"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	HeaderTimeout  time.Duration `mapstructure:"header_timeout" yaml:"header_timeout"`
}

type ExtractConfig struct {
	ChunkSize      int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	ProgressWeight int           `mapstructure:"progress_weight" yaml:"progress_weight"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type RuntimeConfig struct {
	Binary string   `mapstructure:"binary" yaml:"binary"`
	Args   []string `mapstructure:"args" yaml:"args"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultChunkSize      = 32 * 1024
	defaultProgressWeight = 75
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("app.payload_prefix", "main.83")
	v.SetDefault("app.payload_suffix", ".iso")
	v.SetDefault("storage.root", "./data/obb")
	v.SetDefault("storage.bundle_dir", "./assets/data")
	v.SetDefault("storage.bundle_suffix", ".zip")
	v.SetDefault("remote.connect_timeout", "15s")
	v.SetDefault("remote.header_timeout", "30s")
	v.SetDefault("extract.chunk_size", defaultChunkSize)
	v.SetDefault("extract.progress_weight", defaultProgressWeight)
	v.SetDefault("runtime.args", []string{"{path}"})
	v.SetDefault("log.path", "isoload.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "./data/isoload.db")
}

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// FALLBACK: inside a container the config is mounted under /config
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else if _, errEx := os.Stat("config.yaml.example"); errEx == nil {
				return nil, fmt.Errorf("configuration file 'config.yaml' not found\n\n" +
					"To fix this, run:\n" +
					"  cp config.yaml.example config.yaml\n" +
					"Then set app.id and the payload source.")
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return finish(v)
}

// FromEnv builds a config from defaults and ISOLOAD_* variables only.
func FromEnv() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return finish(v)
}

// envOnlyKeys have no default, so AutomaticEnv alone would not surface them in Unmarshal.
var envOnlyKeys = []string{
	"app.id",
	"remote.url",
	"remote.url_base64",
	"remote.offline_only",
	"extract.timeout",
	"runtime.binary",
	"store.postgres_dsn",
}

func finish(v *viper.Viper) (*Config, error) {
	// Support Environment Variables
	v.SetEnvPrefix("ISOLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.App.ID == "" {
		return errors.New("app.id is required")
	}

	if strings.ContainsAny(c.App.ID, `/\`) {
		return fmt.Errorf("app.id %q must not contain path separators", c.App.ID)
	}

	if c.Storage.Root == "" {
		return errors.New("storage.root is required")
	}

	c.App.PayloadSuffix = normalizeSuffix(c.App.PayloadSuffix, ".iso")
	c.Storage.BundleSuffix = normalizeSuffix(c.Storage.BundleSuffix, ".zip")

	if c.Remote.OfflineOnly && c.Remote.URL != "" {
		fmt.Println("Warning: remote.offline_only is set, remote.url will be ignored")
	}

	if c.Extract.ChunkSize <= 0 {
		c.Extract.ChunkSize = defaultChunkSize
	}

	if c.Extract.ProgressWeight <= 0 || c.Extract.ProgressWeight > 100 {
		return fmt.Errorf("extract.progress_weight must be in 1..100, got %d", c.Extract.ProgressWeight)
	}

	switch c.Store.Driver {
	case "", DriverSQLite:
		c.Store.Driver = DriverSQLite
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	return nil
}

// PayloadName is the deterministic file name of the extracted payload.
func (c *Config) PayloadName() string {
	return c.App.PayloadPrefix + "." + c.App.ID + c.App.PayloadSuffix
}

func normalizeSuffix(s, fallback string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	if !strings.HasPrefix(s, ".") {
		s = "." + s
	}
	return s
}
