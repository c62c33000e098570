// Package config loads the configuration of a devkv service
// from a YAML file and the environment.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/jrife/devkv/registry"
	"github.com/jrife/devkv/storage/kv"
	"github.com/jrife/devkv/storage/kv/plugins"
	"github.com/jrife/devkv/storage/kv/plugins/bbolt"
	"github.com/jrife/devkv/storage/kv/plugins/sqlite"
	"github.com/jrife/devkv/transport/frontends/rest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultLogLevel is the minimum enabled log level
	DefaultLogLevel = "info"
	// DefaultDriver is the kv plugin used for storage
	DefaultDriver = bbolt.DriverName
	// DefaultPath is the database file used by the bbolt driver
	DefaultPath = "devkv.db"
	// DefaultSQLitePath is the database file used by the sqlite driver
	DefaultSQLitePath = "devkv.sqlite"
)

// Environment variables that override file settings
const (
	EnvMountPath       = "DEVKV_MOUNT_PATH"
	EnvPartitionPrefix = "DEVKV_PARTITION_PREFIX"
	EnvLogLevel        = "DEVKV_LOG_LEVEL"
	EnvStorageDriver   = "DEVKV_STORAGE_DRIVER"
	EnvStoragePath     = "DEVKV_STORAGE_PATH"
)

// Config is the configuration of a devkv service
type Config struct {
	MountPath       string        `yaml:"mountPath"`
	PartitionPrefix string        `yaml:"partitionPrefix"`
	Log             LogConfig     `yaml:"log"`
	Storage         StorageConfig `yaml:"storage"`
}

// LogConfig configures the service logger
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// StorageConfig selects and configures a kv plugin
type StorageConfig struct {
	Driver  string                 `yaml:"driver"`
	Options map[string]interface{} `yaml:"options"`
}

// Load reads the YAML file at path, applies environment
// overrides and defaults and validates the result. An empty
// path skips the file.
func Load(path string) (Config, error) {
	var config Config

	if path != "" {
		raw, err := ioutil.ReadFile(path)

		if err != nil {
			return Config{}, fmt.Errorf("could not read config file: %s", err)
		}

		config, err = Parse(raw)

		if err != nil {
			return Config{}, err
		}
	}

	config.ApplyEnv(os.LookupEnv)
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// LoadDotEnv sets environment variables from .env style
// files. Missing files are skipped. Variables that are
// already set are not overwritten.
func LoadDotEnv(files ...string) error {
	existing := []string{}

	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}

	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("could not load env files: %s", err)
	}

	return nil
}

// Parse decodes a YAML document. Unknown fields are an error.
func Parse(raw []byte) (Config, error) {
	var config Config

	if err := yaml.UnmarshalStrict(raw, &config); err != nil {
		return Config{}, fmt.Errorf("could not parse config: %s", err)
	}

	return config, nil
}

// ApplyEnv overrides settings with the environment
// variables that lookup finds
func (config *Config) ApplyEnv(lookup func(key string) (string, bool)) {
	if value, ok := lookup(EnvMountPath); ok {
		config.MountPath = value
	}

	if value, ok := lookup(EnvPartitionPrefix); ok {
		config.PartitionPrefix = value
	}

	if value, ok := lookup(EnvLogLevel); ok {
		config.Log.Level = value
	}

	if value, ok := lookup(EnvStorageDriver); ok {
		config.Storage.Driver = value
	}

	if value, ok := lookup(EnvStoragePath); ok {
		if config.Storage.Options == nil {
			config.Storage.Options = map[string]interface{}{}
		}

		config.Storage.Options["path"] = value
	}
}

// SetDefaults fills in every unset setting
func (config *Config) SetDefaults() {
	if config.MountPath == "" {
		config.MountPath = rest.DefaultMountPath
	}

	if config.PartitionPrefix == "" {
		config.PartitionPrefix = registry.DefaultPrefix
	}

	if config.Log.Level == "" {
		config.Log.Level = DefaultLogLevel
	}

	if config.Storage.Driver == "" {
		config.Storage.Driver = DefaultDriver
	}

	if config.Storage.Options == nil {
		config.Storage.Options = map[string]interface{}{}
	}

	if _, ok := config.Storage.Options["path"]; ok {
		return
	}

	switch config.Storage.Driver {
	case bbolt.DriverName:
		config.Storage.Options["path"] = DefaultPath
	case sqlite.DriverName:
		config.Storage.Options["path"] = DefaultSQLitePath
	}
}

// Validate checks that the configuration is usable
func (config Config) Validate() error {
	if !strings.HasPrefix(config.MountPath, "/") {
		return fmt.Errorf("mountPath must start with /, got %q", config.MountPath)
	}

	// The root partition must not collide with a developer partition
	if strings.HasPrefix(registry.RootPartition, config.PartitionPrefix) || config.PartitionPrefix == "" {
		return fmt.Errorf("partitionPrefix %q may collide with the root partition", config.PartitionPrefix)
	}

	if _, err := config.level(); err != nil {
		return err
	}

	if plugins.Plugin(config.Storage.Driver) == nil {
		return fmt.Errorf("no such storage driver: %s", config.Storage.Driver)
	}

	return nil
}

func (config Config) level() (zapcore.Level, error) {
	var level zapcore.Level

	if err := level.UnmarshalText([]byte(config.Log.Level)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %s", config.Log.Level, err)
	}

	return level, nil
}

// Logger builds the service logger
func (config Config) Logger() (*zap.Logger, error) {
	level, err := config.level()

	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()

	if config.Log.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}

// OpenRootStore opens the configured kv root store
func (config Config) OpenRootStore() (kv.RootStore, error) {
	plugin := plugins.Plugin(config.Storage.Driver)

	if plugin == nil {
		return nil, fmt.Errorf("no such storage driver: %s", config.Storage.Driver)
	}

	rootStore, err := plugin.NewRootStore(kv.PluginOptions(config.Storage.Options))

	if err != nil {
		return nil, fmt.Errorf("could not open %s root store: %s", config.Storage.Driver, err)
	}

	return rootStore, nil
}
