package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// Config - корневая структура конфигурации приложения
// yaml и validate теги для парсинга и валидации

type Config struct {
	Logger  LoggerConfig  `yaml:"logger" validate:"required"`
	Server  ServerConfig  `yaml:"http-server" validate:"required"`
	Bridge  BridgeConfig  `yaml:"bridge" validate:"required"`
	Storage StorageConfig `yaml:"storage" validate:"required"`
}

type ServerConfig struct {
	Port              int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"required"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"required"`
}

// BridgeConfig sizes the resources handed to connectors.
type BridgeConfig struct {
	CdcChannelCapacity  int    `yaml:"cdc_channel_capacity" validate:"required,min=1"`
	SinkChannelCapacity int    `yaml:"sink_channel_capacity" validate:"required,min=1"`
	ChunkCodec          string `yaml:"chunk_codec" validate:"required,oneof=none gzip zstd snappy lz4"`
	// ScanPrefetch is how many keys a storage iterator reads ahead per batch.
	ScanPrefetch int `yaml:"scan_prefetch" validate:"required,min=1"`
}

type StorageConfig struct {
	// WALDir enables the write-ahead log; empty keeps the store in memory only.
	WALDir        string `yaml:"wal_dir"`
	SyncWrites    bool   `yaml:"sync_writes"`
	MaxEntryBytes int    `yaml:"max_entry_bytes" validate:"required,min=1"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "DEBUG",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Bridge: BridgeConfig{
			CdcChannelCapacity:  16,
			SinkChannelCapacity: 16,
			ChunkCodec:          "none",
			ScanPrefetch:        256,
		},
		Storage: StorageConfig{
			MaxEntryBytes: 4 << 20,
		},
	}
}

// Load reads a YAML config on top of Default. A missing file yields Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// SlogLevel maps Logger.Level onto slog.
func (c LoggerConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
