package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BartekS5/bulkmigrate/internal/checkpoint"
	"github.com/spf13/viper"
)

// NewViper returns a viper instance with defaults, BULKMIGRATE_* environment
// binding, the original tool's environment names and, when configPath is
// set, the given config file.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Unmarshal only sees keys viper knows about, so every key gets a default.
	for _, key := range []string{
		"source", "mapping", "sink-url", "sink-username", "sink-password", "index",
		"checkpoint-path", "checkpoint-dsn", "log-file", "metrics-addr",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("delimiter", defaultDelimiter)
	v.SetDefault("id-column", defaultIDColumn)
	v.SetDefault("payload-column", defaultPayloadColumn)
	v.SetDefault("payload-properties-path", "")
	v.SetDefault("sink", defaultSink)
	v.SetDefault("mongo-database", defaultMongoDatabase)
	v.SetDefault("batch-size", defaultBatchSize)
	v.SetDefault("workers", defaultWorkers)
	v.SetDefault("queue-size", 0)
	v.SetDefault("request-timeout", defaultRequestTimeout)
	v.SetDefault("max-attempts", defaultMaxAttempts)
	v.SetDefault("retry-backoff", defaultRetryBackoff)
	v.SetDefault("retry-backoff-max", defaultRetryBackoffMax)
	v.SetDefault("properties-cap", defaultPropertiesCap)
	v.SetDefault("checkpoint-interval", defaultCheckpointInterval)
	v.SetDefault("drain-timeout", defaultDrainTimeout)
	v.SetDefault("ping-timeout", defaultPingTimeout)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)

	if err := applyLegacyEnv(v, os.LookupEnv); err != nil {
		return nil, err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || os.IsNotExist(err) {
				return nil, fmt.Errorf("config file %s not found", configPath)
			}
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}
	return v, nil
}

// Load resolves the configuration and fills derived settings. It does not
// validate; commands call Validate or ValidateSource for what they need.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	cfg.Sink = strings.ToLower(strings.TrimSpace(cfg.Sink))

	if cfg.QueueSize == 0 {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.CheckpointPath == "" && cfg.CheckpointDSN == "" && cfg.Source != "" {
		cfg.CheckpointPath = checkpoint.DefaultPath(cfg.Source)
	}
	return &cfg, nil
}
