// Package config handles loading of runtime settings and collection
// mapping files for the migration.
package config

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	SinkElasticsearch = "elasticsearch"
	SinkMongo         = "mongo"
)

const (
	defaultDelimiter          = ","
	defaultIDColumn           = "token_id"
	defaultPayloadColumn      = "raw_metadata"
	defaultSink               = SinkElasticsearch
	defaultMongoDatabase      = "migration"
	defaultBatchSize          = 1000
	defaultWorkers            = 4
	defaultRequestTimeout     = 30 * time.Second
	defaultMaxAttempts        = 3
	defaultRetryBackoff       = time.Second
	defaultRetryBackoffMax    = 30 * time.Second
	defaultCheckpointInterval = 10
	defaultPropertiesCap      = 60
	defaultDrainTimeout       = 30 * time.Second
	defaultPingTimeout        = 10 * time.Second
	defaultLogLevel           = "info"
	defaultLogFormat          = "text"
)

// Config holds all runtime configuration, resolved from flags, BULKMIGRATE_*
// environment variables and an optional config file.
type Config struct {
	Source         string `mapstructure:"source"`
	Delimiter      string `mapstructure:"delimiter"`
	IDColumn       string `mapstructure:"id-column"`
	PayloadColumn  string `mapstructure:"payload-column"`
	PropertiesPath string `mapstructure:"payload-properties-path"`
	MappingFile    string `mapstructure:"mapping"`

	Sink          string `mapstructure:"sink"`
	SinkURL       string `mapstructure:"sink-url"`
	SinkUsername  string `mapstructure:"sink-username"`
	SinkPassword  string `mapstructure:"sink-password"`
	Index         string `mapstructure:"index"`
	MongoDatabase string `mapstructure:"mongo-database"`

	BatchSize       int           `mapstructure:"batch-size"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue-size"`
	RequestTimeout  time.Duration `mapstructure:"request-timeout"`
	MaxAttempts     int           `mapstructure:"max-attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry-backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry-backoff-max"`
	PropertiesCap   int           `mapstructure:"properties-cap"`

	CheckpointInterval int           `mapstructure:"checkpoint-interval"`
	CheckpointPath     string        `mapstructure:"checkpoint-path"`
	CheckpointDSN      string        `mapstructure:"checkpoint-dsn"`
	DrainTimeout       time.Duration `mapstructure:"drain-timeout"`
	PingTimeout        time.Duration `mapstructure:"ping-timeout"`

	LogLevel    string `mapstructure:"log-level"`
	LogFormat   string `mapstructure:"log-format"`
	LogFile     string `mapstructure:"log-file"`
	MetricsAddr string `mapstructure:"metrics-addr"`

	ConfigPath string `mapstructure:"-"`
}

// DelimiterRune returns the field separator as a rune.
func (c *Config) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	return r
}

// ValidateSource checks the settings needed to locate a source and its checkpoint.
func (c *Config) ValidateSource() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.CheckpointPath == "" && c.CheckpointDSN == "" {
		return errors.New("checkpoint-path or checkpoint-dsn is required")
	}
	return nil
}

// Validate checks the full configuration needed to run a migration.
func (c *Config) Validate() error {
	if err := c.ValidateSource(); err != nil {
		return err
	}
	if utf8.RuneCountInString(c.Delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", c.Delimiter)
	}
	if c.IDColumn == "" || c.PayloadColumn == "" {
		return errors.New("id-column and payload-column are required")
	}
	switch c.Sink {
	case SinkElasticsearch, SinkMongo:
	default:
		return fmt.Errorf("unknown sink %q (want %s or %s)", c.Sink, SinkElasticsearch, SinkMongo)
	}
	if c.SinkURL == "" {
		return errors.New("sink-url is required")
	}
	if c.Index == "" {
		return errors.New("index is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch-size: %d", c.BatchSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("invalid workers: %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("invalid queue-size: %d", c.QueueSize)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("invalid max-attempts: %d", c.MaxAttempts)
	}
	if c.PropertiesCap <= 0 {
		return fmt.Errorf("invalid properties-cap: %d", c.PropertiesCap)
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("invalid checkpoint-interval: %d", c.CheckpointInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request-timeout: %s", c.RequestTimeout)
	}
	return nil
}
