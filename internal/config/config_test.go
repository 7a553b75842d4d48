package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BartekS5/bulkmigrate/pkg/models"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Source:             "listings.csv",
		Delimiter:          ",",
		IDColumn:           "token_id",
		PayloadColumn:      "raw_metadata",
		Sink:               SinkElasticsearch,
		SinkURL:            "http://localhost:9200",
		Index:              "listings",
		BatchSize:          1000,
		Workers:            4,
		QueueSize:          4,
		RequestTimeout:     time.Second,
		MaxAttempts:        3,
		PropertiesCap:      60,
		CheckpointInterval: 10,
		CheckpointPath:     "listings.csv.checkpoint",
	}
}

func TestLoadDefaults(t *testing.T) {
	v, err := NewViper("")
	require.NoError(t, err)
	v.Set("source", "/data/listings.csv")

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.BatchSize)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 4, cfg.QueueSize, "queue size defaults to the worker count")
	require.Equal(t, 60, cfg.PropertiesCap)
	require.Equal(t, 10, cfg.CheckpointInterval)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, "token_id", cfg.IDColumn)
	require.Equal(t, "raw_metadata", cfg.PayloadColumn)
	require.Equal(t, SinkElasticsearch, cfg.Sink)
	require.Equal(t, "/data/listings.csv.checkpoint", cfg.CheckpointPath)
}

func TestLoadPrefixedEnv(t *testing.T) {
	t.Setenv("BULKMIGRATE_BATCH_SIZE", "250")
	t.Setenv("BULKMIGRATE_SINK", "Mongo")
	t.Setenv("BULKMIGRATE_RETRY_BACKOFF", "250ms")

	v, err := NewViper("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 250, cfg.BatchSize)
	require.Equal(t, SinkMongo, cfg.Sink)
	require.Equal(t, 250*time.Millisecond, cfg.RetryBackoff)
}

func TestLegacyEnvNames(t *testing.T) {
	t.Setenv("CSV_FILE", "/data/old.csv")
	t.Setenv("ELASTICSEARCH_URL", "http://es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "nft")
	t.Setenv("WORKERS", "8")
	t.Setenv("TIMEOUT_SECS", "45")

	v, err := NewViper("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "/data/old.csv", cfg.Source)
	require.Equal(t, "http://es:9200", cfg.SinkURL)
	require.Equal(t, "nft", cfg.Index)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, 45*time.Second, cfg.RequestTimeout)
}

func TestLegacyEnvLosesToPrefixed(t *testing.T) {
	t.Setenv("WORKERS", "8")
	t.Setenv("BULKMIGRATE_WORKERS", "2")

	v, err := NewViper("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Workers)
}

func TestLegacyEnvInvalid(t *testing.T) {
	t.Setenv("TIMEOUT_SECS", "soon")
	_, err := NewViper("")
	require.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source: exports/a.csv\nworkers: 6\ncheckpoint-dsn: postgres://localhost/db\n"), 0o644))

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "exports/a.csv", cfg.Source)
	require.Equal(t, 6, cfg.Workers)
	require.Empty(t, cfg.CheckpointPath, "a DSN replaces the default checkpoint file")
	require.Equal(t, path, cfg.ConfigPath)

	_, err = NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := map[string]func(c *Config){
		"missing source":    func(c *Config) { c.Source = "" },
		"unknown sink":      func(c *Config) { c.Sink = "solr" },
		"missing sink url":  func(c *Config) { c.SinkURL = "" },
		"missing index":     func(c *Config) { c.Index = "" },
		"zero batch size":   func(c *Config) { c.BatchSize = 0 },
		"zero workers":      func(c *Config) { c.Workers = 0 },
		"zero attempts":     func(c *Config) { c.MaxAttempts = 0 },
		"zero cap":          func(c *Config) { c.PropertiesCap = 0 },
		"long delimiter":    func(c *Config) { c.Delimiter = ";;" },
		"no checkpoint":     func(c *Config) { c.CheckpointPath = "" },
		"no payload column": func(c *Config) { c.PayloadColumn = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDelimiterRune(t *testing.T) {
	cfg := validConfig()
	cfg.Delimiter = "\t"
	require.Equal(t, '\t', cfg.DelimiterRune())
}

func TestLoadMappingJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "collections.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"collections":[{"name":"Units","address":"0xABC","fields":[{"name":"tier","type":"integer"},{"name":"nft_type","source":"type","type":"keyword"}]}]}`), 0o644))

	yamlPath := filepath.Join(dir, "collections.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`collections:
  - name: Units
    address: "0xABC"
    fields:
      - name: tier
        type: integer
      - name: nft_type
        source: type
        type: keyword
`), 0o644))

	for _, path := range []string{jsonPath, yamlPath} {
		schema, err := LoadMapping(path)
		require.NoError(t, err, path)
		c, ok := schema.Lookup("0xabc")
		require.True(t, ok)
		require.Len(t, c.Fields, 2)
		require.Equal(t, "type", c.Fields[1].SourceKey())
		require.Equal(t, models.PromoteKeyword, c.Fields[1].Type)
	}
}

func TestLoadMappingRejectsUnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"collections":[{"address":"0x1","fields":[{"name":"x","type":"date"}]}]}`), 0o644))
	_, err := LoadMapping(path)
	require.Error(t, err)
}
