package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by viper.
const EnvPrefix = "BULKMIGRATE"

// legacyEnv maps the environment names of the original ingestion tool to
// config keys. They act as defaults; flags, BULKMIGRATE_* variables and the
// config file take precedence.
var legacyEnv = []struct {
	name string
	key  string
	kind string // "string" | "int" | "seconds"
}{
	{name: "CSV_FILE", key: "source", kind: "string"},
	{name: "ELASTICSEARCH_URL", key: "sink-url", kind: "string"},
	{name: "ELASTICSEARCH_INDEX", key: "index", kind: "string"},
	{name: "BATCH_SIZE", key: "batch-size", kind: "int"},
	{name: "WORKERS", key: "workers", kind: "int"},
	{name: "TIMEOUT_SECS", key: "request-timeout", kind: "seconds"},
}

func applyLegacyEnv(v *viper.Viper, lookup func(string) (string, bool)) error {
	for _, e := range legacyEnv {
		raw, ok := lookup(e.name)
		if !ok || raw == "" {
			continue
		}
		switch e.kind {
		case "int":
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%s: invalid integer %q", e.name, raw)
			}
			v.SetDefault(e.key, n)
		case "seconds":
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return fmt.Errorf("%s: invalid number of seconds %q", e.name, raw)
			}
			v.SetDefault(e.key, time.Duration(n)*time.Second)
		default:
			v.SetDefault(e.key, raw)
		}
	}
	return nil
}
