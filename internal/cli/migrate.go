package cli

import (
	"github.com/spf13/cobra"
)

func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate a CSV export into the configured sink, resuming from the checkpoint",
		Example: `  bulkmigrate migrate --source orders.csv --sink-url http://localhost:9200 --index marketplace
  bulkmigrate migrate --source s3://exports/orders.csv.gz?region=eu-west-1 --sink mongo \
      --sink-url mongodb://localhost:27017 --index orders --checkpoint-dsn postgres://...`,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return runMigration(c.Context(), cfg, c.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringP("source", "s", "", "Source CSV: local path, or file://, s3:// or gs:// URL (.gz/.zst decoded)")
	f.String("delimiter", ",", "Field delimiter")
	f.String("id-column", "token_id", "Column holding the document identifier")
	f.String("payload-column", "raw_metadata", "Column holding the JSON payload")
	f.String("payload-properties-path", "", "Dot-separated path of the properties object inside the payload")
	f.StringP("mapping", "m", "", "Collection mapping file (json or yaml) for promoted fields")

	f.String("sink", "elasticsearch", "Sink type: elasticsearch or mongo")
	f.String("sink-url", "", "Sink endpoint")
	f.String("sink-username", "", "Sink username")
	f.String("sink-password", "", "Sink password")
	f.StringP("index", "i", "", "Target index (Elasticsearch) or collection (MongoDB)")
	f.String("mongo-database", "migration", "MongoDB database")

	f.IntP("batch-size", "b", 1000, "Documents per bulk request")
	f.IntP("workers", "w", 4, "Concurrent bulk writers")
	f.Int("queue-size", 0, "Batches buffered ahead of the writers (default: workers)")
	f.Duration("request-timeout", 0, "Per-request timeout (default 30s)")
	f.Int("max-attempts", 3, "Attempts per batch before it is marked failed")
	f.Duration("retry-backoff", 0, "Initial retry backoff (default 1s)")
	f.Duration("retry-backoff-max", 0, "Maximum retry backoff (default 30s)")
	f.Int("properties-cap", 60, "Maximum extracted properties per document")

	f.Int("checkpoint-interval", 10, "Completed batches between checkpoint writes")
	f.String("checkpoint-path", "", "Checkpoint file (default: <source>.checkpoint)")
	f.String("checkpoint-dsn", "", "Store the checkpoint in SQL Server or PostgreSQL instead of a file")
	f.Duration("drain-timeout", 0, "Grace period for in-flight batches after an interrupt (default 30s)")
	f.Duration("ping-timeout", 0, "Sink reachability check timeout (default 10s)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")

	return cmd
}
