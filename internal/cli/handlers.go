package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/BartekS5/bulkmigrate/internal/checkpoint"
	"github.com/BartekS5/bulkmigrate/internal/config"
	"github.com/BartekS5/bulkmigrate/internal/etl"
	"github.com/BartekS5/bulkmigrate/internal/metrics"
	"github.com/BartekS5/bulkmigrate/pkg/database"
	"github.com/BartekS5/bulkmigrate/pkg/models"
)

// elasticsearchMaxIDBytes is the _id length limit of Elasticsearch.
const elasticsearchMaxIDBytes = 512

func runMigration(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// The first signal interrupts the run gracefully; stop() restores the
	// default handler so a second one terminates the process.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	m := metrics.New("bulkmigrate")
	if cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		go func() {
			if err := m.Serve(metricsCtx, cfg.MetricsAddr); err != nil {
				slog.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		slog.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	var mapping *models.MappingSchema
	if cfg.MappingFile != "" {
		var err error
		if mapping, err = config.LoadMapping(cfg.MappingFile); err != nil {
			return err
		}
		slog.Info("loaded collection mapping", "file", cfg.MappingFile, "collections", len(mapping.Collections))
	}

	sink, validator, err := buildSink(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sink.Close(closeCtx)
	}()

	store, err := checkpoint.NewManager(ctx, checkpoint.Config{
		SourceIdentifier: cfg.Source,
		Path:             cfg.CheckpointPath,
		DSN:              cfg.CheckpointDSN,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	anomalies := etl.NewAnomalyLog(slog.Default(), m)
	transformer := etl.NewTransformer(etl.TransformerOptions{
		IDColumn:       cfg.IDColumn,
		PayloadColumn:  cfg.PayloadColumn,
		PropertiesPath: splitPath(cfg.PropertiesPath),
		PropertiesCap:  cfg.PropertiesCap,
		Mapping:        mapping,
	}, etl.NewTypeRegistry(), anomalies)

	writers := etl.NewWriterPool(sink, etl.WriterOptions{
		Workers:        cfg.Workers,
		MaxAttempts:    cfg.MaxAttempts,
		Backoff:        cfg.RetryBackoff,
		BackoffMax:     cfg.RetryBackoffMax,
		RequestTimeout: cfg.RequestTimeout,
	}, validator, anomalies, m)

	opener := etl.CSVOpener(cfg.Source, etl.SourceOptions{
		Delimiter:     cfg.DelimiterRune(),
		IDColumn:      cfg.IDColumn,
		PayloadColumn: cfg.PayloadColumn,
	}, anomalies, m)

	pipeline := etl.NewPipeline(etl.PipelineOptions{
		SourceID:           cfg.Source,
		BatchSize:          cfg.BatchSize,
		QueueSize:          cfg.QueueSize,
		CheckpointInterval: cfg.CheckpointInterval,
		DrainTimeout:       cfg.DrainTimeout,
		PingTimeout:        cfg.PingTimeout,
	}, opener, transformer, writers, store)

	fmt.Fprintf(out, "Starting migration of %s into %s %q (run %s)...\n", cfg.Source, cfg.Sink, cfg.Index, pipeline.RunID())
	sum, err := pipeline.Run(ctx)
	printSummary(out, sum)
	return err
}

func buildSink(cfg *config.Config) (etl.Sink, *etl.Validator, error) {
	switch cfg.Sink {
	case config.SinkMongo:
		client, err := database.ConnectMongo(cfg.SinkURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", etl.ErrSinkUnreachable, err)
		}
		return etl.NewMongoSink(client, cfg.MongoDatabase, cfg.Index), etl.NewValidator(0), nil
	default:
		client, err := database.ConnectElasticsearch(database.ElasticsearchConfig{
			URL:      cfg.SinkURL,
			Username: cfg.SinkUsername,
			Password: cfg.SinkPassword,
		})
		if err != nil {
			return nil, nil, err
		}
		return etl.NewElasticsearchSink(client, cfg.Index), etl.NewValidator(elasticsearchMaxIDBytes), nil
	}
}

func splitPath(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func printSummary(w io.Writer, sum *etl.Summary) {
	if sum == nil {
		return
	}
	total := "unknown"
	if sum.TotalRecords != nil {
		total = fmt.Sprintf("%d", *sum.TotalRecords)
	}
	fmt.Fprintln(w, "----------------------------------")
	fmt.Fprintf(w, "Run %s finished: %s in %s\n", sum.RunID, sum.State, sum.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Records:   read %d, skipped %d, total %s (resumed from %d)\n",
		sum.RecordsRead, sum.SkippedRecords, total, sum.ResumedFrom)
	fmt.Fprintf(w, "Documents: indexed %d, rejected %d, failed %d\n",
		sum.DocumentsIndexed, sum.DocumentsRejected, sum.DocumentsFailed)
	fmt.Fprintf(w, "Batches:   successful %d, failed %d, abandoned %d\n",
		sum.SuccessfulBatches, sum.FailedBatches, sum.AbandonedBatches)
	fmt.Fprintf(w, "Dropped property values: %d\n", sum.DroppedValues)

	kinds := make([]string, 0, len(sum.Anomalies))
	for k := range sum.Anomalies {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-20s %d\n", k, sum.Anomalies[k])
	}
	if sum.Complete {
		fmt.Fprintln(w, "Source fully migrated.")
	} else {
		fmt.Fprintf(w, "Next run resumes at record %d.\n", sum.HighestContiguous)
	}
	fmt.Fprintln(w, "----------------------------------")
}
