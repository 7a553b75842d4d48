package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/BartekS5/bulkmigrate/internal/checkpoint"
	"github.com/BartekS5/bulkmigrate/internal/config"
	"github.com/spf13/cobra"
)

func sourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("source", "s", "", "Source location the checkpoint belongs to")
	cmd.Flags().String("checkpoint-path", "", "Checkpoint file (default: <source>.checkpoint)")
	cmd.Flags().String("checkpoint-dsn", "", "SQL Server or PostgreSQL checkpoint store")
}

func openCheckpoint(cmd *cobra.Command) (*config.Config, checkpoint.Manager, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateSource(); err != nil {
		return nil, nil, err
	}
	store, err := checkpoint.NewManager(cmd.Context(), checkpoint.Config{
		SourceIdentifier: cfg.Source,
		Path:             cfg.CheckpointPath,
		DSN:              cfg.CheckpointDSN,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoint of a source",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, store, err := openCheckpoint(c)
			if err != nil {
				return err
			}
			defer store.Close()

			cp, err := store.Load(c.Context())
			if errors.Is(err, checkpoint.ErrNoCheckpoint) {
				fmt.Fprintf(c.OutOrStdout(), "No checkpoint for %s; the next run starts at record 0.\n", cfg.Source)
				return nil
			}
			if err != nil {
				return err
			}
			printCheckpoint(c.OutOrStdout(), cp)
			return nil
		},
	}
	sourceFlags(cmd)
	return cmd
}

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the checkpoint of a source so the next run starts over",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, store, err := openCheckpoint(c)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(c.Context()); err != nil {
				return err
			}
			slog.Info("checkpoint cleared", "source", cfg.Source)
			return nil
		},
	}
	sourceFlags(cmd)
	return cmd
}

func printCheckpoint(w io.Writer, cp *checkpoint.Checkpoint) {
	total := "unknown"
	if cp.TotalRecords != nil {
		total = fmt.Sprintf("%d", *cp.TotalRecords)
	}
	fmt.Fprintf(w, "Source:             %s\n", cp.SourceIdentifier)
	fmt.Fprintf(w, "Last run:           %s\n", cp.RunID)
	fmt.Fprintf(w, "Last updated:       %s\n", cp.LastUpdated.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Completed:          %t\n", cp.Completed)
	fmt.Fprintf(w, "Resume offset:      %d\n", cp.ResumeOffset())
	fmt.Fprintf(w, "Total records:      %s\n", total)
	fmt.Fprintf(w, "Completed ranges:   %v\n", cp.CompletedRanges)
	fmt.Fprintf(w, "Successful batches: %d\n", cp.SuccessfulBatches)
	fmt.Fprintf(w, "Failed batches:     %d\n", cp.FailedBatchCount)
	fmt.Fprintf(w, "Processed records:  %d\n", cp.ProcessedRecords)
	fmt.Fprintf(w, "Property types:     %d\n", len(cp.PropertyTypes))
}
