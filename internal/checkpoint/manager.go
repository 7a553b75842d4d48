package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BartekS5/bulkmigrate/pkg/database"
)

// Config configures the checkpoint manager.
type Config struct {
	// SourceIdentifier keys the checkpoint in SQL stores.
	SourceIdentifier string
	// Path is the checkpoint file, used when DSN is empty.
	Path string
	// DSN selects a SQL store: sqlserver://... or postgres://...
	DSN string
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(ctx context.Context, cfg Config) (Manager, error) {
	switch {
	case cfg.DSN == "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("checkpoint path is required")
		}
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create checkpoint directory %s: %w", dir, err)
			}
		}
		return NewFileManager(cfg.Path), nil

	case strings.HasPrefix(cfg.DSN, "sqlserver://"):
		db, err := database.ConnectSQL(cfg.DSN)
		if err != nil {
			return nil, err
		}
		m := NewSQLServerManager(db, cfg.SourceIdentifier)
		if err := m.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return m, nil

	case strings.HasPrefix(cfg.DSN, "postgres://"), strings.HasPrefix(cfg.DSN, "postgresql://"):
		pool, err := database.ConnectPostgres(cfg.DSN)
		if err != nil {
			return nil, err
		}
		m := NewPostgresManager(pool, cfg.SourceIdentifier)
		if err := m.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported checkpoint DSN scheme: %q", cfg.DSN)
	}
}

// DefaultPath derives the checkpoint file for a source location: next to a
// local file, or in the working directory for remote URLs.
func DefaultPath(location string) string {
	if !strings.Contains(location, "://") {
		return location + ".checkpoint"
	}
	if strings.HasPrefix(location, "file://") {
		return strings.TrimPrefix(location, "file://") + ".checkpoint"
	}
	base := location
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = filepath.Base(base)
	return base + ".checkpoint"
}

// fileManager persists the checkpoint to a single local file.
type fileManager struct {
	path string
}

// NewFileManager returns a manager writing the checkpoint to path.
func NewFileManager(path string) Manager {
	return &fileManager{path: path}
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}
	return Unmarshal(data)
}

// Save writes to a temp file and renames it over the checkpoint, so a crash
// leaves either the old or the new checkpoint in place.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := Marshal(cp)
	if err != nil {
		return err
	}

	tempPath := m.path + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync checkpoint temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

func (m *fileManager) Clear(ctx context.Context) error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint file: %w", err)
	}
	return nil
}

func (m *fileManager) Close() error { return nil }
