package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tableName = "bulkmigrate_checkpoints"

// SQLServerManager stores one row per source in SQL Server.
type SQLServerManager struct {
	db       *sql.DB
	sourceID string
}

// NewSQLServerManager returns a manager backed by a SQL Server connection.
func NewSQLServerManager(db *sql.DB, sourceID string) *SQLServerManager {
	return &SQLServerManager{db: db, sourceID: sourceID}
}

func (m *SQLServerManager) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`IF OBJECT_ID(N'dbo.%[1]s', N'U') IS NULL
CREATE TABLE dbo.%[1]s (
	source_identifier NVARCHAR(450) NOT NULL PRIMARY KEY,
	state NVARCHAR(MAX) NOT NULL,
	updated_at DATETIME2 NOT NULL
)`, tableName)
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

func (m *SQLServerManager) Load(ctx context.Context) (*Checkpoint, error) {
	query := fmt.Sprintf("SELECT state FROM dbo.%s WHERE source_identifier = @p1", tableName)

	var state string
	err := m.db.QueryRowContext(ctx, query, m.sourceID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	return Unmarshal([]byte(state))
}

// Save upserts in a single MERGE statement so the row is replaced atomically.
func (m *SQLServerManager) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := Marshal(cp)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`MERGE dbo.%s WITH (HOLDLOCK) AS t
USING (SELECT @p1 AS source_identifier) AS s
ON t.source_identifier = s.source_identifier
WHEN MATCHED THEN UPDATE SET state = @p2, updated_at = @p3
WHEN NOT MATCHED THEN INSERT (source_identifier, state, updated_at) VALUES (@p1, @p2, @p3);`, tableName)

	if _, err := m.db.ExecContext(ctx, query, m.sourceID, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (m *SQLServerManager) Clear(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM dbo.%s WHERE source_identifier = @p1", tableName)
	if _, err := m.db.ExecContext(ctx, query, m.sourceID); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

func (m *SQLServerManager) Close() error {
	return m.db.Close()
}

// PostgresManager stores one row per source in PostgreSQL.
type PostgresManager struct {
	pool     *pgxpool.Pool
	sourceID string
}

// NewPostgresManager returns a manager backed by a pgx pool.
func NewPostgresManager(pool *pgxpool.Pool, sourceID string) *PostgresManager {
	return &PostgresManager{pool: pool, sourceID: sourceID}
}

func (m *PostgresManager) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	source_identifier TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, tableName)
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

func (m *PostgresManager) Load(ctx context.Context) (*Checkpoint, error) {
	query := fmt.Sprintf("SELECT state FROM %s WHERE source_identifier = $1", tableName)

	var state string
	err := m.pool.QueryRow(ctx, query, m.sourceID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	return Unmarshal([]byte(state))
}

func (m *PostgresManager) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := Marshal(cp)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (source_identifier, state, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (source_identifier) DO UPDATE
SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`, tableName)

	if _, err := m.pool.Exec(ctx, query, m.sourceID, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (m *PostgresManager) Clear(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE source_identifier = $1", tableName)
	if _, err := m.pool.Exec(ctx, query, m.sourceID); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

func (m *PostgresManager) Close() error {
	m.pool.Close()
	return nil
}
