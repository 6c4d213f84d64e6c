package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations

	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// Postgres stores envelopes in a workflow_executions table with the
// recovery metadata as a JSONB column. Schema changes run through embedded
// golang-migrate migrations at startup.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, migrates the schema, and returns the store.
func NewPostgres(ctx context.Context, cfg config.PostgresStorageConfig) (*Postgres, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	if err := runMigrations(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Postgres{pool: pool}, nil
}

// runMigrations applies the embedded migrations over a short-lived
// database/sql connection.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	slog.Info("Execution store migrations applied")
	return nil
}

// SaveSnapshot upserts the envelope.
func (p *Postgres) SaveSnapshot(ctx context.Context, envelope *models.ExecutionEnvelope) error {
	meta, err := json.Marshal(envelope.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata for %s: %w", envelope.ExecutionID, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO workflow_executions (execution_id, workflow_id, state, progress_percentage, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (execution_id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			state = EXCLUDED.state,
			progress_percentage = EXCLUDED.progress_percentage,
			metadata = EXCLUDED.metadata,
			updated_at = now()`,
		envelope.ExecutionID, envelope.WorkflowID, string(envelope.State),
		envelope.ProgressPercentage, meta)
	if err != nil {
		return fmt.Errorf("storing envelope %s: %w", envelope.ExecutionID, err)
	}
	return nil
}

// LoadSnapshot reads one envelope.
func (p *Postgres) LoadSnapshot(ctx context.Context, executionID string) (*models.ExecutionEnvelope, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT execution_id, workflow_id, state, progress_percentage, metadata
		FROM workflow_executions WHERE execution_id = $1`, executionID)

	envelope, err := scanEnvelope(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
		}
		return nil, fmt.Errorf("reading envelope %s: %w", executionID, err)
	}
	return envelope, nil
}

// List returns every envelope, most recently updated first.
func (p *Postgres) List(ctx context.Context) ([]*models.ExecutionEnvelope, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT execution_id, workflow_id, state, progress_percentage, metadata
		FROM workflow_executions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing envelopes: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionEnvelope
	for rows.Next() {
		envelope, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning envelope: %w", err)
		}
		out = append(out, envelope)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing envelopes: %w", err)
	}
	return out, nil
}

// Delete removes the envelope. Missing rows are a no-op.
func (p *Postgres) Delete(ctx context.Context, executionID string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM workflow_executions WHERE execution_id = $1`, executionID); err != nil {
		return fmt.Errorf("deleting envelope %s: %w", executionID, err)
	}
	return nil
}

// Ping checks the pool.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanEnvelope(row pgx.Row) (*models.ExecutionEnvelope, error) {
	var (
		envelope models.ExecutionEnvelope
		state    string
		meta     []byte
	)
	if err := row.Scan(&envelope.ExecutionID, &envelope.WorkflowID, &state,
		&envelope.ProgressPercentage, &meta); err != nil {
		return nil, err
	}
	envelope.State = models.ExecutionState(state)
	if len(meta) > 0 {
		envelope.Metadata = models.NewRecoveryRecord()
		if err := json.Unmarshal(meta, envelope.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &envelope, nil
}
