package notify

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresBackend appends notifications to a PostgreSQL table.
type PostgresBackend struct {
	connStr string
	table   string
	db      *sql.DB
	ready   bool
	mu      sync.Mutex
}

// NewPostgresBackend creates a PostgreSQL notification backend. table must
// already be a validated identifier.
func NewPostgresBackend(connStr, table string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	return &PostgresBackend{connStr: connStr, table: table, db: db}, nil
}

func (p *PostgresBackend) Name() string {
	return "postgres"
}

// ensureTable creates the notification table on first successful use.
func (p *PostgresBackend) ensureTable(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}
	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		event_time TIMESTAMPTZ DEFAULT NOW(),
		payload JSONB NOT NULL
	)`, p.table)
	if _, err := p.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("postgres create table: %w", err)
	}
	p.ready = true
	return nil
}

// Publish inserts a notification into the PostgreSQL table.
func (p *PostgresBackend) Publish(ctx context.Context, payload []byte) error {
	if err := p.ensureTable(ctx); err != nil {
		return err
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (payload) VALUES ($1)", p.table)
	_, err := p.db.ExecContext(ctx, insertSQL, string(payload))
	return err
}

func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
