package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists agent state in a Postgres table. Intended for
// fleet deployments where many agents share one central database.
type PostgresStore struct {
	pool    *pgxpool.Pool
	agentID string
}

// NewPostgres creates a PostgresStore with a connection pool. State rows
// are scoped by agentID so multiple agents can share one table.
func NewPostgres(ctx context.Context, databaseURL, agentID string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 4
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool, agentID: agentID}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// ensureSchema creates the agent state table if it does not exist.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agent_state (
			agent_id   TEXT        NOT NULL,
			key        TEXT        NOT NULL,
			value      JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (agent_id, key)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure agent_state schema: %w", err)
	}
	return nil
}

// Save stores the JSON encoding of value under key.
func (s *PostgresStore) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO agent_state (agent_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (agent_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, s.agentID, key, data)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Load decodes the value stored under key into dest.
func (s *PostgresStore) Load(ctx context.Context, key string, dest any) error {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM agent_state WHERE agent_id = $1 AND key = $2
	`, s.agentID, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
