package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"weave/internal/pipeline"
)

// PostgresCheckpointer persists pipeline.State as one jsonb row per thread
// id, grounded on the teacher's pgx/v5-based storage idiom.
type PostgresCheckpointer struct {
	pool *pgxpool.Pool
}

// NewPostgresCheckpointer wraps an existing pgx pool. Callers are expected
// to have already run the migration creating the checkpoints table:
//
//	CREATE TABLE IF NOT EXISTS pipeline_checkpoints (
//	    thread_id TEXT PRIMARY KEY,
//	    state     JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
func NewPostgresCheckpointer(pool *pgxpool.Pool) *PostgresCheckpointer {
	return &PostgresCheckpointer{pool: pool}
}

func (p *PostgresCheckpointer) Load(ctx context.Context, threadID string) (pipeline.State, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT state FROM pipeline_checkpoints WHERE thread_id = $1`, threadID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err.Error() == "no rows in result set" {
			return pipeline.State{}, false, nil
		}
		return pipeline.State{}, false, fmt.Errorf("store: postgres load: %w", err)
	}
	s, err := unmarshalState(raw)
	if err != nil {
		return pipeline.State{}, false, err
	}
	return s, true, nil
}

func (p *PostgresCheckpointer) Save(ctx context.Context, threadID string, s pipeline.State) error {
	raw, err := marshalState(s)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO pipeline_checkpoints (thread_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (thread_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
	`, threadID, raw)
	if err != nil {
		return fmt.Errorf("store: postgres save: %w", err)
	}
	return nil
}

var _ pipeline.Checkpointer = (*PostgresCheckpointer)(nil)
