package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agora-relay/agora-relay/internal/domain/names"
)

// NamesRepository implements names.Repository.
type NamesRepository struct {
	pool *pgxpool.Pool
}

func NewNamesRepository(pool *pgxpool.Pool) *NamesRepository {
	return &NamesRepository{pool: pool}
}

func (r *NamesRepository) Upsert(ctx context.Context, o *names.Override) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO name_overrides (agent_id, display_name, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (agent_id) DO UPDATE
		SET display_name=EXCLUDED.display_name, updated_at=EXCLUDED.updated_at
	`, o.AgentID, o.DisplayName, o.UpdatedAt)
	return err
}

func (r *NamesRepository) Delete(ctx context.Context, agentID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM name_overrides WHERE agent_id=$1`, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return names.ErrNotFound
	}
	return nil
}

func (r *NamesRepository) List(ctx context.Context) ([]*names.Override, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT agent_id, display_name, updated_at
		FROM name_overrides ORDER BY agent_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*names.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOverride(row pgx.Row) (*names.Override, error) {
	var o names.Override
	if err := row.Scan(&o.AgentID, &o.DisplayName, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}
