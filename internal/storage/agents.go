package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tsumugi/internal/model"
)

// UpsertAgent records or renames an agent directory entry.
func (db *DB) UpsertAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	if agent.PublicID == uuid.Nil {
		agent.PublicID = uuid.New()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agents (agent_id, public_id, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (agent_id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`,
		agent.ID, agent.PublicID, agent.Name, agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: upsert agent: %w", err)
	}
	return agent, nil
}

// ResolveAgentNames returns the current display name for each known id.
// Ids the directory does not know are absent from the result.
func (db *DB) ResolveAgentNames(ctx context.Context, agentIDs []string) (map[string]string, error) {
	if len(agentIDs) == 0 {
		return map[string]string{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT agent_id, name FROM agents WHERE agent_id = ANY($1)`,
		agentIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve agent names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string, len(agentIDs))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("storage: scan agent name: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

// FindAgentIDByName resolves a display name to its canonical agent id.
// Returns an empty id without error when no agent carries the name.
func (db *DB) FindAgentIDByName(ctx context.Context, name string) (string, error) {
	var id string
	err := db.pool.QueryRow(ctx,
		`SELECT agent_id FROM agents WHERE lower(name) = lower($1) LIMIT 1`,
		name,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("storage: find agent by name: %w", err)
	}
	return id, nil
}
