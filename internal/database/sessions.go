package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/user/narrative-engine/internal/interfaces"
	"github.com/user/narrative-engine/internal/narrative"
	"github.com/user/narrative-engine/internal/types"
)

// SessionRepository stores narrative records as JSON documents in SQL
type SessionRepository struct {
	db *DB
}

var _ interfaces.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a repository over an open database
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save upserts a character's record
func (r *SessionRepository) Save(ctx context.Context, state *types.NarrativeSessionState) error {
	if state == nil || state.CharacterID == "" {
		return fmt.Errorf("character id is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal narrative state: %w", err)
	}

	query := r.db.dialect.Rebind(`
INSERT INTO narrative_sessions (character_id, version, state, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (character_id) DO UPDATE SET
	version = excluded.version,
	state = excluded.state,
	updated_at = excluded.updated_at
`)
	if _, err := r.db.sqlDB.ExecContext(ctx, query,
		state.CharacterID, state.Version, string(data), state.UpdatedAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("failed to save narrative state: %w", err)
	}
	return nil
}

// Load reads a character's record
func (r *SessionRepository) Load(ctx context.Context, characterID string) (*types.NarrativeSessionState, error) {
	var data string
	err := r.db.sqlDB.QueryRowContext(ctx,
		r.db.dialect.Rebind("SELECT state FROM narrative_sessions WHERE character_id = ?"),
		characterID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, narrative.ErrRecordMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load narrative state: %w", err)
	}

	var state types.NarrativeSessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to parse narrative state: %w", err)
	}
	state.Normalize()
	return &state, nil
}

// Delete removes a character's record
func (r *SessionRepository) Delete(ctx context.Context, characterID string) error {
	res, err := r.db.sqlDB.ExecContext(ctx,
		r.db.dialect.Rebind("DELETE FROM narrative_sessions WHERE character_id = ?"), characterID)
	if err != nil {
		return fmt.Errorf("failed to delete narrative state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete narrative state: %w", err)
	}
	if n == 0 {
		return narrative.ErrRecordMissing
	}
	return nil
}

// List returns every stored character ID in sorted order
func (r *SessionRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.sqlDB.QueryContext(ctx, "SELECT character_id FROM narrative_sessions ORDER BY character_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list narrative states: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan character id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list narrative states: %w", err)
	}
	return ids, nil
}
