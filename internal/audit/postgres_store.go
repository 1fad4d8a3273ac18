package audit

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, ev *Event) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, entity_id, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.Action, ev.EntityID, ev.Actor, details, ev.CreatedAt)
	return err
}
