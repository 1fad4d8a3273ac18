// Package idmap maps string record IDs to the numeric IDs the escrow
// contract uses.
//
// The mapping is allocated, not hashed: the first request for an ID draws the
// next value from a sequence and stores the pair, so the same string always
// yields the same number and two strings can never collide.
package idmap

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

var ErrUnknownID = errors.New("idmap: unknown id")

// Mapper resolves string IDs to stable numeric IDs.
type Mapper interface {
	// NumericID returns the numeric ID for key, allocating one on first use.
	NumericID(ctx context.Context, key string) (int64, error)
	// Lookup returns the numeric ID for key without allocating.
	Lookup(ctx context.Context, key string) (int64, error)
}

// MemoryMapper is an in-memory Mapper for demo/development mode.
type MemoryMapper struct {
	next int64
	byID map[string]int64
	mu   sync.Mutex
}

// NewMemoryMapper creates a new in-memory mapper.
func NewMemoryMapper() *MemoryMapper {
	return &MemoryMapper{next: 1, byID: make(map[string]int64)}
}

func (m *MemoryMapper) NumericID(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.byID[key]; ok {
		return n, nil
	}
	n := m.next
	m.next++
	m.byID[key] = n
	return n, nil
}

func (m *MemoryMapper) Lookup(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.byID[key]
	if !ok {
		return 0, ErrUnknownID
	}
	return n, nil
}

// PostgresMapper implements Mapper with a sequence-backed table.
type PostgresMapper struct {
	db *sql.DB
}

// NewPostgresMapper creates a new PostgreSQL-backed mapper.
func NewPostgresMapper(db *sql.DB) *PostgresMapper {
	return &PostgresMapper{db: db}
}

func (p *PostgresMapper) NumericID(ctx context.Context, key string) (int64, error) {
	var n int64
	// ON CONFLICT DO UPDATE with a no-op assignment so RETURNING always
	// yields the row, first writer or not.
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO id_mappings (key)
		VALUES ($1)
		ON CONFLICT (key) DO UPDATE SET key = EXCLUDED.key
		RETURNING numeric_id
	`, key).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (p *PostgresMapper) Lookup(ctx context.Context, key string) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `
		SELECT numeric_id FROM id_mappings WHERE key = $1
	`, key).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrUnknownID
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
