package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL. Phase history, escrow
// parameters, and metadata live in JSONB columns; the status column is the
// queryable source of truth.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed intent store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, it *Intent) error {
	phases, escrow, metadata, err := marshalJSONCols(it)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO payment_intents (
			id, merchant_id, type, status, amount, currency,
			settlement_method, settlement_destination, settlement_status,
			tx_hash, phases, escrow, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14, $15)
	`, it.ID, it.MerchantID, string(it.Type), string(it.Status), it.Amount, it.Currency,
		it.SettlementMethod, it.SettlementDestination, string(it.SettlementStatus),
		it.TxHash, phases, escrow, metadata, it.CreatedAt, it.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Intent, error) {
	it := &Intent{}
	var phases, escrow, metadata []byte
	var txHash sql.NullString

	err := p.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, type, status, amount, currency,
		       COALESCE(settlement_method, ''), COALESCE(settlement_destination, ''),
		       settlement_status, tx_hash, phases, escrow, metadata, created_at, updated_at
		FROM payment_intents WHERE id = $1
	`, id).Scan(&it.ID, &it.MerchantID, &it.Type, &it.Status, &it.Amount, &it.Currency,
		&it.SettlementMethod, &it.SettlementDestination, &it.SettlementStatus,
		&txHash, &phases, &escrow, &metadata, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	it.TxHash = txHash.String
	if err := unmarshalJSONCols(it, phases, escrow, metadata); err != nil {
		return nil, err
	}
	return it, nil
}

func (p *PostgresStore) Update(ctx context.Context, it *Intent) error {
	phases, escrow, metadata, err := marshalJSONCols(it)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE payment_intents SET
			status = $2, settlement_status = $3, tx_hash = NULLIF($4, ''),
			phases = $5, escrow = $6, metadata = $7, updated_at = $8
		WHERE id = $1
	`, it.ID, string(it.Status), string(it.SettlementStatus), it.TxHash,
		phases, escrow, metadata, it.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalJSONCols(it *Intent) (phases, escrow, metadata []byte, err error) {
	if phases, err = json.Marshal(it.Phases); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal phases: %w", err)
	}
	if it.Escrow != nil {
		if escrow, err = json.Marshal(it.Escrow); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal escrow params: %w", err)
		}
	} else {
		escrow = []byte("null")
	}
	if metadata, err = json.Marshal(it.Metadata); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return phases, escrow, metadata, nil
}

func unmarshalJSONCols(it *Intent, phases, escrow, metadata []byte) error {
	if len(phases) > 0 {
		if err := json.Unmarshal(phases, &it.Phases); err != nil {
			return fmt.Errorf("failed to unmarshal phases: %w", err)
		}
	}
	if len(escrow) > 0 && string(escrow) != "null" {
		it.Escrow = &EscrowParams{}
		if err := json.Unmarshal(escrow, it.Escrow); err != nil {
			return fmt.Errorf("failed to unmarshal escrow params: %w", err)
		}
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &it.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return nil
}
