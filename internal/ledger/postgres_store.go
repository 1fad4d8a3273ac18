package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
//
// ApplyEntry locks the account row with FOR UPDATE, mutates it with native
// NUMERIC arithmetic, and inserts the entry with before/after snapshots taken
// inside the same transaction. Concurrent writers queue on the row lock.
// There is no non-negative constraint on available: the engine contract
// allows negative balances (callers own eligibility checks).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) ApplyEntry(ctx context.Context, merchantID string, t EntryType, amount, reference, description string) (*Entry, error) {
	availDelta, reservedDelta, err := Deltas(t)
	if err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Ensure the account row exists, then lock it.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO fiat_accounts (merchant_id)
		VALUES ($1)
		ON CONFLICT (merchant_id) DO NOTHING
	`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}

	var before string
	err = tx.QueryRowContext(ctx, `
		SELECT available FROM fiat_accounts WHERE merchant_id = $1 FOR UPDATE
	`, merchantID).Scan(&before)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	inDelta, outDelta := flowDeltas(t)

	var after string
	err = tx.QueryRowContext(ctx, `
		UPDATE fiat_accounts SET
			available  = available + ($2::NUMERIC(20,6) * $3),
			reserved   = reserved  + ($2::NUMERIC(20,6) * $4),
			total_in   = total_in  + ($2::NUMERIC(20,6) * $5),
			total_out  = total_out + ($2::NUMERIC(20,6) * $6),
			updated_at = NOW()
		WHERE merchant_id = $1
		RETURNING available
	`, merchantID, amount, availDelta, reservedDelta, inDelta, outDelta).Scan(&after)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry := &Entry{
		ID:            idgen.WithPrefix("ent_"),
		MerchantID:    merchantID,
		Type:          t,
		Amount:        amount,
		Reference:     reference,
		Description:   description,
		BalanceBefore: before,
		BalanceAfter:  after,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (id, merchant_id, type, amount, reference, description, balance_before, balance_after, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,6), $5, $6, $7::NUMERIC(20,6), $8::NUMERIC(20,6), NOW())
		RETURNING created_at
	`, entry.ID, merchantID, string(t), amount, reference, description, before, after).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (p *PostgresStore) GetAccount(ctx context.Context, merchantID string) (*Account, error) {
	acct := &Account{MerchantID: merchantID}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, pending, reserved, total_in, total_out, updated_at
		FROM fiat_accounts WHERE merchant_id = $1
	`, merchantID).Scan(&acct.Available, &acct.Pending, &acct.Reserved,
		&acct.TotalIn, &acct.TotalOut, &acct.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Account{
			MerchantID: merchantID,
			Available:  "0",
			Pending:    "0",
			Reserved:   "0",
			TotalIn:    "0",
			TotalOut:   "0",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (p *PostgresStore) ListEntries(ctx context.Context, merchantID string, filter EntryFilter) ([]*Entry, error) {
	query := `
		SELECT id, merchant_id, type, amount, COALESCE(reference, ''), COALESCE(description, ''),
		       balance_before, balance_after, created_at
		FROM ledger_entries
		WHERE merchant_id = $1`
	args := []interface{}{merchantID}

	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Reference != "" {
		args = append(args, filter.Reference)
		query += fmt.Sprintf(" AND reference = $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.MerchantID, &e.Type, &e.Amount, &e.Reference,
			&e.Description, &e.BalanceBefore, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
