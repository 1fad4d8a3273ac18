package escroworder

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `
	id, COALESCE(intent_id, ''), merchant_id, buyer, COALESCE(token, ''),
	amount, COALESCE(currency, ''), release_type, status, settlement_status,
	auto_release_on_proof, delivery_deadline, time_lock_until,
	dispute_window_secs, dispute_raised_at, COALESCE(dispute_raised_by, ''),
	COALESCE(dispute_reason, ''), dispute_expired, released_at,
	created_at, updated_at`

func (p *PostgresStore) InsertOrder(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_orders (
			id, intent_id, merchant_id, buyer, token, amount, currency,
			release_type, status, settlement_status, auto_release_on_proof,
			delivery_deadline, time_lock_until, dispute_window_secs,
			created_at, updated_at
		) VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6::NUMERIC(20,6), $7,
			$8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, o.ID, o.IntentID, o.MerchantID, o.Buyer, o.Token, o.Amount, o.Currency,
		string(o.ReleaseType), string(o.Status), string(o.SettlementStatus),
		o.AutoReleaseOnProof, o.DeliveryDeadline, o.TimeLockUntil,
		o.DisputeWindowSecs, o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) GetOrder(ctx context.Context, id int64) (*Order, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM escrow_orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (p *PostgresStore) GetOrderByIntent(ctx context.Context, intentID string) (*Order, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM escrow_orders WHERE intent_id = $1`, intentID)
	return scanOrder(row)
}

func scanOrder(row *sql.Row) (*Order, error) {
	o := &Order{}
	err := row.Scan(&o.ID, &o.IntentID, &o.MerchantID, &o.Buyer, &o.Token,
		&o.Amount, &o.Currency, &o.ReleaseType, &o.Status, &o.SettlementStatus,
		&o.AutoReleaseOnProof, &o.DeliveryDeadline, &o.TimeLockUntil,
		&o.DisputeWindowSecs, &o.DisputeRaisedAt, &o.DisputeRaisedBy,
		&o.DisputeReason, &o.DisputeExpired, &o.ReleasedAt,
		&o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (p *PostgresStore) UpdateOrder(ctx context.Context, o *Order) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE escrow_orders SET
			status = $2, settlement_status = $3,
			dispute_window_secs = $4, dispute_raised_at = $5,
			dispute_raised_by = NULLIF($6, ''), dispute_reason = NULLIF($7, ''),
			dispute_expired = $8, released_at = COALESCE(released_at, $9),
			updated_at = $10
		WHERE id = $1
	`, o.ID, string(o.Status), string(o.SettlementStatus),
		o.DisputeWindowSecs, o.DisputeRaisedAt, o.DisputeRaisedBy,
		o.DisputeReason, o.DisputeExpired, o.ReleasedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (p *PostgresStore) InsertProof(ctx context.Context, proof *DeliveryProof) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO delivery_proofs (id, order_id, proof_hash, uri, submitter, tx_hash, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)
	`, proof.ID, proof.OrderID, proof.ProofHash, proof.URI, proof.Submitter, proof.TxHash, proof.CreatedAt)
	return err
}

func (p *PostgresStore) LatestProof(ctx context.Context, orderID int64) (*DeliveryProof, error) {
	proof := &DeliveryProof{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, order_id, proof_hash, COALESCE(uri, ''), submitter, COALESCE(tx_hash, ''), created_at
		FROM delivery_proofs WHERE order_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, orderID).Scan(&proof.ID, &proof.OrderID, &proof.ProofHash, &proof.URI,
		&proof.Submitter, &proof.TxHash, &proof.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return proof, nil
}

func (p *PostgresStore) InsertMilestone(ctx context.Context, m *Milestone) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_milestones (order_id, milestone_index, description, amount, status, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4::NUMERIC(20,6), $5, $6)
	`, m.OrderID, m.Index, m.Description, m.Amount, string(m.Status), m.CreatedAt)
	if isUniqueViolation(err) {
		return ErrMilestoneExists
	}
	return err
}

func (p *PostgresStore) GetMilestone(ctx context.Context, orderID int64, index int) (*Milestone, error) {
	m := &Milestone{}
	err := p.db.QueryRowContext(ctx, `
		SELECT order_id, milestone_index, COALESCE(description, ''), amount, status,
		       completed_at, released_at, created_at
		FROM payment_milestones WHERE order_id = $1 AND milestone_index = $2
	`, orderID, index).Scan(&m.OrderID, &m.Index, &m.Description, &m.Amount, &m.Status,
		&m.CompletedAt, &m.ReleasedAt, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMilestoneNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (p *PostgresStore) ListMilestones(ctx context.Context, orderID int64) ([]*Milestone, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT order_id, milestone_index, COALESCE(description, ''), amount, status,
		       completed_at, released_at, created_at
		FROM payment_milestones WHERE order_id = $1
		ORDER BY milestone_index
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Milestone
	for rows.Next() {
		m := &Milestone{}
		if err := rows.Scan(&m.OrderID, &m.Index, &m.Description, &m.Amount, &m.Status,
			&m.CompletedAt, &m.ReleasedAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateMilestone(ctx context.Context, m *Milestone) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payment_milestones SET
			status = $3, completed_at = $4, released_at = COALESCE(released_at, $5)
		WHERE order_id = $1 AND milestone_index = $2
	`, m.OrderID, m.Index, string(m.Status), m.CompletedAt, m.ReleasedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMilestoneNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}
