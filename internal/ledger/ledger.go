// Package ledger tracks merchant fiat balances with an append-only entry log.
//
// Every mutation is an atomic pair: the account balance update and the entry
// insert succeed or fail together. Entries snapshot the available balance
// before and after, so the full balance history can be reconstructed from the
// log alone.
//
// The engine deliberately performs no insufficient-funds pre-check; balances
// may go negative. Refund and chargeback callers own eligibility checks.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/money"
)

var (
	ErrAccountNotFound = errors.New("ledger: account not found")
	ErrInvalidAmount   = errors.New("ledger: invalid amount")
	ErrUnknownType     = errors.New("ledger: unknown entry type")
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	TypeCredit     EntryType = "CREDIT"
	TypeDebit      EntryType = "DEBIT"
	TypeSettlement EntryType = "SETTLEMENT"
	TypeReserve    EntryType = "RESERVE"
	TypeRelease    EntryType = "RELEASE"
	TypeRefund     EntryType = "REFUND"
	TypeChargeback EntryType = "CHARGEBACK"
	TypeFee        EntryType = "FEE"
)

// Deltas returns the signed effect of an entry type on the available and
// reserved balances (+1, -1 or 0 per unit of amount).
//
//	CREDIT                                   available +amt
//	DEBIT/SETTLEMENT/REFUND/CHARGEBACK/FEE   available -amt
//	RESERVE                                  available -amt, reserved +amt
//	RELEASE                                  available +amt, reserved -amt
func Deltas(t EntryType) (available, reserved int, err error) {
	switch t {
	case TypeCredit:
		return 1, 0, nil
	case TypeDebit, TypeSettlement, TypeRefund, TypeChargeback, TypeFee:
		return -1, 0, nil
	case TypeReserve:
		return -1, 1, nil
	case TypeRelease:
		return 1, -1, nil
	default:
		return 0, 0, ErrUnknownType
	}
}

// flowDeltas returns the signed effect of an entry type on the lifetime
// totalIn/totalOut counters. Reserve and release move nothing in or out.
func flowDeltas(t EntryType) (in, out int) {
	switch t {
	case TypeCredit:
		return 1, 0
	case TypeDebit, TypeSettlement, TypeRefund, TypeChargeback, TypeFee:
		return 0, 1
	default:
		return 0, 0
	}
}

// Account holds a merchant's balances plus lifetime flow totals. TotalIn
// accumulates credits; TotalOut accumulates outbound debits. Reserve and
// release are internal moves and touch neither.
type Account struct {
	MerchantID string    `json:"merchantId"`
	Available  string    `json:"available"`
	Pending    string    `json:"pending"`
	Reserved   string    `json:"reserved"`
	TotalIn    string    `json:"totalIn"`
	TotalOut   string    `json:"totalOut"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Entry is one immutable row of the audit trail.
type Entry struct {
	ID            string    `json:"id"`
	MerchantID    string    `json:"merchantId"`
	Type          EntryType `json:"type"`
	Amount        string    `json:"amount"`
	Reference     string    `json:"reference,omitempty"` // intent or order ID
	Description   string    `json:"description,omitempty"`
	BalanceBefore string    `json:"balanceBefore"` // available balance snapshot
	BalanceAfter  string    `json:"balanceAfter"`
	CreatedAt     time.Time `json:"createdAt"`
}

// EntryFilter narrows ListEntries results.
type EntryFilter struct {
	Type      EntryType
	Reference string
	Limit     int
}

// Store persists accounts and entries. ApplyEntry must perform the balance
// mutation and the entry insert as one atomic unit.
type Store interface {
	ApplyEntry(ctx context.Context, merchantID string, t EntryType, amount, reference, description string) (*Entry, error)
	GetAccount(ctx context.Context, merchantID string) (*Account, error)
	ListEntries(ctx context.Context, merchantID string, filter EntryFilter) ([]*Entry, error)
}

// AuditLogger records ledger operations for the audit trail. Best-effort.
type AuditLogger interface {
	Log(ctx context.Context, action, entityID string, details map[string]string)
}

// Engine exposes the named ledger operations over the applyEntry primitive.
type Engine struct {
	store Store
	audit AuditLogger
}

// New creates a new ledger engine.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// WithAudit attaches a best-effort audit logger.
func (e *Engine) WithAudit(a AuditLogger) *Engine {
	e.audit = a
	return e
}

// Credit adds funds to a merchant's available balance.
func (e *Engine) Credit(ctx context.Context, merchantID, amount, reference string) (*Entry, error) {
	return e.applyEntry(ctx, merchantID, TypeCredit, amount, reference, "funds credited")
}

// Debit removes funds from a merchant's available balance.
func (e *Engine) Debit(ctx context.Context, merchantID, amount, reference string) (*Entry, error) {
	return e.applyEntry(ctx, merchantID, TypeDebit, amount, reference, "funds debited")
}

// Reserve moves funds from available into reserved (escrow hold).
func (e *Engine) Reserve(ctx context.Context, merchantID, amount, reference string) (*Entry, error) {
	return e.applyEntry(ctx, merchantID, TypeReserve, amount, reference, "funds reserved")
}

// Release moves funds from reserved back into available.
func (e *Engine) Release(ctx context.Context, merchantID, amount, reference string) (*Entry, error) {
	return e.applyEntry(ctx, merchantID, TypeRelease, amount, reference, "reserve released")
}

// Settle debits available funds swept to the merchant's fiat destination.
func (e *Engine) Settle(ctx context.Context, merchantID, amount, reference string) (*Entry, error) {
	return e.applyEntry(ctx, merchantID, TypeSettlement, amount, reference, "settlement payout")
}

// Refund debits available funds returned to a payer.
func (e *Engine) Refund(ctx context.Context, merchantID, amount, reference string) (*Entry, error) {
	return e.applyEntry(ctx, merchantID, TypeRefund, amount, reference, "refund issued")
}

// Chargeback debits available funds reclaimed by a card network.
func (e *Engine) Chargeback(ctx context.Context, merchantID, amount, reference string) (*Entry, error) {
	return e.applyEntry(ctx, merchantID, TypeChargeback, amount, reference, "chargeback")
}

// Fee debits a platform fee.
func (e *Engine) Fee(ctx context.Context, merchantID, amount, reference string) (*Entry, error) {
	return e.applyEntry(ctx, merchantID, TypeFee, amount, reference, "platform fee")
}

// GetAccount returns a merchant's current balances.
func (e *Engine) GetAccount(ctx context.Context, merchantID string) (*Account, error) {
	return e.store.GetAccount(ctx, strings.TrimSpace(merchantID))
}

// ListEntries returns a merchant's ledger history, newest first.
func (e *Engine) ListEntries(ctx context.Context, merchantID string, filter EntryFilter) ([]*Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return e.store.ListEntries(ctx, strings.TrimSpace(merchantID), filter)
}

func (e *Engine) applyEntry(ctx context.Context, merchantID string, t EntryType, amount, reference, description string) (*Entry, error) {
	if v, ok := money.Parse(amount); !ok || v.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, _, err := Deltas(t); err != nil {
		return nil, err
	}

	entry, err := e.store.ApplyEntry(ctx, strings.TrimSpace(merchantID), t, amount, reference, description)
	if err != nil {
		return nil, err
	}

	entriesTotal.WithLabelValues(string(t)).Inc()

	if e.audit != nil {
		e.audit.Log(ctx, "ledger."+strings.ToLower(string(t)), merchantID, map[string]string{
			"amount":    amount,
			"reference": reference,
			"entryId":   entry.ID,
		})
	}

	return entry, nil
}
