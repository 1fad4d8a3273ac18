// Package chain abstracts access to the DvP escrow contract.
//
// The orchestration core only ever talks to the Adapter interface; the eth
// implementation signs real transactions while the mock synthesizes
// deterministic success for development and tests.
package chain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrOrderNotOnChain = errors.New("chain: order not found on chain")
	ErrExecutionFailed = errors.New("chain: contract execution failed")
)

// ReceiptStatus is the observed state of a submitted transaction.
type ReceiptStatus string

const (
	ReceiptPending ReceiptStatus = "pending"
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailed  ReceiptStatus = "failed"
)

// OrderState mirrors the escrow contract's view of an order.
type OrderState struct {
	OrderID       int64
	Buyer         string
	Amount        string
	Delivered     bool
	Released      bool
	DeliveredAt   time.Time
	ProofHash     string
	SettlementTx  string
	SettledAt     time.Time
	AutoReleaseOn bool
}

// SettlementState mirrors the contract's settlement record for an order.
type SettlementState struct {
	OrderID   int64
	Executed  bool
	Confirmed bool
	TxHash    string
}

// Adapter is the capability the orchestrator consumes to reach the chain.
type Adapter interface {
	// GetOrderState reads the order record; returns ErrOrderNotOnChain when
	// the contract has no such order.
	GetOrderState(ctx context.Context, orderID int64) (*OrderState, error)

	// GetSettlementState reads the settlement record for an order.
	GetSettlementState(ctx context.Context, orderID int64) (*SettlementState, error)

	// SubmitDeliveryProof records a delivery proof on chain. Returns the tx hash.
	SubmitDeliveryProof(ctx context.Context, orderID int64, proofHash string) (string, error)

	// ExecuteSettlement triggers the on-chain settlement leg. Returns the tx hash.
	ExecuteSettlement(ctx context.Context, orderID int64) (string, error)

	// ConfirmSettlement finalizes the on-chain settlement leg. Returns the tx hash.
	ConfirmSettlement(ctx context.Context, orderID int64) (string, error)

	// ReceiptStatus reports whether a submitted transaction has landed.
	ReceiptStatus(ctx context.Context, txHash string) (ReceiptStatus, error)
}
