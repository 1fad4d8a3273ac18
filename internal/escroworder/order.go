// Package escroworder owns the DvP escrow order lifecycle: delivery proofs,
// milestones, disputes, and the release-condition evaluation that decides
// when reserved funds may move.
package escroworder

import (
	"errors"
	"strconv"
	"time"
)

var (
	ErrOrderNotFound     = errors.New("escrow: order not found")
	ErrOrderTerminal     = errors.New("escrow: order is in a terminal state")
	ErrOrderDisputed     = errors.New("escrow: order is under dispute")
	ErrAlreadyDisputed   = errors.New("escrow: dispute already raised")
	ErrMilestoneNotFound = errors.New("escrow: milestone not found")
	ErrMilestoneExists   = errors.New("escrow: milestone index already exists")

	// ErrNotYetDue marks a release condition that is not satisfied yet. Job
	// handlers return it unwrapped so the scheduler retries.
	ErrNotYetDue = errors.New("escrow: release condition not yet due")
)

// ReleaseType is the policy governing when escrowed funds may be released.
type ReleaseType string

const (
	TimeLocked      ReleaseType = "TIME_LOCKED"
	MilestoneLocked ReleaseType = "MILESTONE_LOCKED"
	DeliveryProofed ReleaseType = "DELIVERY_PROOF"
	AutoRelease     ReleaseType = "AUTO_RELEASE"
)

// ValidReleaseType reports whether t names a known policy.
func ValidReleaseType(t ReleaseType) bool {
	switch t {
	case TimeLocked, MilestoneLocked, DeliveryProofed, AutoRelease:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of an escrow order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDisputed  OrderStatus = "DISPUTED"
	OrderCompleted OrderStatus = "COMPLETED"
)

// SettlementStatus tracks the settlement leg of a released order.
type SettlementStatus string

const (
	SettlementNone      SettlementStatus = "NONE"
	SettlementScheduled SettlementStatus = "SCHEDULED"
	SettlementExecuted  SettlementStatus = "EXECUTED"
	SettlementConfirmed SettlementStatus = "CONFIRMED"
)

// Order is the escrow record, 1:1 with a DvP payment intent. Never deleted;
// COMPLETED is terminal and releasedAt is set at most once.
type Order struct {
	ID                 int64            `json:"id"`
	IntentID           string           `json:"intentId,omitempty"`
	MerchantID         string           `json:"merchantId"`
	Buyer              string           `json:"buyer"`
	Token              string           `json:"token,omitempty"`
	Amount             string           `json:"amount"`
	Currency           string           `json:"currency"`
	ReleaseType        ReleaseType      `json:"releaseType"`
	Status             OrderStatus      `json:"status"`
	SettlementStatus   SettlementStatus `json:"settlementStatus"`
	AutoReleaseOnProof bool             `json:"autoReleaseOnProof"`
	DeliveryDeadline   *time.Time       `json:"deliveryDeadline,omitempty"`
	TimeLockUntil      *time.Time       `json:"timeLockUntil,omitempty"`
	DisputeWindowSecs  int64            `json:"disputeWindowSecs,omitempty"`
	DisputeRaisedAt    *time.Time       `json:"disputeRaisedAt,omitempty"`
	DisputeRaisedBy    string           `json:"disputeRaisedBy,omitempty"`
	DisputeReason      string           `json:"disputeReason,omitempty"`
	DisputeExpired     bool             `json:"disputeExpired,omitempty"`
	ReleasedAt         *time.Time       `json:"releasedAt,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// IDString returns the order id in the form scheduler jobs target it.
func (o *Order) IDString() string {
	return strconv.FormatInt(o.ID, 10)
}

// Released reports whether the order's funds have been released.
func (o *Order) Released() bool {
	return o.Status == OrderCompleted && o.ReleasedAt != nil
}

// Reference is the ledger reference for this order's entries: the intent id
// when the order came from an intent, the numeric id otherwise.
func (o *Order) Reference() string {
	if o.IntentID != "" {
		return o.IntentID
	}
	return "ord_" + strconv.FormatInt(o.ID, 10)
}

// DeliveryProof is an append-only record of a submitted proof. Multiple
// proofs may exist; the most recent governs release evaluation.
type DeliveryProof struct {
	ID        string    `json:"id"`
	OrderID   int64     `json:"orderId"`
	ProofHash string    `json:"proofHash"`
	URI       string    `json:"uri,omitempty"`
	Submitter string    `json:"submitter"`
	TxHash    string    `json:"txHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MilestoneStatus is the per-milestone release state. RELEASED is terminal.
type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "PENDING"
	MilestoneCompleted MilestoneStatus = "COMPLETED"
	MilestoneReleased  MilestoneStatus = "RELEASED"
)

// Milestone is a partial-release step, uniquely indexed per order.
type Milestone struct {
	OrderID     int64           `json:"orderId"`
	Index       int             `json:"index"`
	Description string          `json:"description,omitempty"`
	Amount      string          `json:"amount"`
	Status      MilestoneStatus `json:"status"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	ReleasedAt  *time.Time      `json:"releasedAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}
