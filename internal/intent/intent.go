// Package intent owns the payment intent lifecycle: the top-level status
// state machine, phase history, and the chain-confirmation job that credits
// the ledger and hands DvP intents over to escrow.
package intent

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("intent: not found")
	ErrInvalidTransition = errors.New("intent: invalid state transition")
	ErrMissingTxHash     = errors.New("intent: transaction hash not set")
)

// Status is the lifecycle state of a payment intent.
type Status string

const (
	StatusInitiated         Status = "INITIATED"
	StatusRequiresSignature Status = "REQUIRES_SIGNATURE"
	StatusProcessing        Status = "PROCESSING"
	StatusSucceeded         Status = "SUCCEEDED"
	StatusSettled           Status = "SETTLED"
	StatusFinal             Status = "FINAL"
	StatusCanceled          Status = "CANCELED"
	StatusRequiresAction    Status = "REQUIRES_ACTION"
)

// transitions is the full set of legal status moves. CANCELED and FINAL have
// no outgoing edges.
var transitions = map[Status][]Status{
	StatusInitiated:         {StatusRequiresSignature, StatusProcessing, StatusCanceled},
	StatusRequiresSignature: {StatusProcessing, StatusCanceled},
	StatusProcessing:        {StatusSucceeded, StatusCanceled, StatusRequiresAction},
	StatusSucceeded:         {StatusSettled, StatusRequiresAction},
	StatusSettled:           {StatusFinal},
	StatusRequiresAction:    {StatusProcessing, StatusCanceled},
	StatusCanceled:          {},
	StatusFinal:             {},
}

// CanTransition reports whether from may move to to. from == to is always
// allowed as a no-op.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates a status move. It must be called before any
// persistence write; the mutation is only committed if this passes.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}

// Terminal reports whether a status has no outgoing edges.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// IntentType selects the settlement path for an intent.
type IntentType string

const (
	DirectTransfer    IntentType = "DIRECT_TRANSFER"
	DeliveryVsPayment IntentType = "DELIVERY_VS_PAYMENT"
)

// SettlementStatus tracks the off-ramp leg independently of the intent status.
type SettlementStatus string

const (
	SettlementNone      SettlementStatus = "NONE"
	SettlementPending   SettlementStatus = "PENDING"
	SettlementCompleted SettlementStatus = "COMPLETED"
	SettlementFailed    SettlementStatus = "FAILED"
)

// Phase is a named lifecycle step with its own sub-status, used for
// client-facing progress reporting.
type Phase struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// EscrowParams carries the DvP release policy captured at intent creation and
// applied when the escrow order is created after chain confirmation.
type EscrowParams struct {
	Buyer              string     `json:"buyer"`
	Token              string     `json:"token,omitempty"`
	ReleaseType        string     `json:"releaseType"`
	TimeLockUntil      *time.Time `json:"timeLockUntil,omitempty"`
	DeliveryDeadline   *time.Time `json:"deliveryDeadline,omitempty"`
	DisputeWindowSecs  int64      `json:"disputeWindowSecs,omitempty"`
	AutoReleaseOnProof bool       `json:"autoReleaseOnProof"`
}

// Intent is the top-level payment record. Never physically deleted.
type Intent struct {
	ID                    string            `json:"id"`
	MerchantID            string            `json:"merchantId"`
	Type                  IntentType        `json:"type"`
	Status                Status            `json:"status"`
	Amount                string            `json:"amount"`
	Currency              string            `json:"currency"`
	SettlementMethod      string            `json:"settlementMethod,omitempty"`
	SettlementDestination string            `json:"settlementDestination,omitempty"`
	SettlementStatus      SettlementStatus  `json:"settlementStatus"`
	TxHash                string            `json:"txHash,omitempty"`
	Phases                []Phase           `json:"phases"`
	Escrow                *EscrowParams     `json:"escrow,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	CreatedAt             time.Time         `json:"createdAt"`
	UpdatedAt             time.Time         `json:"updatedAt"`
}

// SetPhase appends a phase record, or replaces the entry with the same name.
// Phases are never deleted.
func (i *Intent) SetPhase(name, status string) {
	for idx := range i.Phases {
		if i.Phases[idx].Name == name {
			i.Phases[idx].Status = status
			i.Phases[idx].Timestamp = time.Now()
			return
		}
	}
	i.Phases = append(i.Phases, Phase{Name: name, Status: status, Timestamp: time.Now()})
}

// Phase returns the named phase record, or nil.
func (i *Intent) Phase(name string) *Phase {
	for idx := range i.Phases {
		if i.Phases[idx].Name == name {
			return &i.Phases[idx]
		}
	}
	return nil
}
