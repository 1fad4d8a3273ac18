package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/chain"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/events"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idgen"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/ledger"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/metrics"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/scheduler"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/traces"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/validation"
)

// Job types owned by this package.
const (
	JobConfirmTx = "intent.confirm_tx"
	JobSettle    = "intent.settle"
)

// Phase names reported to clients.
const (
	PhaseCreated      = "created"
	PhaseSignature    = "signature"
	PhaseConfirmation = "chain_confirmation"
	PhaseEscrow       = "escrow"
	PhaseSettlement   = "settlement"
)

// Store persists intents.
type Store interface {
	Insert(ctx context.Context, it *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	Update(ctx context.Context, it *Intent) error
}

// Ledger is the slice of the ledger engine this package consumes.
type Ledger interface {
	Credit(ctx context.Context, merchantID, amount, reference string) (*ledger.Entry, error)
	ListEntries(ctx context.Context, merchantID string, filter ledger.EntryFilter) ([]*ledger.Entry, error)
}

// Scheduler enqueues delayed jobs. Enqueue errors are propagated, never
// swallowed: a silently-lost schedule would strand funds.
type Scheduler interface {
	Enqueue(ctx context.Context, job *scheduler.Job) error
}

// EscrowCreator turns a confirmed DvP intent into an escrow order. Must be
// idempotent per intent.
type EscrowCreator interface {
	CreateFromIntent(ctx context.Context, it *Intent) error
}

// Receipts is the slice of the chain adapter the confirmation job consumes.
type Receipts interface {
	ReceiptStatus(ctx context.Context, txHash string) (chain.ReceiptStatus, error)
}

// AuditLogger records intent operations. Best-effort.
type AuditLogger interface {
	Log(ctx context.Context, action, entityID string, details map[string]string)
}

// Service coordinates intent state with the ledger, scheduler, and chain.
type Service struct {
	store    Store
	ledger   Ledger
	sched    Scheduler
	receipts Receipts
	escrow   EscrowCreator
	bus      *events.Bus
	audit    AuditLogger
	logger   *slog.Logger
}

// NewService creates the intent service.
func NewService(store Store, ldgr Ledger, sched Scheduler, receipts Receipts, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		ledger:   ldgr,
		sched:    sched,
		receipts: receipts,
		logger:   logger,
	}
}

// WithEscrow attaches the DvP order creator.
func (s *Service) WithEscrow(e EscrowCreator) *Service {
	s.escrow = e
	return s
}

// WithEvents attaches the domain event bus.
func (s *Service) WithEvents(bus *events.Bus) *Service {
	s.bus = bus
	return s
}

// WithAudit attaches a best-effort audit logger.
func (s *Service) WithAudit(a AuditLogger) *Service {
	s.audit = a
	return s
}

// CreateParams are the caller-supplied fields for a new intent.
type CreateParams struct {
	MerchantID            string            `json:"merchantId"`
	Type                  IntentType        `json:"type"`
	Amount                string            `json:"amount"`
	Currency              string            `json:"currency"`
	SettlementMethod      string            `json:"settlementMethod"`
	SettlementDestination string            `json:"settlementDestination"`
	TxHash                string            `json:"txHash"`
	Escrow                *EscrowParams     `json:"escrow"`
	Metadata              map[string]string `json:"metadata"`
}

// Create persists a new INITIATED intent.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Intent, error) {
	ctx, span := traces.StartSpan(ctx, "intent.create", traces.MerchantID(params.MerchantID))
	defer span.End()

	if params.Type == "" {
		params.Type = DirectTransfer
	}
	if err := validation.Validate(
		validation.Required("merchantId", params.MerchantID),
		validation.ValidAmount("amount", params.Amount),
		validation.ValidCurrency("currency", params.Currency),
	); err != nil {
		return nil, err
	}
	if params.Type != DirectTransfer && params.Type != DeliveryVsPayment {
		return nil, validation.Errors{{Field: "type", Message: "must be DIRECT_TRANSFER or DELIVERY_VS_PAYMENT"}}
	}
	if params.Type == DeliveryVsPayment {
		if params.Escrow == nil || params.Escrow.Buyer == "" {
			return nil, validation.Errors{{Field: "escrow.buyer", Message: "is required for DELIVERY_VS_PAYMENT intents"}}
		}
	}

	now := time.Now()
	it := &Intent{
		ID:                    idgen.WithPrefix("pi_"),
		MerchantID:            strings.TrimSpace(params.MerchantID),
		Type:                  params.Type,
		Status:                StatusInitiated,
		Amount:                params.Amount,
		Currency:              strings.ToUpper(params.Currency),
		SettlementMethod:      params.SettlementMethod,
		SettlementDestination: params.SettlementDestination,
		SettlementStatus:      SettlementNone,
		TxHash:                params.TxHash,
		Escrow:                params.Escrow,
		Metadata:              params.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	it.SetPhase(PhaseCreated, "completed")

	if err := s.store.Insert(ctx, it); err != nil {
		return nil, fmt.Errorf("failed to persist intent: %w", err)
	}

	metrics.IntentsTotal.WithLabelValues(string(StatusInitiated)).Inc()
	s.bus.Publish(events.IntentCreated, map[string]string{
		"intentId": it.ID, "merchantId": it.MerchantID,
		"type": string(it.Type), "amount": it.Amount,
	})
	if s.audit != nil {
		s.audit.Log(ctx, "intent.create", it.ID, map[string]string{
			"merchantId": it.MerchantID, "amount": it.Amount, "type": string(it.Type),
		})
	}
	return it, nil
}

// Get returns a snapshot of the intent.
func (s *Service) Get(ctx context.Context, id string) (*Intent, error) {
	return s.store.Get(ctx, id)
}

// Confirm moves an intent toward chain confirmation. With a transaction hash
// on record the intent enters PROCESSING and a confirmation job is enqueued;
// without one it parks in REQUIRES_SIGNATURE until the signed hash arrives.
func (s *Service) Confirm(ctx context.Context, id string) (*Intent, error) {
	ctx, span := traces.StartSpan(ctx, "intent.confirm", traces.IntentID(id))
	defer span.End()

	it, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if it.TxHash == "" {
		if err := s.setStatus(ctx, it, StatusRequiresSignature); err != nil {
			return nil, err
		}
		it.SetPhase(PhaseSignature, "awaiting")
		if err := s.store.Update(ctx, it); err != nil {
			return nil, fmt.Errorf("failed to persist intent: %w", err)
		}
		return it, nil
	}
	return it, s.beginProcessing(ctx, it)
}

// UpdateTransactionHash records the signed transaction hash and, if the
// intent was waiting on it, kicks off chain confirmation.
func (s *Service) UpdateTransactionHash(ctx context.Context, id, txHash string) (*Intent, error) {
	ctx, span := traces.StartSpan(ctx, "intent.update_tx_hash", traces.IntentID(id))
	defer span.End()

	if err := validation.Validate(validation.Required("txHash", txHash)); err != nil {
		return nil, err
	}

	it, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	it.TxHash = txHash
	it.SetPhase(PhaseSignature, "completed")

	switch it.Status {
	case StatusInitiated, StatusRequiresSignature, StatusRequiresAction:
		return it, s.beginProcessing(ctx, it)
	default:
		// Hash update on an intent already in flight just records the hash.
		it.UpdatedAt = time.Now()
		if err := s.store.Update(ctx, it); err != nil {
			return nil, fmt.Errorf("failed to persist intent: %w", err)
		}
		return it, nil
	}
}

// Cancel terminates an intent that has not yet succeeded.
func (s *Service) Cancel(ctx context.Context, id string) (*Intent, error) {
	it, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, it, StatusCanceled); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, it); err != nil {
		return nil, fmt.Errorf("failed to persist intent: %w", err)
	}
	if s.audit != nil {
		s.audit.Log(ctx, "intent.cancel", it.ID, nil)
	}
	return it, nil
}

// MarkSettled records a completed off-ramp: SUCCEEDED moves to SETTLED and
// the settlement status becomes COMPLETED. Idempotent.
func (s *Service) MarkSettled(ctx context.Context, id, payoutRef string) error {
	it, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if it.Status == StatusSettled && it.SettlementStatus == SettlementCompleted {
		return nil
	}
	if err := s.setStatus(ctx, it, StatusSettled); err != nil {
		return err
	}
	it.SettlementStatus = SettlementCompleted
	it.SetPhase(PhaseSettlement, "completed")
	if payoutRef != "" {
		if it.Metadata == nil {
			it.Metadata = make(map[string]string)
		}
		it.Metadata["payoutRef"] = payoutRef
	}
	if err := s.store.Update(ctx, it); err != nil {
		return fmt.Errorf("failed to persist intent: %w", err)
	}

	s.bus.Publish(events.IntentSettled, map[string]string{
		"intentId": it.ID, "merchantId": it.MerchantID, "amount": it.Amount,
	})
	if s.audit != nil {
		s.audit.Log(ctx, "intent.settled", it.ID, map[string]string{"payoutRef": payoutRef})
	}
	return nil
}

// MarkSettlementFailed records an off-ramp failure. The intent status is left
// untouched; settlementStatus=FAILED is the caller-visible signal that manual
// intervention is needed.
func (s *Service) MarkSettlementFailed(ctx context.Context, id, reason string) error {
	it, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	it.SettlementStatus = SettlementFailed
	it.SetPhase(PhaseSettlement, "failed")
	it.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, it); err != nil {
		return fmt.Errorf("failed to persist intent: %w", err)
	}

	s.logger.Error("settlement failed", "intent", it.ID, "reason", reason)
	if s.audit != nil {
		s.audit.Log(ctx, "intent.settlement_failed", it.ID, map[string]string{"reason": reason})
	}
	return nil
}

// beginProcessing transitions to PROCESSING, persists, and enqueues the
// confirmation poll. The transition check runs before the write.
func (s *Service) beginProcessing(ctx context.Context, it *Intent) error {
	if err := s.setStatus(ctx, it, StatusProcessing); err != nil {
		return err
	}
	it.SetPhase(PhaseConfirmation, "polling")
	if err := s.store.Update(ctx, it); err != nil {
		return fmt.Errorf("failed to persist intent: %w", err)
	}

	job := scheduler.NewJob(JobConfirmTx, it.ID, time.Now()).
		WithAttempts(scheduler.TxConfirmationAttempts).
		WithBackoff(scheduler.TxConfirmationBackoff)
	if err := s.sched.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to schedule confirmation: %w", err)
	}
	return nil
}

// setStatus validates and applies a transition in memory. Callers persist.
// from == to is a no-op.
func (s *Service) setStatus(ctx context.Context, it *Intent, to Status) error {
	if it.Status == to {
		return nil
	}
	if err := Transition(it.Status, to); err != nil {
		return fmt.Errorf("%w: %s -> %s", err, it.Status, to)
	}
	from := it.Status
	it.Status = to
	it.UpdatedAt = time.Now()

	metrics.IntentsTotal.WithLabelValues(string(to)).Inc()
	s.bus.Publish(events.IntentStatusChanged, map[string]string{
		"intentId": it.ID, "from": string(from), "to": string(to),
	})
	s.logger.Info("intent status changed", "intent", it.ID, "from", from, "to", to)
	return nil
}
