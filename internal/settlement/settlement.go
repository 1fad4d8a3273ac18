// Package settlement executes the off-ramp leg of a confirmed release and
// reconciles it back into the intent, order, and ledger.
//
// The chain settlement leg is best-effort: a failure there is logged and the
// job proceeds, keeping the merchant whole even when the chain degrades. The
// off-ramp leg is load-bearing: its failure marks the intent's settlement
// FAILED and blocks the SETTLED transition.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/chain"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/escroworder"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/events"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/intent"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/ledger"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/metrics"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/retry"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/scheduler"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/traces"
)

var ErrSettlementFailed = errors.New("settlement: off-ramp failed")

// Intents is the slice of the intent service this package consumes.
type Intents interface {
	Get(ctx context.Context, id string) (*intent.Intent, error)
	MarkSettled(ctx context.Context, id, payoutRef string) error
	MarkSettlementFailed(ctx context.Context, id, reason string) error
}

// Orders is the slice of the escrow service this package consumes.
type Orders interface {
	GetOrderByIntent(ctx context.Context, intentID string) (*escroworder.Order, error)
	MarkSettlement(ctx context.Context, orderID int64, status escroworder.SettlementStatus) error
}

// Ledger is the slice of the ledger engine this package consumes.
type Ledger interface {
	Settle(ctx context.Context, merchantID, amount, reference string) (*ledger.Entry, error)
	ListEntries(ctx context.Context, merchantID string, filter ledger.EntryFilter) ([]*ledger.Entry, error)
}

// Chain is the slice of the chain adapter this package consumes.
type Chain interface {
	ExecuteSettlement(ctx context.Context, orderID int64) (string, error)
	ConfirmSettlement(ctx context.Context, orderID int64) (string, error)
	GetSettlementState(ctx context.Context, orderID int64) (*chain.SettlementState, error)
}

// Scheduler enqueues settlement jobs.
type Scheduler interface {
	Enqueue(ctx context.Context, job *scheduler.Job) error
}

// AuditLogger records settlement operations. Best-effort.
type AuditLogger interface {
	Log(ctx context.Context, action, entityID string, details map[string]string)
}

// Orchestrator drives settlements end to end.
type Orchestrator struct {
	intents  Intents
	orders   Orders
	ledger   Ledger
	chain    Chain
	provider Provider
	sched    Scheduler
	bus      *events.Bus
	audit    AuditLogger
	logger   *slog.Logger
}

// NewOrchestrator creates the settlement orchestrator.
func NewOrchestrator(intents Intents, orders Orders, ldgr Ledger, ch Chain, provider Provider, sched Scheduler, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		intents:  intents,
		orders:   orders,
		ledger:   ldgr,
		chain:    ch,
		provider: provider,
		sched:    sched,
		logger:   logger,
	}
}

// WithEvents attaches the domain event bus.
func (o *Orchestrator) WithEvents(bus *events.Bus) *Orchestrator {
	o.bus = bus
	return o
}

// WithAudit attaches a best-effort audit logger.
func (o *Orchestrator) WithAudit(a AuditLogger) *Orchestrator {
	o.audit = a
	return o
}

// RegisterJobs binds the settlement handler to the runner.
func (o *Orchestrator) RegisterJobs(r *scheduler.Runner) {
	r.Register(intent.JobSettle, o.HandleSettleJob)
}

// ScheduleSettlement enqueues the settlement job for an intent. Implements
// the escrow lifecycle's Settler capability.
func (o *Orchestrator) ScheduleSettlement(ctx context.Context, intentID string) error {
	job := scheduler.NewJob(intent.JobSettle, intentID, time.Now())
	if err := o.sched.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue settlement: %w", err)
	}
	return nil
}

// HandleSettleJob runs one settlement attempt: the optional chain leg, the
// off-ramp, the ledger posting, and the SUCCEEDED to SETTLED transition.
// Idempotent: an already-settled intent is a no-op, the off-ramp provider is
// idempotent per invocation id, and the ledger posting is guarded by an
// entry lookup.
func (o *Orchestrator) HandleSettleJob(ctx context.Context, job *scheduler.Job) error {
	ctx, span := traces.StartSpan(ctx, "settlement.execute", traces.IntentID(job.TargetID))
	defer span.End()

	it, err := o.intents.Get(ctx, job.TargetID)
	if err != nil {
		if errors.Is(err, intent.ErrNotFound) {
			return retry.Permanent(err)
		}
		return fmt.Errorf("failed to load intent: %w", err)
	}

	switch {
	case it.Status == intent.StatusSettled, it.Status == intent.StatusFinal:
		return nil // already settled
	case it.Status == intent.StatusCanceled:
		return nil // intent became irrelevant
	case it.SettlementStatus == intent.SettlementFailed:
		return nil // durable failure, manual resolution owns this intent now
	}

	o.settleChainLeg(ctx, it)

	result, err := o.provider.ProcessOffRamp(ctx, OffRampRequest{
		InvocationID: it.ID,
		Destination:  it.SettlementDestination,
		Amount:       it.Amount,
		Currency:     it.Currency,
	})
	if err != nil {
		if job.Attempts >= job.MaxAttempts {
			// Final attempt: record the durable failure before the job dies.
			if mErr := o.intents.MarkSettlementFailed(ctx, it.ID, err.Error()); mErr != nil {
				o.logger.Error("failed to record settlement failure", "intent", it.ID, "error", mErr)
			}
			metrics.SettlementsTotal.WithLabelValues("failed").Inc()
			o.bus.Publish(events.SettlementFailed, map[string]string{
				"intentId": it.ID, "reason": err.Error(),
			})
			return retry.Permanent(fmt.Errorf("%w: %v", ErrSettlementFailed, err))
		}
		return fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	if err := o.postSettlement(ctx, it); err != nil {
		return err
	}
	if err := o.intents.MarkSettled(ctx, it.ID, result.TransactionID); err != nil {
		return fmt.Errorf("failed to mark intent settled: %w", err)
	}

	metrics.SettlementsTotal.WithLabelValues("success").Inc()
	o.bus.Publish(events.SettlementExecuted, map[string]string{
		"intentId": it.ID, "payoutRef": result.TransactionID, "amount": it.Amount,
	})
	if o.audit != nil {
		o.audit.Log(ctx, "settlement.executed", it.ID, map[string]string{
			"payoutRef": result.TransactionID, "amount": it.Amount,
		})
	}
	o.logger.Info("settlement completed", "intent", it.ID, "payout", result.TransactionID)
	return nil
}

// settleChainLeg executes and confirms the on-chain settlement for a DvP
// intent's released order. Failures here never block the off-ramp; they are
// logged and the leg is left for the next dispatch or manual sweep.
func (o *Orchestrator) settleChainLeg(ctx context.Context, it *intent.Intent) {
	if it.Type != intent.DeliveryVsPayment {
		return
	}
	order, err := o.orders.GetOrderByIntent(ctx, it.ID)
	if err != nil {
		o.logger.Warn("chain settlement skipped, order not found", "intent", it.ID, "error", err)
		return
	}
	if !order.Released() {
		o.logger.Warn("chain settlement skipped, order not released", "order", order.ID)
		return
	}
	if order.SettlementStatus == escroworder.SettlementConfirmed {
		return
	}

	if order.SettlementStatus != escroworder.SettlementExecuted {
		txHash, err := o.chain.ExecuteSettlement(ctx, order.ID)
		if err != nil {
			metrics.SettlementsTotal.WithLabelValues("chain_degraded").Inc()
			o.logger.Error("chain settlement execution failed, continuing off-ramp",
				"order", order.ID, "error", err)
			return
		}
		if err := o.orders.MarkSettlement(ctx, order.ID, escroworder.SettlementExecuted); err != nil {
			o.logger.Error("failed to record chain settlement", "order", order.ID, "error", err)
			return
		}
		o.logger.Info("chain settlement executed", "order", order.ID, "tx", txHash)
	}

	if _, err := o.chain.ConfirmSettlement(ctx, order.ID); err != nil {
		metrics.SettlementsTotal.WithLabelValues("chain_degraded").Inc()
		o.logger.Error("chain settlement confirmation failed, continuing off-ramp",
			"order", order.ID, "error", err)
		return
	}
	if err := o.orders.MarkSettlement(ctx, order.ID, escroworder.SettlementConfirmed); err != nil {
		o.logger.Error("failed to record chain confirmation", "order", order.ID, "error", err)
	}
}

// postSettlement debits the swept amount unless an identical entry exists.
func (o *Orchestrator) postSettlement(ctx context.Context, it *intent.Intent) error {
	entries, err := o.ledger.ListEntries(ctx, it.MerchantID, ledger.EntryFilter{
		Type:      ledger.TypeSettlement,
		Reference: it.ID,
		Limit:     1,
	})
	if err != nil {
		return fmt.Errorf("failed to check prior settlement entry: %w", err)
	}
	if len(entries) > 0 {
		return nil
	}
	if _, err := o.ledger.Settle(ctx, it.MerchantID, it.Amount, it.ID); err != nil {
		return fmt.Errorf("failed to post settlement entry: %w", err)
	}
	return nil
}
