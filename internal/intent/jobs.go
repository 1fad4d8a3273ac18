package intent

import (
	"context"
	"fmt"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/chain"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/ledger"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/retry"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/scheduler"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/traces"
)

// RegisterJobs binds this package's job handlers to the runner.
func (s *Service) RegisterJobs(r *scheduler.Runner) {
	r.Register(JobConfirmTx, s.HandleConfirmTransaction)
}

// HandleConfirmTransaction polls the chain for the intent's transaction
// receipt. On success it credits the merchant exactly once, transitions
// PROCESSING to SUCCEEDED, and dispatches the next leg: escrow order
// creation for DvP intents, a settlement job for direct transfers.
//
// Idempotent: a duplicate dispatch after the intent already succeeded is a
// no-op, and the ledger credit is guarded by an entry lookup keyed on the
// intent id.
func (s *Service) HandleConfirmTransaction(ctx context.Context, job *scheduler.Job) error {
	ctx, span := traces.StartSpan(ctx, "intent.confirm_tx", traces.IntentID(job.TargetID))
	defer span.End()

	it, err := s.store.Get(ctx, job.TargetID)
	if err != nil {
		if err == ErrNotFound {
			return retry.Permanent(err)
		}
		return fmt.Errorf("failed to load intent: %w", err)
	}

	switch it.Status {
	case StatusSucceeded, StatusSettled, StatusFinal:
		return nil // already confirmed
	case StatusCanceled:
		return nil // intent became irrelevant
	}

	if it.TxHash == "" {
		return fmt.Errorf("%w: waiting for signed transaction", ErrMissingTxHash)
	}

	status, err := s.receipts.ReceiptStatus(ctx, it.TxHash)
	if err != nil {
		return fmt.Errorf("failed to read receipt for %s: %w", it.TxHash, err)
	}

	switch status {
	case chain.ReceiptPending:
		return fmt.Errorf("transaction %s not yet confirmed", it.TxHash)

	case chain.ReceiptFailed:
		s.logger.Error("chain transaction reverted", "intent", it.ID, "tx", it.TxHash)
		if err := s.setStatus(ctx, it, StatusRequiresAction); err != nil {
			return retry.Permanent(err)
		}
		it.SetPhase(PhaseConfirmation, "failed")
		if err := s.store.Update(ctx, it); err != nil {
			return fmt.Errorf("failed to persist intent: %w", err)
		}
		return nil

	case chain.ReceiptSuccess:
		return s.handleConfirmed(ctx, it)

	default:
		return retry.Permanent(fmt.Errorf("unknown receipt status %q", status))
	}
}

func (s *Service) handleConfirmed(ctx context.Context, it *Intent) error {
	credited, err := s.alreadyCredited(ctx, it)
	if err != nil {
		return err
	}
	if !credited {
		if _, err := s.ledger.Credit(ctx, it.MerchantID, it.Amount, it.ID); err != nil {
			return fmt.Errorf("failed to credit merchant: %w", err)
		}
	}

	if err := s.setStatus(ctx, it, StatusSucceeded); err != nil {
		return retry.Permanent(err)
	}
	it.SetPhase(PhaseConfirmation, "completed")

	switch it.Type {
	case DeliveryVsPayment:
		if s.escrow == nil {
			return retry.Permanent(fmt.Errorf("no escrow creator configured for DvP intent %s", it.ID))
		}
		if err := s.escrow.CreateFromIntent(ctx, it); err != nil {
			return fmt.Errorf("failed to create escrow order: %w", err)
		}
		it.SetPhase(PhaseEscrow, "created")

	case DirectTransfer:
		it.SettlementStatus = SettlementPending
		it.SetPhase(PhaseSettlement, "scheduled")
		job := scheduler.NewJob(JobSettle, it.ID, time.Now())
		if err := s.sched.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to schedule settlement: %w", err)
		}
	}

	if err := s.store.Update(ctx, it); err != nil {
		return fmt.Errorf("failed to persist intent: %w", err)
	}

	if s.audit != nil {
		s.audit.Log(ctx, "intent.confirmed", it.ID, map[string]string{
			"tx": it.TxHash, "amount": it.Amount,
		})
	}
	s.logger.Info("intent confirmed on chain", "intent", it.ID, "tx", it.TxHash, "type", it.Type)
	return nil
}

// alreadyCredited checks the ledger for a prior CREDIT referencing this
// intent. This is the guard that keeps retried confirmations from paying the
// merchant twice.
func (s *Service) alreadyCredited(ctx context.Context, it *Intent) (bool, error) {
	entries, err := s.ledger.ListEntries(ctx, it.MerchantID, ledger.EntryFilter{
		Type:      ledger.TypeCredit,
		Reference: it.ID,
		Limit:     1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check prior credit: %w", err)
	}
	return len(entries) > 0, nil
}
