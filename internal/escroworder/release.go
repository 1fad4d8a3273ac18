package escroworder

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/events"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/ledger"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/retry"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/scheduler"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/traces"
)

// RegisterJobs binds this package's job handlers to the runner.
func (s *Service) RegisterJobs(r *scheduler.Runner) {
	r.Register(JobTimeLockRelease, s.HandleTimeLockRelease)
	r.Register(JobMilestoneCheck, s.HandleMilestoneCheck)
	r.Register(JobDeliveryProof, s.HandleDeliveryProof)
	r.Register(JobDisputeTimeout, s.HandleDisputeTimeout)
}

func orderIDFromJob(job *scheduler.Job) (int64, error) {
	id, err := strconv.ParseInt(job.TargetID, 10, 64)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("bad order id %q: %w", job.TargetID, err))
	}
	return id, nil
}

// HandleTimeLockRelease releases a time-locked order once the lock expires.
// Before the unlock instant it fails retryably; a disputed order fails
// permanently. Safe to dispatch redundantly.
func (s *Service) HandleTimeLockRelease(ctx context.Context, job *scheduler.Job) error {
	orderID, err := orderIDFromJob(job)
	if err != nil {
		return err
	}
	ctx, span := traces.StartSpan(ctx, "escrow.time_lock_release", traces.OrderID(orderID))
	defer span.End()

	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return retry.Permanent(err)
		}
		return err
	}

	if order.Released() {
		return s.ensureSettlement(ctx, order)
	}
	if order.Status == OrderDisputed {
		return retry.Permanent(fmt.Errorf("order %d is disputed, release blocked", orderID))
	}
	if order.TimeLockUntil != nil && time.Now().Before(*order.TimeLockUntil) {
		return fmt.Errorf("%w: time lock expires at %s", ErrNotYetDue, order.TimeLockUntil.Format(time.RFC3339))
	}

	return s.release(ctx, order)
}

// HandleMilestoneCheck releases a single milestone's amount once the
// milestone is COMPLETED. Releases the whole order when every milestone has
// been released.
func (s *Service) HandleMilestoneCheck(ctx context.Context, job *scheduler.Job) error {
	orderID, err := orderIDFromJob(job)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(job.Payload["index"])
	if err != nil {
		return retry.Permanent(fmt.Errorf("bad milestone index %q: %w", job.Payload["index"], err))
	}
	ctx, span := traces.StartSpan(ctx, "escrow.milestone_check", traces.OrderID(orderID))
	defer span.End()

	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return retry.Permanent(err)
		}
		return err
	}
	m, err := s.store.GetMilestone(ctx, orderID, index)
	if err != nil {
		if err == ErrMilestoneNotFound {
			return retry.Permanent(err)
		}
		return err
	}

	switch m.Status {
	case MilestoneReleased:
		// A prior attempt may have released the milestone and then failed
		// before the order completion was persisted or settlement enqueued.
		if order.Status == OrderDisputed {
			return nil
		}
		return s.completeIfAllMilestonesReleased(ctx, order)
	case MilestonePending:
		return fmt.Errorf("%w: milestone %d not completed", ErrNotYetDue, index)
	}
	if order.Status == OrderDisputed {
		return retry.Permanent(fmt.Errorf("order %d is disputed, milestone release blocked", orderID))
	}

	ref := fmt.Sprintf("%s#m%d", order.Reference(), index)
	if err := s.releaseFunds(ctx, order.MerchantID, m.Amount, ref); err != nil {
		return err
	}

	now := time.Now()
	m.Status = MilestoneReleased
	m.ReleasedAt = &now
	if err := s.store.UpdateMilestone(ctx, m); err != nil {
		return fmt.Errorf("failed to persist milestone: %w", err)
	}

	releasesTotal.WithLabelValues(string(MilestoneLocked)).Inc()
	s.bus.Publish(events.MilestoneReleased, map[string]string{
		"orderId": strconv.FormatInt(orderID, 10), "index": strconv.Itoa(index), "amount": m.Amount,
	})

	return s.completeIfAllMilestonesReleased(ctx, order)
}

// completeIfAllMilestonesReleased closes out a milestone order whose last
// milestone just released. The order-level release moves no funds; the
// milestones already did.
func (s *Service) completeIfAllMilestonesReleased(ctx context.Context, order *Order) error {
	milestones, err := s.store.ListMilestones(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, m := range milestones {
		if m.Status != MilestoneReleased {
			return nil
		}
	}

	if order.Released() {
		return s.ensureSettlement(ctx, order)
	}
	now := time.Now()
	order.Status = OrderCompleted
	order.SettlementStatus = SettlementScheduled
	order.ReleasedAt = &now
	order.UpdatedAt = now

	if err := s.store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to persist order: %w", err)
	}
	if err := s.scheduleSettlement(ctx, order); err != nil {
		return err
	}

	s.bus.Publish(events.OrderReleased, map[string]string{
		"orderId": strconv.FormatInt(order.ID, 10), "releaseType": string(order.ReleaseType),
	})
	s.logger.Info("escrow order completed", "order", order.ID, "release_type", order.ReleaseType)
	return nil
}

// HandleDeliveryProof processes a submitted proof. For auto-release orders it
// polls the chain until the contract reflects the release, then releases the
// reserve; for manual orders it verifies the chain recorded the delivery and
// completes, leaving the release to a milestone or explicit path.
func (s *Service) HandleDeliveryProof(ctx context.Context, job *scheduler.Job) error {
	orderID, err := orderIDFromJob(job)
	if err != nil {
		return err
	}
	ctx, span := traces.StartSpan(ctx, "escrow.delivery_proof", traces.OrderID(orderID))
	defer span.End()

	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return retry.Permanent(err)
		}
		return err
	}

	if order.Released() {
		return s.ensureSettlement(ctx, order)
	}
	if order.Status == OrderDisputed {
		return retry.Permanent(fmt.Errorf("order %d is disputed, proof processing blocked", orderID))
	}

	state, err := s.chain.GetOrderState(ctx, orderID)
	if err != nil {
		// Propagation delay: the contract may not reflect the order yet.
		return fmt.Errorf("failed to read chain state for order %d: %w", orderID, err)
	}

	if !order.AutoReleaseOnProof {
		proof, err := s.store.LatestProof(ctx, orderID)
		if err != nil {
			return err
		}
		if proof == nil {
			return fmt.Errorf("%w: no delivery proof submitted", ErrNotYetDue)
		}
		if !state.Delivered {
			return fmt.Errorf("%w: delivery not yet reflected on chain", ErrNotYetDue)
		}
		// Proof recorded; funds stay reserved until an explicit release path.
		return nil
	}

	if !state.Released {
		return fmt.Errorf("%w: auto-release not yet reflected on chain", ErrNotYetDue)
	}
	return s.release(ctx, order)
}

// HandleDisputeTimeout marks the dispute window expired once it elapses. It
// never auto-resolves the dispute and never moves the order off DISPUTED.
func (s *Service) HandleDisputeTimeout(ctx context.Context, job *scheduler.Job) error {
	orderID, err := orderIDFromJob(job)
	if err != nil {
		return err
	}
	ctx, span := traces.StartSpan(ctx, "escrow.dispute_timeout", traces.OrderID(orderID))
	defer span.End()

	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if err == ErrOrderNotFound {
			return retry.Permanent(err)
		}
		return err
	}

	if order.Status != OrderDisputed {
		return nil // dispute resolved externally, job is irrelevant
	}
	if order.DisputeExpired {
		return nil
	}
	if order.DisputeRaisedAt == nil {
		return retry.Permanent(fmt.Errorf("order %d disputed without raised-at timestamp", orderID))
	}

	expiry := order.DisputeRaisedAt.Add(time.Duration(order.DisputeWindowSecs) * time.Second)
	if time.Now().Before(expiry) {
		return fmt.Errorf("%w: dispute window open until %s", ErrNotYetDue, expiry.Format(time.RFC3339))
	}

	order.DisputeExpired = true
	order.UpdatedAt = time.Now()
	if err := s.store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to persist order: %w", err)
	}

	s.logger.Warn("dispute window expired, manual resolution required",
		"order", order.ID, "raised_by", order.DisputeRaisedBy)
	if s.audit != nil {
		s.audit.Log(ctx, "escrow.dispute_expired", order.Reference(), map[string]string{
			"orderId": strconv.FormatInt(order.ID, 10),
		})
	}
	return nil
}

// release performs the one-shot release of a whole order: the reserve moves
// back to available, the order goes COMPLETED with releasedAt set once, and
// settlement is scheduled. The order record is persisted before the
// settlement job is enqueued so a settle worker never observes a
// not-yet-released order; the ledger leg is guarded against double
// application by an entry lookup, and a failed enqueue is recovered by
// ensureSettlement on the retry.
func (s *Service) release(ctx context.Context, order *Order) error {
	if order.Released() {
		return s.ensureSettlement(ctx, order)
	}

	if err := s.releaseFunds(ctx, order.MerchantID, order.Amount, order.Reference()); err != nil {
		return err
	}

	now := time.Now()
	order.Status = OrderCompleted
	order.SettlementStatus = SettlementScheduled
	if order.ReleasedAt == nil {
		order.ReleasedAt = &now
	}
	order.UpdatedAt = now

	if err := s.store.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to persist order: %w", err)
	}
	if err := s.scheduleSettlement(ctx, order); err != nil {
		return err
	}

	releasesTotal.WithLabelValues(string(order.ReleaseType)).Inc()
	s.bus.Publish(events.OrderReleased, map[string]string{
		"orderId": strconv.FormatInt(order.ID, 10), "intentId": order.IntentID,
		"releaseType": string(order.ReleaseType), "amount": order.Amount,
	})
	if s.audit != nil {
		s.audit.Log(ctx, "escrow.released", order.Reference(), map[string]string{
			"orderId": strconv.FormatInt(order.ID, 10), "amount": order.Amount,
		})
	}
	s.logger.Info("escrow released", "order", order.ID, "release_type", order.ReleaseType)
	return nil
}

// releaseFunds posts the RELEASE entry unless an identical one already
// exists for the reference.
func (s *Service) releaseFunds(ctx context.Context, merchantID, amount, reference string) error {
	entries, err := s.ledger.ListEntries(ctx, merchantID, ledger.EntryFilter{
		Type:      ledger.TypeRelease,
		Reference: reference,
		Limit:     1,
	})
	if err != nil {
		return fmt.Errorf("failed to check prior release: %w", err)
	}
	if len(entries) > 0 {
		return nil
	}
	if _, err := s.ledger.Release(ctx, merchantID, amount, reference); err != nil {
		return fmt.Errorf("failed to release reserve: %w", err)
	}
	return nil
}

func (s *Service) scheduleSettlement(ctx context.Context, order *Order) error {
	if s.settler == nil || order.IntentID == "" {
		return nil
	}
	if err := s.settler.ScheduleSettlement(ctx, order.IntentID); err != nil {
		return fmt.Errorf("failed to schedule settlement: %w", err)
	}
	return nil
}

// ensureSettlement re-enqueues the settlement job for a released order whose
// settlement has not progressed past SCHEDULED. This recovers a release that
// was persisted but whose enqueue failed; a duplicate job is harmless because
// the settle handler is idempotent.
func (s *Service) ensureSettlement(ctx context.Context, order *Order) error {
	if order.SettlementStatus != SettlementScheduled {
		return nil
	}
	return s.scheduleSettlement(ctx, order)
}
