package escroworder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/chain"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/events"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idgen"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idmap"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/ledger"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/scheduler"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/traces"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/validation"
)

// Job types owned by this package.
const (
	JobTimeLockRelease = "escrow.time_lock_release"
	JobMilestoneCheck  = "escrow.milestone_check"
	JobDeliveryProof   = "escrow.delivery_proof"
	JobDisputeTimeout  = "escrow.dispute_timeout"
)

// Store persists orders, proofs, and milestones.
type Store interface {
	InsertOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetOrderByIntent(ctx context.Context, intentID string) (*Order, error)
	UpdateOrder(ctx context.Context, o *Order) error

	InsertProof(ctx context.Context, p *DeliveryProof) error
	LatestProof(ctx context.Context, orderID int64) (*DeliveryProof, error)

	InsertMilestone(ctx context.Context, m *Milestone) error
	GetMilestone(ctx context.Context, orderID int64, index int) (*Milestone, error)
	ListMilestones(ctx context.Context, orderID int64) ([]*Milestone, error)
	UpdateMilestone(ctx context.Context, m *Milestone) error
}

// LedgerService is the slice of the ledger engine this package consumes.
type LedgerService interface {
	Reserve(ctx context.Context, merchantID, amount, reference string) (*ledger.Entry, error)
	Release(ctx context.Context, merchantID, amount, reference string) (*ledger.Entry, error)
	ListEntries(ctx context.Context, merchantID string, filter ledger.EntryFilter) ([]*ledger.Entry, error)
}

// Scheduler enqueues release-evaluation jobs. Enqueue failures propagate.
type Scheduler interface {
	Enqueue(ctx context.Context, job *scheduler.Job) error
}

// Chain is the slice of the chain adapter this package consumes.
type Chain interface {
	GetOrderState(ctx context.Context, orderID int64) (*chain.OrderState, error)
	SubmitDeliveryProof(ctx context.Context, orderID int64, proofHash string) (string, error)
}

// ChainRegistrar is implemented by the mock adapter. The live contract is
// populated by the buyer's deposit transaction; the mock needs seeding.
type ChainRegistrar interface {
	RegisterOrder(orderID int64, buyer, amount string, autoRelease bool)
}

// Settler schedules the settlement leg for a released order's intent.
type Settler interface {
	ScheduleSettlement(ctx context.Context, intentID string) error
}

// AuditLogger records escrow operations. Best-effort.
type AuditLogger interface {
	Log(ctx context.Context, action, entityID string, details map[string]string)
}

// Service drives the escrow order lifecycle.
type Service struct {
	store   Store
	ledger  LedgerService
	sched   Scheduler
	chain   Chain
	ids     idmap.Mapper
	settler Settler
	bus     *events.Bus
	audit   AuditLogger
	logger  *slog.Logger

	// orderLocks serializes mutating work per order, closing the race
	// between delivery-proof and dispute-timeout jobs for the same order.
	orderLocks sync.Map
}

// NewService creates the escrow order service.
func NewService(store Store, ldgr LedgerService, sched Scheduler, ch Chain, ids idmap.Mapper, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		ledger: ldgr,
		sched:  sched,
		chain:  ch,
		ids:    ids,
		logger: logger,
	}
}

// WithSettler attaches the settlement scheduler.
func (s *Service) WithSettler(st Settler) *Service {
	s.settler = st
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

// lockOrder acquires the per-order mutex. All mutating paths re-read state
// after acquiring it.
func (s *Service) lockOrder(orderID int64) func() {
	v, _ := s.orderLocks.LoadOrStore(orderID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateOrderParams are the fields for a new escrow order.
type CreateOrderParams struct {
	IntentID           string       `json:"intentId"`
	MerchantID         string       `json:"merchantId"`
	Buyer              string       `json:"buyer"`
	Token              string       `json:"token"`
	Amount             string       `json:"amount"`
	Currency           string       `json:"currency"`
	ReleaseType        ReleaseType  `json:"releaseType"`
	AutoReleaseOnProof bool         `json:"autoReleaseOnProof"`
	TimeLockUntil      *time.Time   `json:"timeLockUntil"`
	DeliveryDeadline   *time.Time   `json:"deliveryDeadline"`
	DisputeWindowSecs  int64        `json:"disputeWindowSecs"`
}

// CreateOrder persists a PENDING order, reserves the merchant's funds, and
// dispatches the one scheduling action the release type calls for.
// Idempotent per intent: a second call for the same intent returns the
// existing order.
func (s *Service) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.create_order", traces.MerchantID(params.MerchantID))
	defer span.End()

	if err := validation.Validate(
		validation.Required("merchantId", params.MerchantID),
		validation.Required("buyer", params.Buyer),
		validation.ValidAmount("amount", params.Amount),
	); err != nil {
		return nil, err
	}
	if !ValidReleaseType(params.ReleaseType) {
		return nil, validation.Errors{{Field: "releaseType", Message: "unknown release type"}}
	}

	if params.IntentID != "" {
		existing, err := s.store.GetOrderByIntent(ctx, params.IntentID)
		if err == nil {
			return existing, nil
		}
		if err != ErrOrderNotFound {
			return nil, err
		}
	}

	key := params.IntentID
	if key == "" {
		key = idgen.WithPrefix("ord_")
	}
	orderID, err := s.ids.NumericID(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate order id: %w", err)
	}

	now := time.Now()
	order := &Order{
		ID:                 orderID,
		IntentID:           params.IntentID,
		MerchantID:         params.MerchantID,
		Buyer:              params.Buyer,
		Token:              params.Token,
		Amount:             params.Amount,
		Currency:           params.Currency,
		ReleaseType:        params.ReleaseType,
		Status:             OrderPending,
		SettlementStatus:   SettlementNone,
		AutoReleaseOnProof: params.AutoReleaseOnProof || params.ReleaseType == AutoRelease,
		TimeLockUntil:      params.TimeLockUntil,
		DeliveryDeadline:   params.DeliveryDeadline,
		DisputeWindowSecs:  params.DisputeWindowSecs,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.store.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	if reg, ok := s.chain.(ChainRegistrar); ok {
		reg.RegisterOrder(order.ID, order.Buyer, order.Amount, order.AutoReleaseOnProof)
	}

	if _, err := s.ledger.Reserve(ctx, order.MerchantID, order.Amount, order.Reference()); err != nil {
		return nil, fmt.Errorf("failed to reserve funds: %w", err)
	}

	if err := s.scheduleForReleaseType(ctx, order); err != nil {
		return nil, err
	}

	ordersCreatedTotal.WithLabelValues(string(order.ReleaseType)).Inc()
	s.bus.Publish(events.OrderCreated, map[string]string{
		"orderId": strconv.FormatInt(order.ID, 10), "intentId": order.IntentID,
		"releaseType": string(order.ReleaseType), "amount": order.Amount,
	})
	if s.audit != nil {
		s.audit.Log(ctx, "escrow.order_created", order.Reference(), map[string]string{
			"orderId": strconv.FormatInt(order.ID, 10), "amount": order.Amount,
		})
	}
	s.logger.Info("escrow order created", "order", order.ID, "intent", order.IntentID,
		"release_type", order.ReleaseType)
	return order, nil
}

// scheduleForReleaseType dispatches exactly one scheduling action:
// time-locked orders get a release job at the unlock instant, auto-release
// orders get an immediate chain check, milestone and proof orders wait for
// their triggering call.
func (s *Service) scheduleForReleaseType(ctx context.Context, order *Order) error {
	target := strconv.FormatInt(order.ID, 10)
	switch order.ReleaseType {
	case TimeLocked:
		runAt := time.Now()
		if order.TimeLockUntil != nil {
			runAt = *order.TimeLockUntil
		}
		job := scheduler.NewJob(JobTimeLockRelease, target, runAt)
		if err := s.sched.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to schedule time-lock release: %w", err)
		}
	case AutoRelease:
		job := scheduler.NewJob(JobDeliveryProof, target, time.Now()).
			WithAttempts(scheduler.DeliveryProofAttempts)
		if err := s.sched.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to schedule auto-release check: %w", err)
		}
	}
	return nil
}

// GetOrder returns an order snapshot with its milestones.
func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, []*Milestone, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	milestones, err := s.store.ListMilestones(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return order, milestones, nil
}

// GetOrderByIntent returns the order created for an intent.
func (s *Service) GetOrderByIntent(ctx context.Context, intentID string) (*Order, error) {
	return s.store.GetOrderByIntent(ctx, intentID)
}

// ProofParams are the fields for a delivery proof submission.
type ProofParams struct {
	ProofHash string `json:"proofHash"`
	URI       string `json:"uri"`
	Submitter string `json:"submitter"`
}

// SubmitDeliveryProof records a proof on chain and in the store, marks the
// order DELIVERED, and schedules proof processing.
func (s *Service) SubmitDeliveryProof(ctx context.Context, orderID int64, params ProofParams) (*DeliveryProof, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.submit_proof", traces.OrderID(orderID))
	defer span.End()

	if err := validation.Validate(
		validation.Required("proofHash", params.ProofHash),
		validation.Required("submitter", params.Submitter),
	); err != nil {
		return nil, err
	}

	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderCompleted {
		return nil, ErrOrderTerminal
	}
	if order.Status == OrderDisputed {
		return nil, ErrOrderDisputed
	}

	txHash, err := s.chain.SubmitDeliveryProof(ctx, orderID, params.ProofHash)
	if err != nil {
		return nil, fmt.Errorf("failed to submit proof on chain: %w", err)
	}

	proof := &DeliveryProof{
		ID:        idgen.WithPrefix("prf_"),
		OrderID:   orderID,
		ProofHash: params.ProofHash,
		URI:       params.URI,
		Submitter: params.Submitter,
		TxHash:    txHash,
		CreatedAt: time.Now(),
	}
	if err := s.store.InsertProof(ctx, proof); err != nil {
		return nil, fmt.Errorf("failed to persist proof: %w", err)
	}

	order.Status = OrderDelivered
	order.UpdatedAt = time.Now()
	if err := s.store.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	job := scheduler.NewJob(JobDeliveryProof, strconv.FormatInt(orderID, 10), time.Now()).
		WithAttempts(scheduler.DeliveryProofAttempts)
	if err := s.sched.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to schedule proof processing: %w", err)
	}

	s.bus.Publish(events.OrderDelivered, map[string]string{
		"orderId": strconv.FormatInt(orderID, 10), "proofId": proof.ID, "tx": txHash,
	})
	if s.audit != nil {
		s.audit.Log(ctx, "escrow.proof_submitted", order.Reference(), map[string]string{
			"proofId": proof.ID, "submitter": params.Submitter,
		})
	}
	return proof, nil
}

// DisputeParams are the fields for raising a dispute.
type DisputeParams struct {
	RaisedBy   string `json:"raisedBy"`
	Reason     string `json:"reason"`
	WindowSecs int64  `json:"windowSecs"`
}

// RaiseDispute moves the order to DISPUTED and schedules the window-expiry
// check. Dispute resolution itself is manual; the job only marks expiry.
func (s *Service) RaiseDispute(ctx context.Context, orderID int64, params DisputeParams) (*Order, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.raise_dispute", traces.OrderID(orderID))
	defer span.End()

	if err := validation.Validate(
		validation.Required("raisedBy", params.RaisedBy),
		validation.Required("reason", params.Reason),
	); err != nil {
		return nil, err
	}

	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderCompleted {
		return nil, ErrOrderTerminal
	}
	if order.Status == OrderDisputed {
		return nil, ErrAlreadyDisputed
	}

	window := params.WindowSecs
	if window <= 0 {
		window = order.DisputeWindowSecs
	}
	if window <= 0 {
		window = 7 * 24 * 3600
	}

	now := time.Now()
	order.Status = OrderDisputed
	order.DisputeRaisedAt = &now
	order.DisputeRaisedBy = params.RaisedBy
	order.DisputeReason = params.Reason
	order.DisputeWindowSecs = window
	order.UpdatedAt = now
	if err := s.store.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	job := scheduler.NewJob(JobDisputeTimeout, strconv.FormatInt(orderID, 10),
		now.Add(time.Duration(window)*time.Second))
	if err := s.sched.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to schedule dispute timeout: %w", err)
	}

	disputesTotal.Inc()
	s.bus.Publish(events.OrderDisputed, map[string]string{
		"orderId": strconv.FormatInt(orderID, 10), "raisedBy": params.RaisedBy,
	})
	if s.audit != nil {
		s.audit.Log(ctx, "escrow.dispute_raised", order.Reference(), map[string]string{
			"raisedBy": params.RaisedBy, "reason": params.Reason,
		})
	}
	return order, nil
}

// MilestoneParams are the fields for a new milestone.
type MilestoneParams struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// CreateMilestone adds a PENDING milestone. The sum of milestone amounts is
// deliberately not validated against the order total.
func (s *Service) CreateMilestone(ctx context.Context, orderID int64, params MilestoneParams) (*Milestone, error) {
	if err := validation.Validate(
		validation.ValidAmount("amount", params.Amount),
	); err != nil {
		return nil, err
	}
	if params.Index < 0 {
		return nil, validation.Errors{{Field: "index", Message: "must be non-negative"}}
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == OrderCompleted {
		return nil, ErrOrderTerminal
	}

	m := &Milestone{
		OrderID:     orderID,
		Index:       params.Index,
		Description: params.Description,
		Amount:      params.Amount,
		Status:      MilestonePending,
		CreatedAt:   time.Now(),
	}
	if err := s.store.InsertMilestone(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// CompleteMilestone marks a milestone COMPLETED and schedules the release
// check. COMPLETED to RELEASED only ever happens inside the job, so release
// is always mediated by the condition evaluator.
func (s *Service) CompleteMilestone(ctx context.Context, orderID int64, index int) (*Milestone, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	m, err := s.store.GetMilestone(ctx, orderID, index)
	if err != nil {
		return nil, err
	}
	switch m.Status {
	case MilestoneReleased:
		return m, nil // terminal, nothing to do
	case MilestoneCompleted:
		// Already completed; fall through to (re-)schedule the check.
	default:
		now := time.Now()
		m.Status = MilestoneCompleted
		m.CompletedAt = &now
		if err := s.store.UpdateMilestone(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to persist milestone: %w", err)
		}
	}

	job := scheduler.NewJob(JobMilestoneCheck, strconv.FormatInt(orderID, 10), time.Now()).
		WithPayload(map[string]string{"index": strconv.Itoa(index)})
	if err := s.sched.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to schedule milestone check: %w", err)
	}

	s.bus.Publish(events.MilestoneCompleted, map[string]string{
		"orderId": strconv.FormatInt(orderID, 10), "index": strconv.Itoa(index),
	})
	return m, nil
}

// MarkSettlement records progress of the settlement leg for a released order.
// Called by the settlement orchestrator.
func (s *Service) MarkSettlement(ctx context.Context, orderID int64, status SettlementStatus) error {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	order.SettlementStatus = status
	order.UpdatedAt = time.Now()
	return s.store.UpdateOrder(ctx, order)
}
