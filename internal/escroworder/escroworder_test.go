package escroworder

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/chain"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/idmap"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/ledger"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/logging"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/retry"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/scheduler"
)

type fakeScheduler struct {
	jobs []*scheduler.Job
	err  error
}

func (f *fakeScheduler) Enqueue(ctx context.Context, job *scheduler.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeScheduler) lastJob() *scheduler.Job {
	if len(f.jobs) == 0 {
		return nil
	}
	return f.jobs[len(f.jobs)-1]
}

type fakeSettler struct {
	scheduled  []string
	onSchedule func(intentID string) error
}

func (f *fakeSettler) ScheduleSettlement(ctx context.Context, intentID string) error {
	if f.onSchedule != nil {
		if err := f.onSchedule(intentID); err != nil {
			return err
		}
	}
	f.scheduled = append(f.scheduled, intentID)
	return nil
}

type testEnv struct {
	service *Service
	store   *MemoryStore
	ledger  *ledger.Engine
	sched   *fakeScheduler
	chain   *chain.MockAdapter
	settler *fakeSettler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := NewMemoryStore()
	eng := ledger.New(ledger.NewMemoryStore())
	sched := &fakeScheduler{}
	mock := chain.NewMockAdapter()
	settler := &fakeSettler{}

	svc := NewService(store, eng, sched, mock, idmap.NewMemoryMapper(), logging.New("error", "text")).
		WithSettler(settler)
	return &testEnv{service: svc, store: store, ledger: eng, sched: sched, chain: mock, settler: settler}
}

// fundAndCreate credits the merchant and creates an order, mirroring the
// chain-confirmation flow that precedes order creation in production.
func (env *testEnv) fundAndCreate(t *testing.T, params CreateOrderParams) *Order {
	t.Helper()
	ctx := context.Background()

	if _, err := env.ledger.Credit(ctx, params.MerchantID, params.Amount, params.IntentID); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	order, err := env.service.CreateOrder(ctx, params)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func baseParams() CreateOrderParams {
	return CreateOrderParams{
		IntentID:    "pi_test",
		MerchantID:  "merch_1",
		Buyer:       "0xbuyer",
		Amount:      "1000.00",
		Currency:    "USD",
		ReleaseType: DeliveryProofed,
	}
}

func (env *testEnv) available(t *testing.T, merchantID string) string {
	t.Helper()
	acct, err := env.ledger.GetAccount(context.Background(), merchantID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return acct.Available
}

func TestCreateOrderReservesFundsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.fundAndCreate(t, baseParams())
	if order.Status != OrderPending || order.SettlementStatus != SettlementNone {
		t.Errorf("new order status=%s settlement=%s, want PENDING/NONE", order.Status, order.SettlementStatus)
	}

	acct, _ := env.ledger.GetAccount(ctx, "merch_1")
	if acct.Available != "0.000000" || acct.Reserved != "1000.000000" {
		t.Errorf("after reserve: available=%s reserved=%s", acct.Available, acct.Reserved)
	}

	// A duplicate create for the same intent returns the existing order and
	// must not reserve twice.
	again, err := env.service.CreateOrder(ctx, baseParams())
	if err != nil {
		t.Fatalf("duplicate CreateOrder: %v", err)
	}
	if again.ID != order.ID {
		t.Errorf("duplicate create allocated a new order: %d != %d", again.ID, order.ID)
	}
	acct, _ = env.ledger.GetAccount(ctx, "merch_1")
	if acct.Reserved != "1000.000000" {
		t.Errorf("duplicate create changed reserve: %s", acct.Reserved)
	}
}

func TestCreateOrderSchedulesTimeLockJob(t *testing.T) {
	env := newTestEnv(t)

	unlock := time.Now().Add(time.Hour)
	params := baseParams()
	params.ReleaseType = TimeLocked
	params.TimeLockUntil = &unlock
	env.fundAndCreate(t, params)

	job := env.sched.lastJob()
	if job == nil || job.Type != JobTimeLockRelease {
		t.Fatalf("expected %s job, got %+v", JobTimeLockRelease, job)
	}
	if !job.RunAt.Equal(unlock) {
		t.Errorf("job runs at %v, want the unlock instant %v", job.RunAt, unlock)
	}
}

func TestCreateOrderQueueFailurePropagates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unlock := time.Now().Add(time.Hour)
	params := baseParams()
	params.ReleaseType = TimeLocked
	params.TimeLockUntil = &unlock

	_, _ = env.ledger.Credit(ctx, params.MerchantID, params.Amount, params.IntentID)
	env.sched.err = errors.New("queue unavailable")
	if _, err := env.service.CreateOrder(ctx, params); err == nil {
		t.Fatal("enqueue failure must propagate to the caller")
	}
}

// Expired time lock: the release job succeeds on its first attempt, the
// order completes, and releasedAt is set exactly once.
func TestExpiredTimeLockReleasesOnFirstAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unlock := time.Now().Add(-time.Second)
	params := baseParams()
	params.ReleaseType = TimeLocked
	params.TimeLockUntil = &unlock
	order := env.fundAndCreate(t, params)

	job := env.sched.lastJob()
	if err := env.service.HandleTimeLockRelease(ctx, job); err != nil {
		t.Fatalf("first attempt on expired lock should succeed: %v", err)
	}

	stored, _ := env.store.GetOrder(ctx, order.ID)
	if stored.Status != OrderCompleted {
		t.Errorf("status = %s, want COMPLETED", stored.Status)
	}
	if stored.ReleasedAt == nil {
		t.Fatal("releasedAt not set")
	}
	releasedAt := *stored.ReleasedAt
	if stored.SettlementStatus != SettlementScheduled {
		t.Errorf("settlementStatus = %s, want SCHEDULED", stored.SettlementStatus)
	}
	if env.available(t, "merch_1") != "1000.000000" {
		t.Errorf("reserve not returned: available = %s", env.available(t, "merch_1"))
	}
	if len(env.settler.scheduled) != 1 || env.settler.scheduled[0] != "pi_test" {
		t.Errorf("settlement scheduled = %v, want [pi_test]", env.settler.scheduled)
	}

	// Redundant dispatch: no duplicate credit, no second releasedAt.
	if err := env.service.HandleTimeLockRelease(ctx, job); err != nil {
		t.Fatalf("redundant dispatch should no-op: %v", err)
	}
	stored, _ = env.store.GetOrder(ctx, order.ID)
	if !stored.ReleasedAt.Equal(releasedAt) {
		t.Error("releasedAt changed on redundant dispatch")
	}
	if env.available(t, "merch_1") != "1000.000000" {
		t.Errorf("redundant dispatch moved funds: available = %s", env.available(t, "merch_1"))
	}
	entries, _ := env.ledger.ListEntries(ctx, "merch_1", ledger.EntryFilter{Type: ledger.TypeRelease, Reference: "pi_test"})
	if len(entries) != 1 {
		t.Errorf("release entries = %d, want 1", len(entries))
	}
}

// The released order must already be persisted when the settlement job is
// enqueued, so a settle worker that runs immediately sees it COMPLETED.
func TestReleasePersistsOrderBeforeSchedulingSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unlock := time.Now().Add(-time.Second)
	params := baseParams()
	params.ReleaseType = TimeLocked
	params.TimeLockUntil = &unlock
	order := env.fundAndCreate(t, params)

	var seenAtEnqueue *Order
	env.settler.onSchedule = func(intentID string) error {
		stored, err := env.store.GetOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetOrder during enqueue: %v", err)
		}
		seenAtEnqueue = stored
		return nil
	}

	if err := env.service.HandleTimeLockRelease(ctx, env.sched.lastJob()); err != nil {
		t.Fatalf("HandleTimeLockRelease: %v", err)
	}
	if seenAtEnqueue == nil {
		t.Fatal("settlement was never scheduled")
	}
	if !seenAtEnqueue.Released() || seenAtEnqueue.Status != OrderCompleted {
		t.Errorf("order at enqueue time: status=%s releasedAt=%v, want COMPLETED and released",
			seenAtEnqueue.Status, seenAtEnqueue.ReleasedAt)
	}
	if seenAtEnqueue.SettlementStatus != SettlementScheduled {
		t.Errorf("settlementStatus at enqueue time = %s, want SCHEDULED", seenAtEnqueue.SettlementStatus)
	}
}

// When the release persists but the settlement enqueue fails, the retry must
// re-schedule settlement without moving funds or touching releasedAt again.
func TestReleaseRetryRecoversFailedSettlementEnqueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unlock := time.Now().Add(-time.Second)
	params := baseParams()
	params.ReleaseType = TimeLocked
	params.TimeLockUntil = &unlock
	order := env.fundAndCreate(t, params)
	job := env.sched.lastJob()

	env.settler.onSchedule = func(string) error { return errors.New("queue unavailable") }
	err := env.service.HandleTimeLockRelease(ctx, job)
	if err == nil {
		t.Fatal("failed enqueue must propagate")
	}
	if retry.IsPermanent(err) {
		t.Fatal("failed enqueue must stay retryable")
	}

	stored, _ := env.store.GetOrder(ctx, order.ID)
	if !stored.Released() {
		t.Fatal("release was not persisted before the enqueue failure")
	}
	releasedAt := *stored.ReleasedAt

	env.settler.onSchedule = nil
	if err := env.service.HandleTimeLockRelease(ctx, job); err != nil {
		t.Fatalf("retry after enqueue failure: %v", err)
	}
	if len(env.settler.scheduled) != 1 || env.settler.scheduled[0] != "pi_test" {
		t.Errorf("settlement scheduled = %v, want [pi_test]", env.settler.scheduled)
	}

	stored, _ = env.store.GetOrder(ctx, order.ID)
	if !stored.ReleasedAt.Equal(releasedAt) {
		t.Error("retry changed releasedAt")
	}
	entries, _ := env.ledger.ListEntries(ctx, "merch_1", ledger.EntryFilter{Type: ledger.TypeRelease, Reference: "pi_test"})
	if len(entries) != 1 {
		t.Errorf("release entries = %d, want 1", len(entries))
	}
}

// A time-lock job scheduled before the unlock instant fails retryably on
// every invocation until the lock expires, then succeeds exactly once.
func TestTimeLockRetriesUntilDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unlock := time.Now().Add(60 * time.Millisecond)
	params := baseParams()
	params.ReleaseType = TimeLocked
	params.TimeLockUntil = &unlock
	order := env.fundAndCreate(t, params)
	job := env.sched.lastJob()

	for i := 0; i < 2; i++ {
		err := env.service.HandleTimeLockRelease(ctx, job)
		if !errors.Is(err, ErrNotYetDue) {
			t.Fatalf("attempt %d before unlock: want ErrNotYetDue, got %v", i, err)
		}
		if retry.IsPermanent(err) {
			t.Fatal("not-yet-due must be retryable")
		}
	}
	stored, _ := env.store.GetOrder(ctx, order.ID)
	if stored.Status != OrderPending {
		t.Fatalf("premature release: status = %s", stored.Status)
	}

	time.Sleep(80 * time.Millisecond)
	if err := env.service.HandleTimeLockRelease(ctx, job); err != nil {
		t.Fatalf("attempt after unlock: %v", err)
	}
	stored, _ = env.store.GetOrder(ctx, order.ID)
	if !stored.Released() {
		t.Error("order not released after lock expiry")
	}
}

func TestDisputeBlocksTimeLockRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unlock := time.Now().Add(-time.Second)
	params := baseParams()
	params.ReleaseType = TimeLocked
	params.TimeLockUntil = &unlock
	order := env.fundAndCreate(t, params)

	if _, err := env.service.RaiseDispute(ctx, order.ID, DisputeParams{RaisedBy: "0xbuyer", Reason: "not as described"}); err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}

	err := env.service.HandleTimeLockRelease(ctx, env.sched.jobs[0])
	if err == nil || !retry.IsPermanent(err) {
		t.Fatalf("release on disputed order must fail permanently, got %v", err)
	}
}

// Delivery proof with autoReleaseOnProof=false: order goes DELIVERED, the
// proof job completes, and settlement stays NONE with funds still reserved.
func TestProofWithoutAutoReleaseLeavesSettlementNone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.fundAndCreate(t, baseParams())

	proof, err := env.service.SubmitDeliveryProof(ctx, order.ID, ProofParams{
		ProofHash: "0xproof", URI: "ipfs://x", Submitter: "0xseller",
	})
	if err != nil {
		t.Fatalf("SubmitDeliveryProof: %v", err)
	}
	if proof.TxHash == "" {
		t.Error("proof submission did not record a chain tx")
	}

	stored, _ := env.store.GetOrder(ctx, order.ID)
	if stored.Status != OrderDelivered {
		t.Errorf("status = %s, want DELIVERED", stored.Status)
	}

	job := env.sched.lastJob()
	if job == nil || job.Type != JobDeliveryProof {
		t.Fatalf("expected %s job, got %+v", JobDeliveryProof, job)
	}
	if job.MaxAttempts != scheduler.DeliveryProofAttempts {
		t.Errorf("proof job MaxAttempts = %d, want %d", job.MaxAttempts, scheduler.DeliveryProofAttempts)
	}
	if err := env.service.HandleDeliveryProof(ctx, job); err != nil {
		t.Fatalf("HandleDeliveryProof: %v", err)
	}

	stored, _ = env.store.GetOrder(ctx, order.ID)
	if stored.SettlementStatus != SettlementNone {
		t.Errorf("settlementStatus = %s, want NONE until an explicit release", stored.SettlementStatus)
	}
	acct, _ := env.ledger.GetAccount(ctx, "merch_1")
	if acct.Reserved != "1000.000000" {
		t.Errorf("funds left reserve without a release: reserved = %s", acct.Reserved)
	}
}

func TestAutoReleaseOnProof(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	params := baseParams()
	params.ReleaseType = AutoRelease
	order := env.fundAndCreate(t, params)

	if _, err := env.service.SubmitDeliveryProof(ctx, order.ID, ProofParams{
		ProofHash: "0xproof", Submitter: "0xseller",
	}); err != nil {
		t.Fatalf("SubmitDeliveryProof: %v", err)
	}

	if err := env.service.HandleDeliveryProof(ctx, env.sched.lastJob()); err != nil {
		t.Fatalf("HandleDeliveryProof: %v", err)
	}

	stored, _ := env.store.GetOrder(ctx, order.ID)
	if !stored.Released() {
		t.Errorf("auto-release order not released: status=%s", stored.Status)
	}
	if env.available(t, "merch_1") != "1000.000000" {
		t.Errorf("available = %s after auto release", env.available(t, "merch_1"))
	}
}

func TestProofRejectedOnTerminalOrDisputedOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unlock := time.Now().Add(-time.Second)
	params := baseParams()
	params.ReleaseType = TimeLocked
	params.TimeLockUntil = &unlock
	order := env.fundAndCreate(t, params)

	if err := env.service.HandleTimeLockRelease(ctx, env.sched.lastJob()); err != nil {
		t.Fatalf("HandleTimeLockRelease: %v", err)
	}
	if _, err := env.service.SubmitDeliveryProof(ctx, order.ID, ProofParams{ProofHash: "0x1", Submitter: "s"}); !errors.Is(err, ErrOrderTerminal) {
		t.Errorf("proof on COMPLETED order: want ErrOrderTerminal, got %v", err)
	}

	disputed := env.fundAndCreate(t, CreateOrderParams{
		IntentID: "pi_disputed", MerchantID: "merch_2", Buyer: "0xb",
		Amount: "10.00", Currency: "USD", ReleaseType: DeliveryProofed,
	})
	if _, err := env.service.RaiseDispute(ctx, disputed.ID, DisputeParams{RaisedBy: "0xb", Reason: "damaged"}); err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}
	if _, err := env.service.SubmitDeliveryProof(ctx, disputed.ID, ProofParams{ProofHash: "0x1", Submitter: "s"}); !errors.Is(err, ErrOrderDisputed) {
		t.Errorf("proof on DISPUTED order: want ErrOrderDisputed, got %v", err)
	}
}

// Dispute window boundary: one second before expiry the timeout job fails
// retryably; at expiry it marks the window expired and leaves the order
// DISPUTED.
func TestDisputeTimeoutWindowBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const window = int64(604800)

	order := env.fundAndCreate(t, baseParams())
	if _, err := env.service.RaiseDispute(ctx, order.ID, DisputeParams{
		RaisedBy: "0xbuyer", Reason: "never arrived", WindowSecs: window,
	}); err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}

	job := env.sched.lastJob()
	if job == nil || job.Type != JobDisputeTimeout {
		t.Fatalf("expected %s job, got %+v", JobDisputeTimeout, job)
	}
	wantRun := order.CreatedAt.Add(time.Duration(window) * time.Second)
	if job.RunAt.Before(wantRun.Add(-time.Minute)) {
		t.Errorf("timeout job runs at %v, want ~raisedAt+window", job.RunAt)
	}

	rewindDispute := func(secsAgo int64) {
		stored, _ := env.store.GetOrder(ctx, order.ID)
		raised := time.Now().Add(-time.Duration(secsAgo) * time.Second)
		stored.DisputeRaisedAt = &raised
		if err := env.store.UpdateOrder(ctx, stored); err != nil {
			t.Fatalf("UpdateOrder: %v", err)
		}
	}

	rewindDispute(window - 1)
	err := env.service.HandleDisputeTimeout(ctx, job)
	if !errors.Is(err, ErrNotYetDue) {
		t.Fatalf("one second early: want ErrNotYetDue, got %v", err)
	}

	rewindDispute(window)
	if err := env.service.HandleDisputeTimeout(ctx, job); err != nil {
		t.Fatalf("at expiry: %v", err)
	}

	stored, _ := env.store.GetOrder(ctx, order.ID)
	if !stored.DisputeExpired {
		t.Error("dispute window not marked expired")
	}
	if stored.Status != OrderDisputed {
		t.Errorf("status = %s, expiry must not auto-resolve the dispute", stored.Status)
	}

	// Duplicate dispatch after expiry is a no-op.
	if err := env.service.HandleDisputeTimeout(ctx, job); err != nil {
		t.Fatalf("duplicate timeout dispatch: %v", err)
	}
}

func TestMilestoneLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	params := baseParams()
	params.ReleaseType = MilestoneLocked
	order := env.fundAndCreate(t, params)

	for i, amount := range []string{"400.00", "600.00"} {
		if _, err := env.service.CreateMilestone(ctx, order.ID, MilestoneParams{
			Index: i, Amount: amount, Description: "step",
		}); err != nil {
			t.Fatalf("CreateMilestone %d: %v", i, err)
		}
	}
	if _, err := env.service.CreateMilestone(ctx, order.ID, MilestoneParams{Index: 0, Amount: "1.00"}); !errors.Is(err, ErrMilestoneExists) {
		t.Errorf("duplicate index: want ErrMilestoneExists, got %v", err)
	}

	// The check job must not release a PENDING milestone.
	pendingJob := scheduler.NewJob(JobMilestoneCheck, strconv.FormatInt(order.ID, 10), time.Now()).
		WithPayload(map[string]string{"index": "1"})
	if err := env.service.HandleMilestoneCheck(ctx, pendingJob); !errors.Is(err, ErrNotYetDue) {
		t.Fatalf("pending milestone: want ErrNotYetDue, got %v", err)
	}

	// Complete and release milestone 0: partial release, order stays open.
	if _, err := env.service.CompleteMilestone(ctx, order.ID, 0); err != nil {
		t.Fatalf("CompleteMilestone 0: %v", err)
	}
	if err := env.service.HandleMilestoneCheck(ctx, env.sched.lastJob()); err != nil {
		t.Fatalf("milestone 0 check: %v", err)
	}

	m0, _ := env.store.GetMilestone(ctx, order.ID, 0)
	if m0.Status != MilestoneReleased {
		t.Errorf("milestone 0 status = %s, want RELEASED", m0.Status)
	}
	stored, _ := env.store.GetOrder(ctx, order.ID)
	if stored.Status == OrderCompleted {
		t.Error("order completed with a milestone still unreleased")
	}
	acct, _ := env.ledger.GetAccount(ctx, "merch_1")
	if acct.Available != "400.000000" || acct.Reserved != "600.000000" {
		t.Errorf("after partial release: available=%s reserved=%s", acct.Available, acct.Reserved)
	}

	// Idempotency: re-running the released milestone's check is a no-op.
	if err := env.service.HandleMilestoneCheck(ctx, env.sched.lastJob()); err != nil {
		t.Fatalf("re-run released milestone check: %v", err)
	}
	acct, _ = env.ledger.GetAccount(ctx, "merch_1")
	if acct.Available != "400.000000" {
		t.Errorf("duplicate milestone release moved funds: available=%s", acct.Available)
	}

	// Releasing the final milestone completes the order.
	if _, err := env.service.CompleteMilestone(ctx, order.ID, 1); err != nil {
		t.Fatalf("CompleteMilestone 1: %v", err)
	}
	if err := env.service.HandleMilestoneCheck(ctx, env.sched.lastJob()); err != nil {
		t.Fatalf("milestone 1 check: %v", err)
	}

	stored, _ = env.store.GetOrder(ctx, order.ID)
	if !stored.Released() {
		t.Errorf("order not completed after final milestone: status=%s", stored.Status)
	}
	if stored.SettlementStatus != SettlementScheduled {
		t.Errorf("settlementStatus = %s, want SCHEDULED", stored.SettlementStatus)
	}
	if len(env.settler.scheduled) != 1 {
		t.Errorf("settlement scheduled %d times, want 1", len(env.settler.scheduled))
	}
	acct, _ = env.ledger.GetAccount(ctx, "merch_1")
	if acct.Available != "1000.000000" || acct.Reserved != "0.000000" {
		t.Errorf("after full release: available=%s reserved=%s", acct.Available, acct.Reserved)
	}
}
