package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/chain"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/ledger"
	"github.com/praveenjha527/finternet-hackathon-api-suite-sub000/internal/logging"
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

type fakeReceipts struct {
	status chain.ReceiptStatus
	err    error
}

func (f *fakeReceipts) ReceiptStatus(ctx context.Context, txHash string) (chain.ReceiptStatus, error) {
	return f.status, f.err
}

type fakeEscrow struct {
	created []string
	err     error
}

func (f *fakeEscrow) CreateFromIntent(ctx context.Context, it *Intent) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, it.ID)
	return nil
}

type testEnv struct {
	service  *Service
	store    *MemoryStore
	ledger   *ledger.Engine
	sched    *fakeScheduler
	receipts *fakeReceipts
	escrow   *fakeEscrow
}

func newTestEnv() *testEnv {
	store := NewMemoryStore()
	eng := ledger.New(ledger.NewMemoryStore())
	sched := &fakeScheduler{}
	receipts := &fakeReceipts{status: chain.ReceiptSuccess}
	escrow := &fakeEscrow{}

	svc := NewService(store, eng, sched, receipts, logging.New("error", "text")).
		WithEscrow(escrow)
	return &testEnv{service: svc, store: store, ledger: eng, sched: sched, receipts: receipts, escrow: escrow}
}

func validParams() CreateParams {
	return CreateParams{
		MerchantID:            "merch_1",
		Type:                  DirectTransfer,
		Amount:                "1000.00",
		Currency:              "USD",
		SettlementMethod:      "bank_transfer",
		SettlementDestination: "acct_123",
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusInitiated:         {StatusRequiresSignature, StatusProcessing, StatusCanceled},
		StatusRequiresSignature: {StatusProcessing, StatusCanceled},
		StatusProcessing:        {StatusSucceeded, StatusCanceled, StatusRequiresAction},
		StatusSucceeded:         {StatusSettled, StatusRequiresAction},
		StatusSettled:           {StatusFinal},
		StatusRequiresAction:    {StatusProcessing, StatusCanceled},
		StatusCanceled:          {},
		StatusFinal:             {},
	}
	all := []Status{
		StatusInitiated, StatusRequiresSignature, StatusProcessing, StatusSucceeded,
		StatusSettled, StatusFinal, StatusCanceled, StatusRequiresAction,
	}

	for from, tos := range allowed {
		legal := map[Status]bool{from: true} // self transition is a no-op
		for _, to := range tos {
			legal[to] = true
		}
		for _, to := range all {
			err := Transition(from, to)
			if legal[to] && err != nil {
				t.Errorf("Transition(%s, %s): unexpected error %v", from, to, err)
			}
			if !legal[to] && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition(%s, %s): want ErrInvalidTransition, got %v", from, to, err)
			}
		}
	}
}

func TestIllegalTransitionLeavesStatusUnchanged(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	it, err := env.service.Create(ctx, validParams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// SETTLED is not reachable from INITIATED; the settle path must reject
	// and leave the stored record untouched.
	if err := env.service.MarkSettled(ctx, it.ID, "po_1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkSettled from INITIATED: want ErrInvalidTransition, got %v", err)
	}

	stored, err := env.store.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != StatusInitiated {
		t.Errorf("status changed to %s after rejected transition", stored.Status)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"missing merchant", func(p *CreateParams) { p.MerchantID = "" }},
		{"zero amount", func(p *CreateParams) { p.Amount = "0" }},
		{"negative amount", func(p *CreateParams) { p.Amount = "-5.00" }},
		{"bad currency", func(p *CreateParams) { p.Currency = "DOLLARS" }},
		{"dvp without buyer", func(p *CreateParams) { p.Type = DeliveryVsPayment }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := validParams()
			tc.mutate(&params)
			if _, err := env.service.Create(ctx, params); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestConfirmWithoutHashAwaitsSignature(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	it, _ := env.service.Create(ctx, validParams())
	it, err := env.service.Confirm(ctx, it.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if it.Status != StatusRequiresSignature {
		t.Errorf("status = %s, want REQUIRES_SIGNATURE", it.Status)
	}
	if len(env.sched.jobs) != 0 {
		t.Errorf("confirmation job enqueued before a tx hash exists")
	}
}

func TestUpdateTransactionHashStartsConfirmation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	it, _ := env.service.Create(ctx, validParams())
	_, _ = env.service.Confirm(ctx, it.ID)

	it, err := env.service.UpdateTransactionHash(ctx, it.ID, "0xabc")
	if err != nil {
		t.Fatalf("UpdateTransactionHash: %v", err)
	}
	if it.Status != StatusProcessing {
		t.Errorf("status = %s, want PROCESSING", it.Status)
	}
	if len(env.sched.jobs) != 1 || env.sched.jobs[0].Type != JobConfirmTx {
		t.Fatalf("expected one %s job, got %+v", JobConfirmTx, env.sched.jobs)
	}
	if env.sched.jobs[0].MaxAttempts != scheduler.TxConfirmationAttempts {
		t.Errorf("confirmation job MaxAttempts = %d, want %d",
			env.sched.jobs[0].MaxAttempts, scheduler.TxConfirmationAttempts)
	}
}

func TestConfirmEnqueueFailurePropagates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	params := validParams()
	params.TxHash = "0xabc"
	it, _ := env.service.Create(ctx, params)

	env.sched.err = errors.New("queue unavailable")
	if _, err := env.service.Confirm(ctx, it.ID); err == nil {
		t.Fatal("enqueue failure must propagate to the caller")
	}
}

func confirmedIntent(t *testing.T, env *testEnv, intentType IntentType) *Intent {
	t.Helper()
	ctx := context.Background()

	params := validParams()
	params.Type = intentType
	params.TxHash = "0xabc"
	if intentType == DeliveryVsPayment {
		params.Escrow = &EscrowParams{Buyer: "0xbuyer", ReleaseType: "TIME_LOCKED"}
	}
	it, err := env.service.Create(ctx, params)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := env.service.Confirm(ctx, it.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	return it
}

func TestConfirmTxJobCreditsExactlyOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	it := confirmedIntent(t, env, DirectTransfer)

	job := scheduler.NewJob(JobConfirmTx, it.ID, it.CreatedAt)
	if err := env.service.HandleConfirmTransaction(ctx, job); err != nil {
		t.Fatalf("first confirmation: %v", err)
	}
	// Duplicate dispatch after success must be a no-op.
	if err := env.service.HandleConfirmTransaction(ctx, job); err != nil {
		t.Fatalf("second confirmation: %v", err)
	}

	acct, err := env.ledger.GetAccount(ctx, "merch_1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Available != "1000.000000" {
		t.Errorf("available = %s, want 1000.000000 (single credit)", acct.Available)
	}
	entries, _ := env.ledger.ListEntries(ctx, "merch_1", ledger.EntryFilter{Type: ledger.TypeCredit, Reference: it.ID})
	if len(entries) != 1 {
		t.Errorf("credit entries = %d, want 1", len(entries))
	}

	stored, _ := env.store.Get(ctx, it.ID)
	if stored.Status != StatusSucceeded {
		t.Errorf("status = %s, want SUCCEEDED", stored.Status)
	}
	if stored.SettlementStatus != SettlementPending {
		t.Errorf("settlementStatus = %s, want PENDING", stored.SettlementStatus)
	}
}

func TestConfirmTxJobSchedulesSettlementForDirect(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	it := confirmedIntent(t, env, DirectTransfer)

	env.sched.jobs = nil
	if err := env.service.HandleConfirmTransaction(ctx, scheduler.NewJob(JobConfirmTx, it.ID, it.CreatedAt)); err != nil {
		t.Fatalf("HandleConfirmTransaction: %v", err)
	}
	if len(env.sched.jobs) != 1 || env.sched.jobs[0].Type != JobSettle {
		t.Fatalf("expected one %s job, got %+v", JobSettle, env.sched.jobs)
	}
}

func TestConfirmTxJobCreatesEscrowForDvP(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	it := confirmedIntent(t, env, DeliveryVsPayment)

	if err := env.service.HandleConfirmTransaction(ctx, scheduler.NewJob(JobConfirmTx, it.ID, it.CreatedAt)); err != nil {
		t.Fatalf("HandleConfirmTransaction: %v", err)
	}
	if len(env.escrow.created) != 1 || env.escrow.created[0] != it.ID {
		t.Fatalf("escrow orders created = %v, want [%s]", env.escrow.created, it.ID)
	}
}

func TestConfirmTxJobRetriesWhilePending(t *testing.T) {
	env := newTestEnv()
	env.receipts.status = chain.ReceiptPending
	ctx := context.Background()
	it := confirmedIntent(t, env, DirectTransfer)

	err := env.service.HandleConfirmTransaction(ctx, scheduler.NewJob(JobConfirmTx, it.ID, it.CreatedAt))
	if err == nil {
		t.Fatal("pending receipt must return a retryable error")
	}

	stored, _ := env.store.Get(ctx, it.ID)
	if stored.Status != StatusProcessing {
		t.Errorf("status = %s, want PROCESSING while receipt pending", stored.Status)
	}
}

func TestConfirmTxJobMarksRequiresActionOnRevert(t *testing.T) {
	env := newTestEnv()
	env.receipts.status = chain.ReceiptFailed
	ctx := context.Background()
	it := confirmedIntent(t, env, DirectTransfer)

	if err := env.service.HandleConfirmTransaction(ctx, scheduler.NewJob(JobConfirmTx, it.ID, it.CreatedAt)); err != nil {
		t.Fatalf("reverted tx should complete the job, got %v", err)
	}

	stored, _ := env.store.Get(ctx, it.ID)
	if stored.Status != StatusRequiresAction {
		t.Errorf("status = %s, want REQUIRES_ACTION", stored.Status)
	}
	acct, _ := env.ledger.GetAccount(ctx, "merch_1")
	if acct.Available != "0.000000" {
		t.Errorf("reverted tx must not credit the merchant, available = %s", acct.Available)
	}
}

func TestConfirmTxJobNoOpOnCanceledIntent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	it, _ := env.service.Create(ctx, validParams())
	if _, err := env.service.Cancel(ctx, it.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if err := env.service.HandleConfirmTransaction(ctx, scheduler.NewJob(JobConfirmTx, it.ID, it.CreatedAt)); err != nil {
		t.Fatalf("canceled intent should no-op, got %v", err)
	}
	stored, _ := env.store.Get(ctx, it.ID)
	if stored.Status != StatusCanceled {
		t.Errorf("status = %s, want CANCELED", stored.Status)
	}
}

func TestMarkSettledIdempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	it := confirmedIntent(t, env, DirectTransfer)

	if err := env.service.HandleConfirmTransaction(ctx, scheduler.NewJob(JobConfirmTx, it.ID, it.CreatedAt)); err != nil {
		t.Fatalf("HandleConfirmTransaction: %v", err)
	}
	if err := env.service.MarkSettled(ctx, it.ID, "po_1"); err != nil {
		t.Fatalf("MarkSettled: %v", err)
	}
	if err := env.service.MarkSettled(ctx, it.ID, "po_1"); err != nil {
		t.Fatalf("MarkSettled repeat: %v", err)
	}

	stored, _ := env.store.Get(ctx, it.ID)
	if stored.Status != StatusSettled || stored.SettlementStatus != SettlementCompleted {
		t.Errorf("got status=%s settlement=%s, want SETTLED/COMPLETED", stored.Status, stored.SettlementStatus)
	}
}

func TestPhaseReplaceByName(t *testing.T) {
	it := &Intent{}
	it.SetPhase("confirmation", "polling")
	it.SetPhase("settlement", "scheduled")
	it.SetPhase("confirmation", "completed")

	if len(it.Phases) != 2 {
		t.Fatalf("phases = %d, want 2 (replace, not append)", len(it.Phases))
	}
	if p := it.Phase("confirmation"); p == nil || p.Status != "completed" {
		t.Errorf("confirmation phase = %+v, want completed", p)
	}
}
