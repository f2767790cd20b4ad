package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/escrow-desk/backend/internal/address"
	"github.com/escrow-desk/backend/internal/audit"
	"github.com/escrow-desk/backend/internal/coins"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/messaging"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/rail"
)

type fakeSurface struct {
	mu           sync.Mutex
	nextID       int
	deleted      []string
	sent         []string
	prompts      []string
	restricted   []string
	unrestricted []string
	msgs         chan string
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{msgs: make(chan string, 8)}
}

func (s *fakeSurface) CreateDealChannel(ctx context.Context, a, b string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return fmt.Sprintf("deal-%d", s.nextID), nil
}

func (s *fakeSurface) DeleteChannel(ctx context.Context, id string, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeSurface) Send(ctx context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSurface) SendTo(ctx context.Context, id, actor, text string) error {
	return s.Send(ctx, id, text)
}

func (s *fakeSurface) SendPrompt(ctx context.Context, id, text string, opts []messaging.PromptOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, text)
	return nil
}

func (s *fakeSurface) Restrict(ctx context.Context, id, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restricted = append(s.restricted, actor)
	return nil
}

func (s *fakeSurface) Unrestrict(ctx context.Context, id, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unrestricted = append(s.unrestricted, actor)
	return nil
}

func (s *fakeSurface) restrictedActors() (restricted, unrestricted []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.restricted...), append([]string(nil), s.unrestricted...)
}

func (s *fakeSurface) AwaitMessage(ctx context.Context, id, actor string, timeout time.Duration) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case m := <-s.msgs:
		return m, nil
	case <-time.After(timeout):
		return "", messaging.ErrAwaitTimeout
	}
}

func (s *fakeSurface) promptContaining(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prompts {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}

type withdrawCall struct {
	coin    string
	amount  decimal.Decimal
	dest    string
	network string
}

type fakeRail struct {
	mu           sync.Mutex
	rate         decimal.Decimal
	deposits     []rail.Deposit
	withdrawals  []withdrawCall
	failWithdraw bool
	failQuote    bool
}

func newFakeRail() *fakeRail {
	return &fakeRail{rate: decimal.NewFromInt(100)}
}

func (r *fakeRail) Quote(ctx context.Context, c coins.Coin, usd decimal.Decimal) (rail.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failQuote {
		return rail.Quote{}, &rail.RailError{Op: "quote", Err: errors.New("down")}
	}
	return rail.Quote{CryptoAmount: usd.Div(r.rate), Rate: r.rate}, nil
}

func (r *fakeRail) IssueDepositAddress(ctx context.Context, c coins.Coin) (rail.DepositAddress, error) {
	return rail.DepositAddress{Address: "rail-deposit-addr", Network: c.Network}, nil
}

func (r *fakeRail) PollDeposits(ctx context.Context, c coins.Coin, since time.Time) ([]rail.Deposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rail.Deposit(nil), r.deposits...), nil
}

func (r *fakeRail) Withdraw(ctx context.Context, c coins.Coin, amount decimal.Decimal, dest, network string) (rail.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.withdrawals = append(r.withdrawals, withdrawCall{coin: c.Symbol, amount: amount, dest: dest, network: network})
	if r.failWithdraw {
		return rail.Withdrawal{}, &rail.RailError{Op: "withdraw", Fatal: true, Err: errors.New("rejected")}
	}
	return rail.Withdrawal{TxRef: fmt.Sprintf("wd-%d", len(r.withdrawals))}, nil
}

func (r *fakeRail) Balance(ctx context.Context, c coins.Coin) (rail.Balance, error) {
	return rail.Balance{}, nil
}

func (r *fakeRail) setDeposit(d rail.Deposit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deposits = []rail.Deposit{d}
}

func (r *fakeRail) withdrawCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.withdrawals)
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, stream string, ev events.Event) error { return nil }
func (nopPublisher) NotifyActor(ctx context.Context, actorID, text string) error { return nil }

// memoryPublisher records actor-addressed notifications.
type memoryPublisher struct {
	mu       sync.Mutex
	notified []string
}

func (p *memoryPublisher) Publish(ctx context.Context, stream string, ev events.Event) error {
	return nil
}

func (p *memoryPublisher) NotifyActor(ctx context.Context, actorID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notified = append(p.notified, actorID)
	return nil
}

func (p *memoryPublisher) notifiedActors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.notified...)
}

type countingSink struct {
	mu        sync.Mutex
	summaries []models.Summary
}

func (s *countingSink) RecordCompletedDeal(ctx context.Context, sum models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.summaries)
}

func testConfig() *config.Config {
	return &config.Config{
		DealTimeout:         time.Hour,
		InactivityTimeout:   time.Hour,
		TeardownGrace:       10 * time.Millisecond,
		PaymentPollInterval: time.Hour,
		PaymentSettleDelay:  0,
		DepositToleranceBPS: 1,
		AwaitMessageWindow:  20 * time.Millisecond,
		SupportActorIDs:     []string{"support-1"},
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeRail, *fakeSurface, *countingSink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := newFakeRail()
	s := newFakeSurface()
	sink := &countingSink{}
	e := NewEngine(ctx, NewTable(), r, s, audit.Nop{}, nopPublisher{}, sink, testConfig(), zap.NewNop())
	e.jitter = func() float64 { return 0 } // suffix is exactly 1e-8
	return e, r, s, sink
}

const (
	alice = "actor-alice"
	bob   = "actor-bob"
)

func mustCreate(t *testing.T, e *Engine, coin string) string {
	t.Helper()
	id, err := e.CreateDeal(context.Background(), alice, bob, coin)
	if err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	return id
}

func mustStatus(t *testing.T, e *Engine, id, want string) {
	t.Helper()
	d, err := e.Deal(id)
	if err != nil {
		t.Fatalf("Deal(%s): %v", id, err)
	}
	if d.Status != want {
		t.Fatalf("status = %s, want %s", d.Status, want)
	}
}

func claimRoles(t *testing.T, e *Engine, id string) {
	t.Helper()
	ctx := context.Background()
	if err := e.ClaimRole(ctx, id, alice, models.RoleBuyer); err != nil {
		t.Fatalf("ClaimRole buyer: %v", err)
	}
	if err := e.ClaimRole(ctx, id, bob, models.RoleSeller); err != nil {
		t.Fatalf("ClaimRole seller: %v", err)
	}
}

// driveToDeposit walks a deal to awaiting_deposit with a fee split.
func driveToDeposit(t *testing.T, e *Engine, id, amount string) {
	t.Helper()
	ctx := context.Background()
	claimRoles(t, e, id)
	if err := e.SubmitAmount(ctx, id, alice, amount); err != nil {
		t.Fatalf("SubmitAmount: %v", err)
	}
	if err := e.ApproveAmount(ctx, id, bob); err != nil {
		t.Fatalf("ApproveAmount: %v", err)
	}
	if err := e.CastFeeVote(ctx, id, alice, "split"); err != nil {
		t.Fatalf("CastFeeVote alice: %v", err)
	}
	if err := e.CastFeeVote(ctx, id, bob, "split"); err != nil {
		t.Fatalf("CastFeeVote bob: %v", err)
	}
	mustStatus(t, e, id, models.StatusAwaitingDeposit)
}

// confirmDeposit feeds the rail a matching confirmed deposit and runs
// the poll ticks: one to sight it, one past the settling delay.
func confirmDeposit(t *testing.T, e *Engine, r *fakeRail, id string) {
	t.Helper()
	d, err := e.Deal(id)
	if err != nil {
		t.Fatalf("Deal: %v", err)
	}
	r.setDeposit(rail.Deposit{
		Amount:        d.BuyerPaysCrypto,
		TxRef:         "dep-tx-1",
		Confirmations: 99,
		Credited:      true,
	})
	ctx := context.Background()
	e.checkDeposits(ctx, id) // sighting, starts the settle clock
	if !e.checkDeposits(ctx, id) {
		t.Fatal("second poll tick should confirm and stop the loop")
	}
	mustStatus(t, e, id, models.StatusAwaitingDelivery)
}

func TestFortyDollarLitecoinSplitEndToEnd(t *testing.T) {
	e, r, _, sink := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "LTC")

	driveToDeposit(t, e, id, "$40")

	d, _ := e.Deal(id)
	if d.FeeUSD.String() != "1" {
		t.Errorf("fee = %s, want 1", d.FeeUSD)
	}
	if d.BuyerPaysUSD.String() != "40.5" || d.SellerReceivesUSD.String() != "39.5" {
		t.Errorf("split = %s / %s, want 40.5 / 39.5", d.BuyerPaysUSD, d.SellerReceivesUSD)
	}
	if !d.BuyerPaysUSD.Sub(d.SellerReceivesUSD).Equal(d.FeeUSD) {
		t.Error("buyerPays - sellerReceives must equal the fee")
	}
	// 40.50 at rate 100 plus the 1e-8 suffix
	wantCrypto := decimal.RequireFromString("0.40500001")
	if !d.BuyerPaysCrypto.Equal(wantCrypto) {
		t.Errorf("buyer crypto = %s, want %s", d.BuyerPaysCrypto, wantCrypto)
	}
	if d.DepositAddress != "rail-deposit-addr" {
		t.Errorf("deposit address = %q", d.DepositAddress)
	}
	if d.PaymentStartedAt.IsZero() {
		t.Error("PaymentStartedAt must be set at deposit generation")
	}

	confirmDeposit(t, e, r, id)

	if err := e.ConfirmDelivery(ctx, id, bob); err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}
	if err := e.ConfirmReceipt(ctx, id, alice); err != nil {
		t.Fatalf("ConfirmReceipt: %v", err)
	}
	payoutAddr := address.Example("LTC")
	if err := e.SubmitPayoutAddress(ctx, id, bob, payoutAddr); err != nil {
		t.Fatalf("SubmitPayoutAddress: %v", err)
	}
	if err := e.ConfirmPayout(ctx, id, bob); err != nil {
		t.Fatalf("ConfirmPayout: %v", err)
	}
	mustStatus(t, e, id, models.StatusCompleted)

	if r.withdrawCount() != 1 {
		t.Fatalf("withdrawals = %d, want 1", r.withdrawCount())
	}
	w := r.withdrawals[0]
	if w.dest != payoutAddr || w.coin != "LTC" {
		t.Errorf("withdraw to %s/%s", w.coin, w.dest)
	}
	if !w.amount.Equal(d.SellerReceivesCrypto) {
		t.Errorf("withdraw amount = %s, want %s", w.amount, d.SellerReceivesCrypto)
	}

	// both privacy votes in persists the deal once
	if err := e.CastPrivacyVote(ctx, id, alice, VotePublic); err != nil {
		t.Fatalf("CastPrivacyVote: %v", err)
	}
	if err := e.CastPrivacyVote(ctx, id, bob, VoteAnonymous); err != nil {
		t.Fatalf("CastPrivacyVote: %v", err)
	}
	waitFor(t, func() bool { return sink.count() == 1 })
	sum := sink.summaries[0]
	if !sum.BuyerPublic || sum.SellerPublic {
		t.Error("privacy votes not reflected in the summary")
	}
	if sum.FeeUSD.String() != "1" || sum.PayoutTxRef == "" {
		t.Errorf("summary fee=%s tx=%q", sum.FeeUSD, sum.PayoutTxRef)
	}
}

func TestZeroFeeSkipsBallot(t *testing.T) {
	e, _, s, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "BTC")
	claimRoles(t, e, id)

	if err := e.SubmitAmount(ctx, id, alice, "25"); err != nil {
		t.Fatalf("SubmitAmount: %v", err)
	}
	if err := e.ApproveAmount(ctx, id, bob); err != nil {
		t.Fatalf("ApproveAmount: %v", err)
	}
	mustStatus(t, e, id, models.StatusAwaitingDeposit)

	d, _ := e.Deal(id)
	if !d.FeeUSD.IsZero() {
		t.Errorf("fee = %s, want 0", d.FeeUSD)
	}
	if !d.BuyerPaysUSD.Equal(d.SellerReceivesUSD) || !d.BuyerPaysUSD.Equal(decimal.NewFromInt(25)) {
		t.Errorf("zero-fee legs = %s / %s, want 25 / 25", d.BuyerPaysUSD, d.SellerReceivesUSD)
	}
	if d.FeePayer != "" {
		t.Errorf("fee payer = %q, want unset", d.FeePayer)
	}
	if s.promptContaining("Who pays it") {
		t.Error("fee ballot must not be offered on a zero-fee deal")
	}
	if err := e.CastFeeVote(ctx, id, alice, "split"); !errors.Is(err, ErrWrongState) {
		t.Errorf("CastFeeVote on zero-fee deal = %v, want ErrWrongState", err)
	}
}

func TestRoleConflictLeavesClaimStanding(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "ETH")

	if err := e.ClaimRole(ctx, id, alice, models.RoleBuyer); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := e.ClaimRole(ctx, id, bob, models.RoleBuyer); !errors.Is(err, ErrRoleConflict) {
		t.Fatalf("second buyer claim = %v, want ErrRoleConflict", err)
	}
	d, _ := e.Deal(id)
	if d.Buyer != alice || d.Seller != "" {
		t.Errorf("conflict mutated roles: buyer %q seller %q, want %q / empty", d.Buyer, d.Seller, alice)
	}
	mustStatus(t, e, id, models.StatusAwaitingRoleSelection)

	// bob can still take the open role
	if err := e.ClaimRole(ctx, id, bob, models.RoleSeller); err != nil {
		t.Fatalf("claim of open role: %v", err)
	}
	mustStatus(t, e, id, models.StatusAwaitingAmount)
}

func TestSecondClaimByRoleHolderRejected(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "ETH")

	if err := e.ClaimRole(ctx, id, alice, models.RoleBuyer); err != nil {
		t.Fatal(err)
	}
	if err := e.ClaimRole(ctx, id, alice, models.RoleSeller); !errors.Is(err, ErrRoleConflict) {
		t.Fatalf("role switch = %v, want ErrRoleConflict", err)
	}
	if err := e.ClaimRole(ctx, id, alice, models.RoleBuyer); !errors.Is(err, ErrRoleConflict) {
		t.Fatalf("repeat pick = %v, want ErrRoleConflict", err)
	}
	d, _ := e.Deal(id)
	if d.Buyer != alice || d.Seller != "" {
		t.Errorf("rejected claims mutated roles: buyer %q seller %q", d.Buyer, d.Seller)
	}

	// reset is the recovery path and re-opens both slots
	if err := e.ResetRoles(ctx, id, alice); err != nil {
		t.Fatalf("ResetRoles: %v", err)
	}
	if err := e.ClaimRole(ctx, id, alice, models.RoleSeller); err != nil {
		t.Fatalf("claim after reset: %v", err)
	}
	if err := e.ClaimRole(ctx, id, bob, models.RoleBuyer); err != nil {
		t.Fatalf("counterparty claim after reset: %v", err)
	}
	mustStatus(t, e, id, models.StatusAwaitingAmount)
}

func TestSellerRejectLoopsBackToAmount(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "LTC")
	claimRoles(t, e, id)

	if err := e.SubmitAmount(ctx, id, alice, "100"); err != nil {
		t.Fatal(err)
	}
	if err := e.RejectAmount(ctx, id, bob); err != nil {
		t.Fatalf("RejectAmount: %v", err)
	}
	mustStatus(t, e, id, models.StatusAwaitingAmount)
	d, _ := e.Deal(id)
	if !d.AmountUSD.IsZero() {
		t.Errorf("amount = %s after rejection, want 0", d.AmountUSD)
	}

	// the next amount goes through a fresh approval
	if err := e.SubmitAmount(ctx, id, alice, "60"); err != nil {
		t.Fatal(err)
	}
	if err := e.ApproveAmount(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	d, _ = e.Deal(id)
	if d.FeeUSD.String() != "2" {
		t.Errorf("fee = %s for $60, want 2", d.FeeUSD)
	}
}

func TestAmountValidation(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "BTC")
	claimRoles(t, e, id)

	var bad *InputError
	for _, text := range []string{"abc", "-5", "0", "3"} { // BTC minimum is $10
		err := e.SubmitAmount(ctx, id, alice, text)
		if !errors.As(err, &bad) {
			t.Errorf("SubmitAmount(%q) = %v, want InputError", text, err)
		}
	}
	if err := e.SubmitAmount(ctx, id, bob, "50"); !errors.Is(err, ErrWrongRole) {
		t.Errorf("seller submitting amount = %v, want ErrWrongRole", err)
	}
	mustStatus(t, e, id, models.StatusAwaitingAmount)
}

func TestFeeDisagreementResetsBallot(t *testing.T) {
	e, _, s, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "LTC")
	claimRoles(t, e, id)
	if err := e.SubmitAmount(ctx, id, alice, "100"); err != nil {
		t.Fatal(err)
	}
	if err := e.ApproveAmount(ctx, id, bob); err != nil {
		t.Fatal(err)
	}

	if err := e.CastFeeVote(ctx, id, alice, "buyer_pays"); err != nil {
		t.Fatal(err)
	}
	if err := e.CastFeeVote(ctx, id, alice, "split"); !errors.Is(err, models.ErrAlreadyVoted) {
		t.Errorf("double vote = %v, want ErrAlreadyVoted", err)
	}
	if err := e.CastFeeVote(ctx, id, bob, "seller_pays"); err != nil {
		t.Fatal(err)
	}
	mustStatus(t, e, id, models.StatusAwaitingFeeAgreement)
	if !s.promptContaining("Vote again") {
		t.Error("disagreement should re-issue the ballot")
	}

	// the re-opened ballot accepts fresh votes and finalizes
	if err := e.CastFeeVote(ctx, id, alice, "buyer_pays"); err != nil {
		t.Fatal(err)
	}
	if err := e.CastFeeVote(ctx, id, bob, "buyer_pays"); err != nil {
		t.Fatal(err)
	}
	mustStatus(t, e, id, models.StatusAwaitingDeposit)
	d, _ := e.Deal(id)
	if d.BuyerPaysUSD.String() != "102" || d.SellerReceivesUSD.String() != "100" {
		t.Errorf("buyer-pays split = %s / %s", d.BuyerPaysUSD, d.SellerReceivesUSD)
	}
}

func TestPayoutAtMostOnceUnderConcurrency(t *testing.T) {
	e, r, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "LTC")
	driveToDeposit(t, e, id, "40")
	confirmDeposit(t, e, r, id)

	if err := e.ConfirmDelivery(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	if err := e.ConfirmReceipt(ctx, id, alice); err != nil {
		t.Fatal(err)
	}
	if err := e.SubmitPayoutAddress(ctx, id, bob, address.Example("LTC")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.ConfirmPayout(ctx, id, bob)
		}()
	}
	wg.Wait()

	if got := r.withdrawCount(); got != 1 {
		t.Fatalf("withdrawals = %d, want exactly 1", got)
	}
	mustStatus(t, e, id, models.StatusCompleted)
}

func TestCancelPayoutClearsAddress(t *testing.T) {
	e, r, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "LTC")
	driveToDeposit(t, e, id, "40")
	confirmDeposit(t, e, r, id)
	if err := e.ConfirmDelivery(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	if err := e.ConfirmReceipt(ctx, id, alice); err != nil {
		t.Fatal(err)
	}
	if err := e.SubmitPayoutAddress(ctx, id, bob, address.Example("LTC")); err != nil {
		t.Fatal(err)
	}
	if err := e.CancelPayout(ctx, id, bob); err != nil {
		t.Fatalf("CancelPayout: %v", err)
	}
	mustStatus(t, e, id, models.StatusAwaitingPayoutAddress)
	d, _ := e.Deal(id)
	if d.SellerPayoutAddress != "" {
		t.Errorf("payout address = %q after cancel, want empty", d.SellerPayoutAddress)
	}
	if r.withdrawCount() != 0 {
		t.Error("cancel must not touch the rail")
	}
}

func TestPayoutFailureEscalates(t *testing.T) {
	e, r, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "LTC")
	driveToDeposit(t, e, id, "40")
	confirmDeposit(t, e, r, id)
	if err := e.ConfirmDelivery(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	if err := e.ConfirmReceipt(ctx, id, alice); err != nil {
		t.Fatal(err)
	}
	if err := e.SubmitPayoutAddress(ctx, id, bob, address.Example("LTC")); err != nil {
		t.Fatal(err)
	}

	r.failWithdraw = true
	if err := e.ConfirmPayout(ctx, id, bob); err == nil {
		t.Fatal("ConfirmPayout should surface the rail failure")
	}
	mustStatus(t, e, id, models.StatusSupportEscalated)

	// no automatic retry path: the action is gone with the state
	r.failWithdraw = false
	if err := e.ConfirmPayout(ctx, id, bob); !errors.Is(err, ErrWrongState) {
		t.Errorf("retry after escalation = %v, want ErrWrongState", err)
	}
	if got := r.withdrawCount(); got != 1 {
		t.Fatalf("withdraw attempts = %d, want 1", got)
	}
}

func TestDisputeRefundFlow(t *testing.T) {
	e, r, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "LTC")
	driveToDeposit(t, e, id, "40")
	confirmDeposit(t, e, r, id)

	if err := e.ConfirmDelivery(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	if err := e.ReportNotReceived(ctx, id, alice); err != nil {
		t.Fatalf("ReportNotReceived: %v", err)
	}
	mustStatus(t, e, id, models.StatusDisputed)

	if err := e.ApproveRefund(ctx, id, bob); err != nil {
		t.Fatalf("ApproveRefund: %v", err)
	}
	mustStatus(t, e, id, models.StatusRefundPending)

	refundAddr := address.Example("LTC")
	if err := e.SubmitRefundAddress(ctx, id, alice, refundAddr); err != nil {
		t.Fatalf("SubmitRefundAddress: %v", err)
	}
	mustStatus(t, e, id, models.StatusRefunded)

	if r.withdrawCount() != 1 {
		t.Fatalf("withdrawals = %d, want 1", r.withdrawCount())
	}
	// refunded leg: buyer's 40.50 deposit minus the $1 earned fee, at rate 100
	want := decimal.RequireFromString("0.395")
	if !r.withdrawals[0].amount.Equal(want) {
		t.Errorf("refund amount = %s, want %s", r.withdrawals[0].amount, want)
	}
	if r.withdrawals[0].dest != refundAddr {
		t.Errorf("refund dest = %q", r.withdrawals[0].dest)
	}
}

func TestDisputeWithdrawnByBuyer(t *testing.T) {
	e, r, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "LTC")
	driveToDeposit(t, e, id, "40")
	confirmDeposit(t, e, r, id)
	if err := e.ConfirmDelivery(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	if err := e.ReportNotReceived(ctx, id, alice); err != nil {
		t.Fatal(err)
	}
	if err := e.ConfirmReceipt(ctx, id, alice); err != nil {
		t.Fatalf("withdrawing the dispute: %v", err)
	}
	mustStatus(t, e, id, models.StatusAwaitingPayoutAddress)
}

func TestTimeoutWithoutPaymentTearsDown(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	id := mustCreate(t, e, "ETH")
	claimRoles(t, e, id)

	e.onDealTimeout(id)
	waitFor(t, func() bool {
		_, err := e.Deal(id)
		return errors.Is(err, ErrDealNotFound)
	})
}

func TestTimeoutAfterDetectedPaymentRefunds(t *testing.T) {
	e, r, _, _ := newTestEngine(t)
	id := mustCreate(t, e, "LTC")
	driveToDeposit(t, e, id, "40")

	// deposit sighted but not yet confirmed
	d, _ := e.Deal(id)
	r.setDeposit(rail.Deposit{Amount: d.BuyerPaysCrypto, TxRef: "dep-1", Confirmations: 0})
	e.checkDeposits(context.Background(), id)

	e.onDealTimeout(id)
	mustStatus(t, e, id, models.StatusRefundPending)
}

func TestTimeoutWithOpenDepositWindowIsExempt(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	id := mustCreate(t, e, "LTC")
	driveToDeposit(t, e, id, "40")

	// payment started, nothing detected: the clock leaves it alone
	e.onDealTimeout(id)
	mustStatus(t, e, id, models.StatusAwaitingDeposit)
}

func TestDepositToleranceBand(t *testing.T) {
	e, r, _, _ := newTestEngine(t)
	id := mustCreate(t, e, "LTC")
	driveToDeposit(t, e, id, "40")
	ctx := context.Background()
	d, _ := e.Deal(id)

	// 10 bps off is outside the 1 bps band
	r.setDeposit(rail.Deposit{
		Amount:        d.BuyerPaysCrypto.Mul(decimal.RequireFromString("1.001")),
		TxRef:         "stray",
		Confirmations: 99,
		Credited:      true,
	})
	e.checkDeposits(ctx, id)
	e.checkDeposits(ctx, id)
	mustStatus(t, e, id, models.StatusAwaitingDeposit)

	// inside the band it matches
	r.setDeposit(rail.Deposit{
		Amount:        d.BuyerPaysCrypto.Mul(decimal.RequireFromString("1.00005")),
		TxRef:         "dep-ok",
		Confirmations: 99,
		Credited:      true,
	})
	e.checkDeposits(ctx, id)
	e.checkDeposits(ctx, id)
	mustStatus(t, e, id, models.StatusAwaitingDelivery)
	if d2, _ := e.Deal(id); d2.DepositTxRef != "dep-ok" {
		t.Errorf("deposit tx = %q, want dep-ok", d2.DepositTxRef)
	}
}

func TestCloseBallotTearsDownChannel(t *testing.T) {
	e, r, s, sink := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "LTC")
	driveToDeposit(t, e, id, "40")
	confirmDeposit(t, e, r, id)
	if err := e.ConfirmDelivery(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	if err := e.ConfirmReceipt(ctx, id, alice); err != nil {
		t.Fatal(err)
	}
	if err := e.SubmitPayoutAddress(ctx, id, bob, address.Example("LTC")); err != nil {
		t.Fatal(err)
	}
	if err := e.ConfirmPayout(ctx, id, bob); err != nil {
		t.Fatal(err)
	}

	if err := e.CastCloseVote(ctx, id, alice, VoteClose); err != nil {
		t.Fatal(err)
	}
	if err := e.CastCloseVote(ctx, id, bob, VoteClose); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, err := e.Deal(id)
		return errors.Is(err, ErrDealNotFound)
	})
	s.mu.Lock()
	deleted := len(s.deleted) > 0
	s.mu.Unlock()
	if !deleted {
		t.Error("channel was never deleted")
	}
	// skipped privacy votes default to anonymous, and the deal is still recorded
	waitFor(t, func() bool { return sink.count() == 1 })
	if sink.summaries[0].BuyerPublic || sink.summaries[0].SellerPublic {
		t.Error("unvoted privacy must default to anonymous")
	}
}

func TestAmountCollectedFromChannelMessages(t *testing.T) {
	e, _, s, _ := newTestEngine(t)
	id := mustCreate(t, e, "LTC")
	claimRoles(t, e, id)

	// a bad message re-prompts, the next one lands
	s.msgs <- "not a number"
	s.msgs <- "75"
	waitFor(t, func() bool {
		d, err := e.Deal(id)
		return err == nil && d.Status == models.StatusAwaitingSellerApproval
	})
	d, _ := e.Deal(id)
	if d.AmountUSD.String() != "75" {
		t.Errorf("amount = %s, want 75", d.AmountUSD)
	}
}

func TestCollectorRestrictsCounterparty(t *testing.T) {
	e, _, s, _ := newTestEngine(t)
	id := mustCreate(t, e, "LTC")
	claimRoles(t, e, id)

	// while the buyer's amount is collected, the seller cannot post
	waitFor(t, func() bool {
		restricted, _ := s.restrictedActors()
		return len(restricted) == 1 && restricted[0] == bob
	})

	s.msgs <- "40"
	waitFor(t, func() bool {
		d, err := e.Deal(id)
		return err == nil && d.Status == models.StatusAwaitingSellerApproval
	})

	// the collector lifts the restriction on its way out
	waitFor(t, func() bool {
		_, unrestricted := s.restrictedActors()
		return len(unrestricted) == 1 && unrestricted[0] == bob
	})
}

func TestSupportNotifiedOnPayoutFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newFakeRail()
	s := newFakeSurface()
	pub := &memoryPublisher{}
	e := NewEngine(ctx, NewTable(), r, s, audit.Nop{}, pub, &countingSink{}, testConfig(), zap.NewNop())
	e.jitter = func() float64 { return 0 }

	id := mustCreate(t, e, "LTC")
	driveToDeposit(t, e, id, "40")
	confirmDeposit(t, e, r, id)
	if err := e.ConfirmDelivery(ctx, id, bob); err != nil {
		t.Fatal(err)
	}
	if err := e.ConfirmReceipt(ctx, id, alice); err != nil {
		t.Fatal(err)
	}
	if err := e.SubmitPayoutAddress(ctx, id, bob, address.Example("LTC")); err != nil {
		t.Fatal(err)
	}

	r.failWithdraw = true
	if err := e.ConfirmPayout(ctx, id, bob); err == nil {
		t.Fatal("ConfirmPayout should surface the rail failure")
	}

	notified := pub.notifiedActors()
	if len(notified) != 1 || notified[0] != "support-1" {
		t.Fatalf("support notifications = %v, want [support-1]", notified)
	}
}

func TestNonParticipantRejected(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, e, "BTC")

	if err := e.ClaimRole(ctx, id, "stranger", models.RoleBuyer); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger claim = %v, want ErrNotParticipant", err)
	}
	if err := e.SubmitAmount(ctx, id, "stranger", "50"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger amount = %v, want ErrNotParticipant", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
