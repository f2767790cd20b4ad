// Package engine drives escrow deals through their lifecycle: role
// selection, amount negotiation, fee agreement, deposit monitoring,
// delivery confirmation and the single guarded payout. One Engine
// serves the whole process; each deal is serialized on its own lock.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/escrow-desk/backend/internal/audit"
	"github.com/escrow-desk/backend/internal/coins"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/messaging"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/rail"
)

// StatsSink receives the record of a finished deal. A sink failure is
// logged, never surfaced to the parties.
type StatsSink interface {
	RecordCompletedDeal(ctx context.Context, sum models.Summary) error
}

type Engine struct {
	table   *Table
	rail    rail.Rail
	surface messaging.Surface
	audit   audit.Recorder
	events  events.Publisher
	stats   StatsSink
	cfg     *config.Config
	log     *zap.Logger

	// Background work (polls, timers, prompt loops) hangs off baseCtx,
	// not off the request context that triggered it.
	baseCtx context.Context

	now    func() time.Time
	jitter func() float64 // uniqueness suffix source, [0,1)
}

func NewEngine(baseCtx context.Context, table *Table, r rail.Rail, surface messaging.Surface, rec audit.Recorder, pub events.Publisher, stats StatsSink, cfg *config.Config, log *zap.Logger) *Engine {
	return &Engine{
		table:   table,
		rail:    r,
		surface: surface,
		audit:   rec,
		events:  pub,
		stats:   stats,
		cfg:     cfg,
		log:     log,
		baseCtx: baseCtx,
		now:     time.Now,
		jitter:  rand.Float64,
	}
}

// CreateDeal opens a deal channel for two actors and seeds the state
// machine at role selection.
func (e *Engine) CreateDeal(ctx context.Context, initiator, counterparty, coinSymbol string) (string, error) {
	if initiator == "" || counterparty == "" || initiator == counterparty {
		return "", inputErr("a deal needs two distinct actors")
	}
	coin, err := coins.Lookup(coinSymbol)
	if err != nil {
		return "", err
	}

	channelID, err := e.surface.CreateDealChannel(ctx, initiator, counterparty)
	if err != nil {
		return "", fmt.Errorf("create deal channel: %w", err)
	}

	now := e.now()
	d := &models.Deal{
		ID:             channelID,
		Initiator:      initiator,
		Counterparty:   counterparty,
		Coin:           coin.Symbol,
		Status:         models.StatusAwaitingRoleSelection,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	en := &entry{deal: d}
	if err := e.table.add(channelID, en); err != nil {
		_ = e.surface.DeleteChannel(ctx, channelID, 0)
		return "", err
	}

	en.mu.Lock()
	e.armAbsolute(en, channelID)
	e.armInactivity(en, channelID)
	en.mu.Unlock()

	e.audit.Record(ctx, audit.Entry{
		Type:      audit.TypeDealCreated,
		Timestamp: now,
		DealID:    channelID,
		Coin:      coin.Symbol,
	})
	e.publishStatus(d)

	_ = e.surface.SendPrompt(ctx, channelID,
		fmt.Sprintf("Escrow deal opened for %s. Pick your role to begin.", coin.DisplaySymbol),
		rolePrompt())

	e.log.Info("deal created",
		zap.String("deal_id", channelID),
		zap.String("coin", coin.Symbol))
	return channelID, nil
}

// View is a lock-free snapshot of a live deal.
type View struct {
	ID                   string          `json:"id"`
	Initiator            string          `json:"initiator"`
	Counterparty         string          `json:"counterparty"`
	Coin                 string          `json:"coin"`
	Buyer                string          `json:"buyer,omitempty"`
	Seller               string          `json:"seller,omitempty"`
	Status               string          `json:"status"`
	AmountUSD            decimal.Decimal `json:"amount_usd"`
	FeeUSD               decimal.Decimal `json:"fee_usd"`
	FeePayer             string          `json:"fee_payer,omitempty"`
	BuyerPaysUSD         decimal.Decimal `json:"buyer_pays_usd"`
	SellerReceivesUSD    decimal.Decimal `json:"seller_receives_usd"`
	BuyerPaysCrypto      decimal.Decimal `json:"buyer_pays_crypto"`
	SellerReceivesCrypto decimal.Decimal `json:"seller_receives_crypto"`
	DepositAddress       string          `json:"deposit_address,omitempty"`
	SellerPayoutAddress  string          `json:"seller_payout_address,omitempty"`
	BuyerRefundAddress   string          `json:"buyer_refund_address,omitempty"`
	DepositTxRef         string          `json:"deposit_tx_ref,omitempty"`
	PayoutTxRef          string          `json:"payout_tx_ref,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	LastActivityAt       time.Time       `json:"last_activity_at"`
	PaymentStartedAt     time.Time       `json:"payment_started_at,omitempty"`
}

// Deal returns a point-in-time snapshot of the deal record.
func (e *Engine) Deal(dealID string) (View, error) {
	var out View
	err := e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		out = View{
			ID:                   d.ID,
			Initiator:            d.Initiator,
			Counterparty:         d.Counterparty,
			Coin:                 d.Coin,
			Buyer:                d.Buyer,
			Seller:               d.Seller,
			Status:               d.Status,
			AmountUSD:            d.AmountUSD,
			FeeUSD:               d.FeeUSD,
			FeePayer:             string(d.FeePayer),
			BuyerPaysUSD:         d.BuyerPaysUSD,
			SellerReceivesUSD:    d.SellerReceivesUSD,
			BuyerPaysCrypto:      d.BuyerPaysCrypto,
			SellerReceivesCrypto: d.SellerReceivesCrypto,
			DepositAddress:       d.DepositAddress,
			SellerPayoutAddress:  d.SellerPayoutAddress,
			BuyerRefundAddress:   d.BuyerRefundAddress,
			DepositTxRef:         d.DepositTxRef(),
			PayoutTxRef:          d.PayoutTxRef(),
			CreatedAt:            d.CreatedAt,
			LastActivityAt:       d.LastActivityAt,
			PaymentStartedAt:     d.PaymentStartedAt,
		}
		return nil
	})
	return out, err
}

// withDeal runs fn with the per-deal lock held.
func (e *Engine) withDeal(dealID string, fn func(*entry, *models.Deal) error) error {
	en, ok := e.table.get(dealID)
	if !ok {
		return ErrDealNotFound
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return fn(en, en.deal)
}

// transition moves the deal to a new status after checking the table.
// Caller holds the entry lock.
func (e *Engine) transition(d *models.Deal, to string) error {
	if !models.IsValidTransition(d.Status, to) {
		e.log.Warn("rejected transition",
			zap.String("deal_id", d.ID),
			zap.String("from", d.Status),
			zap.String("to", to))
		return ErrWrongState
	}
	from := d.Status
	d.Status = to
	e.publishStatus(d)
	e.log.Info("deal transition",
		zap.String("deal_id", d.ID),
		zap.String("from", from),
		zap.String("to", to))
	return nil
}

// touch stamps activity and re-arms the inactivity timer. Once payment
// has started the inactivity window no longer applies. Caller holds the
// entry lock.
func (e *Engine) touch(en *entry, d *models.Deal) {
	d.LastActivityAt = e.now()
	if !d.PaymentStarted() {
		e.armInactivity(en, d.ID)
	}
}

func (e *Engine) publishStatus(d *models.Deal) {
	_ = e.events.Publish(e.baseCtx, events.StreamDeal, events.Event{
		Type: events.EventDealStatusChanged,
		Payload: map[string]any{
			"deal_id": d.ID,
			"status":  d.Status,
			"coin":    d.Coin,
		},
	})
}

func (e *Engine) coin(d *models.Deal) coins.Coin {
	c, err := coins.Lookup(d.Coin)
	if err != nil {
		// The coin was validated at creation; reaching this means the
		// registry shrank under a live deal.
		e.log.Error("coin vanished from registry", zap.String("coin", d.Coin))
	}
	return c
}

func rolePrompt() []messaging.PromptOption {
	return []messaging.PromptOption{
		{ID: "role:buyer", Label: "I am buying"},
		{ID: "role:seller", Label: "I am selling"},
		{ID: "role:reset", Label: "Reset roles"},
	}
}

func feePrompt() []messaging.PromptOption {
	return []messaging.PromptOption{
		{ID: "fee:buyer_pays", Label: "Buyer pays the fee"},
		{ID: "fee:seller_pays", Label: "Seller pays the fee"},
		{ID: "fee:split", Label: "Split it"},
	}
}
