// Package settlement executes purchases: it swaps a listed asset for payment,
// splits the price between seller and platform, and pays balances out.
// Ports for the payment rail live alongside the engine; adapters implement them.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/market"
	"github.com/ThorbenD/dvp-market/registry"
	"github.com/ThorbenD/dvp-market/store"
)

// ErrUnreconciled marks a deposit that was claimed on the payment rail while
// the purchase failed to commit. The buyer's funds must be restored by hand.
var ErrUnreconciled = errors.New("deposit claimed but purchase not recorded")

// ErrPayoutDisabled is returned by Withdraw when no AssetSender is configured.
var ErrPayoutDisabled = errors.New("payouts not configured")

// Receipt describes a completed purchase.
type Receipt struct {
	ID        string           `json:"id"`
	ListingID uint64           `json:"listing_id"`
	AssetID   uint64           `json:"asset_id"`
	Seller    domain.Principal `json:"seller"`
	Buyer     domain.Principal `json:"buyer"`
	Price     decimal.Decimal  `json:"price"`
	Fee       decimal.Decimal  `json:"fee"`
	Proceeds  decimal.Decimal  `json:"proceeds"`
	Refund    decimal.Decimal  `json:"refund"`
	TxID      string           `json:"tx_id,omitempty"` // payment rail claim, deposit purchases only
	SettledAt time.Time        `json:"settled_at"`
}

// Withdrawal describes a balance paid out through the AssetSender.
type Withdrawal struct {
	ID        string           `json:"id"`
	Principal domain.Principal `json:"principal"`
	Amount    decimal.Decimal  `json:"amount"`
	Dest      string           `json:"dest"`
	TxID      string           `json:"tx_id"`
	Confirmed bool             `json:"confirmed"`
}

// DefaultClaimTimeout bounds a claim on the payment rail.
const DefaultClaimTimeout = 30 * time.Second

// Config holds settlement parameters. A zero Config disables confirmation
// waits and uses DefaultClaimTimeout.
type Config struct {
	PayoutAssetID string // tapd asset id used for withdrawals
	MinConfs      int
	// ClaimTimeout caps ExecuteSettlement. Purchase claims run while the
	// store is locked, so a stuck node must not hold it.
	ClaimTimeout time.Duration
}

// Funding is a deposit credited to a principal's balance.
type Funding struct {
	ID        string           `json:"id"`
	Principal domain.Principal `json:"principal"`
	Amount    decimal.Decimal  `json:"amount"`
	TxID      string           `json:"tx_id"`
	FundedAt  time.Time        `json:"funded_at"`
}

// Engine is the settlement engine.
type Engine struct {
	cfg     Config
	store   *store.Store
	book    *market.Book
	sender  AssetSender
	monitor ChainMonitor
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPayout enables Withdraw. monitor may be nil.
func WithPayout(sender AssetSender, monitor ChainMonitor) Option {
	return func(e *Engine) {
		e.sender = sender
		e.monitor = monitor
	}
}

func NewEngine(cfg Config, st *store.Store, book *market.Book, opts ...Option) *Engine {
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = DefaultClaimTimeout
	}
	e := &Engine{
		cfg:    cfg,
		store:  st,
		book:   book,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Buy purchases listing id for buyer, who pays payment out of their balance.
// Any excess over the listing price is credited back to the buyer.
func (e *Engine) Buy(listingID uint64, buyer domain.Principal, payment decimal.Decimal) (*Receipt, error) {
	return e.settle(listingID, buyer, payment, nil)
}

// settle validates and applies a purchase in one store transaction. Without
// claim the payment is debited from the buyer's balance. claim, if set, brings
// the payment in from the rail; it runs after validation and before any state
// is staged, and its failure aborts the purchase.
func (e *Engine) settle(listingID uint64, buyer domain.Principal, payment decimal.Decimal, claim func(domain.Listing) error) (*Receipt, error) {
	buyer = domain.NewPrincipal(string(buyer))
	now := e.now()

	var r *Receipt
	err := e.store.Update(func(tx *store.Tx) error {
		l, ok := tx.Listing(listingID)
		if !ok {
			return fmt.Errorf("buy listing %d: %w", listingID, domain.ErrNotFound)
		}
		if !l.Active() {
			return fmt.Errorf("buy listing %d is %s: %w", listingID, l.Status, domain.ErrNotActive)
		}
		a, ok := tx.Asset(l.AssetID)
		if !ok || !l.Backed(a) {
			return fmt.Errorf("buy listing %d: asset %d: %w", listingID, l.AssetID, domain.ErrListingStale)
		}
		if buyer.IsZero() {
			return fmt.Errorf("buy listing %d: %w", listingID, domain.ErrZeroPrincipal)
		}
		if buyer == l.Seller {
			return fmt.Errorf("buy listing %d: seller cannot buy own listing: %w", listingID, domain.ErrNotAuthorized)
		}
		if payment.LessThan(l.Price) {
			return fmt.Errorf("buy listing %d: paid %s, price %s: %w", listingID, payment, l.Price, domain.ErrInsufficientPayment)
		}

		fee := e.book.Fee(l.Price)
		proceeds := l.Price.Sub(fee)
		refund := payment.Sub(l.Price)

		if claim != nil {
			if err := claim(l); err != nil {
				return err
			}
		} else if err := tx.Debit(buyer, payment); err != nil {
			return fmt.Errorf("buy listing %d: %w", listingID, err)
		}

		l.Status = domain.ListingStatusSold
		l.UpdatedAt = now
		tx.PutListing(l)
		registry.Move(tx, a, buyer, now)
		tx.Credit(l.Seller, proceeds)
		if fee.IsPositive() {
			tx.Credit(e.book.FeeRecipient(), fee)
		}
		if refund.IsPositive() {
			tx.Credit(buyer, refund)
		}
		tx.Emit(domain.Event{
			Kind:      domain.EventSold,
			AssetID:   l.AssetID,
			ListingID: l.ID,
			From:      l.Seller,
			To:        buyer,
			Price:     l.Price,
			At:        now,
		})

		r = &Receipt{
			ID:        uuid.NewString(),
			ListingID: l.ID,
			AssetID:   l.AssetID,
			Seller:    l.Seller,
			Buyer:     buyer,
			Price:     l.Price,
			Fee:       fee,
			Proceeds:  proceeds,
			Refund:    refund,
			SettledAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("[Engine] ✅ Purchase settled",
		"receipt", r.ID,
		"listing_id", r.ListingID,
		"asset_id", r.AssetID,
		"buyer", r.Buyer,
		"price", r.Price.String(),
		"fee", r.Fee.String())
	return r, nil
}

// BuyWithDeposit purchases a listing with funds the buyer locked on the
// payment rail. The driver's prepare phase runs without holding the store;
// the claim happens inside the purchase transaction, after every check has
// passed, so a rejected purchase always releases the deposit.
func (e *Engine) BuyWithDeposit(ctx context.Context, driver SettlementDriver, req SettlementRequest) (*Receipt, error) {
	e.logger.Info("[Engine] Preparing deposit purchase", "listing_id", req.ListingID, "buyer", req.Buyer, "hash", req.PaymentHash)

	handle, err := driver.PrepareSettlement(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("prepare settlement: %w", err)
	}

	if err := e.checkTicket(ctx, driver, handle); err != nil {
		return nil, err
	}

	var (
		result  *SettlementResult
		claimed bool
	)
	receipt, err := e.settle(req.ListingID, req.Buyer, handle.Deposit, func(domain.Listing) error {
		res, err := e.execute(ctx, driver, handle)
		if err != nil {
			return err
		}
		result, claimed = res, true
		return nil
	})
	if err != nil {
		if claimed {
			e.logger.Error("[Engine] ❌ Deposit claimed but purchase not committed",
				"listing_id", req.ListingID, "hash", req.PaymentHash, "tx_id", result.TxID, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrUnreconciled, err)
		}
		e.abort(ctx, driver, handle, err.Error())
		return nil, err
	}

	receipt.TxID = result.TxID
	return receipt, nil
}

// Fund credits req.Buyer with a deposit locked on the payment rail. It is how
// outside value enters the ledger. The claim runs before the store is
// touched; a credit that fails to commit after a claim is ErrUnreconciled.
func (e *Engine) Fund(ctx context.Context, driver SettlementDriver, req SettlementRequest) (*Funding, error) {
	p := domain.NewPrincipal(string(req.Buyer))
	if p.IsZero() {
		return nil, fmt.Errorf("fund: %w", domain.ErrZeroPrincipal)
	}
	e.logger.Info("[Engine] Preparing funding deposit", "principal", p, "hash", req.PaymentHash)

	handle, err := driver.PrepareSettlement(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("prepare settlement: %w", err)
	}
	if !handle.Deposit.IsPositive() {
		e.abort(ctx, driver, handle, "empty deposit")
		return nil, fmt.Errorf("fund: deposit %s: %w", handle.Deposit, domain.ErrInvalidPrice)
	}
	if err := e.checkTicket(ctx, driver, handle); err != nil {
		return nil, err
	}

	result, err := e.execute(ctx, driver, handle)
	if err != nil {
		e.abort(ctx, driver, handle, err.Error())
		return nil, err
	}

	f := &Funding{ID: uuid.NewString(), Principal: p, Amount: handle.Deposit, TxID: result.TxID, FundedAt: e.now()}
	if err := e.store.Update(func(tx *store.Tx) error {
		tx.Credit(p, f.Amount)
		tx.Emit(domain.Event{Kind: domain.EventFunded, To: p, Price: f.Amount, At: f.FundedAt})
		return nil
	}); err != nil {
		e.logger.Error("[Engine] ❌ Deposit claimed but funding not committed",
			"principal", p, "hash", req.PaymentHash, "tx_id", result.TxID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnreconciled, err)
	}

	e.logger.Info("[Engine] ✅ Balance funded", "funding", f.ID, "principal", p, "amount", f.Amount.String())
	return f, nil
}

func (e *Engine) checkTicket(ctx context.Context, driver SettlementDriver, handle *SettlementHandle) error {
	caps := driver.Capabilities()
	if caps.MaxTicketSize.IsPositive() && handle.Deposit.GreaterThan(caps.MaxTicketSize) {
		e.abort(ctx, driver, handle, "ticket too large")
		return fmt.Errorf("deposit %s over %s limit %s: %w", handle.Deposit, caps.SettlementType, caps.MaxTicketSize, domain.ErrTicketTooLarge)
	}
	return nil
}

// execute claims handle within ClaimTimeout.
func (e *Engine) execute(ctx context.Context, driver SettlementDriver, handle *SettlementHandle) (*SettlementResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ClaimTimeout)
	defer cancel()
	res, err := driver.ExecuteSettlement(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("execute settlement: %w", err)
	}
	return res, nil
}

func (e *Engine) abort(ctx context.Context, driver SettlementDriver, handle *SettlementHandle, reason string) {
	e.logger.Warn("[Engine] 🛑 Aborting deposit", "handle", handle.ID, "reason", reason)
	// the purchase context may already be done; the release must still go out
	if err := driver.AbortSettlement(context.WithoutCancel(ctx), handle); err != nil {
		e.logger.Error("[Engine] Abort failed", "handle", handle.ID, "error", err)
	}
}

// BalanceOf is p's withdrawable balance.
func (e *Engine) BalanceOf(p domain.Principal) decimal.Decimal {
	p = domain.NewPrincipal(string(p))
	bal := decimal.Zero
	_ = e.store.View(func(tx *store.Tx) error {
		bal = tx.Balance(p)
		return nil
	})
	return bal
}

// Withdraw pays amount of p's balance to destAddr. The balance is debited
// before the send and restored if the send fails.
func (e *Engine) Withdraw(ctx context.Context, p domain.Principal, amount decimal.Decimal, destAddr string) (*Withdrawal, error) {
	if e.sender == nil {
		return nil, fmt.Errorf("withdraw: %w", ErrPayoutDisabled)
	}
	p = domain.NewPrincipal(string(p))
	if p.IsZero() {
		return nil, fmt.Errorf("withdraw: %w", domain.ErrZeroPrincipal)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("withdraw amount %s: %w", amount, domain.ErrInvalidPrice)
	}
	if destAddr == "" {
		return nil, errors.New("withdraw: destination address required")
	}

	w := &Withdrawal{ID: uuid.NewString(), Principal: p, Amount: amount, Dest: destAddr}
	if err := e.store.Update(func(tx *store.Tx) error {
		return tx.Debit(p, amount)
	}); err != nil {
		return nil, fmt.Errorf("withdraw %s: %w", w.ID, err)
	}

	e.logger.Info("[Engine] Sending payout", "withdrawal", w.ID, "principal", p, "amount", amount.String())
	txID, err := e.sender.SendAsset(ctx, e.cfg.PayoutAssetID, amount, destAddr)
	if err != nil {
		if rerr := e.store.Update(func(tx *store.Tx) error {
			tx.Credit(p, amount)
			return nil
		}); rerr != nil {
			e.logger.Error("[Engine] ❌ Failed to restore balance", "withdrawal", w.ID, "principal", p, "amount", amount.String(), "error", rerr)
		}
		return nil, fmt.Errorf("send payout %s: %w", w.ID, err)
	}
	w.TxID = txID

	if e.monitor != nil && e.cfg.MinConfs > 0 {
		e.logger.Info("[Engine] ⏳ Waiting for payout confirmations", "tx_id", txID, "min_confs", e.cfg.MinConfs)
		if err := e.monitor.WaitForConfirmations(ctx, txID, e.cfg.MinConfs); err != nil {
			return w, fmt.Errorf("payout %s sent as %s, confirmation failed: %w", w.ID, txID, err)
		}
		w.Confirmed = true
	}

	e.logger.Info("[Engine] ✅ Payout complete", "withdrawal", w.ID, "tx_id", txID)
	return w, nil
}
