package settlement

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/market"
)

// ErrRailMismatch means prices are quoted in an asset the payment rail
// cannot carry.
var ErrRailMismatch = errors.New("payment asset does not match rail")

// Invoice is a hold invoice issued to a buyer for one listing, or to a
// principal topping up their balance when ListingID is zero.
type Invoice struct {
	ListingID      uint64           `json:"listing_id,omitempty"`
	Buyer          domain.Principal `json:"buyer"`
	PaymentHash    string           `json:"payment_hash"`
	PaymentRequest string           `json:"payment_request"`
	Amount         decimal.Decimal  `json:"amount"`
	AmountSats     uint64           `json:"amount_sats"`
	AddIndex       uint64           `json:"add_index"`
}

type pendingCheckout struct {
	listingID uint64 // zero for a top-up
	buyer     domain.Principal
	preimage  string
}

// Checkout sells listings for Lightning payments. It issues a hold invoice
// per purchase and completes the purchase through the Engine once the
// invoice is accepted. It implements the invoice subscriber's DepositHandler.
type Checkout struct {
	engine *Engine
	book   *market.Book
	lnd    LightningClient
	driver SettlementDriver
	logger *slog.Logger
	unit   int32 // payment asset decimals; one unit shifted by this is one satoshi

	mu      sync.Mutex
	pending map[string]pendingCheckout // payment hash -> purchase
}

// NewCheckout fails with ErrRailMismatch unless book quotes prices in
// bitcoin, the only asset a Lightning invoice can carry.
func NewCheckout(engine *Engine, book *market.Book, lnd LightningClient, driver SettlementDriver, logger *slog.Logger) (*Checkout, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if pay := book.Payment(); pay != domain.Bitcoin {
		return nil, fmt.Errorf("lightning checkout needs %s, market quotes %s: %w", domain.Bitcoin, pay, ErrRailMismatch)
	}
	return &Checkout{
		engine:  engine,
		book:    book,
		lnd:     lnd,
		driver:  driver,
		logger:  logger,
		unit:    book.Payment().Decimals,
		pending: make(map[string]pendingCheckout),
	}, nil
}

// RequestInvoice issues a hold invoice for the full price of listing id.
func (c *Checkout) RequestInvoice(ctx context.Context, listingID uint64, buyer domain.Principal) (*Invoice, error) {
	buyer = domain.NewPrincipal(string(buyer))
	if buyer.IsZero() {
		return nil, fmt.Errorf("checkout: %w", domain.ErrZeroPrincipal)
	}
	l, err := c.book.Get(listingID)
	if err != nil {
		return nil, err
	}
	if !l.Active() {
		return nil, fmt.Errorf("checkout listing %d is %s: %w", listingID, l.Status, domain.ErrNotActive)
	}
	if l.Seller == buyer {
		return nil, fmt.Errorf("checkout listing %d: seller cannot buy own listing: %w", listingID, domain.ErrNotAuthorized)
	}

	inv, err := c.issue(ctx, listingID, buyer, l.Price, fmt.Sprintf("listing #%d", listingID))
	if err != nil {
		return nil, fmt.Errorf("checkout listing %d: %w", listingID, err)
	}
	return inv, nil
}

// RequestTopUp issues a hold invoice that credits amount to p's balance once
// paid. The balance then pays for direct purchases and mints.
func (c *Checkout) RequestTopUp(ctx context.Context, p domain.Principal, amount decimal.Decimal) (*Invoice, error) {
	p = domain.NewPrincipal(string(p))
	if p.IsZero() {
		return nil, fmt.Errorf("top-up: %w", domain.ErrZeroPrincipal)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("top-up amount %s: %w", amount, domain.ErrInvalidPrice)
	}
	inv, err := c.issue(ctx, 0, p, amount, "balance top-up")
	if err != nil {
		return nil, fmt.Errorf("top-up: %w", err)
	}
	return inv, nil
}

func (c *Checkout) issue(ctx context.Context, listingID uint64, buyer domain.Principal, amount decimal.Decimal, memo string) (*Invoice, error) {
	// round up so the deposit always covers the amount
	sats := amount.Shift(c.unit).Ceil().IntPart()
	if sats <= 0 {
		return nil, fmt.Errorf("amount %s below one satoshi: %w", amount, domain.ErrInvalidPrice)
	}

	preimage, hash, err := newPreimage()
	if err != nil {
		return nil, err
	}

	payReq, addIndex, err := c.lnd.AddHoldInvoice(ctx, memo, hash, uint64(sats))
	if err != nil {
		return nil, fmt.Errorf("add hold invoice: %w", err)
	}

	c.mu.Lock()
	c.pending[hash] = pendingCheckout{listingID: listingID, buyer: buyer, preimage: preimage}
	c.mu.Unlock()

	c.logger.Info("[Checkout] ⚡ Invoice issued", "listing_id", listingID, "buyer", buyer, "hash", hash, "sats", sats)
	return &Invoice{
		ListingID:      listingID,
		Buyer:          buyer,
		PaymentHash:    hash,
		PaymentRequest: payReq,
		Amount:         decimal.New(sats, -c.unit),
		AmountSats:     uint64(sats),
		AddIndex:       addIndex,
	}, nil
}

// OnDepositDetected completes the purchase or top-up behind paymentHash.
// Each hash is consumed once, whatever the outcome.
func (c *Checkout) OnDepositDetected(ctx context.Context, paymentHash string) error {
	c.mu.Lock()
	p, ok := c.pending[paymentHash]
	delete(c.pending, paymentHash)
	c.mu.Unlock()
	if !ok {
		// not ours: other invoices on the same node
		c.logger.Debug("[Checkout] Ignoring unknown invoice", "hash", paymentHash)
		return nil
	}

	req := SettlementRequest{ListingID: p.listingID, Buyer: p.buyer, PaymentHash: paymentHash, Preimage: p.preimage}
	if p.listingID == 0 {
		c.logger.Info("[Checkout] 🔔 Top-up detected", "principal", p.buyer, "hash", paymentHash)
		f, err := c.engine.Fund(ctx, c.driver, req)
		if err != nil {
			return fmt.Errorf("top-up for %s: %w", p.buyer, err)
		}
		c.logger.Info("[Checkout] ✅ Top-up complete", "principal", p.buyer, "funding", f.ID)
		return nil
	}

	c.logger.Info("[Checkout] 🔔 Deposit detected", "listing_id", p.listingID, "hash", paymentHash)
	receipt, err := c.engine.BuyWithDeposit(ctx, c.driver, req)
	if err != nil {
		return fmt.Errorf("checkout listing %d: %w", p.listingID, err)
	}

	c.logger.Info("[Checkout] ✅ Checkout complete", "listing_id", p.listingID, "receipt", receipt.ID)
	return nil
}

// Pending is the number of invoices awaiting payment.
func (c *Checkout) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func newPreimage() (preimage, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate preimage: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(b), hex.EncodeToString(sum[:]), nil
}
