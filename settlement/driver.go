package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/domain"
)

// SettlementDriver is the payment-rail port for deposit-backed purchases.
// Implementations include Lightning hold invoices (adapters/lnd) and the
// in-memory mock (adapters/mock). The Engine talks ONLY to this interface.
type SettlementDriver interface {
	// PrepareSettlement waits for or verifies that the buyer has locked funds.
	// For Lightning: this means detecting an accepted hold invoice.
	// This call MAY block until the deposit is detected or the context expires.
	PrepareSettlement(ctx context.Context, req SettlementRequest) (*SettlementHandle, error)

	// ExecuteSettlement claims the locked funds. It is called while the
	// purchase is validated and about to commit.
	ExecuteSettlement(ctx context.Context, handle *SettlementHandle) (*SettlementResult, error)

	// AbortSettlement releases a prepared (but not executed) deposit back to
	// the buyer.
	AbortSettlement(ctx context.Context, handle *SettlementHandle) error

	// Capabilities returns the operational constraints of this driver.
	Capabilities() DriverCapabilities
}

// SettlementRequest contains the parameters needed to prepare a settlement.
type SettlementRequest struct {
	ListingID   uint64
	Buyer       domain.Principal
	PaymentHash string
	Preimage    string // never logged
}

// SettlementHandle is returned by PrepareSettlement and carries the detected
// deposit to ExecuteSettlement or AbortSettlement.
type SettlementHandle struct {
	ID          string    // Opaque driver-internal handle ID
	ListingID   uint64    // Reference back to the purchase
	PaymentHash string    // Deposit the handle refers to
	DriverType  string    // e.g. "HTLC_LIGHTNING"
	PreparedAt  time.Time // When the deposit was detected
	Deposit     decimal.Decimal
}

// SettlementResult is returned by ExecuteSettlement upon successful claim.
type SettlementResult struct {
	TxID       string
	DriverType string
	FinalState string // e.g. "CLAIMED"
}

// DriverCapabilities describes the operational constraints of a SettlementDriver.
type DriverCapabilities struct {
	MaxTicketSize  decimal.Decimal // zero means unbounded
	SettlementType string
}
