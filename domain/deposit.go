package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "PENDING"
	DepositStatusConfirmed DepositStatus = "CONFIRMED"
	DepositStatusClaimed   DepositStatus = "CLAIMED"
)

// Deposit is a buyer's payment locked on the payment rail (for Lightning, a
// held HTLC) and not yet claimed by the marketplace.
type Deposit struct {
	Hash       string          // Payment hash (hex)
	Amount     decimal.Decimal // Amount in payment asset units
	Status     DepositStatus
	DetectedAt time.Time
}
