package domain

import (
	"fmt"
	"time"
)

// Attributes is the mutable trait state of an asset.
// Color is fixed at mint; Level only ever goes up.
type Attributes struct {
	CreatedAt time.Time
	Level     uint64
	Color     string // "#rrggbb" seed derived at mint
}

// Asset is a singly-held registry entry. The rendering descriptor is not
// stored; it is derived from Attributes on every read.
type Asset struct {
	ID         uint64
	Holder     Principal
	Transfers  uint64 // holder changes since mint
	Attributes Attributes
}

// PaymentAsset describes the fungible asset used to pay for listings.
type PaymentAsset struct {
	Ticker   string
	Decimals int32
}

// Bitcoin is what the Lightning rail moves. Invoices are denominated in its
// smallest unit, the satoshi.
var Bitcoin = PaymentAsset{Ticker: "BTC", Decimals: 8}

func (p PaymentAsset) String() string { return fmt.Sprintf("%s/%d", p.Ticker, p.Decimals) }
