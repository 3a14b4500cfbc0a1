package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "ACTIVE"
	ListingStatusSold      ListingStatus = "SOLD"
	ListingStatusCancelled ListingStatus = "CANCELLED"
)

// Listing is a seller's standing offer for one asset at a fixed price.
// Once a listing leaves ListingStatusActive it never returns.
type Listing struct {
	ID        uint64
	Seller    Principal
	Contract  Principal // registry the asset lives in
	AssetID   uint64
	Price     decimal.Decimal
	Status    ListingStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	// AssetTransfers is Asset.Transfers when the listing was created.
	AssetTransfers uint64
}

// Active reports whether the listing can still be bought, cancelled or repriced.
func (l Listing) Active() bool {
	return l.Status == ListingStatusActive
}

// Backed reports whether a is still in the hands that listed it. A listing
// whose asset changed hands is stale, even if it later came back.
func (l Listing) Backed(a Asset) bool {
	return a.ID == l.AssetID && a.Holder == l.Seller && a.Transfers == l.AssetTransfers
}
