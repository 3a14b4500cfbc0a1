package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventMint             EventKind = "MINT"
	EventTransfer         EventKind = "TRANSFER"
	EventApproval         EventKind = "APPROVAL"
	EventApprovalForAll   EventKind = "APPROVAL_FOR_ALL"
	EventLevelUp          EventKind = "LEVEL_UP"
	EventListed           EventKind = "LISTED"
	EventListingCancelled EventKind = "LISTING_CANCELLED"
	EventPriceUpdated     EventKind = "PRICE_UPDATED"
	EventSold             EventKind = "SOLD"
	EventFunded           EventKind = "FUNDED"
)

// Event is a notification about a committed state change. Fields that do not
// apply to a kind are left zero.
type Event struct {
	ID        string          `json:"id"`
	Kind      EventKind       `json:"kind"`
	AssetID   uint64          `json:"asset_id,omitempty"`
	ListingID uint64          `json:"listing_id,omitempty"`
	From      Principal       `json:"from,omitempty"`
	To        Principal       `json:"to,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Approved  bool            `json:"approved,omitempty"`
	At        time.Time       `json:"at"`
}
