package store

import (
	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/domain"
)

type operatorKey struct {
	holder   domain.Principal
	operator domain.Principal
}

type state struct {
	assets        map[uint64]domain.Asset
	listings      map[uint64]domain.Listing
	activeByAsset map[uint64]uint64 // asset id -> active listing id
	activeCount   uint64
	holdings      map[domain.Principal]uint64
	balances      map[domain.Principal]decimal.Decimal
	operators     map[operatorKey]bool
	approvals     map[uint64]domain.Principal
	lastAssetID   uint64
	lastListingID uint64
}

func newState() *state {
	return &state{
		assets:        make(map[uint64]domain.Asset),
		listings:      make(map[uint64]domain.Listing),
		activeByAsset: make(map[uint64]uint64),
		holdings:      make(map[domain.Principal]uint64),
		balances:      make(map[domain.Principal]decimal.Decimal),
		operators:     make(map[operatorKey]bool),
		approvals:     make(map[uint64]domain.Principal),
	}
}
