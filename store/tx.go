package store

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/domain"
)

// Tx is a view of the tables inside Store.Update or Store.View. Reads observe
// the transaction's own staged writes.
type Tx struct {
	base     *state
	writable bool

	assets        map[uint64]domain.Asset
	listings      map[uint64]domain.Listing
	activeByAsset map[uint64]uint64 // 0 = no active listing
	activeCount   uint64
	holdings      map[domain.Principal]uint64
	balances      map[domain.Principal]decimal.Decimal
	operators     map[operatorKey]bool
	approvals     map[uint64]domain.Principal
	lastAssetID   uint64
	lastListingID uint64

	events []domain.Event
}

func newTx(base *state, writable bool) *Tx {
	return &Tx{
		base:          base,
		writable:      writable,
		assets:        make(map[uint64]domain.Asset),
		listings:      make(map[uint64]domain.Listing),
		activeByAsset: make(map[uint64]uint64),
		activeCount:   base.activeCount,
		holdings:      make(map[domain.Principal]uint64),
		balances:      make(map[domain.Principal]decimal.Decimal),
		operators:     make(map[operatorKey]bool),
		approvals:     make(map[uint64]domain.Principal),
		lastAssetID:   base.lastAssetID,
		lastListingID: base.lastListingID,
	}
}

func (tx *Tx) mustWrite() {
	if !tx.writable {
		panic("store: write in read-only transaction")
	}
}

// Asset returns the asset with the given id.
func (tx *Tx) Asset(id uint64) (domain.Asset, bool) {
	if a, ok := tx.assets[id]; ok {
		return a, true
	}
	a, ok := tx.base.assets[id]
	return a, ok
}

// Listing returns the listing with the given id.
func (tx *Tx) Listing(id uint64) (domain.Listing, bool) {
	if l, ok := tx.listings[id]; ok {
		return l, true
	}
	l, ok := tx.base.listings[id]
	return l, ok
}

// ActiveListingFor returns the id of the active listing on assetID, if any.
func (tx *Tx) ActiveListingFor(assetID uint64) (uint64, bool) {
	if id, ok := tx.activeByAsset[assetID]; ok {
		return id, id != 0
	}
	id, ok := tx.base.activeByAsset[assetID]
	return id, ok
}

// ActiveCount is the number of listings currently active.
func (tx *Tx) ActiveCount() uint64 {
	return tx.activeCount
}

// ActiveListings returns all active listings ordered by id.
func (tx *Tx) ActiveListings() []domain.Listing {
	ids := make(map[uint64]struct{}, tx.activeCount)
	for _, id := range tx.base.activeByAsset {
		ids[id] = struct{}{}
	}
	for assetID, id := range tx.activeByAsset {
		if prev, ok := tx.base.activeByAsset[assetID]; ok {
			delete(ids, prev)
		}
		if id != 0 {
			ids[id] = struct{}{}
		}
	}

	out := make([]domain.Listing, 0, len(ids))
	for id := range ids {
		if l, ok := tx.Listing(id); ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HoldingsOf is the number of assets held by p.
func (tx *Tx) HoldingsOf(p domain.Principal) uint64 {
	if n, ok := tx.holdings[p]; ok {
		return n
	}
	return tx.base.holdings[p]
}

// Balance is p's payment-asset balance.
func (tx *Tx) Balance(p domain.Principal) decimal.Decimal {
	if b, ok := tx.balances[p]; ok {
		return b
	}
	return tx.base.balances[p]
}

// IsOperator reports whether holder has approved operator for all its assets.
func (tx *Tx) IsOperator(holder, operator domain.Principal) bool {
	k := operatorKey{holder, operator}
	if v, ok := tx.operators[k]; ok {
		return v
	}
	return tx.base.operators[k]
}

// Approved returns the single-asset approval for assetID, or "".
func (tx *Tx) Approved(assetID uint64) domain.Principal {
	if p, ok := tx.approvals[assetID]; ok {
		return p
	}
	return tx.base.approvals[assetID]
}

// LastAssetID is the highest asset id ever assigned.
func (tx *Tx) LastAssetID() uint64 {
	return tx.lastAssetID
}

// LastListingID is the highest listing id ever assigned.
func (tx *Tx) LastListingID() uint64 {
	return tx.lastListingID
}

// NextAssetID reserves a fresh asset id.
func (tx *Tx) NextAssetID() uint64 {
	tx.mustWrite()
	tx.lastAssetID++
	return tx.lastAssetID
}

// NextListingID reserves a fresh listing id.
func (tx *Tx) NextListingID() uint64 {
	tx.mustWrite()
	tx.lastListingID++
	return tx.lastListingID
}

// PutAsset stages a as the new row for a.ID, keeping holder counts in step.
func (tx *Tx) PutAsset(a domain.Asset) {
	tx.mustWrite()
	prev, existed := tx.Asset(a.ID)
	switch {
	case !existed:
		tx.holdings[a.Holder] = tx.HoldingsOf(a.Holder) + 1
	case prev.Holder != a.Holder:
		tx.holdings[prev.Holder] = tx.HoldingsOf(prev.Holder) - 1
		tx.holdings[a.Holder] = tx.HoldingsOf(a.Holder) + 1
	}
	tx.assets[a.ID] = a
}

// PutListing stages l as the new row for l.ID, keeping the active index in step.
func (tx *Tx) PutListing(l domain.Listing) {
	tx.mustWrite()
	prev, existed := tx.Listing(l.ID)
	wasActive := existed && prev.Active()
	switch {
	case wasActive && !l.Active():
		tx.activeByAsset[prev.AssetID] = 0
		tx.activeCount--
	case !wasActive && l.Active():
		tx.activeByAsset[l.AssetID] = l.ID
		tx.activeCount++
	}
	tx.listings[l.ID] = l
}

// Credit adds amount to p's balance.
func (tx *Tx) Credit(p domain.Principal, amount decimal.Decimal) {
	tx.mustWrite()
	tx.balances[p] = tx.Balance(p).Add(amount)
}

// Debit removes amount from p's balance, failing if the balance is short.
func (tx *Tx) Debit(p domain.Principal, amount decimal.Decimal) error {
	tx.mustWrite()
	bal := tx.Balance(p)
	if bal.LessThan(amount) {
		return fmt.Errorf("debit %s from %s (balance %s): %w", amount, p, bal, domain.ErrInsufficientFunds)
	}
	tx.balances[p] = bal.Sub(amount)
	return nil
}

// SetOperator stages a blanket approval change.
func (tx *Tx) SetOperator(holder, operator domain.Principal, approved bool) {
	tx.mustWrite()
	tx.operators[operatorKey{holder, operator}] = approved
}

// SetApproved stages a single-asset approval; "" clears it.
func (tx *Tx) SetApproved(assetID uint64, p domain.Principal) {
	tx.mustWrite()
	tx.approvals[assetID] = p
}

// Emit queues e for publication once the transaction commits.
func (tx *Tx) Emit(e domain.Event) {
	tx.mustWrite()
	tx.events = append(tx.events, e)
}

func (tx *Tx) changeset() Changeset {
	cs := Changeset{
		LastAssetID:   tx.lastAssetID,
		LastListingID: tx.lastListingID,
	}
	for _, a := range tx.assets {
		cs.Assets = append(cs.Assets, a)
	}
	sort.Slice(cs.Assets, func(i, j int) bool { return cs.Assets[i].ID < cs.Assets[j].ID })
	for _, l := range tx.listings {
		cs.Listings = append(cs.Listings, l)
	}
	sort.Slice(cs.Listings, func(i, j int) bool { return cs.Listings[i].ID < cs.Listings[j].ID })
	if len(tx.balances) > 0 {
		cs.Balances = make(map[domain.Principal]decimal.Decimal, len(tx.balances))
		for p, b := range tx.balances {
			cs.Balances[p] = b
		}
	}
	for k, v := range tx.operators {
		cs.Operators = append(cs.Operators, OperatorApproval{Holder: k.holder, Operator: k.operator, Approved: v})
	}
	if len(tx.approvals) > 0 {
		cs.Approvals = make(map[uint64]domain.Principal, len(tx.approvals))
		for id, p := range tx.approvals {
			cs.Approvals[id] = p
		}
	}
	return cs
}

func (tx *Tx) apply() {
	b := tx.base
	for id, a := range tx.assets {
		b.assets[id] = a
	}
	for id, l := range tx.listings {
		b.listings[id] = l
	}
	for assetID, id := range tx.activeByAsset {
		if id == 0 {
			delete(b.activeByAsset, assetID)
		} else {
			b.activeByAsset[assetID] = id
		}
	}
	b.activeCount = tx.activeCount
	for p, n := range tx.holdings {
		if n == 0 {
			delete(b.holdings, p)
		} else {
			b.holdings[p] = n
		}
	}
	for p, bal := range tx.balances {
		b.balances[p] = bal
	}
	for k, v := range tx.operators {
		if v {
			b.operators[k] = true
		} else {
			delete(b.operators, k)
		}
	}
	for id, p := range tx.approvals {
		if p == "" {
			delete(b.approvals, id)
		} else {
			b.approvals[id] = p
		}
	}
	b.lastAssetID = tx.lastAssetID
	b.lastListingID = tx.lastListingID
}
