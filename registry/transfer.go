package registry

import (
	"time"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/store"
)

// CanTransfer reports whether caller may move a: the holder, an operator the
// holder approved, or the single-asset approved address. It reads tx, so the
// answer reflects the state at the moment of use.
func CanTransfer(tx *store.Tx, a domain.Asset, caller domain.Principal) bool {
	if caller.IsZero() {
		return false
	}
	if a.Holder == caller || tx.IsOperator(a.Holder, caller) {
		return true
	}
	return tx.Approved(a.ID) == caller
}

// Move reassigns a to `to` inside tx and clears its single-asset approval.
// Callers must already have authorized the move.
func Move(tx *store.Tx, a domain.Asset, to domain.Principal, at time.Time) {
	from := a.Holder
	a.Holder = to
	a.Transfers++
	tx.PutAsset(a)
	if tx.Approved(a.ID) != "" {
		tx.SetApproved(a.ID, "")
	}
	tx.Emit(domain.Event{Kind: domain.EventTransfer, AssetID: a.ID, From: from, To: to, At: at})
}
