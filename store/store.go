// Package store holds the engine's authoritative tables. Every operation runs
// as one serialized transaction: writes are staged, committed to the journal,
// and only then applied, so a failed operation leaves no trace.
package store

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/domain"
)

// Journal persists committed changesets. Commit must be all-or-nothing.
type Journal interface {
	Commit(cs Changeset) error
}

// Publisher receives events after their transaction has committed.
type Publisher interface {
	Publish(e domain.Event)
}

// OperatorApproval is one row of the blanket-approval table.
type OperatorApproval struct {
	Holder   domain.Principal
	Operator domain.Principal
	Approved bool
}

// Changeset is the set of rows written by a single transaction.
// A zero Principal in Approvals means the approval was cleared.
type Changeset struct {
	Assets        []domain.Asset
	Listings      []domain.Listing
	Balances      map[domain.Principal]decimal.Decimal
	Operators     []OperatorApproval
	Approvals     map[uint64]domain.Principal
	LastAssetID   uint64
	LastListingID uint64
}

// Empty reports whether the changeset writes nothing.
func (cs Changeset) Empty() bool {
	return len(cs.Assets) == 0 && len(cs.Listings) == 0 && len(cs.Balances) == 0 &&
		len(cs.Operators) == 0 && len(cs.Approvals) == 0
}

// Snapshot is a full copy of the persisted tables, used to restore a store.
type Snapshot struct {
	Assets        []domain.Asset
	Listings      []domain.Listing
	Balances      map[domain.Principal]decimal.Decimal
	Operators     []OperatorApproval
	Approvals     map[uint64]domain.Principal
	LastAssetID   uint64
	LastListingID uint64
}

type Option func(*Store)

func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the single authoritative state shared by the registry, the listing
// book and the settlement engine.
type Store struct {
	mu        sync.RWMutex
	st        *state
	journal   Journal
	publisher Publisher
	logger    *slog.Logger
}

func New(opts ...Option) *Store {
	s := &Store{
		st:     newState(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore replaces the in-memory tables with snap. It is meant to be called
// once at startup, before the store serves operations.
func (s *Store) Restore(snap Snapshot) error {
	st := newState()
	for _, a := range snap.Assets {
		if _, dup := st.assets[a.ID]; dup {
			return fmt.Errorf("restore: duplicate asset %d", a.ID)
		}
		st.assets[a.ID] = a
		st.holdings[a.Holder]++
		if a.ID > st.lastAssetID {
			st.lastAssetID = a.ID
		}
	}
	for _, l := range snap.Listings {
		if _, dup := st.listings[l.ID]; dup {
			return fmt.Errorf("restore: duplicate listing %d", l.ID)
		}
		st.listings[l.ID] = l
		if l.Active() {
			if other, taken := st.activeByAsset[l.AssetID]; taken {
				return fmt.Errorf("restore: asset %d has active listings %d and %d", l.AssetID, other, l.ID)
			}
			st.activeByAsset[l.AssetID] = l.ID
			st.activeCount++
		}
		if l.ID > st.lastListingID {
			st.lastListingID = l.ID
		}
	}
	for p, b := range snap.Balances {
		st.balances[p] = b
	}
	for _, op := range snap.Operators {
		if op.Approved {
			st.operators[operatorKey{op.Holder, op.Operator}] = true
		}
	}
	for id, p := range snap.Approvals {
		if !p.IsZero() {
			st.approvals[id] = p
		}
	}
	if snap.LastAssetID > st.lastAssetID {
		st.lastAssetID = snap.LastAssetID
	}
	if snap.LastListingID > st.lastListingID {
		st.lastListingID = snap.LastListingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = st
	return nil
}

// Update runs fn in a writable transaction. Nothing fn stages becomes visible
// unless fn returns nil and the journal accepts the changeset. Events are
// published before the next writer starts, so subscribers see commit order.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s.st, true)
	if err := fn(tx); err != nil {
		return err
	}

	cs := tx.changeset()
	if s.journal != nil && !cs.Empty() {
		if err := s.journal.Commit(cs); err != nil {
			s.logger.Error("[Store] journal commit failed, transaction discarded", "error", err)
			return fmt.Errorf("journal commit: %w", err)
		}
	}
	tx.apply()

	// Publisher must not block or call back into the store.
	if s.publisher != nil {
		for _, e := range tx.events {
			s.publisher.Publish(e)
		}
	}
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newTx(s.st, false))
}
