// Package registry owns asset identity, holders, approvals and trait state.
// All reads and writes go through the shared store so that the listing book
// and the settlement engine observe the same holder at the same moment.
package registry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/attributes"
	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/store"
)

// Config holds the registry's fixed parameters.
type Config struct {
	Name      string
	Symbol    string
	Address   domain.Principal // the registry's own address, used as the listing contract ref
	MintPrice decimal.Decimal
	Treasury  domain.Principal // receives mint payments
}

// Registry is the asset registry.
type Registry struct {
	cfg    Config
	store  *store.Store
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Registry)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func New(cfg Config, st *store.Store, opts ...Option) (*Registry, error) {
	cfg.Address = domain.NewPrincipal(string(cfg.Address))
	cfg.Treasury = domain.NewPrincipal(string(cfg.Treasury))
	if cfg.Address.IsZero() {
		return nil, fmt.Errorf("registry address: %w", domain.ErrZeroPrincipal)
	}
	if cfg.Treasury.IsZero() {
		return nil, fmt.Errorf("registry treasury: %w", domain.ErrZeroPrincipal)
	}
	if cfg.MintPrice.IsNegative() {
		return nil, fmt.Errorf("mint price %s: %w", cfg.MintPrice, domain.ErrInvalidPrice)
	}

	r := &Registry{
		cfg:    cfg,
		store:  st,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) Name() string               { return r.cfg.Name }
func (r *Registry) Symbol() string             { return r.cfg.Symbol }
func (r *Registry) Address() domain.Principal  { return r.cfg.Address }
func (r *Registry) MintPrice() decimal.Decimal { return r.cfg.MintPrice }

// Mint creates a new asset held by requester. The payment is drawn from the
// requester's balance and goes to the treasury in full.
func (r *Registry) Mint(requester domain.Principal, payment decimal.Decimal) (uint64, error) {
	requester = domain.NewPrincipal(string(requester))
	if requester.IsZero() {
		return 0, fmt.Errorf("mint: %w", domain.ErrZeroPrincipal)
	}
	if payment.LessThan(r.cfg.MintPrice) {
		return 0, fmt.Errorf("mint: paid %s, price %s: %w", payment, r.cfg.MintPrice, domain.ErrInsufficientPayment)
	}

	now := r.now()
	var id uint64
	err := r.store.Update(func(tx *store.Tx) error {
		if payment.IsPositive() {
			if err := tx.Debit(requester, payment); err != nil {
				return fmt.Errorf("mint: %w", err)
			}
			tx.Credit(r.cfg.Treasury, payment)
		}
		id = tx.NextAssetID()
		tx.PutAsset(domain.Asset{
			ID:         id,
			Holder:     requester,
			Attributes: attributes.Initialize(id, now),
		})
		tx.Emit(domain.Event{Kind: domain.EventMint, AssetID: id, To: requester, Price: payment, At: now})
		tx.Emit(domain.Event{Kind: domain.EventTransfer, AssetID: id, From: domain.ZeroAddress, To: requester, At: now})
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info("[Registry] Minted asset", "asset_id", id, "holder", requester, "payment", payment.String())
	return id, nil
}

// Asset returns the full asset record.
func (r *Registry) Asset(id uint64) (domain.Asset, error) {
	var a domain.Asset
	err := r.store.View(func(tx *store.Tx) error {
		var ok bool
		a, ok = tx.Asset(id)
		if !ok {
			return fmt.Errorf("asset %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
	return a, err
}

// OwnerOf returns the current holder of id.
func (r *Registry) OwnerOf(id uint64) (domain.Principal, error) {
	a, err := r.Asset(id)
	if err != nil {
		return "", err
	}
	return a.Holder, nil
}

// Attributes returns the stored trait state of id.
func (r *Registry) Attributes(id uint64) (domain.Attributes, error) {
	a, err := r.Asset(id)
	if err != nil {
		return domain.Attributes{}, err
	}
	return a.Attributes, nil
}

// BalanceOf is the number of assets p holds.
func (r *Registry) BalanceOf(p domain.Principal) uint64 {
	p = domain.NewPrincipal(string(p))
	var n uint64
	_ = r.store.View(func(tx *store.Tx) error {
		n = tx.HoldingsOf(p)
		return nil
	})
	return n
}

// TotalSupply is the number of assets ever minted. Nothing is burned, so it
// equals the highest assigned id.
func (r *Registry) TotalSupply() uint64 {
	var n uint64
	_ = r.store.View(func(tx *store.Tx) error {
		n = tx.LastAssetID()
		return nil
	})
	return n
}

// Transfer moves id to `to` on behalf of caller.
func (r *Registry) Transfer(caller domain.Principal, id uint64, to domain.Principal) error {
	caller = domain.NewPrincipal(string(caller))
	to = domain.NewPrincipal(string(to))

	err := r.store.Update(func(tx *store.Tx) error {
		a, ok := tx.Asset(id)
		if !ok {
			return fmt.Errorf("transfer asset %d: %w", id, domain.ErrNotFound)
		}
		if to.IsZero() {
			return fmt.Errorf("transfer asset %d: %w", id, domain.ErrZeroPrincipal)
		}
		if !CanTransfer(tx, a, caller) {
			return fmt.Errorf("transfer asset %d by %s: %w", id, caller, domain.ErrNotAuthorized)
		}
		Move(tx, a, to, r.now())
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("[Registry] Transferred asset", "asset_id", id, "caller", caller, "to", to)
	return nil
}

// Approve grants `to` the right to transfer id. An empty `to` clears it.
func (r *Registry) Approve(caller domain.Principal, to domain.Principal, id uint64) error {
	caller = domain.NewPrincipal(string(caller))
	to = domain.NewPrincipal(string(to))
	if to.IsZero() {
		to = ""
	}

	return r.store.Update(func(tx *store.Tx) error {
		a, ok := tx.Asset(id)
		if !ok {
			return fmt.Errorf("approve asset %d: %w", id, domain.ErrNotFound)
		}
		if a.Holder != caller && !tx.IsOperator(a.Holder, caller) {
			return fmt.Errorf("approve asset %d by %s: %w", id, caller, domain.ErrNotAuthorized)
		}
		tx.SetApproved(id, to)
		tx.Emit(domain.Event{Kind: domain.EventApproval, AssetID: id, From: a.Holder, To: to, Approved: to != "", At: r.now()})
		return nil
	})
}

// GetApproved returns the single-asset approval for id, or "".
func (r *Registry) GetApproved(id uint64) (domain.Principal, error) {
	var p domain.Principal
	err := r.store.View(func(tx *store.Tx) error {
		if _, ok := tx.Asset(id); !ok {
			return fmt.Errorf("asset %d: %w", id, domain.ErrNotFound)
		}
		p = tx.Approved(id)
		return nil
	})
	return p, err
}

// ApproveOperator sets or revokes operator's blanket authority over holder's
// assets. Revocation applies to every later operation.
func (r *Registry) ApproveOperator(holder, operator domain.Principal, approved bool) error {
	holder = domain.NewPrincipal(string(holder))
	operator = domain.NewPrincipal(string(operator))
	if holder.IsZero() || operator.IsZero() {
		return fmt.Errorf("approve operator: %w", domain.ErrZeroPrincipal)
	}
	if holder == operator {
		return fmt.Errorf("approve operator: holder cannot approve itself: %w", domain.ErrNotAuthorized)
	}

	return r.store.Update(func(tx *store.Tx) error {
		tx.SetOperator(holder, operator, approved)
		tx.Emit(domain.Event{Kind: domain.EventApprovalForAll, From: holder, To: operator, Approved: approved, At: r.now()})
		return nil
	})
}

// IsApprovedForAll reports whether operator may act for holder.
func (r *Registry) IsApprovedForAll(holder, operator domain.Principal) bool {
	holder = domain.NewPrincipal(string(holder))
	operator = domain.NewPrincipal(string(operator))
	var ok bool
	_ = r.store.View(func(tx *store.Tx) error {
		ok = tx.IsOperator(holder, operator)
		return nil
	})
	return ok
}

// LevelUp raises id's level by one. Only the holder may do this.
func (r *Registry) LevelUp(id uint64, requester domain.Principal) (uint64, error) {
	requester = domain.NewPrincipal(string(requester))

	var level uint64
	err := r.store.Update(func(tx *store.Tx) error {
		a, ok := tx.Asset(id)
		if !ok {
			return fmt.Errorf("level up asset %d: %w", id, domain.ErrNotFound)
		}
		if a.Holder != requester {
			return fmt.Errorf("level up asset %d by %s: %w", id, requester, domain.ErrNotAuthorized)
		}
		a.Attributes = attributes.LevelUp(a.Attributes)
		level = a.Attributes.Level
		tx.PutAsset(a)
		tx.Emit(domain.Event{Kind: domain.EventLevelUp, AssetID: id, To: requester, At: r.now()})
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info("[Registry] Leveled up asset", "asset_id", id, "level", level)
	return level, nil
}

// Render returns id's descriptor as of the registry clock.
func (r *Registry) Render(id uint64) (attributes.Descriptor, error) {
	a, err := r.Asset(id)
	if err != nil {
		return attributes.Descriptor{}, err
	}
	return attributes.Render(a.Attributes, r.now()), nil
}

// Metadata returns id's metadata document as of the registry clock.
func (r *Registry) Metadata(id uint64) (attributes.Metadata, error) {
	d, err := r.Render(id)
	if err != nil {
		return attributes.Metadata{}, err
	}
	return attributes.Document(r.cfg.Name, id, d), nil
}

// RenderURI returns id's metadata as a base64 JSON data URI.
func (r *Registry) RenderURI(id uint64) (string, error) {
	m, err := r.Metadata(id)
	if err != nil {
		return "", err
	}
	return m.URI()
}

// Now exposes the registry clock so collaborators stamp events consistently.
func (r *Registry) Now() time.Time {
	return r.now()
}
