// Package market keeps the listing book: sellers' standing offers for assets
// held in the registry.
package market

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/store"
)

// MaxFeeBps caps the platform fee at 100%.
const MaxFeeBps = 10_000

// Config holds the book's fixed parameters.
type Config struct {
	Contract     domain.Principal // registry whose assets may be listed
	FeeBps       int64            // platform fee in basis points, 250 = 2.5%
	FeeRecipient domain.Principal
	Payment      domain.PaymentAsset
}

// Book is the listing book.
type Book struct {
	cfg    Config
	store  *store.Store
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Book)

func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Book) { b.logger = l }
}

func New(cfg Config, st *store.Store, opts ...Option) (*Book, error) {
	cfg.Contract = domain.NewPrincipal(string(cfg.Contract))
	cfg.FeeRecipient = domain.NewPrincipal(string(cfg.FeeRecipient))
	if cfg.Contract.IsZero() {
		return nil, fmt.Errorf("book contract: %w", domain.ErrZeroPrincipal)
	}
	if cfg.FeeRecipient.IsZero() {
		return nil, fmt.Errorf("book fee recipient: %w", domain.ErrZeroPrincipal)
	}
	if cfg.FeeBps < 0 || cfg.FeeBps > MaxFeeBps {
		return nil, fmt.Errorf("platform fee %d bps out of range [0, %d]", cfg.FeeBps, MaxFeeBps)
	}
	if cfg.Payment.Decimals < 0 {
		return nil, fmt.Errorf("payment decimals %d must not be negative", cfg.Payment.Decimals)
	}

	b := &Book{
		cfg:    cfg,
		store:  st,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Contract is the registry address this book accepts listings for.
func (b *Book) Contract() domain.Principal { return b.cfg.Contract }

// PlatformFee is the fee in basis points.
func (b *Book) PlatformFee() int64 { return b.cfg.FeeBps }

// FeeRecipient receives platform fees.
func (b *Book) FeeRecipient() domain.Principal { return b.cfg.FeeRecipient }

// Payment describes the asset prices are quoted in.
func (b *Book) Payment() domain.PaymentAsset { return b.cfg.Payment }

// Fee returns the platform's cut of price, rounded down to the payment
// asset's precision.
func (b *Book) Fee(price decimal.Decimal) decimal.Decimal {
	fee, _ := price.Mul(decimal.NewFromInt(b.cfg.FeeBps)).QuoRem(decimal.NewFromInt(MaxFeeBps), b.cfg.Payment.Decimals)
	return fee
}

func (b *Book) validPrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price %s: %w", price, domain.ErrInvalidPrice)
	}
	if -price.Exponent() > b.cfg.Payment.Decimals && !price.Equal(price.Truncate(b.cfg.Payment.Decimals)) {
		return fmt.Errorf("price %s finer than %d decimals: %w", price, b.cfg.Payment.Decimals, domain.ErrInvalidPrice)
	}
	return nil
}

// CreateListing offers seller's asset for price. An active listing left by a
// previous holder is cancelled in the same step.
func (b *Book) CreateListing(seller, contract domain.Principal, assetID uint64, price decimal.Decimal) (uint64, error) {
	seller = domain.NewPrincipal(string(seller))
	contract = domain.NewPrincipal(string(contract))
	if contract != b.cfg.Contract {
		return 0, fmt.Errorf("contract %s: %w", contract, domain.ErrNotFound)
	}

	now := b.now()
	var id, superseded uint64
	err := b.store.Update(func(tx *store.Tx) error {
		a, ok := tx.Asset(assetID)
		if !ok {
			return fmt.Errorf("list asset %d: %w", assetID, domain.ErrNotFound)
		}
		if seller.IsZero() || a.Holder != seller {
			return fmt.Errorf("list asset %d by %s: %w", assetID, seller, domain.ErrNotAuthorized)
		}
		if err := b.validPrice(price); err != nil {
			return err
		}
		if existing, listed := tx.ActiveListingFor(assetID); listed {
			old, _ := tx.Listing(existing)
			if old.Backed(a) {
				return fmt.Errorf("asset %d has active listing %d: %w", assetID, existing, domain.ErrAlreadyListed)
			}
			// the asset changed hands since; the old offer is void
			old.Status = domain.ListingStatusCancelled
			old.UpdatedAt = now
			tx.PutListing(old)
			tx.Emit(domain.Event{Kind: domain.EventListingCancelled, AssetID: assetID, ListingID: existing, From: old.Seller, At: now})
			superseded = existing
		}

		id = tx.NextListingID()
		tx.PutListing(domain.Listing{
			ID:        id,
			Seller:    seller,
			Contract:  contract,
			AssetID:   assetID,
			Price:     price,
			Status:    domain.ListingStatusActive,
			CreatedAt: now,
			UpdatedAt: now,

			AssetTransfers: a.Transfers,
		})
		tx.Emit(domain.Event{Kind: domain.EventListed, AssetID: assetID, ListingID: id, From: seller, Price: price, At: now})
		return nil
	})
	if err != nil {
		return 0, err
	}

	if superseded != 0 {
		b.logger.Info("[Market] Stale listing superseded", "listing_id", superseded, "asset_id", assetID)
	}
	b.logger.Info("[Market] Listing created", "listing_id", id, "asset_id", assetID, "seller", seller, "price", price.String())
	return id, nil
}

// activeBySeller loads id for a seller-only mutation.
func activeBySeller(tx *store.Tx, id uint64, requester domain.Principal) (domain.Listing, error) {
	l, ok := tx.Listing(id)
	if !ok {
		return l, fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}
	if l.Seller != requester {
		return l, fmt.Errorf("listing %d by %s: %w", id, requester, domain.ErrNotAuthorized)
	}
	if !l.Active() {
		return l, fmt.Errorf("listing %d is %s: %w", id, l.Status, domain.ErrNotActive)
	}
	return l, nil
}

// CancelListing withdraws an active listing. Only its seller may cancel.
func (b *Book) CancelListing(id uint64, requester domain.Principal) error {
	requester = domain.NewPrincipal(string(requester))
	now := b.now()
	err := b.store.Update(func(tx *store.Tx) error {
		l, err := activeBySeller(tx, id, requester)
		if err != nil {
			return err
		}
		l.Status = domain.ListingStatusCancelled
		l.UpdatedAt = now
		tx.PutListing(l)
		tx.Emit(domain.Event{Kind: domain.EventListingCancelled, AssetID: l.AssetID, ListingID: id, From: requester, At: now})
		return nil
	})
	if err != nil {
		return err
	}

	b.logger.Info("[Market] Listing cancelled", "listing_id", id)
	return nil
}

// UpdatePrice reprices an active listing in place.
func (b *Book) UpdatePrice(id uint64, requester domain.Principal, newPrice decimal.Decimal) error {
	requester = domain.NewPrincipal(string(requester))
	now := b.now()
	return b.store.Update(func(tx *store.Tx) error {
		l, err := activeBySeller(tx, id, requester)
		if err != nil {
			return err
		}
		if err := b.validPrice(newPrice); err != nil {
			return err
		}
		l.Price = newPrice
		l.UpdatedAt = now
		tx.PutListing(l)
		tx.Emit(domain.Event{Kind: domain.EventPriceUpdated, AssetID: l.AssetID, ListingID: id, From: requester, Price: newPrice, At: now})
		return nil
	})
}

// Get returns listing id in any status.
func (b *Book) Get(id uint64) (domain.Listing, error) {
	var l domain.Listing
	err := b.store.View(func(tx *store.Tx) error {
		var ok bool
		if l, ok = tx.Listing(id); !ok {
			return fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
	return l, err
}

// ActiveCount is the number of active listings.
func (b *Book) ActiveCount() uint64 {
	var n uint64
	_ = b.store.View(func(tx *store.Tx) error {
		n = tx.ActiveCount()
		return nil
	})
	return n
}

// ActiveListings returns every active listing ordered by id.
func (b *Book) ActiveListings() []domain.Listing {
	var out []domain.Listing
	_ = b.store.View(func(tx *store.Tx) error {
		out = tx.ActiveListings()
		return nil
	})
	return out
}

// ActiveFor returns the active listing on assetID, if there is one.
func (b *Book) ActiveFor(assetID uint64) (domain.Listing, bool) {
	var (
		l     domain.Listing
		found bool
	)
	_ = b.store.View(func(tx *store.Tx) error {
		if id, ok := tx.ActiveListingFor(assetID); ok {
			l, found = tx.Listing(id)
		}
		return nil
	})
	return l, found
}

// Listings enumerates the dense id space starting at fromID, in every status.
func (b *Book) Listings(fromID uint64, limit int) []domain.Listing {
	if fromID == 0 {
		fromID = 1
	}
	var out []domain.Listing
	_ = b.store.View(func(tx *store.Tx) error {
		last := tx.LastListingID()
		for id := fromID; id <= last && (limit <= 0 || len(out) < limit); id++ {
			if l, ok := tx.Listing(id); ok {
				out = append(out, l)
			}
		}
		return nil
	})
	return out
}
