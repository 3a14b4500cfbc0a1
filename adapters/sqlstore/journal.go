// Package sqlstore persists the engine's tables in SQLite. It implements
// store.Journal for writes and loads a store.Snapshot at startup.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/ThorbenD/dvp-market/domain"
	"github.com/ThorbenD/dvp-market/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id INTEGER PRIMARY KEY,
	holder TEXT NOT NULL,
	transfers INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	level INTEGER NOT NULL,
	color TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_holder ON assets(holder);

CREATE TABLE IF NOT EXISTS listings (
	id INTEGER PRIMARY KEY,
	seller TEXT NOT NULL,
	contract TEXT NOT NULL,
	asset_id INTEGER NOT NULL,
	price TEXT NOT NULL,
	status TEXT NOT NULL,
	asset_transfers INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);

CREATE TABLE IF NOT EXISTS balances (
	principal TEXT PRIMARY KEY,
	amount TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS operators (
	holder TEXT NOT NULL,
	operator TEXT NOT NULL,
	PRIMARY KEY (holder, operator)
);

CREATE TABLE IF NOT EXISTS approvals (
	asset_id INTEGER PRIMARY KEY,
	principal TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// Journal is a SQLite-backed store.Journal.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; the store already serializes transactions
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA synchronous=FULL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Commit writes cs in a single SQLite transaction.
func (j *Journal) Commit(cs store.Changeset) error {
	ctx := context.Background()
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, a := range cs.Assets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assets (id, holder, transfers, created_at, level, color) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, transfers = excluded.transfers, level = excluded.level, color = excluded.color`,
			int64(a.ID), string(a.Holder), int64(a.Transfers), a.Attributes.CreatedAt.Unix(), int64(a.Attributes.Level), a.Attributes.Color); err != nil {
			return fmt.Errorf("write asset %d: %w", a.ID, err)
		}
	}
	for _, l := range cs.Listings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO listings (id, seller, contract, asset_id, price, status, asset_transfers, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET price = excluded.price, status = excluded.status, updated_at = excluded.updated_at`,
			int64(l.ID), string(l.Seller), string(l.Contract), int64(l.AssetID), l.Price.String(), string(l.Status),
			int64(l.AssetTransfers), l.CreatedAt.UnixNano(), l.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("write listing %d: %w", l.ID, err)
		}
	}
	for p, amount := range cs.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances (principal, amount) VALUES (?, ?)
			ON CONFLICT(principal) DO UPDATE SET amount = excluded.amount`,
			string(p), amount.String()); err != nil {
			return fmt.Errorf("write balance %s: %w", p, err)
		}
	}
	for _, op := range cs.Operators {
		q := `DELETE FROM operators WHERE holder = ? AND operator = ?`
		if op.Approved {
			q = `INSERT OR IGNORE INTO operators (holder, operator) VALUES (?, ?)`
		}
		if _, err := tx.ExecContext(ctx, q, string(op.Holder), string(op.Operator)); err != nil {
			return fmt.Errorf("write operator %s/%s: %w", op.Holder, op.Operator, err)
		}
	}
	for id, p := range cs.Approvals {
		var err error
		if p.IsZero() {
			_, err = tx.ExecContext(ctx, `DELETE FROM approvals WHERE asset_id = ?`, int64(id))
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO approvals (asset_id, principal) VALUES (?, ?)
				ON CONFLICT(asset_id) DO UPDATE SET principal = excluded.principal`, int64(id), string(p))
		}
		if err != nil {
			return fmt.Errorf("write approval %d: %w", id, err)
		}
	}
	for name, v := range map[string]uint64{"last_asset_id": cs.LastAssetID, "last_listing_id": cs.LastListingID} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO counters (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)`, name, int64(v)); err != nil {
			return fmt.Errorf("write counter %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads every table into a snapshot for store.Restore.
func (j *Journal) Load(ctx context.Context) (store.Snapshot, error) {
	snap := store.Snapshot{
		Balances:  make(map[domain.Principal]decimal.Decimal),
		Approvals: make(map[uint64]domain.Principal),
	}

	rows, err := j.db.QueryContext(ctx, `SELECT id, holder, transfers, created_at, level, color FROM assets ORDER BY id`)
	if err != nil {
		return snap, fmt.Errorf("query assets: %w", err)
	}
	for rows.Next() {
		var (
			a                  domain.Asset
			id, lvl, transfers int64
			created            int64
			holder             string
		)
		if err := rows.Scan(&id, &holder, &transfers, &created, &lvl, &a.Attributes.Color); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan asset: %w", err)
		}
		a.ID, a.Holder, a.Transfers = uint64(id), domain.Principal(holder), uint64(transfers)
		a.Attributes.Level = uint64(lvl)
		a.Attributes.CreatedAt = time.Unix(created, 0).UTC()
		snap.Assets = append(snap.Assets, a)
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("read assets: %w", err)
	}

	rows, err = j.db.QueryContext(ctx, `SELECT id, seller, contract, asset_id, price, status, asset_transfers, created_at, updated_at FROM listings ORDER BY id`)
	if err != nil {
		return snap, fmt.Errorf("query listings: %w", err)
	}
	for rows.Next() {
		var (
			l                        domain.Listing
			id, assetID              int64
			seller, contract, status string
			price                    string
			transfers                int64
			created, updated         int64
		)
		if err := rows.Scan(&id, &seller, &contract, &assetID, &price, &status, &transfers, &created, &updated); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan listing: %w", err)
		}
		if l.Price, err = decimal.NewFromString(price); err != nil {
			rows.Close()
			return snap, fmt.Errorf("listing %d price %q: %w", id, price, err)
		}
		l.ID, l.AssetID = uint64(id), uint64(assetID)
		l.Seller, l.Contract = domain.Principal(seller), domain.Principal(contract)
		l.Status = domain.ListingStatus(status)
		l.AssetTransfers = uint64(transfers)
		l.CreatedAt, l.UpdatedAt = time.Unix(0, created).UTC(), time.Unix(0, updated).UTC()
		snap.Listings = append(snap.Listings, l)
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("read listings: %w", err)
	}

	rows, err = j.db.QueryContext(ctx, `SELECT principal, amount FROM balances`)
	if err != nil {
		return snap, fmt.Errorf("query balances: %w", err)
	}
	for rows.Next() {
		var p, amount string
		if err := rows.Scan(&p, &amount); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan balance: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			rows.Close()
			return snap, fmt.Errorf("balance of %s %q: %w", p, amount, err)
		}
		snap.Balances[domain.Principal(p)] = d
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("read balances: %w", err)
	}

	rows, err = j.db.QueryContext(ctx, `SELECT holder, operator FROM operators`)
	if err != nil {
		return snap, fmt.Errorf("query operators: %w", err)
	}
	for rows.Next() {
		var holder, operator string
		if err := rows.Scan(&holder, &operator); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan operator: %w", err)
		}
		snap.Operators = append(snap.Operators, store.OperatorApproval{
			Holder: domain.Principal(holder), Operator: domain.Principal(operator), Approved: true,
		})
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("read operators: %w", err)
	}

	rows, err = j.db.QueryContext(ctx, `SELECT asset_id, principal FROM approvals`)
	if err != nil {
		return snap, fmt.Errorf("query approvals: %w", err)
	}
	for rows.Next() {
		var (
			id int64
			p  string
		)
		if err := rows.Scan(&id, &p); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan approval: %w", err)
		}
		snap.Approvals[uint64(id)] = domain.Principal(p)
	}
	if err := closeRows(rows); err != nil {
		return snap, fmt.Errorf("read approvals: %w", err)
	}

	if snap.LastAssetID, err = j.counter(ctx, "last_asset_id"); err != nil {
		return snap, err
	}
	if snap.LastListingID, err = j.counter(ctx, "last_listing_id"); err != nil {
		return snap, err
	}
	return snap, nil
}

func (j *Journal) counter(ctx context.Context, name string) (uint64, error) {
	var v int64
	err := j.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	return uint64(v), nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
