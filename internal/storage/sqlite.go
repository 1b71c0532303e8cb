// Package storage persists deals in an embedded sqlite database keyed by
// content hash. The backing store is single-writer: every mutation goes
// through one writer mutex, with bounded backoff when sqlite still reports
// lock contention.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/util"
)

// timeLayout is ISO-8601 UTC without offset. Lexicographic order equals
// chronological order, which the expiry/cleanup SQL relies on.
const timeLayout = "2006-01-02T15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS deals(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store_slug TEXT NOT NULL,
	category TEXT,
	title TEXT NOT NULL,
	description TEXT,
	url TEXT NOT NULL,
	coupon_code TEXT,
	price_old REAL,
	price_new REAL,
	cashback REAL,
	start_at TEXT,
	end_at TEXT,
	created_at TEXT NOT NULL,
	source TEXT,
	hash TEXT NOT NULL UNIQUE,
	score REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_deals_store ON deals(store_slug);
CREATE INDEX IF NOT EXISTS idx_deals_cat ON deals(category);
CREATE INDEX IF NOT EXISTS idx_deals_end ON deals(end_at);
`

// Retry policy for transient lock contention on mutations.
const (
	writeMaxRetries = 3
	writeBaseDelay  = 50 * time.Millisecond
)

// Store is the deals table plus its writer lock.
type Store struct {
	db *sqlx.DB

	// mu is the single logical writer critical section. Readers proceed
	// concurrently and may momentarily miss a record still being
	// committed; that's acceptable.
	mu sync.Mutex

	now func() time.Time
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
			}
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists a deal once. A colliding content hash is a no-op and
// reports inserted=false: the first-seen record wins. Lock contention is
// retried with bounded exponential backoff; any other persistence fault
// surfaces as models.ErrStorage.
func (s *Store) Insert(ctx context.Context, d models.Deal) (bool, error) {
	if d.ContentHash == "" {
		d.ContentHash = models.ContentHash(d.URL, d.Title, d.CouponCode)
	}
	if d.URL == "" {
		return false, fmt.Errorf("refusing to persist a deal without a URL")
	}
	createdAt := s.now().UTC().Format(timeLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := false
	err := util.RetryWithBackoff(ctx, writeMaxRetries, writeBaseDelay, isLockContention, func(int) error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO deals(store_slug, category, title, description, url,
				coupon_code, price_old, price_new, cashback,
				start_at, end_at, created_at, source, hash, score)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.StoreSlug, nullStr(d.Category), d.Title, nullStr(d.Description), d.URL,
			nullStr(d.CouponCode), d.PriceOld, d.PriceNew, d.Cashback,
			formatTimePtr(d.StartAt), formatTimePtr(d.EndAt), createdAt,
			nullStr(d.Source), d.ContentHash, d.Score)
		if execErr == nil {
			inserted = true
			return nil
		}
		if isUniqueViolation(execErr) {
			// Expected on re-ingestion; not a failure.
			return nil
		}
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("%w: insert: %w", models.ErrStorage, err)
	}
	return inserted, nil
}

// Query returns up to limit non-expired deals for a store, best first:
// score descending, then deals with a known deadline (soonest-expiring
// first) before open-ended ones, then newest insertion.
func (s *Store) Query(ctx context.Context, storeSlug, category string, limit int) ([]models.Deal, error) {
	if limit <= 0 {
		limit = 5
	}

	q := `SELECT store_slug, category, title, description, url, coupon_code,
		price_old, price_new, cashback, start_at, end_at, created_at, source, hash, score
		FROM deals WHERE 1=1`
	var args []any
	if storeSlug != "" {
		q += " AND store_slug=?"
		args = append(args, storeSlug)
	}
	if category != "" {
		q += " AND (category=? OR title LIKE ? OR description LIKE ?)"
		args = append(args, category, "%"+category+"%", "%"+category+"%")
	}
	q += " AND (end_at IS NULL OR end_at>=?)"
	args = append(args, s.now().UTC().Format(timeLayout))
	q += " ORDER BY score DESC, (end_at IS NULL) ASC, end_at ASC, created_at DESC LIMIT ?"
	args = append(args, limit)

	var rows []dealRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("%w: query: %w", models.ErrStorage, err)
	}

	deals := make([]models.Deal, 0, len(rows))
	for _, r := range rows {
		deals = append(deals, r.toDeal())
	}
	return deals, nil
}

// DeleteExpiredOrStale removes deals whose end date has passed, plus deals
// created at least staleAfter ago regardless of expiry. Returns the count
// deleted. Safe to call concurrently with Insert.
func (s *Store) DeleteExpiredOrStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := s.now().UTC()
	nowStr := now.Format(timeLayout)
	olderThan := now.Add(-staleAfter).Format(timeLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	err := util.RetryWithBackoff(ctx, writeMaxRetries, writeBaseDelay, isLockContention, func(int) error {
		res, execErr := s.db.ExecContext(ctx,
			`DELETE FROM deals WHERE (end_at IS NOT NULL AND end_at < ?) OR created_at <= ?`,
			nowStr, olderThan)
		if execErr != nil {
			return execErr
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup: %w", models.ErrStorage, err)
	}
	return deleted, nil
}

// CountByStore reports how many deals (expired or not) a store has ever
// contributed that are still retained. Zero means "no source has ever
// produced data for this store", which callers treat differently from a
// transient empty query.
func (s *Store) CountByStore(ctx context.Context, storeSlug string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM deals WHERE store_slug=?`, storeSlug); err != nil {
		return 0, fmt.Errorf("%w: count: %w", models.ErrStorage, err)
	}
	return n, nil
}

// Stores lists the distinct store slugs present in the table.
func (s *Store) Stores(ctx context.Context) ([]string, error) {
	var slugs []string
	if err := s.db.SelectContext(ctx, &slugs, `SELECT DISTINCT store_slug FROM deals ORDER BY store_slug`); err != nil {
		return nil, fmt.Errorf("%w: stores: %w", models.ErrStorage, err)
	}
	return slugs, nil
}

// dealRow is the scan target; nullable columns come back as sql.Null*.
type dealRow struct {
	StoreSlug   string          `db:"store_slug"`
	Category    sql.NullString  `db:"category"`
	Title       string          `db:"title"`
	Description sql.NullString  `db:"description"`
	URL         string          `db:"url"`
	CouponCode  sql.NullString  `db:"coupon_code"`
	PriceOld    sql.NullFloat64 `db:"price_old"`
	PriceNew    sql.NullFloat64 `db:"price_new"`
	Cashback    sql.NullFloat64 `db:"cashback"`
	StartAt     sql.NullString  `db:"start_at"`
	EndAt       sql.NullString  `db:"end_at"`
	CreatedAt   string          `db:"created_at"`
	Source      sql.NullString  `db:"source"`
	Hash        string          `db:"hash"`
	Score       float64         `db:"score"`
}

func (r dealRow) toDeal() models.Deal {
	d := models.Deal{
		StoreSlug:   r.StoreSlug,
		Category:    r.Category.String,
		Title:       r.Title,
		Description: r.Description.String,
		URL:         r.URL,
		CouponCode:  r.CouponCode.String,
		Source:      r.Source.String,
		Score:       r.Score,
		ContentHash: r.Hash,
	}
	if r.PriceOld.Valid {
		v := r.PriceOld.Float64
		d.PriceOld = &v
	}
	if r.PriceNew.Valid {
		v := r.PriceNew.Float64
		d.PriceNew = &v
	}
	if r.Cashback.Valid {
		v := r.Cashback.Float64
		d.Cashback = &v
	}
	d.StartAt = parseTimeStr(r.StartAt)
	d.EndAt = parseTimeStr(r.EndAt)
	if t, err := time.Parse(timeLayout, r.CreatedAt); err == nil {
		d.CreatedAt = t.UTC()
	} else {
		slog.Warn("Unparsable created_at in deals row", "value", r.CreatedAt, "hash", r.Hash)
	}
	return d
}

func parseTimeStr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// isLockContention classifies transient sqlite faults worth retrying.
func isLockContention(err error) bool {
	switch sqliteCode(err) & 0xff {
	case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	code := sqliteCode(err)
	return code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY ||
		code&0xff == sqlitelib.SQLITE_CONSTRAINT
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return -1
}
