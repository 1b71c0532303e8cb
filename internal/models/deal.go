package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrDuplicate is returned by the store when a deal with the same content
// hash already exists. The first-seen record wins; this is not a failure.
var ErrDuplicate = errors.New("deal already exists")

// ErrStorage marks a non-transient persistence fault that survived the
// bounded retry loop.
var ErrStorage = errors.New("storage fault")

// Bounds for free-text fields. Anything longer is truncated before insert
// so one runaway page cannot blow up storage or downstream message size.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 500
)

// Deal is the canonical unit persisted by the store. Deals are never
// mutated after insert; re-ingesting the same offer produces the same
// ContentHash and is rejected as a duplicate.
type Deal struct {
	StoreSlug   string     `db:"store_slug" json:"store_slug" validate:"required"`
	Category    string     `db:"category" json:"category,omitempty"`
	Title       string     `db:"title" json:"title" validate:"required,max=200"`
	Description string     `db:"description" json:"description,omitempty" validate:"max=500"`
	URL         string     `db:"url" json:"url" validate:"required,url"`
	CouponCode  string     `db:"coupon_code" json:"coupon_code,omitempty"`
	PriceOld    *float64   `db:"price_old" json:"price_old,omitempty"`
	PriceNew    *float64   `db:"price_new" json:"price_new,omitempty"`
	Cashback    *float64   `db:"cashback" json:"cashback,omitempty"`
	StartAt     *time.Time `db:"start_at" json:"start_at,omitempty"`
	EndAt       *time.Time `db:"end_at" json:"end_at,omitempty"`
	Source      string     `db:"source" json:"source,omitempty"`
	Score       float64    `db:"score" json:"score"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ContentHash string     `db:"hash" json:"-" validate:"required,len=64"`
}

// ContentHash computes the deduplication identity of a deal: sha256 over
// url, title and coupon code. The hash is a pure function of these fields,
// so an unchanged offer hashes identically on every ingestion run.
func ContentHash(url, title, couponCode string) string {
	h := sha256.Sum256([]byte(url + "\n" + title + "\n" + couponCode))
	return hex.EncodeToString(h[:])
}

// Expired reports whether the deal carries an end date in the past.
func (d *Deal) Expired(now time.Time) bool {
	return d.EndAt != nil && d.EndAt.Before(now)
}

// RawCandidate is what an extractor produces before normalization. Field
// presence is extractor-dependent; the normalizer fills in the rest.
type RawCandidate struct {
	Title       string
	Description string
	URL         string
	CouponCode  string
	PriceOld    *float64
	PriceNew    *float64
	Cashback    *float64
	StartAt     *time.Time
	EndAt       *time.Time

	// StoreHint is the extractor's guess at the merchant (API campaign
	// name, page host, ...). Empty means "use the source's declared store".
	StoreHint string

	// BaseScore reflects the fidelity of the extraction method. Structured
	// extractors assign higher values than heuristic ones.
	BaseScore float64
}
