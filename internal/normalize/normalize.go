// Package normalize maps raw extracted records onto the canonical deal
// schema and finalizes their ranking score.
package normalize

import (
	"fmt"
	"time"

	"github.com/dealfeed/dealfeed/internal/alias"
	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/util"
)

// Score boosts. Scores are independent per-deal and never renormalized
// against other candidates.
const (
	couponBoost = 0.1
	expiryBoost = 0.1
)

// Normalizer turns RawCandidates into Deals: bounded text, canonical store
// slug, content hash, final score.
type Normalizer struct {
	aliases *alias.Table
}

func New(aliases *alias.Table) *Normalizer {
	return &Normalizer{aliases: aliases}
}

// Normalize produces the canonical Deal for a candidate extracted from the
// given source. It fails only on records that can never be persisted (no
// URL, no title).
func (n *Normalizer) Normalize(c models.RawCandidate, src models.Source) (models.Deal, error) {
	if c.URL == "" {
		return models.Deal{}, fmt.Errorf("candidate has no URL")
	}
	title := util.Truncate(util.CollapseSpace(c.Title), models.MaxTitleLen)
	if title == "" {
		return models.Deal{}, fmt.Errorf("candidate has no title")
	}

	storeText := c.StoreHint
	if storeText == "" {
		storeText = src.Store
	}

	score := c.BaseScore
	if c.CouponCode != "" {
		score += couponBoost
	}
	if c.EndAt != nil {
		score += expiryBoost
	}

	return models.Deal{
		StoreSlug:   n.aliases.ResolveOrSlug(storeText),
		Category:    src.Category,
		Title:       title,
		Description: util.Truncate(util.CollapseSpace(c.Description), models.MaxDescriptionLen),
		URL:         c.URL,
		CouponCode:  c.CouponCode,
		PriceOld:    c.PriceOld,
		PriceNew:    c.PriceNew,
		Cashback:    c.Cashback,
		StartAt:     toUTC(c.StartAt),
		EndAt:       toUTC(c.EndAt),
		Source:      src.URL,
		Score:       score,
		ContentHash: models.ContentHash(c.URL, title, c.CouponCode),
	}, nil
}

func toUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
