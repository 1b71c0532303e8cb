package extract

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/dealfeed/dealfeed/internal/alias"
	"github.com/dealfeed/dealfeed/internal/fetch"
	"github.com/dealfeed/dealfeed/internal/keywords"
	"github.com/dealfeed/dealfeed/internal/metrics"
	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/util"
)

const patternScore = 0.6

// Pattern catches promo codes embedded in prose rather than structured
// markup: the whole page text is scanned for "code: XXXX"-shaped matches.
// Store identity is guessed from the page host against the alias table.
type Pattern struct {
	fetcher *fetch.Client
	match   *keywords.Matcher
	aliases *alias.Table
}

func NewPattern(f *fetch.Client, m *keywords.Matcher, aliases *alias.Table) *Pattern {
	return &Pattern{fetcher: f, match: m, aliases: aliases}
}

func (e *Pattern) Kind() string { return models.KindText }

func (e *Pattern) Extract(ctx context.Context, src models.Source) []models.RawCandidate {
	slog.Info("Extracting via free-text patterns", "store", src.Store, "url", src.URL)

	doc, err := e.fetcher.Document(ctx, src.URL)
	if err != nil {
		slog.Warn("Pattern fetch failed", "store", src.Store, "error", err)
		metrics.SourceFailures.WithLabelValues(e.Kind()).Inc()
		return nil
	}

	storeHint := ""
	if u, err := url.Parse(src.URL); err == nil {
		if slug, ok := e.aliases.MatchSubstring(u.Hostname()); ok {
			storeHint = slug
		}
	}

	pageText := util.CollapseSpace(doc.Find("body").Text())
	pageTitle := util.CollapseSpace(doc.Find("title").First().Text())
	if pageTitle == "" {
		pageTitle = src.Store
	}

	seen := make(map[string]bool)
	var out []models.RawCandidate
	for _, code := range e.match.FindCouponCodes(pageText) {
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, models.RawCandidate{
			Title:      util.Truncate(pageTitle, models.MaxTitleLen),
			URL:        src.URL,
			CouponCode: code,
			StoreHint:  storeHint,
			BaseScore:  patternScore,
		})
	}

	slog.Info("Pattern extraction done", "store", src.Store, "candidates", len(out))
	return out
}
