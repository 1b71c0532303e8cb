package extract

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/dealfeed/dealfeed/internal/fetch"
	"github.com/dealfeed/dealfeed/internal/metrics"
	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/util"
)

const cssScore = 0.9

// CSS extracts one candidate per element matched by a source-declared
// selector set. The declared structure is trusted, so candidates get the
// highest scrape-side base score.
type CSS struct {
	fetcher *fetch.Client
}

func NewCSS(f *fetch.Client) *CSS {
	return &CSS{fetcher: f}
}

func (e *CSS) Kind() string { return models.KindCSS }

func (e *CSS) Extract(ctx context.Context, src models.Source) []models.RawCandidate {
	slog.Info("Extracting via CSS selectors", "store", src.Store, "url", src.URL)

	if src.ItemSelector == "" || src.TitleSelector == "" || src.LinkSelector == "" {
		slog.Warn("CSS source missing required selectors", "store", src.Store)
		return nil
	}

	doc, err := e.fetcher.Document(ctx, src.URL)
	if err != nil {
		slog.Warn("CSS fetch failed", "store", src.Store, "error", err)
		metrics.SourceFailures.WithLabelValues(e.Kind()).Inc()
		return nil
	}
	base, err := url.Parse(src.URL)
	if err != nil {
		slog.Warn("CSS source URL unparsable", "store", src.Store, "error", err)
		metrics.SourceFailures.WithLabelValues(e.Kind()).Inc()
		return nil
	}

	var out []models.RawCandidate
	doc.Find(src.ItemSelector).EachWithBreak(func(i int, item *goquery.Selection) bool {
		if i >= maxItems {
			return false
		}

		titleEl := item.Find(src.TitleSelector).First()
		linkEl := item.Find(src.LinkSelector).First()
		// Required sub-element absent: skip the item silently, the
		// selector set just doesn't fit this card.
		if titleEl.Length() == 0 || linkEl.Length() == 0 {
			return true
		}

		title := util.CollapseSpace(titleEl.Text())
		href := resolveURL(base, linkEl.AttrOr("href", ""))
		if title == "" || href == "" {
			return true
		}

		desc := ""
		if src.DescSelector != "" {
			desc = util.CollapseSpace(item.Find(src.DescSelector).First().Text())
		}

		out = append(out, models.RawCandidate{
			Title:       util.Truncate(title, models.MaxTitleLen),
			Description: util.Truncate(desc, models.MaxDescriptionLen),
			URL:         href,
			BaseScore:   cssScore,
		})
		return true
	})

	slog.Info("CSS extraction done", "store", src.Store, "candidates", len(out))
	return out
}
