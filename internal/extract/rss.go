package extract

import (
	"context"
	"log/slog"

	"github.com/mmcdole/gofeed"

	"github.com/dealfeed/dealfeed/internal/fetch"
	"github.com/dealfeed/dealfeed/internal/keywords"
	"github.com/dealfeed/dealfeed/internal/metrics"
	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/util"
)

const rssScore = 0.7

// RSS ingests RSS/Atom feeds. Feeds mix promo entries with ordinary
// content, so an entry only becomes a candidate when its title or summary
// matches a promo keyword.
type RSS struct {
	parser *gofeed.Parser
	match  *keywords.Matcher
}

func NewRSS(f *fetch.Client, m *keywords.Matcher) *RSS {
	parser := gofeed.NewParser()
	parser.Client = f.HTTPClient()
	parser.UserAgent = f.UserAgent()
	return &RSS{parser: parser, match: m}
}

func (e *RSS) Kind() string { return models.KindRSS }

func (e *RSS) Extract(ctx context.Context, src models.Source) []models.RawCandidate {
	slog.Info("Extracting via RSS", "store", src.Store, "url", src.URL)

	feed, err := e.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		slog.Warn("RSS parse failed", "store", src.Store, "error", err)
		metrics.SourceFailures.WithLabelValues(e.Kind()).Inc()
		return nil
	}

	var out []models.RawCandidate
	for i, item := range feed.Items {
		if i >= maxFeedEntries {
			break
		}
		title := util.CollapseSpace(item.Title)
		summary := util.CollapseSpace(item.Description)
		if title == "" || item.Link == "" {
			continue
		}
		if !e.match.MatchesKeyword(title) && !e.match.MatchesKeyword(summary) {
			continue
		}
		c := models.RawCandidate{
			Title:       util.Truncate(title, models.MaxTitleLen),
			Description: util.Truncate(summary, models.MaxDescriptionLen),
			URL:         item.Link,
			BaseScore:   rssScore,
		}
		if item.PublishedParsed != nil {
			t := item.PublishedParsed.UTC()
			c.StartAt = &t
		}
		out = append(out, c)
	}

	slog.Info("RSS extraction done", "store", src.Store, "candidates", len(out))
	return out
}
