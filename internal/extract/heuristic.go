package extract

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/dealfeed/dealfeed/internal/fetch"
	"github.com/dealfeed/dealfeed/internal/keywords"
	"github.com/dealfeed/dealfeed/internal/metrics"
	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/util"
)

// Base scores for the two heuristic passes. A promo-styled block is a
// stronger signal than a keyword-matched anchor.
const (
	promoBlockScore = 0.85
	anchorScore     = 0.8
)

// minAnchorTitleLen is the rune count below which anchor text is treated
// as generic ("Подробнее", "Learn more") and the title falls back to an
// ancestor heading or the page title.
const minAnchorTitleLen = 12

// Heuristic scans arbitrary promo pages without any per-site selectors.
// Two passes: promo-styled elements first, then keyword-matched anchors.
type Heuristic struct {
	fetcher *fetch.Client
	match   *keywords.Matcher
}

func NewHeuristic(f *fetch.Client, m *keywords.Matcher) *Heuristic {
	return &Heuristic{fetcher: f, match: m}
}

func (e *Heuristic) Kind() string { return models.KindAuto }

func (e *Heuristic) Extract(ctx context.Context, src models.Source) []models.RawCandidate {
	slog.Info("Extracting via heuristic scan", "store", src.Store, "url", src.URL)

	doc, err := e.fetcher.Document(ctx, src.URL)
	if err != nil {
		slog.Warn("Heuristic fetch failed", "store", src.Store, "error", err)
		metrics.SourceFailures.WithLabelValues(e.Kind()).Inc()
		return nil
	}
	base, err := url.Parse(src.URL)
	if err != nil {
		slog.Warn("Heuristic source URL unparsable", "store", src.Store, "error", err)
		metrics.SourceFailures.WithLabelValues(e.Kind()).Inc()
		return nil
	}

	metaTitle := util.CollapseSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	pageTitle := util.CollapseSpace(doc.Find("title").First().Text())

	seen := make(map[string]bool)
	var out []models.RawCandidate

	// Pass 1: elements whose class/id look promo-styled. The element's own
	// text is the offer title; the link comes from the element or the
	// first anchor inside it.
	blocks := 0
	doc.Find("[class],[id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		blocks++
		if blocks > maxPromoBlocks {
			return false
		}
		if !e.match.MatchesPromoClass(attrBlob(s)) {
			return true
		}

		link := s
		if !s.Is("a") {
			link = s.Find("a[href]").First()
		}
		href := resolveURL(base, link.AttrOr("href", ""))
		if href == "" || seen[href] || e.match.ExcludedURL(href) {
			return true
		}

		title := util.CollapseSpace(s.Text())
		if title == "" {
			return true
		}
		seen[href] = true
		out = append(out, models.RawCandidate{
			Title:     util.Truncate(title, models.MaxTitleLen),
			URL:       href,
			BaseScore: promoBlockScore,
		})
		return true
	})

	// Pass 2: every hyperlink, kept only when its text, nearby text, or a
	// styled ancestor says "promo". Promotional anchors are frequently
	// generic, so the title has a fallback chain.
	anchors := 0
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		anchors++
		if anchors > maxAnchors {
			return false
		}

		href := resolveURL(base, a.AttrOr("href", ""))
		if href == "" || seen[href] || e.match.ExcludedURL(href) {
			return true
		}

		text := util.CollapseSpace(a.Text())
		if !e.anchorLooksPromotional(a, text) {
			return true
		}

		title := e.resolveTitle(a, text, metaTitle, pageTitle)
		if title == "" {
			return true
		}
		seen[href] = true
		out = append(out, models.RawCandidate{
			Title:     util.Truncate(title, models.MaxTitleLen),
			URL:       href,
			BaseScore: anchorScore,
		})
		return true
	})

	slog.Info("Heuristic extraction done", "store", src.Store, "candidates", len(out))
	return out
}

// anchorLooksPromotional accepts a link when its own text or a nearby
// ancestor's text carries a keyword, or when a styled ancestor matches the
// promo-class pattern.
func (e *Heuristic) anchorLooksPromotional(a *goquery.Selection, text string) bool {
	if text != "" && e.match.MatchesKeyword(text) {
		return true
	}

	p := a.Parent()
	for depth := 0; depth < 3 && p.Length() > 0 && !p.Is("body,html"); depth++ {
		nearby := util.Truncate(util.CollapseSpace(p.Text()), 300)
		if e.match.MatchesKeyword(nearby) {
			return true
		}
		p = p.Parent()
	}

	p = a.Parent()
	for depth := 0; depth < 5 && p.Length() > 0 && !p.Is("body,html"); depth++ {
		if e.match.MatchesPromoClass(attrBlob(p)) {
			return true
		}
		p = p.Parent()
	}
	return false
}

// resolveTitle picks the best available offer title: specific anchor text,
// then the nearest heading above the anchor, then the page's meta title,
// then its title tag.
func (e *Heuristic) resolveTitle(a *goquery.Selection, anchorText, metaTitle, pageTitle string) string {
	if len([]rune(anchorText)) >= minAnchorTitleLen {
		return anchorText
	}
	p := a.Parent()
	for depth := 0; depth < 4 && p.Length() > 0 && !p.Is("body,html"); depth++ {
		if h := p.Find("h1,h2,h3,h4").First(); h.Length() > 0 {
			if heading := util.CollapseSpace(h.Text()); heading != "" {
				return heading
			}
		}
		p = p.Parent()
	}
	if metaTitle != "" {
		return metaTitle
	}
	if pageTitle != "" {
		return pageTitle
	}
	return anchorText
}

// attrBlob joins the class and id attributes for promo-class matching.
func attrBlob(s *goquery.Selection) string {
	return s.AttrOr("class", "") + " " + s.AttrOr("id", "")
}
