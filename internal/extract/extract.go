// Package extract turns remote sources into candidate deal records. Each
// source kind gets its own strategy with a different trust/structure
// tradeoff; all of them fail softly, yielding zero candidates on fetch or
// parse errors so one broken source never aborts an ingestion run.
package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/dealfeed/dealfeed/internal/models"
)

// Extractor is the common strategy signature. Extract never returns an
// error: failures are logged and produce an empty slice.
type Extractor interface {
	Kind() string
	Extract(ctx context.Context, src models.Source) []models.RawCandidate
}

// Per-page caps, matching what a promo listing page realistically holds.
// Anything past these is noise or an adversarial page.
const (
	maxAnchors     = 2000
	maxPromoBlocks = 1000
	maxFeedEntries = 200
	maxItems       = 200
)

// resolveURL joins href against the page URL and filters out
// non-navigational links.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
