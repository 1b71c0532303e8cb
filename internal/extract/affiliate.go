package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dealfeed/dealfeed/internal/alias"
	"github.com/dealfeed/dealfeed/internal/fetch"
	"github.com/dealfeed/dealfeed/internal/metrics"
	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/util"
)

const (
	apiScore = 0.9

	apiPageSize = 100
	apiMaxPages = 5

	// tokenRefreshSkew triggers a proactive refresh before the reported
	// expiry so a request never rides an about-to-expire credential.
	tokenRefreshSkew = 60 * time.Second

	// staticTokenTTL is the cache lifetime for statically configured
	// tokens, which have no reported expiry.
	staticTokenTTL = 12 * time.Hour
)

// bearerToken is the cached credential state for one API source.
type bearerToken struct {
	token     string
	expiresAt time.Time
}

func (t bearerToken) valid(now time.Time) bool {
	return t.token != "" && now.Before(t.expiresAt.Add(-tokenRefreshSkew))
}

// Affiliate pulls offers from a token-protected affiliate network API.
// Campaign names are pinned to canonical store slugs through the shared
// alias table; unknown campaigns fall back to a slugified name.
type Affiliate struct {
	fetcher *fetch.Client
	aliases *alias.Table

	mu     sync.Mutex
	tokens map[string]bearerToken
}

func NewAffiliate(f *fetch.Client, aliases *alias.Table) *Affiliate {
	return &Affiliate{
		fetcher: f,
		aliases: aliases,
		tokens:  make(map[string]bearerToken),
	}
}

func (e *Affiliate) Kind() string { return models.KindAPI }

// apiOffer is the listing-entry shape of the affiliate API.
type apiOffer struct {
	Name        string  `json:"name"`
	Site        string  `json:"site"`
	Description string  `json:"description"`
	GotoLink    string  `json:"goto_link"`
	Promocode   string  `json:"promocode"`
	DateStart   string  `json:"date_start"`
	DateEnd     string  `json:"date_end"`
	Discount    string  `json:"discount"`
	Cashback    float64 `json:"cashback"`
}

type apiPage struct {
	Results []apiOffer `json:"results"`
}

func (e *Affiliate) Extract(ctx context.Context, src models.Source) []models.RawCandidate {
	slog.Info("Extracting via affiliate API", "store", src.Store, "url", src.URL)

	token, err := e.token(ctx, src)
	if err != nil {
		slog.Warn("Affiliate token unavailable", "store", src.Store, "error", err)
		metrics.SourceFailures.WithLabelValues(e.Kind()).Inc()
		return nil
	}

	now := time.Now().UTC()
	var out []models.RawCandidate
	for page := 0; page < apiMaxPages; page++ {
		offers, err := e.fetchPage(ctx, src, token, page*apiPageSize)
		if err != nil {
			slog.Warn("Affiliate page fetch failed", "store", src.Store, "page", page, "error", err)
			break
		}
		for _, offer := range offers {
			c, ok := e.mapOffer(offer, now)
			if ok {
				out = append(out, c)
			}
		}
		if len(offers) < apiPageSize {
			break
		}
	}

	slog.Info("Affiliate extraction done", "store", src.Store, "candidates", len(out))
	return out
}

// mapOffer converts one API result, dropping offers that are already over
// or that lack a landing link.
func (e *Affiliate) mapOffer(offer apiOffer, now time.Time) (models.RawCandidate, bool) {
	if offer.GotoLink == "" {
		return models.RawCandidate{}, false
	}
	title := util.CollapseSpace(offer.Name)
	if title == "" {
		title = util.CollapseSpace(offer.Description)
	}
	if title == "" {
		return models.RawCandidate{}, false
	}

	c := models.RawCandidate{
		Title:       util.Truncate(title, models.MaxTitleLen),
		Description: util.Truncate(util.CollapseSpace(offer.Description), models.MaxDescriptionLen),
		URL:         offer.GotoLink,
		CouponCode:  strings.TrimSpace(offer.Promocode),
		BaseScore:   apiScore,
	}
	if offer.Cashback > 0 {
		cb := offer.Cashback
		c.Cashback = &cb
	}
	if t, ok := parseAPITime(offer.DateStart); ok {
		c.StartAt = &t
	}
	if t, ok := parseAPITime(offer.DateEnd); ok {
		if t.Before(now) {
			return models.RawCandidate{}, false
		}
		c.EndAt = &t
	}

	campaign := offer.Site
	if campaign == "" {
		campaign = offer.Name
	}
	if slug, ok := e.aliases.MatchSubstring(campaign); ok {
		c.StoreHint = slug
	} else {
		c.StoreHint = alias.Slugify(campaign)
	}
	return c, true
}

func (e *Affiliate) fetchPage(ctx context.Context, src models.Source, token string, offset int) ([]apiOffer, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("bad endpoint URL: %w", err)
	}
	q := u.Query()
	q.Set("limit", fmt.Sprint(apiPageSize))
	q.Set("offset", fmt.Sprint(offset))
	if src.Region != "" {
		q.Set("region", src.Region)
	}
	if src.Language != "" {
		q.Set("language", src.Language)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	res, err := e.fetcher.HTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing endpoint returned status %d", res.StatusCode)
	}

	var page apiPage
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode listing page: %w", err)
	}
	return page.Results, nil
}

// token returns a valid bearer credential for the source, refreshing the
// cache when the current one is missing or close to expiry.
func (e *Affiliate) token(ctx context.Context, src models.Source) (string, error) {
	key := e.cacheKey(src)
	now := time.Now()

	e.mu.Lock()
	cached, ok := e.tokens[key]
	e.mu.Unlock()
	if ok && cached.valid(now) {
		return cached.token, nil
	}

	fresh, err := e.obtainToken(ctx, src, now)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.tokens[key] = fresh
	e.mu.Unlock()
	return fresh.token, nil
}

func (e *Affiliate) obtainToken(ctx context.Context, src models.Source, now time.Time) (bearerToken, error) {
	// Statically configured token: no exchange, just a long cache TTL.
	if src.Token != "" {
		return bearerToken{token: src.Token, expiresAt: now.Add(staticTokenTTL)}, nil
	}

	if src.TokenURL == "" || src.ClientID == "" || src.ClientSecret == "" {
		return bearerToken{}, fmt.Errorf("api source %s has neither a token nor client credentials", src.Store)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", src.ClientID)
	form.Set("client_secret", src.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, src.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return bearerToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := e.fetcher.HTTPClient().Do(req)
	if err != nil {
		return bearerToken{}, fmt.Errorf("token exchange failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return bearerToken{}, fmt.Errorf("token endpoint returned status %d", res.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return bearerToken{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return bearerToken{}, fmt.Errorf("token endpoint returned an empty access_token")
	}

	ttl := time.Duration(payload.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = staticTokenTTL
	}
	return bearerToken{token: payload.AccessToken, expiresAt: now.Add(ttl)}, nil
}

func (e *Affiliate) cacheKey(src models.Source) string {
	if src.Token != "" {
		return "static:" + src.URL
	}
	return src.TokenURL + "|" + src.ClientID
}

// parseAPITime accepts the date shapes affiliate APIs commonly emit.
func parseAPITime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
