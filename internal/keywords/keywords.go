// Package keywords holds the match-token configuration the heuristic
// extractors run on. The tokens are data, not logic: swapping the embedded
// JSON is how a new locale gets supported.
package keywords

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

//go:embed keywords.json
var embedded embed.FS

// Config is the raw, serializable token set.
type Config struct {
	// Keywords are substrings that mark text as promo-related. Stems, not
	// whole words, so "скидка"/"скидки" both match "скид".
	Keywords []string `json:"keywords"`

	// PromoClassTokens are substrings matched against class/id attribute
	// values to find promo-styled elements.
	PromoClassTokens []string `json:"promo_class_tokens"`

	// ExcludeURLPattern is a regex applied to candidate link URLs;
	// matches (login, cart, support paths) are discarded.
	ExcludeURLPattern string `json:"exclude_url_pattern"`

	// CouponPattern finds "code: XXXX"-shaped promo codes in prose.
	CouponPattern string `json:"coupon_pattern"`
}

// Matcher is a compiled Config.
type Matcher struct {
	keywords    []string
	classTokens []string
	excludeURL  *regexp.Regexp
	coupon      *regexp.Regexp
}

// Compile validates the config and compiles its patterns.
func (c Config) Compile() (*Matcher, error) {
	if len(c.Keywords) == 0 {
		return nil, fmt.Errorf("keyword list is empty")
	}
	exclude, err := regexp.Compile(c.ExcludeURLPattern)
	if err != nil {
		return nil, fmt.Errorf("bad exclude_url_pattern: %w", err)
	}
	coupon, err := regexp.Compile(c.CouponPattern)
	if err != nil {
		return nil, fmt.Errorf("bad coupon_pattern: %w", err)
	}
	lower := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(s)
		}
		return out
	}
	return &Matcher{
		keywords:    lower(c.Keywords),
		classTokens: lower(c.PromoClassTokens),
		excludeURL:  exclude,
		coupon:      coupon,
	}, nil
}

// MatchesKeyword reports whether text contains any promo keyword.
func (m *Matcher) MatchesKeyword(text string) bool {
	low := strings.ToLower(text)
	for _, k := range m.keywords {
		if strings.Contains(low, k) {
			return true
		}
	}
	return false
}

// MatchesPromoClass reports whether a class/id attribute value looks
// promo-styled.
func (m *Matcher) MatchesPromoClass(attr string) bool {
	low := strings.ToLower(attr)
	for _, tok := range m.classTokens {
		if strings.Contains(low, tok) {
			return true
		}
	}
	return false
}

// ExcludedURL reports whether the link path is a login/cart/support-style
// URL that never carries a deal.
func (m *Matcher) ExcludedURL(url string) bool {
	return m.excludeURL.MatchString(url)
}

// FindCouponCodes returns all promo codes found in prose text.
func (m *Matcher) FindCouponCodes(text string) []string {
	var codes []string
	for _, match := range m.coupon.FindAllStringSubmatch(text, -1) {
		if len(match) > 1 && match[1] != "" {
			codes = append(codes, match[1])
		}
	}
	return codes
}

// Load returns the compiled matcher, trying the embedded keywords.json
// first, then KEYWORDS_CONFIG_PATH, then hardcoded defaults.
func Load() *Matcher {
	if data, err := embedded.ReadFile("keywords.json"); err == nil {
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err == nil {
			if m, err := cfg.Compile(); err == nil {
				return m
			} else {
				slog.Warn("Embedded keywords failed to compile, trying fallbacks", "error", err)
			}
		}
	}

	if path := os.Getenv("KEYWORDS_CONFIG_PATH"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var cfg Config
			if json.Unmarshal(data, &cfg) == nil {
				if m, err := cfg.Compile(); err == nil {
					slog.Info("Loaded keywords from external file", "path", path)
					return m
				}
			}
		}
	}

	slog.Info("Using hardcoded default keywords")
	m, err := DefaultConfig().Compile()
	if err != nil {
		// Defaults are compile-tested; reaching this is a programming error.
		panic(err)
	}
	return m
}

// DefaultConfig returns the fallback token set if no JSON is loaded. The
// embedded keywords.json should be preferred and carries the same values.
func DefaultConfig() Config {
	return Config{
		Keywords: []string{
			"акци", "скид", "купон", "промо", "распрод",
			"выгод", "бонус", "sale", "discount", "coupon", "deal", "%",
		},
		PromoClassTokens: []string{
			"promo", "sale", "discount", "coupon", "offer", "action",
			"akci", "skidk", "акци", "скидк", "распродаж",
		},
		ExcludeURLPattern: `(?i)(login|signin|account|lk|cart|basket|checkout|support|help|faq)`,
		CouponPattern:     `(?i)(?:промокод|промо-код|купон|code|coupon)\s*[:\-]?\s*"?([A-Za-z0-9][A-Za-z0-9\-]{3,15})"?`,
	}
}
