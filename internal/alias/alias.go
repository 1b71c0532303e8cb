// Package alias canonicalizes merchant identity. Every extractor and the
// query-side resolver share one Table so that "ВБ", "wb" and "wildberries"
// all land on the same store_slug.
package alias

import (
	"strings"
	"unicode"
)

// Table maps normalized alias keys to canonical store slugs.
type Table struct {
	bySlug  map[string][]string
	byAlias map[string]string
}

// New builds a Table from slug -> aliases. The slug itself is always
// registered as an alias of itself.
func New(aliases map[string][]string) *Table {
	t := &Table{
		bySlug:  make(map[string][]string, len(aliases)),
		byAlias: make(map[string]string),
	}
	for slug, names := range aliases {
		t.bySlug[slug] = names
		t.byAlias[normalizeKey(slug)] = slug
		for _, name := range names {
			if key := normalizeKey(name); key != "" {
				t.byAlias[key] = slug
			}
		}
	}
	return t
}

// Default returns the alias table for the merchants the default source
// configuration covers.
func Default() *Table {
	return New(map[string][]string{
		"ozon":          {"озон", "ozon.ru"},
		"wildberries":   {"wb", "вб", "вайлдберриз", "wildberries.ru"},
		"yandexmarket":  {"яндекс маркет", "яндексмаркет", "ям", "market.yandex.ru"},
		"sbermegamarket": {"мегамаркет", "сбермегамаркет", "megamarket"},
		"mvideo":        {"мвидео", "м.видео", "mvideo.ru"},
		"eldorado":      {"эльдорадо", "eldorado.ru"},
		"dns":           {"днс", "dns-shop", "dns-shop.ru"},
		"citilink":      {"ситилинк", "citilink.ru"},
		"lamoda":        {"ламода", "lamoda.ru"},
		"sportmaster":   {"спортмастер", "sportmaster.ru"},
		"letual":        {"летуаль", "л'этуаль", "letu", "letu.ru"},
		"apteka":        {"аптека", "apteka.ru"},
		"vkusvill":      {"вкусвилл", "vkusvill.ru"},
		"perekrestok":   {"перекресток", "перекрёсток", "perekrestok.ru"},
		"magnit":        {"магнит", "magnit.ru"},
		"lenta":         {"лента", "lenta.com"},
		"auchan":        {"ашан", "auchan.ru"},
		"metro":         {"метро", "metro-cc.ru"},
	})
}

// Resolve maps free text to a canonical slug. Matching is case-insensitive
// and ignores punctuation. The second return is false when the text is not
// a known alias.
func (t *Table) Resolve(text string) (string, bool) {
	slug, ok := t.byAlias[normalizeKey(text)]
	return slug, ok
}

// ResolveOrSlug resolves text through the table, falling back to a
// deterministic slug of the raw text so a store identity is always present.
func (t *Table) ResolveOrSlug(text string) string {
	if slug, ok := t.Resolve(text); ok {
		return slug
	}
	return Slugify(text)
}

// MatchSubstring finds a slug whose alias occurs inside name. Affiliate
// networks report campaign names like "Ozon RU Marketplace"; substring
// matching pins those to a canonical slug.
func (t *Table) MatchSubstring(name string) (string, bool) {
	key := normalizeKey(name)
	if key == "" {
		return "", false
	}
	if slug, ok := t.byAlias[key]; ok {
		return slug, true
	}
	for aliasKey, slug := range t.byAlias {
		if len(aliasKey) >= 3 && strings.Contains(key, aliasKey) {
			return slug, true
		}
	}
	return "", false
}

// Slugify produces the fallback store identity: lowercase with every
// non-alphanumeric run collapsed to a single underscore.
func Slugify(text string) string {
	var b strings.Builder
	lastUnderscore := true // suppress leading underscore
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// normalizeKey lowercases and strips everything that is not a letter or
// digit, so "М.Видео" and "мвидео" compare equal.
func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
