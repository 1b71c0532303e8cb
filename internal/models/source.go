package models

// Source kinds dispatched by the orchestrator. An unknown or empty kind
// falls back to KindAuto.
const (
	KindAuto = "auto"     // heuristic HTML scan
	KindRSS  = "rss"      // RSS/Atom feed
	KindCSS  = "html_css" // explicit CSS selector set
	KindAPI  = "api"      // affiliate network API
	KindText = "text"     // free-text promo-code patterns
)

// Source is one entry of the declarative source configuration. Only the
// fields relevant to its Type are populated; the rest stay empty.
type Source struct {
	Type     string `json:"type"`
	Store    string `json:"store" validate:"required"`
	Category string `json:"category"`
	URL      string `json:"url" validate:"required,url"`

	// html_css
	ItemSelector  string `json:"item_selector"`
	TitleSelector string `json:"title_selector"`
	LinkSelector  string `json:"link_selector"`
	DescSelector  string `json:"desc_selector"`

	// api
	Token        string `json:"token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`
	Region       string `json:"region"`
	Language     string `json:"language"`
}

// Kind returns the effective extractor kind for this source.
func (s Source) Kind() string {
	switch s.Type {
	case KindRSS, KindCSS, KindAPI, KindText:
		return s.Type
	default:
		return KindAuto
	}
}

// SourceDocument is the on-disk/env shape of the source configuration.
type SourceDocument struct {
	Stores []Source `json:"stores"`
}
