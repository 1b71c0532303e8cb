package ingest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/validator"
)

//go:embed default_sources.json
var defaultSourcesJSON []byte

// ParseSources decodes a source configuration document. Entries that fail
// validation for their kind are skipped with a log line; they must not
// abort ingestion of the others.
func ParseSources(data []byte, v *validator.Validator) ([]models.Source, error) {
	var doc models.SourceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse source configuration: %w", err)
	}

	sources := make([]models.Source, 0, len(doc.Stores))
	for i, src := range doc.Stores {
		if err := v.ValidateStruct(src); err != nil {
			slog.Warn("Skipping malformed source entry", "index", i, "store", src.Store, "error", err)
			continue
		}
		if src.Kind() == models.KindCSS &&
			(src.ItemSelector == "" || src.TitleSelector == "" || src.LinkSelector == "") {
			slog.Warn("Skipping html_css source without a full selector set", "index", i, "store", src.Store)
			continue
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// LoadSources resolves the source list from, in order: raw JSON (the
// STORES_JSON env value), a file path, the embedded default document.
// A malformed document degrades to an empty source list with a logged
// fault rather than an aborted run.
func LoadSources(rawJSON, path string, v *validator.Validator) []models.Source {
	if rawJSON != "" {
		sources, err := ParseSources([]byte(rawJSON), v)
		if err != nil {
			slog.Error("Bad STORES_JSON, ingesting nothing", "error", err)
			return nil
		}
		return sources
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Cannot read stores file, ingesting nothing", "path", path, "error", err)
			return nil
		}
		sources, err := ParseSources(data, v)
		if err != nil {
			slog.Error("Bad stores file, ingesting nothing", "path", path, "error", err)
			return nil
		}
		return sources
	}

	sources, err := ParseSources(defaultSourcesJSON, v)
	if err != nil {
		// The embedded document ships with the binary; this is a build defect.
		slog.Error("Embedded default sources failed to parse", "error", err)
		return nil
	}
	return sources
}
