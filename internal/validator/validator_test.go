package validator

import (
	"strings"
	"testing"

	"github.com/dealfeed/dealfeed/internal/models"
)

func validDeal() models.Deal {
	return models.Deal{
		StoreSlug:   "ozon",
		Title:       "Скидка 20% на электронику",
		URL:         "https://ozon.ru/deal",
		Score:       0.9,
		ContentHash: models.ContentHash("https://ozon.ru/deal", "Скидка 20% на электронику", ""),
	}
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		mutate  func(*models.Deal)
		wantErr bool
	}{
		{"Valid Deal", func(d *models.Deal) {}, false},
		{"Missing Store", func(d *models.Deal) { d.StoreSlug = "" }, true},
		{"Missing Title", func(d *models.Deal) { d.Title = "" }, true},
		{"Title Too Long", func(d *models.Deal) { d.Title = strings.Repeat("x", models.MaxTitleLen+1) }, true},
		{"Invalid URL", func(d *models.Deal) { d.URL = "not-a-url" }, true},
		{"Missing Hash", func(d *models.Deal) { d.ContentHash = "" }, true},
		{"Short Hash", func(d *models.Deal) { d.ContentHash = "abc123" }, true},
		{"Description Too Long", func(d *models.Deal) {
			d.Description = strings.Repeat("x", models.MaxDescriptionLen+1)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deal := validDeal()
			tt.mutate(&deal)
			if err := v.ValidateStruct(deal); (err != nil) != tt.wantErr {
				t.Errorf("ValidateStruct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_ValidateSource(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		src     models.Source
		wantErr bool
	}{
		{"Valid Source", models.Source{Store: "ozon", URL: "https://ozon.ru/promos"}, false},
		{"Missing Store", models.Source{URL: "https://ozon.ru/promos"}, true},
		{"Missing URL", models.Source{Store: "ozon"}, true},
		{"Bad URL", models.Source{Store: "ozon", URL: "::::"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.ValidateStruct(tt.src); (err != nil) != tt.wantErr {
				t.Errorf("ValidateStruct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
