package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dealfeed/dealfeed/internal/alias"
	"github.com/dealfeed/dealfeed/internal/models"
)

const patternPage = `<html>
<head><title>Промокоды и купоны июня</title></head>
<body>
  <p>Используйте промокод: SUMMER25 на первый заказ.</p>
  <p>Для доставки подойдёт купон: FREESHIP</p>
  <p>Повтор: промокод: SUMMER25 действует до конца месяца.</p>
  <p>Здесь кодов нет, просто текст о магазине.</p>
</body>
</html>`

func TestPattern_FindsUniqueCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(patternPage))
	}))
	defer srv.Close()

	e := NewPattern(newTestFetcher(t), newTestMatcher(t), alias.Default())
	got := e.Extract(context.Background(), models.Source{Type: models.KindText, Store: "teststore", URL: srv.URL})

	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates (repeated code collapsed), got %d: %+v", len(got), got)
	}

	codes := map[string]bool{}
	for _, c := range got {
		codes[c.CouponCode] = true
		if c.Title != "Промокоды и купоны июня" {
			t.Errorf("Expected page title as candidate title, got %q", c.Title)
		}
		if c.URL != srv.URL {
			t.Errorf("Expected the page URL on the candidate, got %q", c.URL)
		}
		if c.BaseScore != patternScore {
			t.Errorf("Expected score %v, got %v", patternScore, c.BaseScore)
		}
	}
	if !codes["SUMMER25"] || !codes["FREESHIP"] {
		t.Errorf("Expected SUMMER25 and FREESHIP, got %v", codes)
	}
}

func TestPattern_TitleFallsBackToStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>промокод: NOTITLE1</body></html>`))
	}))
	defer srv.Close()

	e := NewPattern(newTestFetcher(t), newTestMatcher(t), alias.Default())
	got := e.Extract(context.Background(), models.Source{Type: models.KindText, Store: "teststore", URL: srv.URL})

	if len(got) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(got))
	}
	if got[0].Title != "teststore" {
		t.Errorf("Expected the source's store as fallback title, got %q", got[0].Title)
	}
}

func TestPattern_NoCodesYieldNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>Просто страница без кодов</body></html>`))
	}))
	defer srv.Close()

	e := NewPattern(newTestFetcher(t), newTestMatcher(t), alias.Default())
	got := e.Extract(context.Background(), models.Source{Type: models.KindText, Store: "teststore", URL: srv.URL})
	if len(got) != 0 {
		t.Errorf("Expected no candidates, got %d", len(got))
	}
}
