package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/dealfeed/dealfeed/internal/alias"
	"github.com/dealfeed/dealfeed/internal/models"
)

func writeOffers(w http.ResponseWriter, offers []map[string]any) {
	json.NewEncoder(w).Encode(map[string]any{"results": offers})
}

func TestAffiliate_ClientCredentialsFlowAndTokenCache(t *testing.T) {
	var tokenCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST to token endpoint, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" ||
			r.PostForm.Get("client_id") != "cid" || r.PostForm.Get("client_secret") != "sec" {
			t.Errorf("Unexpected token form: %v", r.PostForm)
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok123", "expires_in": 3600})
	})
	mux.HandleFunc("/offers", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Expected Bearer tok123, got %q", got)
		}
		writeOffers(w, []map[string]any{
			{
				"name":        "Ozon Marketplace RU",
				"goto_link":   "https://go.example/ozon",
				"description": "Скидки до 50%",
				"promocode":   "OZON50",
				"date_end":    "2099-12-31 23:59:59",
				"cashback":    4.5,
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := models.Source{
		Type:         models.KindAPI,
		Store:        "affiliates",
		URL:          srv.URL + "/offers",
		TokenURL:     srv.URL + "/token",
		ClientID:     "cid",
		ClientSecret: "sec",
	}

	e := NewAffiliate(newTestFetcher(t), alias.Default())
	got := e.Extract(context.Background(), src)
	if len(got) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(got))
	}

	c := got[0]
	if c.StoreHint != "ozon" {
		t.Errorf("Expected campaign pinned to ozon, got %q", c.StoreHint)
	}
	if c.CouponCode != "OZON50" {
		t.Errorf("Expected coupon code, got %q", c.CouponCode)
	}
	if c.Cashback == nil || *c.Cashback != 4.5 {
		t.Errorf("Expected cashback 4.5, got %v", c.Cashback)
	}
	if c.EndAt == nil {
		t.Error("Expected end date parsed")
	}
	if c.BaseScore != apiScore {
		t.Errorf("Expected score %v, got %v", apiScore, c.BaseScore)
	}

	// Second run reuses the cached token.
	if got = e.Extract(context.Background(), src); len(got) != 1 {
		t.Fatalf("Expected 1 candidate on the second run, got %d", len(got))
	}
	if n := tokenCalls.Load(); n != 1 {
		t.Errorf("Expected 1 token exchange across runs, got %d", n)
	}
}

func TestAffiliate_StaticToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer static-tok" {
			t.Errorf("Expected Bearer static-tok, got %q", got)
		}
		writeOffers(w, []map[string]any{
			{"name": "Some Shop", "goto_link": "https://go.example/shop"},
		})
	}))
	defer srv.Close()

	src := models.Source{
		Type:  models.KindAPI,
		Store: "affiliates",
		URL:   srv.URL,
		Token: "static-tok",
	}

	e := NewAffiliate(newTestFetcher(t), alias.Default())
	got := e.Extract(context.Background(), src)
	if len(got) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(got))
	}
	if got[0].StoreHint != "some_shop" {
		t.Errorf("Unknown campaign must slugify, got %q", got[0].StoreHint)
	}
}

func TestAffiliate_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if r.URL.Query().Get("limit") != strconv.Itoa(apiPageSize) {
			t.Errorf("Expected limit=%d, got %q", apiPageSize, r.URL.Query().Get("limit"))
		}

		if offset == 0 {
			offers := make([]map[string]any, 0, apiPageSize)
			for i := 0; i < apiPageSize; i++ {
				offers = append(offers, map[string]any{
					"name":      fmt.Sprintf("Campaign %d", i),
					"goto_link": fmt.Sprintf("https://go.example/c%d", i),
				})
			}
			writeOffers(w, offers)
			return
		}

		// A short final page: two usable offers plus two that must be
		// filtered out.
		writeOffers(w, []map[string]any{
			{"name": "Tail One", "goto_link": "https://go.example/t1"},
			{"name": "Tail Two", "goto_link": "https://go.example/t2"},
			{"name": "No Link Offer"},
			{"name": "Already Over", "goto_link": "https://go.example/over", "date_end": "2020-01-01"},
		})
	}))
	defer srv.Close()

	src := models.Source{
		Type:  models.KindAPI,
		Store: "affiliates",
		URL:   srv.URL,
		Token: "static-tok",
	}

	e := NewAffiliate(newTestFetcher(t), alias.Default())
	got := e.Extract(context.Background(), src)
	if want := apiPageSize + 2; len(got) != want {
		t.Fatalf("Expected %d candidates across pages, got %d", want, len(got))
	}
}

func TestAffiliate_MissingCredentialsYieldNothing(t *testing.T) {
	e := NewAffiliate(newTestFetcher(t), alias.Default())
	src := models.Source{Type: models.KindAPI, Store: "affiliates", URL: "http://127.0.0.1:1/offers"}
	if got := e.Extract(context.Background(), src); len(got) != 0 {
		t.Errorf("Expected no candidates without credentials, got %d", len(got))
	}
}
