// Package api exposes the pipeline to its callers (the chat-bot layer, a
// timer, an operator with curl): deal search plus ingestion/cleanup
// triggers.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dealfeed/dealfeed/internal/alias"
	"github.com/dealfeed/dealfeed/internal/models"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// Pipeline is the trigger surface of the ingestion orchestrator.
type Pipeline interface {
	Run(ctx context.Context) (int, error)
	Sweep(ctx context.Context, retention time.Duration) (int64, error)
}

// SearchStore is the read surface of the deal store.
type SearchStore interface {
	Query(ctx context.Context, storeSlug, category string, limit int) ([]models.Deal, error)
	CountByStore(ctx context.Context, storeSlug string) (int, error)
	Stores(ctx context.Context) ([]string, error)
}

// Handler wires the HTTP routes.
type Handler struct {
	store     SearchStore
	pipeline  Pipeline
	aliases   *alias.Table
	retention time.Duration

	// refreshing prevents a stampede of on-demand ingestion runs when
	// many empty searches land at once.
	refreshing atomic.Bool
}

func New(store SearchStore, pipeline Pipeline, aliases *alias.Table, retention time.Duration) *Handler {
	return &Handler{
		store:     store,
		pipeline:  pipeline,
		aliases:   aliases,
		retention: retention,
	}
}

// Router builds the chi router for the service.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Get("/search", h.handleSearch)
	r.Get("/stores", h.handleStores)
	r.Post("/ingest", h.handleIngest)
	r.Post("/cleanup", h.handleCleanup)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchResponse struct {
	Store       string        `json:"store"`
	Deals       []models.Deal `json:"deals"`
	RefreshHint string        `json:"refresh_hint,omitempty"`
}

// handleSearch resolves free-text store names through the alias table and
// returns the ranked, non-expired deals. An empty result distinguishes
// "this store has never produced data" (a fresh ingestion is kicked off,
// retry shortly) from a store that merely has nothing live right now.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	storeText := r.URL.Query().Get("store")
	if storeText == "" {
		writeError(w, http.StatusBadRequest, "missing required query parameter: store")
		return
	}
	category := r.URL.Query().Get("category")

	limit := defaultSearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxSearchLimit)
	}

	slug := h.aliases.ResolveOrSlug(storeText)
	deals, err := h.store.Query(r.Context(), slug, category, limit)
	if err != nil {
		slog.Error("Search query failed", "store", slug, "error", err)
		writeError(w, http.StatusInternalServerError, "storage fault")
		return
	}

	resp := searchResponse{Store: slug, Deals: deals}
	if deals == nil {
		resp.Deals = []models.Deal{}
	}

	if len(deals) == 0 {
		count, err := h.store.CountByStore(r.Context(), slug)
		if err == nil && count == 0 {
			resp.RefreshHint = "ingestion_triggered"
			h.triggerRefresh()
		} else {
			resp.RefreshHint = "nothing_live"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.store.Stores(r.Context())
	if err != nil {
		slog.Error("Stores listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage fault")
		return
	}
	if stores == nil {
		stores = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"stores": stores})
}

// handleIngest runs one synchronous ingestion pass.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	added, err := h.pipeline.Run(r.Context())
	if err != nil {
		slog.Error("Triggered ingestion finished with faults", "added", added, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"added": added,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

// handleCleanup sweeps expired and stale deals. An explicit retention
// override comes via ?retention=<duration>.
func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	retention := h.retention
	if v := r.URL.Query().Get("retention"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "retention must be a positive duration")
			return
		}
		retention = parsed
	}

	deleted, err := h.pipeline.Sweep(r.Context(), retention)
	if err != nil {
		slog.Error("Triggered cleanup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage fault")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// triggerRefresh starts at most one background ingestion run.
func (h *Handler) triggerRefresh() {
	if !h.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer h.refreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
		defer cancel()
		if _, err := h.pipeline.Run(ctx); err != nil {
			slog.Error("On-demand ingestion finished with faults", "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
