// Package ingest runs the pipeline: load the source configuration,
// dispatch each source to its extractor, normalize and persist candidates.
// One source's fault never prevents the others from running; ingestion
// availability degrades gracefully as individual sources break.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dealfeed/dealfeed/internal/extract"
	"github.com/dealfeed/dealfeed/internal/metrics"
	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/normalize"
	"github.com/dealfeed/dealfeed/internal/validator"
)

// DealStore abstracts the persistence layer the orchestrator writes to.
type DealStore interface {
	Insert(ctx context.Context, d models.Deal) (bool, error)
	DeleteExpiredOrStale(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// Orchestrator drives one ingestion run across all configured sources.
type Orchestrator struct {
	store      DealStore
	normalizer *normalize.Normalizer
	validate   *validator.Validator
	extractors map[string]extract.Extractor

	// sources re-reads the configuration on every run so a changed
	// STORES_JSON or stores file is picked up without a restart.
	sources func() []models.Source

	concurrency      int64
	perSourceTimeout time.Duration
}

// Options bound the orchestrator's resource usage.
type Options struct {
	// Concurrency caps how many sources run in parallel. Zero means 4.
	Concurrency int

	// PerSourceTimeout is the hard deadline for one source's extraction.
	// Zero means 25s.
	PerSourceTimeout time.Duration
}

func New(store DealStore, n *normalize.Normalizer, v *validator.Validator,
	extractors []extract.Extractor, sources func() []models.Source, opts Options) *Orchestrator {

	byKind := make(map[string]extract.Extractor, len(extractors))
	for _, ex := range extractors {
		byKind[ex.Kind()] = ex
	}

	concurrency := int64(opts.Concurrency)
	if concurrency <= 0 {
		concurrency = 4
	}
	timeout := opts.PerSourceTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	return &Orchestrator{
		store:            store,
		normalizer:       n,
		validate:         v,
		extractors:       byKind,
		sources:          sources,
		concurrency:      concurrency,
		perSourceTimeout: timeout,
	}
}

// Run executes one ingestion pass and returns the number of deals newly
// persisted. Per-source faults are contained; only non-transient storage
// faults make it into the returned error, alongside the partial count.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	sources := o.sources()
	slog.Info("Ingestion run starting", "sources", len(sources))

	sem := semaphore.NewWeighted(o.concurrency)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		total     int
		storeErrs []string
	)

	for _, src := range sources {
		if err := sem.Acquire(ctx, 1); err != nil {
			slog.Warn("Ingestion run cancelled while dispatching", "error", err)
			break
		}
		wg.Add(1)
		go func(src models.Source) {
			defer wg.Done()
			defer sem.Release(1)

			added, err := o.runSource(ctx, src)
			mu.Lock()
			total += added
			if err != nil {
				storeErrs = append(storeErrs, err.Error())
			}
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	slog.Info("Ingestion run finished", "added", total)
	if len(storeErrs) > 0 {
		return total, fmt.Errorf("ingestion finished with storage faults: %s", strings.Join(storeErrs, "; "))
	}
	return total, nil
}

// runSource extracts, normalizes and persists one source. The returned
// error carries storage faults only; extraction problems were already
// logged at the extractor and yield zero candidates.
func (o *Orchestrator) runSource(ctx context.Context, src models.Source) (int, error) {
	kind := src.Kind()
	ex, ok := o.extractors[kind]
	if !ok {
		// Shouldn't happen with a full extractor set; fall back to the
		// heuristic like an unrecognized kind would.
		ex, ok = o.extractors[models.KindAuto]
		if !ok {
			slog.Error("No extractor registered for kind", "kind", kind)
			return 0, nil
		}
	}

	srcCtx, cancel := context.WithTimeout(ctx, o.perSourceTimeout)
	defer cancel()

	start := time.Now()
	candidates := ex.Extract(srcCtx, src)
	metrics.ExtractionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	added := 0
	var lastStoreErr error
	for _, c := range candidates {
		deal, err := o.normalizer.Normalize(c, src)
		if err != nil {
			slog.Debug("Dropping unusable candidate", "store", src.Store, "error", err)
			continue
		}
		if err := o.validate.ValidateStruct(deal); err != nil {
			slog.Warn("Dropping invalid deal", "store", deal.StoreSlug, "title", deal.Title, "error", err)
			continue
		}

		inserted, err := o.store.Insert(ctx, deal)
		if err != nil {
			slog.Error("Storage fault while inserting deal", "store", deal.StoreSlug, "error", err)
			lastStoreErr = err
			continue
		}
		if inserted {
			added++
			metrics.DealsInserted.WithLabelValues(kind).Inc()
		} else {
			metrics.DealsDuplicate.WithLabelValues(kind).Inc()
		}
	}

	slog.Info("Source ingested", "store", src.Store, "kind", kind,
		"candidates", len(candidates), "added", added)
	return added, lastStoreErr
}

// Sweep purges deals that expired or aged past the retention window and
// logs the deleted count. A missed sweep just means the next one deletes
// more.
func (o *Orchestrator) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := o.store.DeleteExpiredOrStale(ctx, retention)
	if err != nil {
		return 0, err
	}
	metrics.SweepDeleted.Add(float64(deleted))
	slog.Info("Cleanup sweep finished", "deleted", deleted, "retention", retention)
	return deleted, nil
}
