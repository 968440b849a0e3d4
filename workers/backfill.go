package workers

import (
	"context"
	"fmt"
	"time"

	"rankpool/logging"
	"rankpool/models"
	"rankpool/services"
	"rankpool/storage"
)

// BrandBackfillWorker fills brand_en for stored products that were saved
// while translation was unavailable.
type BrandBackfillWorker struct {
	store     storage.BrandStore
	brands    services.BrandNamer
	triggerCh chan struct{}
	logFunc   LogFunc
}

func NewBrandBackfillWorker(store storage.BrandStore, brands services.BrandNamer) *BrandBackfillWorker {
	return &BrandBackfillWorker{
		store:     store,
		brands:    brands,
		triggerCh: make(chan struct{}, 1),
		logFunc:   NoOpLogger,
	}
}

func (w *BrandBackfillWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *BrandBackfillWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the backfill loop
func (w *BrandBackfillWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Logf(models.LogLevelInfo, "backfill", "worker stopping")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx, batchSize)
		case <-w.triggerCh:
			logging.Logf(models.LogLevelInfo, "backfill", "worker triggered manually")
			w.ProcessBatch(ctx, batchSize)
		}
	}
}

type BackfillResult struct {
	Checked int
	Filled  int
	Failed  int
}

// ProcessBatch translates up to batchSize missing brands. Products whose
// brand still has no English form stay pending for the next batch.
func (w *BrandBackfillWorker) ProcessBatch(ctx context.Context, batchSize int) BackfillResult {
	var res BackfillResult

	products, err := w.store.ProductsMissingBrandEN(ctx, batchSize)
	if err != nil {
		logging.Logf(models.LogLevelError, "backfill", "query error: %v", err)
		return res
	}
	if len(products) == 0 {
		return res
	}

	for _, p := range products {
		if ctx.Err() != nil {
			break
		}
		res.Checked++

		en := w.brands.English(ctx, p.Brand)
		if en == "" {
			res.Failed++
			continue
		}
		if err := w.store.SetBrandEN(ctx, p.ID, en); err != nil {
			logging.Logf(models.LogLevelWarn, "backfill", "update %s/%s: %v", p.Source, p.ProductID, err)
			res.Failed++
			continue
		}
		res.Filled++
	}

	logging.Logf(models.LogLevelDebug, "backfill", "checked %d, filled %d, failed %d", res.Checked, res.Filled, res.Failed)
	if res.Filled > 0 {
		w.logFunc(models.LogLevelInfo, "backfill", fmt.Sprintf("Filled brand_en for %d products", res.Filled))
	}
	if res.Failed > 0 {
		w.logFunc(models.LogLevelWarn, "backfill", fmt.Sprintf("%d brands still untranslated", res.Failed))
	}
	return res
}
