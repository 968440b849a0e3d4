package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rankpool/logging"
	"rankpool/models"
	"rankpool/normalize"
	"rankpool/storage"
)

// BrandNamer resolves the English form of a brand; "" when unknown.
type BrandNamer interface {
	English(ctx context.Context, brand string) string
}

// IngestService takes one category's extracted records through
// normalize, brand translation and the two-step product/rank write.
type IngestService struct {
	store          storage.Gateway
	brands         BrandNamer
	queue          storage.EnrichmentQueue
	persistTimeout time.Duration
	retryDelay     time.Duration
	sleep          func(time.Duration)
}

func NewIngestService(store storage.Gateway, persistTimeout time.Duration) *IngestService {
	if persistTimeout <= 0 {
		persistTimeout = 30 * time.Second
	}
	return &IngestService{
		store:          store,
		persistTimeout: persistTimeout,
		retryDelay:     time.Second,
		sleep:          time.Sleep,
	}
}

func (s *IngestService) SetBrandNamer(b BrandNamer) {
	s.brands = b
}

func (s *IngestService) SetQueue(q storage.EnrichmentQueue) {
	s.queue = q
}

// CategoryResult counts what happened to one category's records. Saved
// counts product writes; a rank failure after a saved product is a partial
// success and shows up in both Saved and RankErrors.
type CategoryResult struct {
	Saved      int
	Skipped    int
	Errors     int
	RankErrors int
	Published  int
}

func (r *CategoryResult) Add(o CategoryResult) {
	r.Saved += o.Saved
	r.Skipped += o.Skipped
	r.Errors += o.Errors
	r.RankErrors += o.RankErrors
	r.Published += o.Published
}

// Ingest expects records already deduplicated and truncated, in rank
// order. Per-record failures are contained and counted.
func (s *IngestService) Ingest(ctx context.Context, norm *normalize.Normalizer, records []models.RawListing, cat models.Category, date string) CategoryResult {
	batch := norm.NormalizeAll(records, cat)
	res := CategoryResult{Skipped: batch.Skipped}

	for _, item := range batch.Items {
		p := item.Product
		if s.brands != nil && p.Brand != "" {
			p.BrandEN = s.brands.English(ctx, p.Brand)
		}

		id, err := s.upsertProduct(ctx, p)
		if err != nil {
			logging.Logf(models.LogLevelWarn, p.Source, "dropping %s: %v", p.ProductID, err)
			res.Errors++
			continue
		}
		res.Saved++

		entry := models.RankEntry{
			ProductID:    id,
			Rank:         item.Rank,
			Date:         date,
			CategoryCode: cat.Code,
			Source:       p.Source,
		}
		if err := s.upsertRank(ctx, entry); err != nil {
			logging.Logf(models.LogLevelWarn, p.Source, "rank write for %s failed: %v", p.ProductID, err)
			res.RankErrors++
			res.Errors++
		}

		if s.queue != nil {
			if err := s.publish(ctx, id, p.Source); err != nil {
				logging.Logf(models.LogLevelWarn, p.Source, "enrichment hand-off for %d failed: %v", id, err)
			} else {
				res.Published++
			}
		}
	}
	return res
}

func (s *IngestService) upsertProduct(ctx context.Context, p *models.Product) (int64, error) {
	var id int64
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.store.UpsertProduct(ctx, p)
		return err
	})
	return id, err
}

func (s *IngestService) upsertRank(ctx context.Context, r models.RankEntry) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		return s.store.UpsertRank(ctx, r)
	})
}

func (s *IngestService) publish(ctx context.Context, id int64, source string) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	return s.queue.Publish(pctx, id, source)
}

// withRetry runs op under the persist timeout and retries it once. Writes
// are not cut short by run cancellation; only their own timeout applies.
func (s *IngestService) withRetry(ctx context.Context, op func(context.Context) error) error {
	base := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		actx, cancel := context.WithTimeout(base, s.persistTimeout)
		err = op(actx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == 1 && s.retryDelay > 0 {
			s.sleep(s.retryDelay)
		}
	}
	var pe *storage.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &storage.PersistenceError{Op: "write", Err: fmt.Errorf("after retry: %w", err)}
}
