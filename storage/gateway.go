package storage

import (
	"context"
	"errors"
	"fmt"

	"rankpool/models"
)

// Gateway is the write side of the ranking store. Products are merged on
// (source, product_id) without touching enrichment columns; ranks are
// overwritten on (product_id, date, category_code, source).
type Gateway interface {
	UpsertProduct(ctx context.Context, p *models.Product) (int64, error)
	UpsertRank(ctx context.Context, r models.RankEntry) error
}

// RunLog is the append-only crawl log.
type RunLog interface {
	AppendJobRun(ctx context.Context, run *models.JobRun) error
}

// Store is a gateway that also keeps the run log, which every backend does.
type Store interface {
	Gateway
	RunLog
}

// BrandStore serves the brand backfill worker.
type BrandStore interface {
	ProductsMissingBrandEN(ctx context.Context, limit int) ([]models.Product, error)
	SetBrandEN(ctx context.Context, id int64, brandEN string) error
}

// ErrProductNotFound is wrapped by SetBrandEN when no product has the id.
var ErrProductNotFound = errors.New("product not found")

// PersistenceError wraps any failed write against the row store.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func productKey(p *models.Product) string {
	return p.Source + "/" + p.ProductID
}

func rankKey(r models.RankEntry) string {
	return fmt.Sprintf("%d/%s/%s/%s", r.ProductID, r.Date, r.CategoryCode, r.Source)
}

// MultiRunLog fans a run entry out to several logs. Every log is tried; the
// first error is returned.
type MultiRunLog []RunLog

func (m MultiRunLog) AppendJobRun(ctx context.Context, run *models.JobRun) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.AppendJobRun(ctx, run); err != nil && first == nil {
			first = err
		}
	}
	return first
}
