package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"rankpool/models"
)

// MemoryStore is the dry-run backend. It applies the same merge rules as
// the SQL and REST stores.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	products map[string]*models.Product
	ranks    map[string]models.RankEntry
	runs     []models.JobRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*models.Product),
		ranks:    make(map[string]models.RankEntry),
	}
}

func (m *MemoryStore) UpsertProduct(_ context.Context, p *models.Product) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := productKey(p)
	cur, ok := m.products[key]
	if !ok {
		m.nextID++
		stored := *p
		stored.ID = m.nextID
		stored.Tags = nil
		stored.AISummary = nil
		m.products[key] = &stored
		p.ID = stored.ID
		return stored.ID, nil
	}

	cur.Name = p.Name
	cur.Brand = p.Brand
	cur.Price = p.Price
	cur.ReviewCount = p.ReviewCount
	cur.ReviewRating = p.ReviewRating
	cur.UpdatedAt = p.UpdatedAt
	if p.BrandEN != "" {
		cur.BrandEN = p.BrandEN
	}
	if p.ImageURL != "" {
		cur.ImageURL = p.ImageURL
	}
	if p.URL != "" {
		cur.URL = p.URL
	}
	if p.Category != "" {
		cur.Category = p.Category
	}
	p.ID = cur.ID
	return cur.ID, nil
}

func (m *MemoryStore) UpsertRank(_ context.Context, r models.RankEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranks[rankKey(r)] = r
	return nil
}

func (m *MemoryStore) AppendJobRun(_ context.Context, run *models.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *MemoryStore) ProductsMissingBrandEN(_ context.Context, limit int) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.products {
		if p.BrandEN == "" && p.Brand != "" {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SetBrandEN(_ context.Context, id int64, brandEN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.ID == id {
			p.BrandEN = brandEN
			return nil
		}
	}
	return &PersistenceError{Op: "set brand_en", Key: fmt.Sprint(id), Err: ErrProductNotFound}
}

// SetEnrichment stands in for the external enrichment process.
func (m *MemoryStore) SetEnrichment(source, productID string, tags json.RawMessage, summary string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[source+"/"+productID]
	if !ok {
		return false
	}
	p.Tags = tags
	p.AISummary = &summary
	return true
}

func (m *MemoryStore) Product(source, productID string) (models.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[source+"/"+productID]
	if !ok {
		return models.Product{}, false
	}
	return *p, true
}

func (m *MemoryStore) ProductCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products)
}

// Ranks returns rank entries ordered by category then rank.
func (m *MemoryStore) Ranks() []models.RankEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RankEntry, 0, len(m.ranks))
	for _, r := range m.ranks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CategoryCode != out[j].CategoryCode {
			return out[i].CategoryCode < out[j].CategoryCode
		}
		return out[i].Rank < out[j].Rank
	})
	return out
}

func (m *MemoryStore) Runs() []models.JobRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.JobRun(nil), m.runs...)
}
