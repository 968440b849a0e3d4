package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rankpool/config"
	"rankpool/models"
)

// SupabaseStore writes through the PostgREST API with explicit conflict
// targets. Merge-duplicates only touches the columns present in the body,
// which is how enrichment columns stay untouched.
type SupabaseStore struct {
	url        string
	serviceKey string
	client     *http.Client
}

func NewSupabaseStore(cfg *config.SupabaseConfig, client *http.Client) *SupabaseStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SupabaseStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		client:     client,
	}
}

type productRow struct {
	Source       string    `json:"source"`
	ProductID    string    `json:"product_id"`
	Name         string    `json:"name"`
	Brand        string    `json:"brand"`
	BrandEN      string    `json:"brand_en,omitempty"`
	Price        int64     `json:"price"`
	ImageURL     string    `json:"image_url,omitempty"`
	URL          string    `json:"url,omitempty"`
	Category     string    `json:"category,omitempty"`
	ReviewCount  int       `json:"review_count"`
	ReviewRating float64   `json:"review_rating"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *SupabaseStore) UpsertProduct(ctx context.Context, p *models.Product) (int64, error) {
	row := productRow{
		Source:       p.Source,
		ProductID:    p.ProductID,
		Name:         p.Name,
		Brand:        p.Brand,
		BrandEN:      p.BrandEN,
		Price:        p.Price,
		ImageURL:     p.ImageURL,
		URL:          p.URL,
		Category:     p.Category,
		ReviewCount:  p.ReviewCount,
		ReviewRating: p.ReviewRating,
		UpdatedAt:    p.UpdatedAt,
	}

	q := url.Values{}
	q.Set("on_conflict", "source,product_id")
	q.Set("select", "id")

	var out []struct {
		ID int64 `json:"id"`
	}
	if err := s.do(ctx, http.MethodPost, "products_master", q, "resolution=merge-duplicates,return=representation", row, &out); err != nil {
		return 0, &PersistenceError{Op: "upsert product", Key: productKey(p), Err: err}
	}
	if len(out) == 0 || out[0].ID == 0 {
		return 0, &PersistenceError{Op: "upsert product", Key: productKey(p), Err: fmt.Errorf("no id returned")}
	}
	p.ID = out[0].ID
	return p.ID, nil
}

func (s *SupabaseStore) UpsertRank(ctx context.Context, r models.RankEntry) error {
	q := url.Values{}
	q.Set("on_conflict", "product_id,date,category_code,source")
	if err := s.do(ctx, http.MethodPost, "daily_rankings_v2", q, "resolution=merge-duplicates,return=minimal", r, nil); err != nil {
		return &PersistenceError{Op: "upsert rank", Key: rankKey(r), Err: err}
	}
	return nil
}

func (s *SupabaseStore) AppendJobRun(ctx context.Context, run *models.JobRun) error {
	if err := s.do(ctx, http.MethodPost, "crawl_logs", nil, "return=minimal", run, nil); err != nil {
		return &PersistenceError{Op: "append job run", Key: run.JobName, Err: err}
	}
	return nil
}

func (s *SupabaseStore) ProductsMissingBrandEN(ctx context.Context, limit int) ([]models.Product, error) {
	q := url.Values{}
	q.Set("select", "id,source,product_id,brand")
	q.Set("brand_en", "is.null")
	q.Set("brand", "neq.")
	q.Set("order", "updated_at.desc")
	q.Set("limit", strconv.Itoa(limit))

	var products []models.Product
	if err := s.do(ctx, http.MethodGet, "products_master", q, "", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *SupabaseStore) SetBrandEN(ctx context.Context, id int64, brandEN string) error {
	q := url.Values{}
	q.Set("id", "eq."+strconv.FormatInt(id, 10))
	body := map[string]string{"brand_en": brandEN}
	var updated []struct {
		ID int64 `json:"id"`
	}
	err := s.do(ctx, http.MethodPatch, "products_master", q, "return=representation", body, &updated)
	if err == nil && len(updated) == 0 {
		err = ErrProductNotFound
	}
	if err != nil {
		return &PersistenceError{Op: "set brand_en", Key: strconv.FormatInt(id, 10), Err: err}
	}
	return nil
}

func (s *SupabaseStore) do(ctx context.Context, method, table string, q url.Values, prefer string, body, out any) error {
	endpoint := s.url + "/rest/v1/" + table
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("supabase error %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
