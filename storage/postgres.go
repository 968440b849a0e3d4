package storage

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"rankpool/models"
)

//go:embed schema.sql
var postgresSchema string

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate applies the ranking schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// =============================================================================
// Products
// =============================================================================

// upsertProductSQL never names tags or ai_summary, so enrichment written by
// other processes survives every crawl. Optional columns keep their stored
// value when this crawl has nothing for them.
const upsertProductSQL = `
	INSERT INTO products_master (
		source, product_id, name, brand, brand_en, price, image_url, url,
		category, review_count, review_rating, updated_at
	) VALUES (
		$1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12
	)
	ON CONFLICT (source, product_id) DO UPDATE SET
		name = EXCLUDED.name,
		brand = EXCLUDED.brand,
		brand_en = COALESCE(EXCLUDED.brand_en, products_master.brand_en),
		price = EXCLUDED.price,
		image_url = COALESCE(EXCLUDED.image_url, products_master.image_url),
		url = COALESCE(EXCLUDED.url, products_master.url),
		category = COALESCE(NULLIF(EXCLUDED.category, ''), products_master.category),
		review_count = EXCLUDED.review_count,
		review_rating = EXCLUDED.review_rating,
		updated_at = EXCLUDED.updated_at
	RETURNING id`

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *models.Product) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, upsertProductSQL,
		p.Source, p.ProductID, p.Name, p.Brand, p.BrandEN, p.Price, p.ImageURL, p.URL,
		p.Category, p.ReviewCount, p.ReviewRating, p.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, &PersistenceError{Op: "upsert product", Key: productKey(p), Err: err}
	}
	p.ID = id
	return id, nil
}

func (s *PostgresStore) ProductsMissingBrandEN(ctx context.Context, limit int) ([]models.Product, error) {
	query := `
		SELECT id, source, product_id, brand
		FROM products_master
		WHERE brand_en IS NULL AND brand <> ''
		ORDER BY updated_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Source, &p.ProductID, &p.Brand); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) SetBrandEN(ctx context.Context, id int64, brandEN string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE products_master SET brand_en = $2 WHERE id = $1`, id, brandEN)
	if err == nil && tag.RowsAffected() == 0 {
		err = ErrProductNotFound
	}
	if err != nil {
		return &PersistenceError{Op: "set brand_en", Key: fmt.Sprint(id), Err: err}
	}
	return nil
}

// =============================================================================
// Rankings
// =============================================================================

func (s *PostgresStore) UpsertRank(ctx context.Context, r models.RankEntry) error {
	query := `
		INSERT INTO daily_rankings_v2 (product_id, rank, date, category_code, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id, date, category_code, source) DO UPDATE SET
			rank = EXCLUDED.rank`

	if _, err := s.pool.Exec(ctx, query, r.ProductID, r.Rank, r.Date, r.CategoryCode, r.Source); err != nil {
		return &PersistenceError{Op: "upsert rank", Key: rankKey(r), Err: err}
	}
	return nil
}

// =============================================================================
// Crawl Logs
// =============================================================================

func (s *PostgresStore) AppendJobRun(ctx context.Context, run *models.JobRun) error {
	query := `
		INSERT INTO crawl_logs (job_name, status, started_at, finished_at, metadata_json)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.pool.Exec(ctx, query, run.JobName, run.Status, run.StartedAt, run.FinishedAt, run.Metadata); err != nil {
		return &PersistenceError{Op: "append job run", Key: run.JobName, Err: err}
	}
	return nil
}

// =============================================================================
// Categories
// =============================================================================

func (s *PostgresStore) SeedCategories(ctx context.Context, platform string, cats []models.Category) error {
	query := `
		INSERT INTO categories (platform, category_code, name_ko, name_en, depth, sort_order)
		VALUES ($1, $2, $3, NULLIF($4, ''), 1, $5)
		ON CONFLICT (platform, category_code) DO UPDATE SET
			name_ko = EXCLUDED.name_ko,
			name_en = COALESCE(EXCLUDED.name_en, categories.name_en),
			sort_order = EXCLUDED.sort_order`

	for i, c := range cats {
		if _, err := s.pool.Exec(ctx, query, platform, c.Code, c.Name, c.Label, i+1); err != nil {
			return fmt.Errorf("seed category %s/%s: %w", platform, c.Code, err)
		}
	}
	return nil
}
