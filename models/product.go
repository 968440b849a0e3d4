package models

import (
	"encoding/json"
	"time"
)

// RawListing is what extraction produces for one listing: source-native,
// text-valued and never persisted.
type RawListing struct {
	NativeID    string
	Name        string
	Brand       string
	PriceText   string
	ImageURL    string
	DetailURL   string
	ReviewCount string
	Rating      string
}

// Product is the canonical record, unique per (Source, ProductID).
//
// Tags and AISummary belong to the enrichment process. The pipeline reads
// them back at most; it never writes them.
type Product struct {
	ID           int64           `json:"id,omitempty" db:"id"`
	Source       string          `json:"source" db:"source"`
	ProductID    string          `json:"product_id" db:"product_id"`
	Name         string          `json:"name" db:"name"`
	Brand        string          `json:"brand" db:"brand"`
	BrandEN      string          `json:"brand_en,omitempty" db:"brand_en"`
	Price        int64           `json:"price" db:"price"`
	ImageURL     string          `json:"image_url" db:"image_url"`
	URL          string          `json:"url" db:"url"`
	Category     string          `json:"category" db:"category"`
	ReviewCount  int             `json:"review_count" db:"review_count"`
	ReviewRating float64         `json:"review_rating" db:"review_rating"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
	Tags         json.RawMessage `json:"-" db:"tags"`
	AISummary    *string         `json:"-" db:"ai_summary"`
}

// RankEntry is unique per (ProductID, Date, CategoryCode, Source).
type RankEntry struct {
	ProductID    int64  `json:"product_id" db:"product_id"`
	Rank         int    `json:"rank" db:"rank"`
	Date         string `json:"date" db:"date"`
	CategoryCode string `json:"category_code" db:"category_code"`
	Source       string `json:"source" db:"source"`
}

// RankedProduct pairs a normalized product with its position in the batch.
type RankedProduct struct {
	Product *Product
	Rank    int
}
