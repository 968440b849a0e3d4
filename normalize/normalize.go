package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"rankpool/extract"
	"rankpool/models"
)

// ErrSkip marks a raw listing that lacks an id or a name. Callers count it;
// it is never a failure.
var ErrSkip = errors.New("listing skipped: missing id or name")

type Normalizer struct {
	source string
	base   *url.URL
	now    func() time.Time
}

func New(source, baseURL string) (*Normalizer, error) {
	n := &Normalizer{source: source, now: time.Now}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
		}
		if !u.IsAbs() {
			return nil, fmt.Errorf("base url %q is not absolute", baseURL)
		}
		n.base = u
	}
	return n, nil
}

// Normalize maps the listing found at 1-based position pos.
func (n *Normalizer) Normalize(raw models.RawListing, pos int, cat models.Category) (*models.Product, int, error) {
	id := strings.TrimSpace(raw.NativeID)
	name := strings.TrimSpace(raw.Name)
	if id == "" || name == "" {
		return nil, 0, ErrSkip
	}
	if pos < 1 {
		return nil, 0, fmt.Errorf("invalid position %d", pos)
	}

	p := &models.Product{
		Source:       n.source,
		ProductID:    id,
		Name:         name,
		Brand:        strings.TrimSpace(raw.Brand),
		Price:        extract.ParseInt(raw.PriceText),
		ImageURL:     n.Resolve(raw.ImageURL),
		URL:          n.Resolve(raw.DetailURL),
		Category:     cat.DisplayLabel(),
		ReviewCount:  int(extract.ParseInt(raw.ReviewCount)),
		ReviewRating: extract.ParseRating(raw.Rating),
		UpdatedAt:    n.now().UTC(),
	}
	return p, pos, nil
}

type Batch struct {
	Items   []models.RankedProduct
	Skipped int
}

// NormalizeAll expects records already deduplicated and truncated. Ranks
// follow record positions, so a skipped record leaves its rank unused.
func (n *Normalizer) NormalizeAll(records []models.RawListing, cat models.Category) Batch {
	var b Batch
	for i, r := range records {
		p, rank, err := n.Normalize(r, i+1, cat)
		if err != nil {
			b.Skipped++
			continue
		}
		b.Items = append(b.Items, models.RankedProduct{Product: p, Rank: rank})
	}
	return b
}

// Resolve makes a listing URL absolute against the source base URL.
// Protocol-relative URLs take the base scheme (https without a base).
func (n *Normalizer) Resolve(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		scheme := "https"
		if n.base != nil && n.base.Scheme != "" {
			scheme = n.base.Scheme
		}
		return scheme + ":" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.IsAbs() || n.base == nil {
		return raw
	}
	return n.base.ResolveReference(u).String()
}
