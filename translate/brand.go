package translate

import (
	"context"
	"strings"
	"unicode"

	"rankpool/logging"
	"rankpool/models"
)

// BrandTranslator produces the English form of a brand name. Brands that
// are already ASCII pass through untouched; anything it cannot translate
// yields "" so the product keeps a null brand_en for a later backfill.
type BrandTranslator struct {
	tr    Translator
	cache *Cache
}

// NewBrandTranslator accepts a nil Translator, in which case only ASCII
// brands and cached names resolve.
func NewBrandTranslator(tr Translator, cache *Cache) *BrandTranslator {
	if cache == nil {
		cache = NewCache(nil, 0)
	}
	return &BrandTranslator{tr: tr, cache: cache}
}

func (b *BrandTranslator) English(ctx context.Context, brand string) string {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return ""
	}
	if isLatin(brand) {
		return brand
	}
	if v, ok := b.cache.Get(ctx, brand); ok {
		return v
	}
	if b.tr == nil {
		return ""
	}

	res, err := b.tr.Translate(ctx, []string{brand})
	if err != nil {
		logging.Logf(models.LogLevelWarn, "translate", "%s: %v", brand, err)
		return ""
	}
	v, ok := res[brand]
	if !ok {
		return ""
	}
	b.cache.Set(ctx, brand, v)
	return v
}

func isLatin(s string) bool {
	hasLetter := false
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}
