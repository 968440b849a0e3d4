package scraper

import (
	"context"
	"fmt"
	"net/url"

	"rankpool/config"
	"rankpool/httputil"
	"rankpool/models"
)

// Adapter fetches one category's raw page from a source. A failure is
// scoped to that category.
type Adapter interface {
	ID() string
	Fetch(ctx context.Context, cat models.Category) (*models.RawPage, error)
	Close() error
}

// Session is implemented by adapters that hold an expensive resource
// (a browser) across the categories of one run attempt. End must be safe
// to call after a failed Begin.
type Session interface {
	Begin(ctx context.Context) error
	End()
}

func NewAdapter(src *config.SourceConfig, clients *httputil.Clients, proxy config.ProxyConfig) (Adapter, error) {
	switch src.Handler {
	case config.HandlerAPI:
		return NewAPIAdapter(src, clients.Scraping), nil
	case config.HandlerStatic:
		return NewStaticAdapter(src, clients.Scraping), nil
	case config.HandlerBrowser:
		return NewBrowserAdapter(src, proxy), nil
	default:
		return nil, fmt.Errorf("source %s: unknown handler %q", src.ID, src.Handler)
	}
}

// categoryURL picks the category's own URL, else the source base URL,
// and appends the merged source and category params.
func categoryURL(src *config.SourceConfig, cat models.Category, fallback string) (string, error) {
	raw := cat.URL
	if raw == "" {
		raw = fallback
	}
	if raw == "" {
		return "", fmt.Errorf("category %s has no url", cat.Code)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("category %s: %w", cat.Code, err)
	}
	if len(src.Request.Params) == 0 && len(cat.Params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range src.Request.Params {
		q.Set(k, v)
	}
	for k, v := range cat.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
