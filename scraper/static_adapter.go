package scraper

import (
	"context"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"rankpool/config"
	"rankpool/models"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// StaticAdapter fetches server-rendered ranking pages with colly.
type StaticAdapter struct {
	src        *config.SourceConfig
	transport  http.RoundTripper
	containers []string
	now        func() time.Time
}

func NewStaticAdapter(src *config.SourceConfig, client *http.Client) *StaticAdapter {
	var transport http.RoundTripper
	if client != nil {
		transport = client.Transport
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	containers := make([]string, 0, len(src.Selectors))
	for _, g := range src.Selectors {
		containers = append(containers, g.Container)
	}
	return &StaticAdapter{src: src, transport: transport, containers: containers, now: time.Now}
}

func (a *StaticAdapter) ID() string {
	return a.src.ID
}

func (a *StaticAdapter) Close() error { return nil }

func (a *StaticAdapter) Fetch(ctx context.Context, cat models.Category) (*models.RawPage, error) {
	target, err := categoryURL(a.src, cat, a.src.BaseURL)
	if err != nil {
		return nil, err
	}

	ua := a.src.Browser.UserAgent
	if ua == "" {
		ua = a.src.Request.Headers["User-Agent"]
	}
	if ua == "" {
		ua = defaultUserAgent
	}

	c := colly.NewCollector(
		colly.UserAgent(ua),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(a.transport)
	if deadline, ok := ctx.Deadline(); ok {
		c.SetRequestTimeout(time.Until(deadline))
	}

	page := &models.RawPage{
		Kind:     models.PageDOM,
		Source:   a.src.ID,
		Category: cat.Code,
		URL:      target,
	}
	var fetchErr error

	c.OnRequest(func(r *colly.Request) {
		for k, v := range a.src.Request.Headers {
			r.Headers.Set(k, v)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		page.Status = r.StatusCode
		page.HTML = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		page.Status = status
		fetchErr = classifyError(err, status, target)
	})

	if err := c.Visit(target); err != nil && fetchErr == nil {
		fetchErr = classifyError(err, page.Status, target)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	if marker := detectBlock(page.HTML, a.src.BlockMarkers, a.containers); marker != "" {
		return nil, &BlockedError{URL: target, Status: page.Status, Marker: marker}
	}
	page.FetchedAt = a.now()
	return page, nil
}
