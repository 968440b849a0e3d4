package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"rankpool/config"
	"rankpool/logging"
	"rankpool/models"
)

const maxBodyBytes = 16 << 20

// APIAdapter calls a source's JSON ranking endpoint. Non-200 answers are
// an empty page for the category, not a failure.
type APIAdapter struct {
	src    *config.SourceConfig
	client *http.Client
	now    func() time.Time
}

func NewAPIAdapter(src *config.SourceConfig, client *http.Client) *APIAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIAdapter{src: src, client: client, now: time.Now}
}

func (a *APIAdapter) ID() string {
	return a.src.ID
}

func (a *APIAdapter) Close() error { return nil }

func (a *APIAdapter) Fetch(ctx context.Context, cat models.Category) (*models.RawPage, error) {
	req, err := a.buildRequest(ctx, cat)
	if err != nil {
		return nil, err
	}
	target := req.URL.String()

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyError(err, 0, target)
	}
	defer resp.Body.Close()

	page := &models.RawPage{
		Kind:      models.PageJSON,
		Source:    a.src.ID,
		Category:  cat.Code,
		URL:       target,
		Status:    resp.StatusCode,
		FetchedAt: a.now(),
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		logging.Logf(models.LogLevelWarn, a.src.ID, "category %s: status %d: %s", cat.Code, resp.StatusCode, snippet)
		return page, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyError(err, 0, target)
	}
	page.Bodies = [][]byte{body}
	return page, nil
}

// buildRequest merges source and category params. GET puts them in the
// query string; POST sends them as a JSON object.
func (a *APIAdapter) buildRequest(ctx context.Context, cat models.Category) (*http.Request, error) {
	method := a.src.Request.Method
	if method == "" {
		method = http.MethodGet
	}

	var req *http.Request
	if method == http.MethodGet {
		target, err := categoryURL(a.src, cat, a.src.Request.Endpoint)
		if err != nil {
			return nil, err
		}
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, err
		}
	} else {
		params := make(map[string]string, len(a.src.Request.Params)+len(cat.Params))
		for k, v := range a.src.Request.Params {
			params[k] = v
		}
		for k, v := range cat.Params {
			params[k] = v
		}
		body, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		endpoint := cat.URL
		if endpoint == "" {
			endpoint = a.src.Request.Endpoint
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat.Code, err)
		}
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range a.src.Request.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
