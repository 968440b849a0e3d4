package scraper

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankpool/config"
	"rankpool/extract"
	"rankpool/models"
)

const bestURL = "https://www.oliveyoung.co.kr/store/main/getBestList.do"

func staticSource() *config.SourceConfig {
	return &config.SourceConfig{
		ID:      "oliveyoung",
		Handler: config.HandlerStatic,
		BaseURL: bestURL,
		Selectors: []extract.SelectorGroup{{
			Group:     "best-list",
			Container: ".cate_prd_list > li",
			ID:        extract.Field{Selector: ".prd_info a", Attr: "href", Pattern: `goodsNo=([^&]+)`},
			Name:      extract.Field{Selector: ".tx_name"},
		}},
	}
}

func newStaticWithMock(t *testing.T) (*StaticAdapter, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	a := NewStaticAdapter(staticSource(), &http.Client{Transport: transport})
	a.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return a, transport
}

func TestStaticAdapter_Fetch(t *testing.T) {
	a, transport := newStaticWithMock(t)
	transport.RegisterResponder(http.MethodGet, bestURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Contains(t, req.Header.Get("User-Agent"), "Chrome/120")
			resp := httpmock.NewBytesResponse(200, loadFixture(t, "ranking_page.html"))
			resp.Header.Set("Content-Type", "text/html; charset=utf-8")
			return resp, nil
		})

	page, err := a.Fetch(context.Background(), models.Category{Code: "all"})
	require.NoError(t, err)
	assert.Equal(t, models.PageDOM, page.Kind)
	assert.Equal(t, 200, page.Status)
	assert.Contains(t, page.HTML, "독도 토너")
	assert.False(t, page.FetchedAt.IsZero())
}

func TestStaticAdapter_ForbiddenIsBlocked(t *testing.T) {
	a, transport := newStaticWithMock(t)
	transport.RegisterResponder(http.MethodGet, bestURL, httpmock.NewStringResponder(403, "Forbidden"))

	_, err := a.Fetch(context.Background(), models.Category{Code: "all"})
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 403, blocked.Status)
}

func TestStaticAdapter_ChallengePage(t *testing.T) {
	a, transport := newStaticWithMock(t)
	transport.RegisterResponder(http.MethodGet, bestURL, func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(200, loadFixture(t, "blocked_incapsula.html"))
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	_, err := a.Fetch(context.Background(), models.Category{Code: "all"})
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.NotEmpty(t, blocked.Marker)
}

func TestCategoryURL(t *testing.T) {
	src := &config.SourceConfig{Request: config.RequestConfig{Params: map[string]string{"rowsPerPage": "100"}}}

	got, err := categoryURL(src, models.Category{Code: "skin", Params: map[string]string{"fltDispCatNo": "10000010001"}}, bestURL)
	require.NoError(t, err)
	assert.Equal(t, bestURL+"?fltDispCatNo=10000010001&rowsPerPage=100", got)

	_, err = categoryURL(&config.SourceConfig{}, models.Category{Code: "x"}, "")
	assert.Error(t, err)
}
