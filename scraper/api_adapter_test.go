package scraper

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankpool/config"
	"rankpool/models"
)

const rankEndpoint = "https://api.example.com/ranking"

func apiSource(method string) *config.SourceConfig {
	return &config.SourceConfig{
		ID:      "musinsa",
		Handler: config.HandlerAPI,
		Request: config.RequestConfig{
			Endpoint: rankEndpoint,
			Method:   method,
			Params:   map[string]string{"storeCode": "musinsa", "gf": "A"},
			Headers:  map[string]string{"Referer": "https://www.musinsa.com/"},
		},
	}
}

func TestAPIAdapter_GetMergesParams(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	body := `{"data":{"modules":[{"items":[{"id":"1"}]}]}}`
	httpmock.RegisterResponderWithQuery(http.MethodGet, rankEndpoint,
		map[string]string{"storeCode": "musinsa", "gf": "A", "categoryCode": "001"},
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "https://www.musinsa.com/", req.Header.Get("Referer"))
			return httpmock.NewStringResponse(200, body), nil
		})

	a := NewAPIAdapter(apiSource(""), client)
	page, err := a.Fetch(context.Background(), models.Category{Code: "001", Params: map[string]string{"categoryCode": "001"}})
	require.NoError(t, err)

	assert.Equal(t, models.PageJSON, page.Kind)
	assert.Equal(t, 200, page.Status)
	assert.Equal(t, "001", page.Category)
	require.Len(t, page.Bodies, 1)
	assert.JSONEq(t, body, string(page.Bodies[0]))
}

func TestAPIAdapter_PostSendsJSON(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, rankEndpoint,
		func(req *http.Request) (*http.Response, error) {
			data, _ := io.ReadAll(req.Body)
			var params map[string]string
			if err := json.Unmarshal(data, &params); err != nil {
				return httpmock.NewStringResponse(400, ""), nil
			}
			assert.Equal(t, "PRODUCT_BUY", params["sortType"])
			assert.Equal(t, "musinsa", params["storeCode"])
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			return httpmock.NewStringResponse(200, `{"products":[]}`), nil
		})

	a := NewAPIAdapter(apiSource(http.MethodPost), client)
	page, err := a.Fetch(context.Background(), models.Category{Code: "buy", Params: map[string]string{"sortType": "PRODUCT_BUY"}})
	require.NoError(t, err)
	assert.Equal(t, 200, page.Status)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestAPIAdapter_NonOKIsEmptyPage(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, `=~^https://api\.example\.com/ranking`,
		httpmock.NewStringResponder(503, "maintenance"))

	a := NewAPIAdapter(apiSource(""), client)
	page, err := a.Fetch(context.Background(), models.Category{Code: "001"})
	require.NoError(t, err)
	assert.Equal(t, 503, page.Status)
	assert.True(t, page.Empty())
}

func TestAPIAdapter_TransportError(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, `=~^https://api\.example\.com/ranking`,
		httpmock.NewErrorResponder(context.DeadlineExceeded))

	a := NewAPIAdapter(apiSource(""), client)
	_, err := a.Fetch(context.Background(), models.Category{Code: "001"})
	require.Error(t, err)
	assert.Equal(t, "timeout", ErrorType(err))
}
