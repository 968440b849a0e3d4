package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankpool/config"
)

func newMockedGoogle(t *testing.T) *GoogleTranslator {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewGoogleTranslator(config.TranslateConfig{APIKey: "k-123"}, client)
}

func TestGoogleTranslator_Translate(t *testing.T) {
	g := newMockedGoogle(t)

	httpmock.RegisterResponder(http.MethodPost, googleEndpoint,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "k-123", req.URL.Query().Get("key"))
			var body translateRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, []string{"무신사 스탠다드", "나이키"}, body.Q)
			assert.Equal(t, "ko", body.Source)
			assert.Equal(t, "en", body.Target)
			return httpmock.NewStringResponse(200,
				`{"data":{"translations":[{"translatedText":"Musinsa Standard"},{"translatedText":"Nike"}]}}`), nil
		})

	got, err := g.Translate(context.Background(), []string{"무신사 스탠다드", "나이키"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"무신사 스탠다드": "Musinsa Standard", "나이키": "Nike"}, got)
}

func TestGoogleTranslator_ErrorStatus(t *testing.T) {
	g := newMockedGoogle(t)
	httpmock.RegisterResponder(http.MethodPost, googleEndpoint,
		httpmock.NewStringResponder(403, `{"error":{"message":"API key not valid"}}`))

	_, err := g.Translate(context.Background(), []string{"나이키"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

type fakeTranslator struct {
	calls int
	out   map[string]string
	err   error
}

func (f *fakeTranslator) Translate(_ context.Context, texts []string) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	res := map[string]string{}
	for _, t := range texts {
		if v, ok := f.out[t]; ok {
			res[t] = v
		}
	}
	return res, nil
}

func TestBrandTranslator_English(t *testing.T) {
	ft := &fakeTranslator{out: map[string]string{"나이키": "Nike"}}
	b := NewBrandTranslator(ft, nil)
	ctx := context.Background()

	assert.Equal(t, "", b.English(ctx, "  "))
	assert.Equal(t, "COS", b.English(ctx, "COS"))
	assert.Equal(t, 0, ft.calls, "ascii brands must not hit the API")

	assert.Equal(t, "Nike", b.English(ctx, "나이키"))
	assert.Equal(t, "Nike", b.English(ctx, "나이키"))
	assert.Equal(t, 1, ft.calls, "second lookup should come from cache")

	assert.Equal(t, "", b.English(ctx, "알수없음"))
}

func TestBrandTranslator_FailureLeavesEmpty(t *testing.T) {
	b := NewBrandTranslator(&fakeTranslator{err: errors.New("quota")}, nil)
	assert.Equal(t, "", b.English(context.Background(), "아디다스"))

	none := NewBrandTranslator(nil, nil)
	assert.Equal(t, "", none.English(context.Background(), "아디다스"))
	assert.Equal(t, "MLB", none.English(context.Background(), "MLB"))
}

func TestCache_RedisTier(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewCache(&redisClient{client: db}, time.Hour)
	ctx := context.Background()

	mock.ExpectGet(keyPrefix + "나이키").SetVal("Nike")
	v, ok := cache.Get(ctx, "나이키")
	assert.True(t, ok)
	assert.Equal(t, "Nike", v)

	// served locally now
	v, ok = cache.Get(ctx, "나이키")
	assert.True(t, ok)
	assert.Equal(t, "Nike", v)

	mock.ExpectGet(keyPrefix + "아디다스").RedisNil()
	_, ok = cache.Get(ctx, "아디다스")
	assert.False(t, ok)

	mock.ExpectSet(keyPrefix+"아디다스", "Adidas", time.Hour).SetVal("OK")
	cache.Set(ctx, "아디다스", "Adidas")

	mock.ExpectGet(keyPrefix + "푸마").SetErr(errors.New("connection refused"))
	_, ok = cache.Get(ctx, "푸마")
	assert.False(t, ok)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
