package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankpool/extract"
	"rankpool/models"
)

var skincare = models.Category{Code: "10000010001", Name: "스킨케어", Label: "BEAUTY"}

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New("oliveyoung", "https://www.oliveyoung.co.kr/store/main/getBestList.do")
	require.NoError(t, err)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return n
}

func TestNormalize_MapsFields(t *testing.T) {
	n := newTestNormalizer(t)
	p, rank, err := n.Normalize(models.RawListing{
		NativeID:    " A000000184228 ",
		Name:        "독도 토너",
		PriceText:   "12,900원",
		ImageURL:    "//image.oliveyoung.co.kr/a.jpg",
		DetailURL:   "/store/goods/getGoodsDetail.do?goodsNo=A000000184228",
		ReviewCount: "(3,412)",
		Rating:      "4.8",
	}, 4, skincare)
	require.NoError(t, err)

	assert.Equal(t, 4, rank)
	assert.Equal(t, "oliveyoung", p.Source)
	assert.Equal(t, "A000000184228", p.ProductID)
	assert.Equal(t, "", p.Brand)
	assert.Equal(t, int64(12900), p.Price)
	assert.Equal(t, "https://image.oliveyoung.co.kr/a.jpg", p.ImageURL)
	assert.Equal(t, "https://www.oliveyoung.co.kr/store/goods/getGoodsDetail.do?goodsNo=A000000184228", p.URL)
	assert.Equal(t, "BEAUTY", p.Category)
	assert.Equal(t, 3412, p.ReviewCount)
	assert.Equal(t, 4.8, p.ReviewRating)
	assert.Nil(t, p.Tags)
	assert.Nil(t, p.AISummary)
}

func TestNormalize_UnparsablePriceStillEmitted(t *testing.T) {
	n := newTestNormalizer(t)
	p, _, err := n.Normalize(models.RawListing{NativeID: "x1", Name: "세럼", PriceText: "N/A"}, 1, skincare)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Price)
}

func TestNormalize_SkipsIncomplete(t *testing.T) {
	n := newTestNormalizer(t)
	_, _, err := n.Normalize(models.RawListing{NativeID: "x1", Name: "  "}, 1, skincare)
	assert.True(t, errors.Is(err, ErrSkip))
	_, _, err = n.Normalize(models.RawListing{Name: "세럼"}, 1, skincare)
	assert.True(t, errors.Is(err, ErrSkip))
}

func TestNormalizeAll_RanksFollowDedupOrder(t *testing.T) {
	n := newTestNormalizer(t)
	records := extract.Finalize([]models.RawListing{
		{NativeID: "1", Name: "A"},
		{NativeID: "2", Name: "B"},
		{NativeID: "1", Name: "A-prime"},
		{NativeID: "3", Name: "C"},
	}, 100)

	b := n.NormalizeAll(records, skincare)
	require.Len(t, b.Items, 3)
	assert.Equal(t, 0, b.Skipped)
	for i, want := range []string{"A", "B", "C"} {
		assert.Equal(t, want, b.Items[i].Product.Name)
		assert.Equal(t, i+1, b.Items[i].Rank)
	}
}

func TestNormalizeAll_CountsSkipped(t *testing.T) {
	n := newTestNormalizer(t)
	b := n.NormalizeAll([]models.RawListing{
		{NativeID: "1", Name: "A"},
		{NativeID: "", Name: "no id"},
		{NativeID: "3", Name: "C"},
	}, skincare)
	require.Len(t, b.Items, 2)
	assert.Equal(t, 1, b.Skipped)
	assert.Equal(t, 3, b.Items[1].Rank)
}

func TestResolve(t *testing.T) {
	n := newTestNormalizer(t)
	assert.Equal(t, "", n.Resolve(" "))
	assert.Equal(t, "https://cdn.example.com/x.jpg", n.Resolve("https://cdn.example.com/x.jpg"))
	assert.Equal(t, "https://www.oliveyoung.co.kr/store/main/x.jpg", n.Resolve("x.jpg"))

	bare, err := New("ably", "")
	require.NoError(t, err)
	assert.Equal(t, "https://img.a-bly.com/a.jpg", bare.Resolve("//img.a-bly.com/a.jpg"))
	assert.Equal(t, "goods/1", bare.Resolve("goods/1"))

	_, err = New("ably", "/relative")
	assert.Error(t, err)
}
