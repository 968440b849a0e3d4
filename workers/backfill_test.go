package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankpool/models"
	"rankpool/storage"
)

type mapBrands map[string]string

func (m mapBrands) English(_ context.Context, brand string) string {
	return m[brand]
}

func seedStore(t *testing.T, brands ...string) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	for i, b := range brands {
		_, err := store.UpsertProduct(context.Background(), &models.Product{
			Source:    "musinsa",
			ProductID: string(rune('a' + i)),
			Name:      "item",
			Brand:     b,
		})
		require.NoError(t, err)
	}
	return store
}

func TestProcessBatch_FillsKnownBrands(t *testing.T) {
	store := seedStore(t, "무신사 스탠다드", "마뗑킴", "알수없음")
	w := NewBrandBackfillWorker(store, mapBrands{
		"무신사 스탠다드": "Musinsa Standard",
		"마뗑킴":      "Matin Kim",
	})

	var logged []string
	w.SetLogger(func(level models.LogLevel, source, message string) {
		logged = append(logged, string(level)+":"+message)
	})

	res := w.ProcessBatch(context.Background(), 10)
	assert.Equal(t, BackfillResult{Checked: 3, Filled: 2, Failed: 1}, res)

	p, ok := store.Product("musinsa", "a")
	require.True(t, ok)
	assert.Equal(t, "Musinsa Standard", p.BrandEN)

	missing, err := store.ProductsMissingBrandEN(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "알수없음", missing[0].Brand)

	assert.Equal(t, []string{"info:Filled brand_en for 2 products", "warn:1 brands still untranslated"}, logged)
}

func TestProcessBatch_RespectsBatchSize(t *testing.T) {
	store := seedStore(t, "가", "나", "다")
	w := NewBrandBackfillWorker(store, mapBrands{"가": "Ga", "나": "Na", "다": "Da"})

	assert.Equal(t, 2, w.ProcessBatch(context.Background(), 2).Filled)
	assert.Equal(t, 1, w.ProcessBatch(context.Background(), 2).Filled)
	assert.Equal(t, 0, w.ProcessBatch(context.Background(), 2).Checked)
}

type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) ProductsMissingBrandEN(context.Context, int) ([]models.Product, error) {
	return nil, errors.New("connection reset")
}

func TestProcessBatch_QueryError(t *testing.T) {
	w := NewBrandBackfillWorker(failingStore{storage.NewMemoryStore()}, mapBrands{})
	assert.Equal(t, BackfillResult{}, w.ProcessBatch(context.Background(), 10))
}

func TestRun_Trigger(t *testing.T) {
	store := seedStore(t, "가")
	w := NewBrandBackfillWorker(store, mapBrands{"가": "Ga"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, 10, time.Hour)
		close(done)
	}()

	w.Trigger()
	w.Trigger()
	require.Eventually(t, func() bool {
		p, _ := store.Product("musinsa", "a")
		return p.BrandEN == "Ga"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
