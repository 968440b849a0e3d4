package scraper

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.IncRun("musinsa", "completed")
	m.IncCategory("musinsa", "ok")
	m.AddSaved("musinsa", 3)
	m.IncError("musinsa", "blocked")
	m.ObserveRun("musinsa", time.Second)
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()
	m.IncRun("ssg", "failed")
	m.IncCategory("ssg", "blocked")
	m.IncCategory("ssg", "blocked")
	m.AddSaved("ssg", 0)
	m.AddSaved("oliveyoung", 42)
	m.IncError("ssg", "blocked")
	m.ObserveRun("ssg", 90*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("ssg", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CategoriesTotal.WithLabelValues("ssg", "blocked")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.ItemsSaved.WithLabelValues("oliveyoung")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("ssg", "blocked")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))
}
