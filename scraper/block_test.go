package scraper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func TestDetectBlock_Incapsula(t *testing.T) {
	html := string(loadFixture(t, "blocked_incapsula.html"))

	marker := detectBlock(html, nil, []string{".cate_prd_list > li"})
	if marker != "Request unsuccessful. Incapsula" {
		t.Fatalf("expected incapsula marker, got %q", marker)
	}
}

func TestDetectBlock_ChallengeSelector(t *testing.T) {
	html := `<html><body><form id="challenge-form"></form></body></html>`
	assert.Equal(t, "#challenge-form", detectBlock(html, []string{"never-present"}, nil))
}

func TestDetectBlock_ListingWins(t *testing.T) {
	html := string(loadFixture(t, "ranking_page.html"))

	assert.Equal(t, "", detectBlock(html, nil, []string{".cate_prd_list > li"}))
	assert.Equal(t, "Access Denied", detectBlock(html, nil, []string{".missing"}),
		"without a listing container the marker text counts")
}

func TestDetectBlock_Empty(t *testing.T) {
	assert.Equal(t, "", detectBlock("   ", nil, nil))
}
