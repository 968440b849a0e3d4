package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var defaultBlockMarkers = []string{
	"Request unsuccessful. Incapsula",
	"Incapsula incident ID",
	"Access Denied",
	"This request was blocked",
}

var challengeSelectors = []string{
	"iframe#main-iframe",
	"#challenge-form",
	"iframe[src*='captcha']",
	"div.g-recaptcha",
}

// detectBlock returns the challenge marker found in html, or "". Pages
// that show any of the listing containers are never treated as blocked.
func detectBlock(html string, markers []string, containers []string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	for _, c := range containers {
		if c != "" && doc.Find(c).Length() > 0 {
			return ""
		}
	}

	if len(markers) == 0 {
		markers = defaultBlockMarkers
	}
	for _, m := range markers {
		if m != "" && strings.Contains(html, m) {
			return m
		}
	}
	for _, sel := range challengeSelectors {
		if doc.Find(sel).Length() > 0 {
			return sel
		}
	}
	return ""
}
