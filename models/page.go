package models

import "time"

type PageKind string

const (
	PageDOM  PageKind = "dom"
	PageJSON PageKind = "json"
)

// RawPage is the adapter output for one category. DOM pages carry the
// rendered HTML; JSON pages carry every response body captured for the
// category, in arrival order, plus the rendered HTML when a browser
// captured them so extraction can fall back to the DOM.
type RawPage struct {
	Kind      PageKind
	Source    string
	Category  string
	URL       string
	Status    int
	HTML      string
	Bodies    [][]byte
	FetchedAt time.Time
}

// Empty reports whether the page carries no payload at all.
func (p *RawPage) Empty() bool {
	if p == nil {
		return true
	}
	if p.Kind == PageDOM {
		return p.HTML == ""
	}
	return len(p.Bodies) == 0 && p.HTML == ""
}
