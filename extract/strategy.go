package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"rankpool/models"
)

// ErrNoMatch means the page was fetched but no selector group or JSON shape
// produced a usable record.
var ErrNoMatch = errors.New("no extractor matched")

type Options struct {
	Selectors []SelectorGroup
	Shapes    []string
	Fields    FieldMap
}

// Result lists the records in page order and the names of the selector
// groups or shapes that produced them.
type Result struct {
	Records []models.RawListing
	Matched []string
}

// Strategy turns raw pages into raw listings. It holds no per-call state;
// shapes are resolved again for every response.
type Strategy struct {
	dom    []*domExtractor
	shapes []Shape
	fields FieldMap
}

func New(opts Options) (*Strategy, error) {
	s := &Strategy{fields: opts.Fields.withDefaults()}
	for i, g := range opts.Selectors {
		d, err := newDOMExtractor(g, i)
		if err != nil {
			return nil, err
		}
		s.dom = append(s.dom, d)
	}
	shapes, err := ParseShapes(opts.Shapes)
	if err != nil {
		return nil, err
	}
	s.shapes = shapes
	return s, nil
}

func (s *Strategy) Extract(page *models.RawPage) (*Result, error) {
	if page == nil {
		return &Result{}, ErrNoMatch
	}
	switch page.Kind {
	case models.PageDOM:
		return s.extractDOM(page.HTML)
	case models.PageJSON:
		res, err := s.extractJSON(page.Bodies)
		if errors.Is(err, ErrNoMatch) && page.HTML != "" && len(s.dom) > 0 {
			return s.extractDOM(page.HTML)
		}
		return res, err
	default:
		return nil, fmt.Errorf("unsupported page kind %q", page.Kind)
	}
}

// extractDOM accepts the first group yielding at least one complete record.
func (s *Strategy) extractDOM(html string) (*Result, error) {
	if strings.TrimSpace(html) == "" {
		return &Result{}, ErrNoMatch
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	for _, d := range s.dom {
		if recs := d.extract(doc); len(recs) > 0 {
			return &Result{Records: recs, Matched: []string{d.name}}, nil
		}
	}
	return &Result{}, ErrNoMatch
}

// extractJSON resolves every body (and every component inside it) on its
// own and concatenates the items in arrival order. Bodies that are not
// JSON objects are skipped.
func (s *Strategy) extractJSON(bodies [][]byte) (*Result, error) {
	res := &Result{}
	seen := map[Shape]bool{}
	for _, body := range bodies {
		envs, err := envelopes(body)
		if err != nil {
			continue
		}
		for i := range envs {
			items, shape, ok := resolve(&envs[i], s.shapes)
			if !ok {
				continue
			}
			if !seen[shape] {
				seen[shape] = true
				res.Matched = append(res.Matched, string(shape))
			}
			for _, raw := range items {
				if rec, ok := s.fields.mapItem(raw); ok {
					res.Records = append(res.Records, rec)
				}
			}
		}
	}
	if len(res.Records) == 0 {
		return res, ErrNoMatch
	}
	return res, nil
}
