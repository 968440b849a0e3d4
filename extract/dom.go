package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"rankpool/models"
)

// Field locates one value relative to a listing container. An empty
// Selector means the container itself. Attr may list fallbacks separated
// by commas ("data-original,src"); empty Attr reads the element text.
// Pattern, when set, keeps the first submatch (or the whole match).
type Field struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr"`
	Pattern  string `yaml:"pattern"`
}

// SelectorGroup is one hypothesis about how a ranking page lays out its
// listings.
type SelectorGroup struct {
	Group       string `yaml:"group"`
	Container   string `yaml:"container"`
	ID          Field  `yaml:"id"`
	Name        Field  `yaml:"name"`
	Brand       Field  `yaml:"brand"`
	Price       Field  `yaml:"price"`
	Image       Field  `yaml:"image"`
	Link        Field  `yaml:"link"`
	ReviewCount Field  `yaml:"review_count"`
	Rating      Field  `yaml:"rating"`
}

type compiledField struct {
	selector string
	attrs    []string
	pattern  *regexp.Regexp
	set      bool
}

func compileField(f Field) (compiledField, error) {
	cf := compiledField{
		selector: strings.TrimSpace(f.Selector),
		set:      f.Selector != "" || f.Attr != "" || f.Pattern != "",
	}
	for _, a := range strings.Split(f.Attr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			cf.attrs = append(cf.attrs, a)
		}
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return cf, err
		}
		cf.pattern = re
	}
	return cf, nil
}

func (f compiledField) value(container *goquery.Selection) string {
	if !f.set {
		return ""
	}
	sel := container
	if f.selector != "" {
		sel = container.Find(f.selector).First()
		if sel.Length() == 0 {
			return ""
		}
	}

	var raw string
	if len(f.attrs) == 0 {
		raw = strings.Join(strings.Fields(sel.Text()), " ")
	} else {
		for _, a := range f.attrs {
			if v, ok := sel.Attr(a); ok && strings.TrimSpace(v) != "" {
				raw = strings.TrimSpace(v)
				break
			}
		}
	}

	if f.pattern != nil && raw != "" {
		m := f.pattern.FindStringSubmatch(raw)
		switch {
		case m == nil:
			return ""
		case len(m) > 1:
			return m[1]
		default:
			return m[0]
		}
	}
	return raw
}

type domExtractor struct {
	name                                                  string
	container                                             string
	id, title, brand, price, image, link, reviews, rating compiledField
}

func newDOMExtractor(g SelectorGroup, idx int) (*domExtractor, error) {
	if g.Container == "" {
		return nil, fmt.Errorf("selector group %d: container is required", idx)
	}
	name := g.Group
	if name == "" {
		name = fmt.Sprintf("group-%d", idx)
	}
	d := &domExtractor{name: name, container: g.Container}

	targets := []struct {
		dst *compiledField
		src Field
		key string
	}{
		{&d.id, g.ID, "id"},
		{&d.title, g.Name, "name"},
		{&d.brand, g.Brand, "brand"},
		{&d.price, g.Price, "price"},
		{&d.image, g.Image, "image"},
		{&d.link, g.Link, "link"},
		{&d.reviews, g.ReviewCount, "review_count"},
		{&d.rating, g.Rating, "rating"},
	}
	for _, t := range targets {
		cf, err := compileField(t.src)
		if err != nil {
			return nil, fmt.Errorf("selector group %s: field %s: %w", name, t.key, err)
		}
		*t.dst = cf
	}
	return d, nil
}

// extract returns only structurally complete records (id and name present).
func (d *domExtractor) extract(doc *goquery.Document) []models.RawListing {
	var out []models.RawListing
	doc.Find(d.container).Each(func(_ int, s *goquery.Selection) {
		rec := models.RawListing{
			NativeID:    d.id.value(s),
			Name:        d.title.value(s),
			Brand:       d.brand.value(s),
			PriceText:   d.price.value(s),
			ImageURL:    d.image.value(s),
			DetailURL:   d.link.value(s),
			ReviewCount: d.reviews.value(s),
			Rating:      d.rating.value(s),
		}
		if rec.NativeID == "" || rec.Name == "" {
			return
		}
		out = append(out, rec)
	})
	return out
}
