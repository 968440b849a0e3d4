package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rankpool/models"
)

// Shape names one known JSON envelope layout.
type Shape string

const (
	ShapeDataGoods           Shape = "data.goods"
	ShapeEntityGoods         Shape = "entity.goods"
	ShapeGoods               Shape = "goods"
	ShapeEntityItemList      Shape = "entity.item_list"
	ShapeEntityItemListGoods Shape = "entity.item_list.goods"
	ShapeDataModulesItems    Shape = "data.modules.items"
	ShapeDataList            Shape = "data.list"
	ShapeProducts            Shape = "products"
	ShapeList                Shape = "list"
)

// DefaultShapes is the resolution order used when a source does not
// restrict it.
var DefaultShapes = []Shape{
	ShapeDataGoods,
	ShapeEntityGoods,
	ShapeGoods,
	ShapeEntityItemList,
	ShapeEntityItemListGoods,
	ShapeDataModulesItems,
	ShapeProducts,
	ShapeDataList,
	ShapeList,
}

type envelope struct {
	Data *struct {
		Goods   []json.RawMessage `json:"goods"`
		List    []json.RawMessage `json:"list"`
		Modules []struct {
			Items []json.RawMessage `json:"items"`
		} `json:"modules"`
	} `json:"data"`
	Entity *struct {
		Goods    []json.RawMessage `json:"goods"`
		ItemList json.RawMessage   `json:"item_list"`
	} `json:"entity"`
	Goods    []json.RawMessage `json:"goods"`
	Products []json.RawMessage `json:"products"`
	List     []json.RawMessage `json:"list"`
}

type shapeResolver func(e *envelope) []json.RawMessage

var resolvers = map[Shape]shapeResolver{
	ShapeDataGoods: func(e *envelope) []json.RawMessage {
		if e.Data == nil {
			return nil
		}
		return e.Data.Goods
	},
	ShapeEntityGoods: func(e *envelope) []json.RawMessage {
		if e.Entity == nil {
			return nil
		}
		return e.Entity.Goods
	},
	ShapeGoods: func(e *envelope) []json.RawMessage {
		return e.Goods
	},
	ShapeEntityItemList: func(e *envelope) []json.RawMessage {
		if e.Entity == nil || len(e.Entity.ItemList) == 0 {
			return nil
		}
		var items []json.RawMessage
		if json.Unmarshal(e.Entity.ItemList, &items) != nil {
			return nil
		}
		return items
	},
	ShapeEntityItemListGoods: func(e *envelope) []json.RawMessage {
		if e.Entity == nil || len(e.Entity.ItemList) == 0 {
			return nil
		}
		var wrapped struct {
			Goods []json.RawMessage `json:"goods"`
		}
		if json.Unmarshal(e.Entity.ItemList, &wrapped) != nil {
			return nil
		}
		return wrapped.Goods
	},
	ShapeDataModulesItems: func(e *envelope) []json.RawMessage {
		if e.Data == nil {
			return nil
		}
		var items []json.RawMessage
		for _, m := range e.Data.Modules {
			items = append(items, m.Items...)
		}
		return items
	},
	ShapeDataList: func(e *envelope) []json.RawMessage {
		if e.Data == nil {
			return nil
		}
		return e.Data.List
	},
	ShapeProducts: func(e *envelope) []json.RawMessage {
		return e.Products
	},
	ShapeList: func(e *envelope) []json.RawMessage {
		return e.List
	},
}

// ParseShapes validates configured shape names. An empty list yields
// DefaultShapes.
func ParseShapes(names []string) ([]Shape, error) {
	if len(names) == 0 {
		return DefaultShapes, nil
	}
	shapes := make([]Shape, 0, len(names))
	for _, n := range names {
		s := Shape(strings.TrimSpace(n))
		if _, ok := resolvers[s]; !ok {
			return nil, fmt.Errorf("unknown json shape %q", n)
		}
		shapes = append(shapes, s)
	}
	return shapes, nil
}

// FieldMap maps a JSON item onto a RawListing. Each field lists candidate
// keys in priority order; a key may be a dotted path ("info.productName").
type FieldMap struct {
	ID                []string          `yaml:"id"`
	Name              []string          `yaml:"name"`
	Brand             []string          `yaml:"brand"`
	Price             []string          `yaml:"price"`
	Image             []string          `yaml:"image"`
	URL               []string          `yaml:"url"`
	ReviewCount       []string          `yaml:"review_count"`
	Rating            []string          `yaml:"rating"`
	DetailURLTemplate string            `yaml:"detail_url_template"`
	IDPrefix          string            `yaml:"id_prefix"`
	Filter            map[string]string `yaml:"filter"`
	SkipIfTrue        []string          `yaml:"skip_if_true"`
	Unwrap            []string          `yaml:"unwrap"`
}

// DefaultFieldMap covers the key names seen across the configured APIs.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		ID:          []string{"id", "sno", "goods_no", "goodsNo", "productId"},
		Name:        []string{"name", "goods_name", "goodsName", "productName", "title"},
		Brand:       []string{"brand_name", "brandName", "market_name", "brand.name", "brand", "mallName"},
		Price:       []string{"sale_price", "salePrice", "finalPrice", "price"},
		Image:       []string{"image", "image_url", "imageUrl", "thumbnail", "thumbnailUrl"},
		URL:         []string{"url", "link", "productUrl", "linkUrl"},
		ReviewCount: []string{"review_count", "reviewCount"},
		Rating:      []string{"review_rating", "reviewScore", "rating"},
	}
}

// withDefaults fills empty key lists from DefaultFieldMap. Unwrap has no
// default; only sources that nest items set it.
func (m FieldMap) withDefaults() FieldMap {
	d := DefaultFieldMap()
	fill := func(dst *[]string, src []string) {
		if len(*dst) == 0 {
			*dst = src
		}
	}
	fill(&m.ID, d.ID)
	fill(&m.Name, d.Name)
	fill(&m.Brand, d.Brand)
	fill(&m.Price, d.Price)
	fill(&m.Image, d.Image)
	fill(&m.URL, d.URL)
	fill(&m.ReviewCount, d.ReviewCount)
	fill(&m.Rating, d.Rating)
	return m
}

type item map[string]json.RawMessage

func (it item) lookup(path string) (json.RawMessage, bool) {
	cur := it
	parts := strings.Split(path, ".")
	for i, p := range parts {
		raw, ok := cur[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return raw, true
		}
		var next item
		if json.Unmarshal(raw, &next) != nil {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// first returns the first candidate resolving to a non-empty scalar.
func (it item) first(keys []string) string {
	for _, k := range keys {
		raw, ok := it.lookup(k)
		if !ok {
			continue
		}
		if s := scalarString(raw); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '{', '[', 'n':
		return ""
	default:
		return string(raw)
	}
}

func (m FieldMap) mapItem(raw json.RawMessage) (models.RawListing, bool) {
	var it item
	if json.Unmarshal(raw, &it) != nil {
		return models.RawListing{}, false
	}
	for _, w := range m.Unwrap {
		inner, ok := it[w]
		if !ok {
			continue
		}
		var next item
		if json.Unmarshal(inner, &next) == nil && next != nil {
			it = next
		}
	}

	for k, want := range m.Filter {
		if it.first([]string{k}) != want {
			return models.RawListing{}, false
		}
	}
	for _, k := range m.SkipIfTrue {
		if it.first([]string{k}) == "true" {
			return models.RawListing{}, false
		}
	}

	nativeID := it.first(m.ID)
	rec := models.RawListing{
		NativeID:    nativeID,
		Name:        it.first(m.Name),
		Brand:       it.first(m.Brand),
		PriceText:   it.first(m.Price),
		ImageURL:    it.first(m.Image),
		DetailURL:   it.first(m.URL),
		ReviewCount: it.first(m.ReviewCount),
		Rating:      it.first(m.Rating),
	}
	if rec.DetailURL == "" && m.DetailURLTemplate != "" && nativeID != "" {
		rec.DetailURL = strings.ReplaceAll(m.DetailURLTemplate, "{id}", nativeID)
	}
	if m.IDPrefix != "" && nativeID != "" {
		rec.NativeID = m.IDPrefix + nativeID
	}
	return rec, true
}

// envelopes splits a response body into the envelopes to resolve. Bodies
// with a top-level "components" array resolve each component separately.
func envelopes(body []byte) ([]envelope, error) {
	var wrapper struct {
		Components []json.RawMessage `json:"components"`
	}
	parts := []json.RawMessage{body}
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Components) > 0 {
		parts = wrapper.Components
	} else if err != nil && !isTypeError(err) {
		return nil, err
	}

	out := make([]envelope, 0, len(parts))
	for _, p := range parts {
		var e envelope
		if err := json.Unmarshal(p, &e); err != nil && !isTypeError(err) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Unmarshal keeps filling the other fields when one has an unexpected
// type, so such errors still leave a usable envelope.
func isTypeError(err error) bool {
	var te *json.UnmarshalTypeError
	return errors.As(err, &te)
}

// resolve tries each shape in order and returns the items of the first
// non-empty one.
func resolve(e *envelope, shapes []Shape) ([]json.RawMessage, Shape, bool) {
	for _, s := range shapes {
		if items := resolvers[s](e); len(items) > 0 {
			return items, s, true
		}
	}
	return nil, "", false
}
