package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultNewestCount is used when Newest is asked for a non-positive count.
const DefaultNewestCount = 3

// Cache holds the product list loaded once at startup. It is never refreshed
// and is safe for concurrent readers.
type Cache struct {
	products []Product
}

// Load fetches the catalog from src. Any error is returned to the caller so
// that startup fails instead of serving an empty catalog.
func Load(ctx context.Context, src Source) (*Cache, error) {
	if src == nil {
		return nil, fmt.Errorf("catalog source is required")
	}
	products, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog from %s: %w", src.Name(), err)
	}
	return New(products), nil
}

func New(products []Product) *Cache {
	return &Cache{products: append([]Product(nil), products...)}
}

func (c *Cache) Len() int {
	return len(c.products)
}

// Products returns every product in feed order.
func (c *Cache) Products() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

func (c *Cache) ByCategory(category string) []Product {
	category = strings.TrimSpace(category)
	out := make([]Product, 0)
	if category == "" {
		return out
	}
	for _, p := range c.products {
		if strings.EqualFold(p.Category, category) {
			out = append(out, p)
		}
	}
	return out
}

// SearchKeyword matches q as a case-insensitive substring of the product name
// or category.
func (c *Cache) SearchKeyword(q string) []Product {
	needle := lower(q)
	out := make([]Product, 0)
	if needle == "" {
		return out
	}
	for _, p := range c.products {
		if strings.Contains(lower(p.Name), needle) || strings.Contains(lower(p.Category), needle) {
			out = append(out, p)
		}
	}
	return out
}

// SearchDescription ranks products by how many distinct words of q (three
// runes or longer) appear in their description, name or tags.
func (c *Cache) SearchDescription(q string) []Product {
	tokens := descriptionTokens(q)
	out := make([]Product, 0)
	if len(tokens) == 0 {
		return out
	}

	type hit struct {
		product Product
		score   int
	}
	hits := make([]hit, 0)
	for _, p := range c.products {
		haystack := lower(p.Description + " " + p.Name + " " + strings.Join(p.Tags, " "))
		score := 0
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{product: p, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	for _, h := range hits {
		out = append(out, h.product)
	}
	return out
}

// Categories lists distinct categories in first-seen order, comparing
// case-insensitively.
func (c *Cache) Categories() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, p := range c.products {
		name := strings.TrimSpace(p.Category)
		if name == "" {
			continue
		}
		key := lower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Newest returns up to n products ordered by creation time, newest first.
// Products with an unparseable timestamp are skipped.
func (c *Cache) Newest(n int) []Product {
	if n <= 0 {
		n = DefaultNewestCount
	}
	type dated struct {
		product Product
		created int64
	}
	items := make([]dated, 0, len(c.products))
	for _, p := range c.products {
		t, ok := p.CreatedTime()
		if !ok {
			continue
		}
		items = append(items, dated{product: p, created: t.UnixNano()})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].created > items[j].created })
	if len(items) > n {
		items = items[:n]
	}
	out := make([]Product, 0, len(items))
	for _, it := range items {
		out = append(out, it.product)
	}
	return out
}

// FindByName returns the first product whose name contains fragment.
func (c *Cache) FindByName(fragment string) (Product, bool) {
	needle := lower(fragment)
	if needle == "" {
		return Product{}, false
	}
	for _, p := range c.products {
		if strings.Contains(lower(p.Name), needle) {
			return p, true
		}
	}
	return Product{}, false
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func descriptionTokens(q string) []string {
	fields := strings.FieldsFunc(lower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
