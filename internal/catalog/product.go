package catalog

import (
	"strings"
	"time"
)

// Product is an immutable catalog entry.
type Product struct {
	ID                 int      `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Category           string   `json:"category"`
	Price              float64  `json:"price"`
	DiscountPercentage float64  `json:"discountPercentage"`
	Rating             float64  `json:"rating"`
	Tags               []string `json:"tags,omitempty"`
	AvailabilityStatus string   `json:"availabilityStatus,omitempty"`
	// CreatedAt is kept exactly as the feed delivered it.
	CreatedAt string `json:"createdAt,omitempty"`
}

// CreatedTime parses CreatedAt as RFC 3339.
func (p Product) CreatedTime() (time.Time, bool) {
	raw := strings.TrimSpace(p.CreatedAt)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// feedProduct mirrors one entry of the upstream products document.
type feedProduct struct {
	ID                 int      `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Category           string   `json:"category"`
	Price              float64  `json:"price"`
	DiscountPercentage float64  `json:"discountPercentage"`
	Rating             float64  `json:"rating"`
	Tags               []string `json:"tags"`
	AvailabilityStatus string   `json:"availabilityStatus"`
	Meta               struct {
		CreatedAt string `json:"createdAt"`
	} `json:"meta"`
}

type feedDocument struct {
	Products []feedProduct `json:"products"`
}

func (f feedProduct) product() Product {
	return Product{
		ID:                 f.ID,
		Name:               f.Title,
		Description:        f.Description,
		Category:           f.Category,
		Price:              f.Price,
		DiscountPercentage: f.DiscountPercentage,
		Rating:             f.Rating,
		Tags:               append([]string(nil), f.Tags...),
		AvailabilityStatus: f.AvailabilityStatus,
		CreatedAt:          f.Meta.CreatedAt,
	}
}
