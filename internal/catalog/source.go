package catalog

import (
	"context"
	"strings"
	"time"
)

// Source yields the full product list in a stable order.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Product, error)
}

// SourceConfig selects and configures a catalog source.
type SourceConfig struct {
	FeedURL      string
	DatabaseURL  string
	FetchTimeout time.Duration
}

// NewSource creates a postgres-backed source when a database URL is
// configured, otherwise the HTTP feed.
func NewSource(ctx context.Context, cfg SourceConfig) (Source, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return NewHTTPSource(cfg.FeedURL, cfg.FetchTimeout), nil
	}
	return NewPostgresSource(ctx, cfg.DatabaseURL)
}
