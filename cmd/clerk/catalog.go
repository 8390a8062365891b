package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/clerk/internal/catalog"
	"github.com/ent0n29/clerk/internal/config"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and seed the product catalog",
		Long: `Inspect the product catalog the assistant serves.

The catalog is read from CATALOG_DATABASE_URL when set, otherwise from
CATALOG_FEED_URL.

Examples:
  clerk catalog categories
  clerk catalog newest --count 5 --json
  clerk catalog seed                   # copy the feed into postgres`,
	}

	cmd.AddCommand(
		catalogCategoriesCmd(),
		catalogNewestCmd(),
		catalogSeedCmd(),
	)
	return cmd
}

func catalogCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List product categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := loadCatalog(commandContext(cmd))
			if err != nil {
				return err
			}
			categories := cache.Categories()
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), categories)
			}
			for _, c := range categories {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}

func catalogNewestCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "newest",
		Short: "Show the most recently added products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := loadCatalog(commandContext(cmd))
			if err != nil {
				return err
			}
			products := cache.Newest(count)
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), products)
			}
			for _, p := range products {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%.2f\t%s\n", p.ID, p.Name, p.Price, p.CreatedAt)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", catalog.DefaultNewestCount, "Number of products to show")
	return cmd
}

func catalogSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Copy the HTTP feed into the catalog database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if strings.TrimSpace(cfg.CatalogDatabaseURL) == "" {
				return fmt.Errorf("CATALOG_DATABASE_URL is required for seeding")
			}

			ctx := commandContext(cmd)
			products, err := catalog.NewHTTPSource(cfg.CatalogFeedURL, cfg.CatalogFetchTimeout).Fetch(ctx)
			if err != nil {
				return err
			}
			db, err := catalog.NewPostgresSource(ctx, cfg.CatalogDatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Seed(ctx, products); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products\n", len(products))
			return nil
		},
	}
}

func loadCatalog(ctx context.Context) (*catalog.Cache, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	src, err := catalog.NewSource(ctx, catalog.SourceConfig{
		FeedURL:      cfg.CatalogFeedURL,
		DatabaseURL:  cfg.CatalogDatabaseURL,
		FetchTimeout: cfg.CatalogFetchTimeout,
	})
	if err != nil {
		return nil, err
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}
	return catalog.Load(ctx, src)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
