package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agrikart/catalog/internal/domain"
)

// Catalog is the part of the coordinator the CLI drives.
type Catalog interface {
	Stats(ctx context.Context) (*domain.Stats, error)
	DeleteAllProducts(ctx context.Context) (*domain.PurgeResult, error)
}

// Opener builds a Catalog and returns a function releasing its resources.
type Opener func(ctx context.Context, logLevel string) (Catalog, func(), error)

var errNotConfirmed = errors.New("purge deletes every product and image; rerun with --yes to confirm")

func newRootCommand(open Opener, out io.Writer) *cobra.Command {
	var (
		logLevel string
		asJSON   bool
	)

	root := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Administrative commands for the product catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (defaults to LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	withCatalog := func(cmd *cobra.Command, fn func(context.Context, Catalog) error) error {
		catalog, closeFn, err := open(cmd.Context(), logLevel)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer closeFn()
		return fn(cmd.Context(), catalog)
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print the product count per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCatalog(cmd, func(ctx context.Context, c Catalog) error {
				s, err := c.Stats(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, s)
				}
				return writeStats(out, s)
			})
		},
	}

	var confirmed bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every product and its image (refused in production)",
		Long: `Delete every product record and every referenced image.

Image deletions are best effort: failures are counted and reported but do not
stop the purge. The command is refused when ENVIRONMENT is production.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return errNotConfirmed
			}
			return withCatalog(cmd, func(ctx context.Context, c Catalog) error {
				res, err := c.DeleteAllProducts(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, res)
				}
				_, err = fmt.Fprintf(out, "deleted %d products, %d images (%d image deletions failed)\n",
					res.ProductsDeleted, res.AssetsDeleted, res.AssetsFailed)
				return err
			})
		},
	}
	purge.Flags().BoolVar(&confirmed, "yes", false, "Confirm the purge")

	root.AddCommand(stats, purge)
	return root
}

func writeStats(out io.Writer, s *domain.Stats) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tPRODUCTS")
	for _, c := range domain.Categories() {
		fmt.Fprintf(tw, "%s\t%d\n", c, s.ByCategory[c])
	}
	fmt.Fprintf(tw, "TOTAL\t%d\n", s.Total)
	return tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
