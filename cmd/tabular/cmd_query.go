package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tabular/internal/config"
	"tabular/internal/grid"
	"tabular/internal/source"
)

var (
	queryPage     int
	queryPages    int
	queryPageSize int
	querySort     string
	queryFilter   string
	queryTimeout  time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Dump pages from the configured source without the TUI",
	Long: `Query exercises the server-mode page contract headlessly: it fetches
one or more pages concurrently and prints them as text. Useful for
validating a source config before opening the browser.`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryPage, "page", 0, "first page index to fetch")
	queryCmd.Flags().IntVar(&queryPages, "pages", 1, "number of consecutive pages to fetch")
	queryCmd.Flags().IntVar(&queryPageSize, "page-size", 20, "rows per page")
	queryCmd.Flags().StringVar(&querySort, "sort", "", "sort spec, e.g. name or name:desc")
	queryCmd.Flags().StringVar(&queryFilter, "filter", "", "global filter text")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 30*time.Second, "overall fetch timeout")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	pager, columns, closeFn, err := buildPager(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	req := source.PageRequest{
		PageSize:     queryPageSize,
		GlobalFilter: queryFilter,
	}
	if querySort != "" {
		key, err := parseSortSpec(querySort)
		if err != nil {
			return err
		}
		req.Sort = append(req.Sort, key)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
	defer cancel()

	pages := make([]source.Page[source.Record], queryPages)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < queryPages; i++ {
		i := i
		g.Go(func() error {
			r := req
			r.PageIndex = queryPage + i
			page, err := pager.FetchPage(gctx, r)
			if err != nil {
				return fmt.Errorf("page %d: %w", r.PageIndex, err)
			}
			pages[i] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(columns, "\t"))
	for _, page := range pages {
		for _, row := range page.Rows {
			cells := make([]string, len(columns))
			for j, col := range columns {
				cells[j] = fmt.Sprint(row.Raw[col])
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(pages) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d matching rows, %d pages\n",
			pages[0].TotalCount, pages[0].PageCount)
	}
	return nil
}

// buildPager constructs a server-mode pager for the configured source.
// CSV files are wrapped in the in-memory pager.
func buildPager(cfg config.Config) (source.Pager[source.Record], []string, func(), error) {
	switch cfg.Source.Driver {
	case "sqlite":
		src, err := source.OpenSQL(cfg.Source.Path, cfg.Source.Table, cfg.Source.IDColumn, cfg.Source.Columns, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return src, src.Columns(), func() { src.Close() }, nil
	case "csv":
		src := source.NewCSV(cfg.Source.Path, logger)
		rows, header, err := src.Load()
		if err != nil {
			return nil, nil, nil, err
		}
		mem := source.NewMemory(rows, source.RecordColumns(header), logger)
		return mem, header, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("query supports csv and sqlite sources, got %q", cfg.Source.Driver)
	}
}

func parseSortSpec(spec string) (key grid.SortKey, err error) {
	parts := strings.SplitN(spec, ":", 2)
	key.ColumnID = parts[0]
	if len(parts) == 2 {
		switch parts[1] {
		case "asc":
		case "desc":
			key.Direction = grid.SortDescending
		default:
			return key, fmt.Errorf("sort direction must be asc or desc, got %q", parts[1])
		}
	}
	return key, nil
}
