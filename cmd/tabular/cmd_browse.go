package main

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tabular/cmd/tabular/ui"
	"tabular/internal/config"
	"tabular/internal/grid"
	"tabular/internal/grid/edit"
	"tabular/internal/grid/engine"
	"tabular/internal/layout"
	"tabular/internal/source"
)

var browseCmd = &cobra.Command{
	Use:   "browse [path]",
	Short: "Open the interactive grid browser",
	Long: `Browse opens the configured data source in a full-screen grid.
An optional path argument overrides source.path from the config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBrowse,
}

func init() {
	rootCmd.AddCommand(browseCmd)
}

func runBrowse(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		cfg.Source.Path = args[0]
	}

	eng, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return ui.Run(eng, logger)
}

// buildEngine wires a data source and engine per the config.
func buildEngine(cfg config.Config, log *zap.Logger) (*engine.Engine[source.Record], func(), error) {
	var layoutStore layout.Store
	if cfg.Layout.Path != "" {
		layoutStore = &layout.FileStore{Path: cfg.Layout.Path}
	}

	editScope := edit.ScopeTable
	if cfg.Engine.EditScope == "row" {
		editScope = edit.ScopeRow
	}

	base := engine.Options[source.Record]{
		Logger:                 log,
		PageSize:               cfg.Engine.PageSize,
		Overscan:               cfg.Engine.Overscan,
		RowHeight:              cfg.Engine.RowHeight,
		Debounce:               cfg.Engine.Debounce(),
		Strict:                 cfg.Engine.Strict,
		DropSelectionOnRemoval: cfg.Engine.DropSelectionOnRemoval,
		EditScope:              editScope,
		LayoutStore:            layoutStore,
		SetCell: func(raw source.Record, columnID string, value any) (source.Record, error) {
			return source.SetRecordCell(raw, columnID, value), nil
		},
	}

	switch cfg.Source.Driver {
	case "csv":
		if cfg.Source.Path == "" {
			return nil, nil, fmt.Errorf("csv source requires a path")
		}
		src := source.NewCSV(cfg.Source.Path, log)
		rows, header, err := src.Load()
		if err != nil {
			return nil, nil, err
		}
		opts := base
		opts.Mode = engine.ModeClient
		opts.Columns = source.RecordColumns(header)
		eng, err := engine.New(opts)
		if err != nil {
			return nil, nil, err
		}
		eng.SetRows(rows)
		if cfg.Source.Watch {
			if err := src.Watch(eng.SetRows); err != nil {
				eng.Close()
				return nil, nil, err
			}
		}
		return eng, func() { src.Close(); eng.Close() }, nil

	case "sqlite":
		src, err := source.OpenSQL(cfg.Source.Path, cfg.Source.Table, cfg.Source.IDColumn, cfg.Source.Columns, log)
		if err != nil {
			return nil, nil, err
		}
		opts := base
		opts.Mode = engine.ModeServer
		opts.Columns = source.RecordColumns(src.Columns())
		opts.Pager = src
		if opts.PageSize <= 0 {
			opts.PageSize = 100
		}
		eng, err := engine.New(opts)
		if err != nil {
			src.Close()
			return nil, nil, err
		}
		return eng, func() { eng.Close(); src.Close() }, nil

	case "memory":
		rows, cols := demoData()
		opts := base
		opts.Mode = engine.ModeClient
		opts.Columns = cols
		opts.SubRows = demoSubRows
		opts.Saver = demoSaver
		eng, err := engine.New(opts)
		if err != nil {
			return nil, nil, err
		}
		eng.SetRows(rows)
		return eng, eng.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown source driver %q", cfg.Source.Driver)
	}
}

// demoData builds the built-in sample dataset used by the memory driver.
func demoData() ([]grid.Row[source.Record], []grid.ColumnDef[source.Record]) {
	names := []string{"alder", "birch", "cedar", "fir", "hazel", "juniper", "maple", "oak", "pine", "rowan", "spruce", "willow"}
	regions := []string{"north", "south", "east", "west"}

	rng := rand.New(rand.NewSource(42))
	rows := make([]grid.Row[source.Record], 0, 500)
	for i := 0; i < 500; i++ {
		rows = append(rows, grid.Row[source.Record]{
			ID: "item-" + strconv.Itoa(i),
			Raw: source.Record{
				"id":     "item-" + strconv.Itoa(i),
				"name":   names[rng.Intn(len(names))] + "-" + strconv.Itoa(i),
				"region": regions[rng.Intn(len(regions))],
				"stock":  int64(rng.Intn(1000)),
				"price":  float64(rng.Intn(100000)) / 100,
			},
		})
	}

	cols := source.RecordColumns([]string{"id", "name", "region", "stock", "price"})
	for i := range cols {
		if cols[i].ID == "price" {
			cols[i].Validator = func(value any) error {
				f, err := strconv.ParseFloat(fmt.Sprint(value), 64)
				if err != nil {
					return fmt.Errorf("price must be a number")
				}
				if f < 0 {
					return fmt.Errorf("price must not be negative")
				}
				return nil
			}
		}
	}
	return rows, cols
}

// demoSubRows fakes a lazy child load with a short delay.
func demoSubRows(ctx context.Context, parent grid.Row[source.Record]) ([]grid.Row[source.Record], error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(150 * time.Millisecond):
	}
	out := make([]grid.Row[source.Record], 3)
	for i := range out {
		out[i] = grid.Row[source.Record]{
			ID: fmt.Sprintf("%s/lot-%d", parent.ID, i),
			Raw: source.Record{
				"id":     fmt.Sprintf("%s/lot-%d", parent.ID, i),
				"name":   fmt.Sprintf("%v lot %d", parent.Raw["name"], i),
				"region": parent.Raw["region"],
				"stock":  int64(10 * (i + 1)),
				"price":  parent.Raw["price"],
			},
		}
	}
	return out, nil
}

// demoSaver accepts every save after a short delay.
func demoSaver(ctx context.Context, rowID, columnID string, value any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}
