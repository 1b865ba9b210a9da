// Package source defines the data source ports consumed by the engine and
// ships three adapters: an in-memory source, a SQLite-backed paged source,
// and a CSV file source with change watching. Server-mode sources implement
// Pager; they must tolerate concurrent calls with different params because
// the engine races them and trusts only the latest (latest-wins sequencing
// lives in the engine, not here).
package source

import (
	"context"

	"tabular/internal/grid"
)

// Record is the dynamic row payload used by the file- and SQL-backed
// sources: column id -> cell value.
type Record = map[string]any

// PageRequest describes one server-mode page fetch.
type PageRequest struct {
	PageIndex    int
	PageSize     int
	Sort         []grid.SortKey
	Filters      map[string]any
	GlobalFilter string
}

// Page is the result of a server-mode fetch: one page of rows plus the
// counts the engine needs for pagination and cross-page selection.
type Page[T any] struct {
	Rows       []grid.Row[T]
	PageCount  int
	TotalCount int
}

// Pager is the server-mode data source contract.
type Pager[T any] interface {
	FetchPage(ctx context.Context, req PageRequest) (Page[T], error)
}

// RecordColumns builds column definitions over Record rows for the given
// column ids, with map-lookup accessors.
func RecordColumns(ids []string) []grid.ColumnDef[Record] {
	cols := make([]grid.ColumnDef[Record], 0, len(ids))
	for _, id := range ids {
		id := id
		cols = append(cols, grid.ColumnDef[Record]{
			ID:    id,
			Title: id,
			Accessor: func(raw Record) any {
				return raw[id]
			},
		})
	}
	return cols
}

// SetRecordCell writes a cell value into a Record, copying the map so the
// prior row value stays untouched for rollback snapshots.
func SetRecordCell(raw Record, columnID string, value any) Record {
	out := make(Record, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	out[columnID] = value
	return out
}
