package source

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tabular/internal/grid"
	"tabular/internal/grid/pipeline"
)

// Memory is a Pager over an in-memory row slice. It exists for tests and
// for exercising the server-mode contract without a database: each
// FetchPage runs the full client pipeline over the held rows and slices out
// the requested page.
type Memory[T any] struct {
	mu   sync.RWMutex
	rows []grid.Row[T]
	cols []grid.ColumnDef[T]
	log  *zap.Logger
}

// NewMemory creates a Memory source.
func NewMemory[T any](rows []grid.Row[T], cols []grid.ColumnDef[T], logger *zap.Logger) *Memory[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory[T]{rows: rows, cols: cols, log: logger}
}

// Replace swaps the backing rows (a full data refresh).
func (m *Memory[T]) Replace(rows []grid.Row[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = rows
}

// FetchPage implements Pager.
func (m *Memory[T]) FetchPage(ctx context.Context, req PageRequest) (Page[T], error) {
	if err := ctx.Err(); err != nil {
		return Page[T]{}, err
	}
	m.mu.RLock()
	rows := append([]grid.Row[T](nil), m.rows...)
	cols := m.cols
	m.mu.RUnlock()

	res := pipeline.Compute(rows, cols, grid.TableState{
		Sort:         req.Sort,
		Filters:      req.Filters,
		GlobalFilter: req.GlobalFilter,
		PageIndex:    req.PageIndex,
		PageSize:     req.PageSize,
	}, pipeline.Options[T]{Logger: m.log})

	return Page[T]{
		Rows:       res.Rows,
		PageCount:  res.PageCount,
		TotalCount: res.FilteredCount,
	}, nil
}
