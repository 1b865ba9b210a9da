// Package pipeline implements the row model pipeline: the pure
// filter -> sort -> expand-flatten -> paginate transformation that turns a
// raw row set plus table state into the ordered visible rows.
//
// Compute is deterministic and side-effect free: identical inputs always
// produce identical output, and the input slices are never mutated. The only
// observable side effects are diagnostic log lines for misbehaving
// predicates and duplicate row ids.
package pipeline

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"tabular/internal/grid"
)

// ChildLookup resolves the loaded sub-rows of an expanded parent. It returns
// nil for parents whose children are not loaded; the expansion tree owns the
// cache backing this function.
type ChildLookup[T any] func(parentID string) []grid.Row[T]

// Options tunes a single Compute run.
type Options[T any] struct {
	// Logger receives predicate failure and duplicate-id diagnostics.
	// Nil means zap.NewNop.
	Logger *zap.Logger

	// ServerMode trusts the input rows as an already filtered, sorted and
	// paginated page: the filter, sort and paginate stages are skipped and
	// only dedup + expand-flatten run.
	ServerMode bool

	// Children supplies loaded sub-rows for the expand stage.
	Children ChildLookup[T]
}

// Result is the output of one pipeline run.
type Result[T any] struct {
	// Rows are the visible rows in final order (post pagination).
	Rows []grid.Row[T]

	// FilteredCount is the number of top-level rows surviving the filter
	// stage, before expansion and pagination.
	FilteredCount int

	// PageCount is the client-mode page count; zero when there are no rows.
	// In server mode the data source's page count supersedes this value.
	PageCount int

	// DuplicateIDs lists row ids that appeared more than once in the input
	// and were deduplicated last-write-wins. Non-empty output is a
	// programmer error in the data source.
	DuplicateIDs []string
}

// Compute runs the pipeline over rows with the given columns and state.
func Compute[T any](rows []grid.Row[T], cols []grid.ColumnDef[T], state grid.TableState, opts Options[T]) Result[T] {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	working, dups := dedupe(rows, log)

	var res Result[T]
	res.DuplicateIDs = dups

	if !opts.ServerMode {
		working = filterRows(working, cols, state, log)
		res.FilteredCount = len(working)
		working = sortRows(working, cols, state.Sort, log)
	} else {
		res.FilteredCount = len(working)
	}

	flat := flatten(working, state.Expanded, opts.Children)

	if !opts.ServerMode && state.PageSize > 0 {
		res.PageCount = (len(flat) + state.PageSize - 1) / state.PageSize
		flat = page(flat, state.PageIndex, state.PageSize, res.PageCount)
	} else if len(flat) > 0 {
		res.PageCount = 1
	}

	res.Rows = flat
	return res
}

// dedupe drops earlier occurrences of repeated ids, keeping the last write.
func dedupe[T any](rows []grid.Row[T], log *zap.Logger) ([]grid.Row[T], []string) {
	seen := make(map[string]int, len(rows))
	out := make([]grid.Row[T], 0, len(rows))
	var dups []string
	for _, r := range rows {
		if at, ok := seen[r.ID]; ok {
			log.Error("duplicate row id, keeping last write", zap.String("row", r.ID))
			dups = append(dups, r.ID)
			out[at] = r
			continue
		}
		seen[r.ID] = len(out)
		out = append(out, r)
	}
	return out, dups
}

func filterRows[T any](rows []grid.Row[T], cols []grid.ColumnDef[T], state grid.TableState, log *zap.Logger) []grid.Row[T] {
	hasColumnFilters := false
	for _, col := range cols {
		if _, ok := state.Filters[col.ID]; ok {
			hasColumnFilters = true
			break
		}
	}
	global := strings.TrimSpace(state.GlobalFilter)
	if !hasColumnFilters && global == "" {
		return rows
	}

	// A predicate that panics is disabled for the remainder of this run so
	// one bad column cannot crash or half-filter the recomputation.
	broken := make(map[string]bool)

	out := make([]grid.Row[T], 0, len(rows))
	for _, r := range rows {
		if !passesColumnFilters(r, cols, state.Filters, broken, log) {
			continue
		}
		if global != "" && !matchesGlobal(r, cols, global, broken, log) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// passesColumnFilters AND-composes every active column filter.
func passesColumnFilters[T any](r grid.Row[T], cols []grid.ColumnDef[T], filters map[string]any, broken map[string]bool, log *zap.Logger) bool {
	for _, col := range cols {
		arg, active := filters[col.ID]
		if !active || broken[col.ID] {
			continue
		}
		value := access(col, r.Raw, broken, log)
		pred := col.FilterPredicate
		if pred == nil {
			pred = containsFold
		}
		ok, panicked := safeFilter(pred, value, arg)
		if panicked {
			log.Error("filter predicate panicked, treating column as pass-through",
				zap.String("column", col.ID), zap.String("row", r.ID))
			broken[col.ID] = true
			continue
		}
		if !ok {
			return false
		}
	}
	return true
}

// matchesGlobal ORs a case-insensitive substring match across all columns.
func matchesGlobal[T any](r grid.Row[T], cols []grid.ColumnDef[T], needle string, broken map[string]bool, log *zap.Logger) bool {
	for _, col := range cols {
		if broken[col.ID] {
			continue
		}
		value := access(col, r.Raw, broken, log)
		if containsFold(value, needle) {
			return true
		}
	}
	return false
}

func sortRows[T any](rows []grid.Row[T], cols []grid.ColumnDef[T], keys []grid.SortKey, log *zap.Logger) []grid.Row[T] {
	if len(keys) == 0 || len(rows) < 2 {
		return rows
	}

	type sortCol[T2 any] struct {
		col grid.ColumnDef[T2]
		dir grid.SortDirection
	}
	active := make([]sortCol[T], 0, len(keys))
	for _, k := range keys {
		col, ok := findColumn(cols, k.ColumnID)
		if !ok {
			log.Warn("sort key names unknown column, skipping", zap.String("column", k.ColumnID))
			continue
		}
		active = append(active, sortCol[T]{col: col, dir: k.Direction})
	}
	if len(active) == 0 {
		return rows
	}

	broken := make(map[string]bool)
	out := append([]grid.Row[T](nil), rows...)

	// SliceStable keeps original relative order for rows equal under every
	// key, which is the exhausted-tie-break contract.
	sort.SliceStable(out, func(i, j int) bool {
		for _, sc := range active {
			if broken[sc.col.ID] {
				continue
			}
			a := access(sc.col, out[i].Raw, broken, log)
			b := access(sc.col, out[j].Raw, broken, log)
			cmp, panicked := safeCompare(sc.col.Comparator, a, b)
			if panicked {
				log.Error("comparator panicked, treating column as equal",
					zap.String("column", sc.col.ID))
				broken[sc.col.ID] = true
				continue
			}
			if cmp == 0 {
				continue
			}
			if sc.dir == grid.SortDescending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return out
}

// flatten interleaves loaded children of expanded rows immediately after
// their parent, re-deriving depth from the parent so nesting stays
// consistent regardless of what the loader produced.
func flatten[T any](rows []grid.Row[T], expanded map[string]bool, children ChildLookup[T]) []grid.Row[T] {
	if len(expanded) == 0 || children == nil {
		return rows
	}
	out := make([]grid.Row[T], 0, len(rows))
	visiting := make(map[string]bool)
	var walk func(r grid.Row[T])
	walk = func(r grid.Row[T]) {
		out = append(out, r)
		if !expanded[r.ID] || visiting[r.ID] {
			return
		}
		visiting[r.ID] = true
		for _, child := range children(r.ID) {
			child.ParentID = r.ID
			child.Depth = r.Depth + 1
			walk(child)
		}
		delete(visiting, r.ID)
	}
	for _, r := range rows {
		walk(r)
	}
	return out
}

func page[T any](rows []grid.Row[T], pageIndex, pageSize, pageCount int) []grid.Row[T] {
	if pageIndex < 0 {
		pageIndex = 0
	}
	if pageCount > 0 && pageIndex > pageCount-1 {
		pageIndex = pageCount - 1
	}
	start := pageIndex * pageSize
	if start >= len(rows) {
		return nil
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

func findColumn[T any](cols []grid.ColumnDef[T], id string) (grid.ColumnDef[T], bool) {
	for _, c := range cols {
		if c.ID == id {
			return c, true
		}
	}
	return grid.ColumnDef[T]{}, false
}

// access evaluates a column accessor, disabling the column if it panics.
func access[T any](col grid.ColumnDef[T], raw T, broken map[string]bool, log *zap.Logger) (v any) {
	if col.Accessor == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("accessor panicked", zap.String("column", col.ID), zap.Any("panic", r))
			broken[col.ID] = true
			v = nil
		}
	}()
	return col.Accessor(raw)
}

func safeFilter(pred func(value, arg any) bool, value, arg any) (ok, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			ok, panicked = true, true
		}
	}()
	return pred(value, arg), false
}

func safeCompare(cmp func(a, b any) int, a, b any) (c int, panicked bool) {
	if cmp == nil {
		cmp = Compare
	}
	defer func() {
		if r := recover(); r != nil {
			c, panicked = 0, true
		}
	}()
	return cmp(a, b), false
}
