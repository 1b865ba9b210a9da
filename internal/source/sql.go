package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"tabular/internal/grid"
)

// SQL is a Pager backed by a SQLite table. Filtering, sorting and
// pagination are pushed down into the query (server mode); the engine only
// ever sees one page of rows. Column and table identifiers are validated
// against the configured allowlist, never interpolated from request input.
type SQL struct {
	db       *sql.DB
	table    string
	idColumn string
	columns  []string
	colSet   map[string]bool
	log      *zap.Logger
}

// OpenSQL opens (or reuses) a SQLite database file as a paged source.
// columns is the allowlist of selectable/sortable/filterable column names;
// idColumn must be one of them and hold unique values.
func OpenSQL(path, table, idColumn string, columns []string, logger *zap.Logger) (*SQL, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == "" || idColumn == "" || len(columns) == 0 {
		return nil, fmt.Errorf("sql source: table, id column and columns are required")
	}
	colSet := make(map[string]bool, len(columns))
	for _, c := range columns {
		if !validIdent(c) {
			return nil, fmt.Errorf("sql source: invalid column name %q", c)
		}
		colSet[c] = true
	}
	if !validIdent(table) {
		return nil, fmt.Errorf("sql source: invalid table name %q", table)
	}
	if !colSet[idColumn] {
		return nil, fmt.Errorf("sql source: id column %q not in column list", idColumn)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql source: open %s: %w", path, err)
	}
	return &SQL{
		db:       db,
		table:    table,
		idColumn: idColumn,
		columns:  columns,
		colSet:   colSet,
		log:      logger,
	}, nil
}

// Columns returns the configured column names.
func (s *SQL) Columns() []string {
	return append([]string(nil), s.columns...)
}

// Close releases the database handle.
func (s *SQL) Close() error {
	return s.db.Close()
}

// FetchPage implements Pager.
func (s *SQL) FetchPage(ctx context.Context, req PageRequest) (Page[Record], error) {
	where, args := s.whereClause(req)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %q%s", s.table, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return Page[Record]{}, fmt.Errorf("sql source: count: %w", err)
	}

	query, queryArgs := s.selectQuery(req, where, args)
	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return Page[Record]{}, fmt.Errorf("sql source: select: %w", err)
	}
	defer rows.Close()

	var out []grid.Row[Record]
	for rows.Next() {
		cells := make([]any, len(s.columns))
		ptrs := make([]any, len(s.columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Page[Record]{}, fmt.Errorf("sql source: scan: %w", err)
		}
		rec := make(Record, len(s.columns))
		for i, col := range s.columns {
			rec[col] = cells[i]
		}
		out = append(out, grid.Row[Record]{
			ID:  fmt.Sprint(rec[s.idColumn]),
			Raw: rec,
		})
	}
	if err := rows.Err(); err != nil {
		return Page[Record]{}, fmt.Errorf("sql source: iterate: %w", err)
	}

	pageCount := 0
	if req.PageSize > 0 {
		pageCount = (total + req.PageSize - 1) / req.PageSize
	} else if total > 0 {
		pageCount = 1
	}
	return Page[Record]{Rows: out, PageCount: pageCount, TotalCount: total}, nil
}

// whereClause translates column filters (LIKE, AND-composed) and the global
// filter (LIKE, OR across all columns) into SQL.
func (s *SQL) whereClause(req PageRequest) (string, []any) {
	var conds []string
	var args []any

	for _, col := range s.columns {
		arg, ok := req.Filters[col]
		if !ok {
			continue
		}
		conds = append(conds, fmt.Sprintf("CAST(%q AS TEXT) LIKE ?", col))
		args = append(args, "%"+fmt.Sprint(arg)+"%")
	}

	if g := strings.TrimSpace(req.GlobalFilter); g != "" {
		ors := make([]string, 0, len(s.columns))
		for _, col := range s.columns {
			ors = append(ors, fmt.Sprintf("CAST(%q AS TEXT) LIKE ?", col))
			args = append(args, "%"+g+"%")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// selectQuery builds the page query: ORDER BY the validated sort keys with
// the id column as final tie-break (stable ordering across requests), then
// LIMIT/OFFSET.
func (s *SQL) selectQuery(req PageRequest, where string, whereArgs []any) (string, []any) {
	quoted := make([]string, len(s.columns))
	for i, c := range s.columns {
		quoted[i] = fmt.Sprintf("%q", c)
	}

	var order []string
	for _, k := range req.Sort {
		if !s.colSet[k.ColumnID] {
			s.log.Warn("ignoring sort on unknown column", zap.String("column", k.ColumnID))
			continue
		}
		dir := "ASC"
		if k.Direction == grid.SortDescending {
			dir = "DESC"
		}
		order = append(order, fmt.Sprintf("%q %s", k.ColumnID, dir))
	}
	order = append(order, fmt.Sprintf("%q ASC", s.idColumn))

	query := fmt.Sprintf("SELECT %s FROM %q%s ORDER BY %s",
		strings.Join(quoted, ", "), s.table, where, strings.Join(order, ", "))

	args := append([]any(nil), whereArgs...)
	if req.PageSize > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, req.PageSize, req.PageIndex*req.PageSize)
	}
	return query, args
}

func validIdent(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
