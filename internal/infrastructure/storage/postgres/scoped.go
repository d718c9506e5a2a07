package postgres

import (
	"context"
	"fmt"
	"reflect"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"storefront/internal/core/id"
)

// TenantColumn is the tenant key carried by every tenant-owned table.
const TenantColumn = "client_id"

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Scoped is the single place that applies the tenant predicate to a table.
// Every query it builds filters on client_id unless the tenant filter is nil,
// which only privileged reads pass.
type Scoped[T any] struct {
	table   string
	columns []string
	fields  []int
}

// NewScoped creates a scoped accessor for table. T must be a flat struct;
// its db-tagged fields become the columns, in declaration order.
func NewScoped[T any](table string) *Scoped[T] {
	s := &Scoped[T]{table: table}
	t := reflect.TypeFor[T]()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		s.columns = append(s.columns, tag)
		s.fields = append(s.fields, i)
	}
	return s
}

// Table returns the table name.
func (s *Scoped[T]) Table() string {
	return s.table
}

// Columns returns the selected columns.
func (s *Scoped[T]) Columns() []string {
	return s.columns
}

// Select starts a SELECT of the given columns (all columns of T when empty),
// filtered by tenant.
func (s *Scoped[T]) Select(tenantID *id.ID, columns ...string) squirrel.SelectBuilder {
	if len(columns) == 0 {
		columns = s.columns
	}
	q := Builder().Select(columns...).From(s.table)
	if tenantID != nil {
		q = q.Where(squirrel.Eq{TenantColumn: *tenantID})
	}
	return q
}

// Update starts an UPDATE filtered by tenant.
func (s *Scoped[T]) Update(tenantID *id.ID) squirrel.UpdateBuilder {
	q := Builder().Update(s.table)
	if tenantID != nil {
		q = q.Where(squirrel.Eq{TenantColumn: *tenantID})
	}
	return q
}

// Insert builds an INSERT of every column of v.
func (s *Scoped[T]) Insert(v T) squirrel.InsertBuilder {
	rv := reflect.ValueOf(v)
	values := make([]any, len(s.fields))
	for i, f := range s.fields {
		values[i] = rv.Field(f).Interface()
	}
	return Builder().Insert(s.table).Columns(s.columns...).Values(values...)
}

// Get runs q and scans exactly one row. It returns nil when no row matched.
func (s *Scoped[T]) Get(ctx context.Context, db Querier, q squirrel.Sqlizer) (*T, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", s.table, err)
	}

	var row T
	if err := pgxscan.Get(ctx, db, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", s.table, err)
	}
	return &row, nil
}

// List runs q and scans every row.
func (s *Scoped[T]) List(ctx context.Context, db Querier, q squirrel.Sqlizer) ([]T, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", s.table, err)
	}

	var rows []T
	if err := pgxscan.Select(ctx, db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", s.table, err)
	}
	return rows, nil
}

// Count returns the number of rows matching where, filtered by tenant.
func (s *Scoped[T]) Count(ctx context.Context, db Querier, tenantID *id.ID, where squirrel.Sqlizer) (int, error) {
	q := s.Select(tenantID, "COUNT(*)")
	if where != nil {
		q = q.Where(where)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s count: %w", s.table, err)
	}

	var n int
	if err := db.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}

// Exec runs a write statement and returns the affected row count.
func (s *Scoped[T]) Exec(ctx context.Context, db Querier, q squirrel.Sqlizer) (int64, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s statement: %w", s.table, err)
	}

	tag, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", s.table, err)
	}
	return tag.RowsAffected(), nil
}
