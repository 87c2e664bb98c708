// Package engine describes the SQL query engine that owns the loaded trace. Everything above this package compiles
// down to SQL text and typed iteration over results.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"honnef.co/go/tracedeck/container"
)

var (
	// ErrSchemaMismatch is returned when a result lacks a column that a typed iteration declared.
	ErrSchemaMismatch = errors.New("result does not match expected schema")
)

// Engine executes SQL against the loaded trace.
type Engine interface {
	Query(ctx context.Context, sql string) (*Result, error)
	Exec(ctx context.Context, sql string) error
}

// Result is the outcome of a query. Rows are buffered by the engine; typed access happens through Iter.
type Result struct {
	Columns []string
	Rows    [][]any
}

func (r *Result) NumRows() int { return len(r.Rows) }

// RowSpec maps column names to the types a consumer expects.
type RowSpec map[string]ColumnType

// Iter returns an iterator that honours spec. Columns absent from the result are a schema mismatch.
func (r *Result) Iter(spec RowSpec) (*Iterator, error) {
	idx := make(map[string]int, len(r.Columns))
	for i, c := range r.Columns {
		idx[c] = i
	}
	var missing []string
	for col := range spec {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Wrapf(ErrSchemaMismatch, "missing columns %s (have %s)",
			strings.Join(missing, ", "), strings.Join(r.Columns, ", "))
	}
	return &Iterator{res: r, spec: spec, idx: idx, row: -1}, nil
}

// Iterator walks the rows of a Result. Accessors panic when asked for a column that wasn't declared in the RowSpec,
// or when a non-nullable column holds NULL.
type Iterator struct {
	res  *Result
	spec RowSpec
	idx  map[string]int
	row  int
}

func (it *Iterator) Next() bool {
	if it.row+1 >= len(it.res.Rows) {
		it.row = len(it.res.Rows)
		return false
	}
	it.row++
	return true
}

func (it *Iterator) cell(col string) any {
	typ, ok := it.spec[col]
	if !ok {
		panic(fmt.Sprintf("column %q was not declared in the row spec", col))
	}
	v := it.res.Rows[it.row][it.idx[col]]
	if v == nil && !typ.IsNullable() {
		panic(fmt.Sprintf("column %q of type %s is NULL in row %d", col, typ, it.row))
	}
	return v
}

func (it *Iterator) Int64(col string) int64 {
	v, _ := toInt64(it.cell(col))
	return v
}

func (it *Iterator) Float64(col string) float64 {
	v, _ := toFloat64(it.cell(col))
	return v
}

func (it *Iterator) String(col string) string {
	v, _ := toString(it.cell(col))
	return v
}

func (it *Iterator) OptInt64(col string) container.Option[int64] {
	v, ok := toInt64(it.cell(col))
	return container.OptionOf(v, ok)
}

func (it *Iterator) OptFloat64(col string) container.Option[float64] {
	v, ok := toFloat64(it.cell(col))
	return container.OptionOf(v, ok)
}

func (it *Iterator) OptString(col string) container.Option[string] {
	v, ok := toString(it.cell(col))
	return container.OptionOf(v, ok)
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func toString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// QueryIter runs sql and returns a typed iterator over its result.
func QueryIter(ctx context.Context, eng Engine, sql string, spec RowSpec) (*Iterator, error) {
	res, err := eng.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return res.Iter(spec)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Ident validates name as a plain SQL identifier. Generated table names go through Ident so that ids supplied by
// plugins can't smuggle SQL into DDL.
func Ident(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", errors.Errorf("invalid SQL identifier %q", name)
	}
	return name, nil
}

// CreateOrReplaceTable materialises selectSQL into table name, replacing any previous table of that name.
func CreateOrReplaceTable(ctx context.Context, eng Engine, name string, selectSQL string) error {
	name, err := Ident(name)
	if err != nil {
		return err
	}
	if err := eng.Exec(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return errors.Wrapf(err, "dropping %s", name)
	}
	if err := eng.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", name, selectSQL)); err != nil {
		return errors.Wrapf(err, "creating %s", name)
	}
	return nil
}

// RenameTable renames table from to to, replacing any existing table called to.
func RenameTable(ctx context.Context, eng Engine, from, to string) error {
	from, err := Ident(from)
	if err != nil {
		return err
	}
	to, err = Ident(to)
	if err != nil {
		return err
	}
	if err := eng.Exec(ctx, "DROP TABLE IF EXISTS "+to); err != nil {
		return errors.Wrapf(err, "dropping %s", to)
	}
	if err := eng.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", from, to)); err != nil {
		return errors.Wrapf(err, "renaming %s", from)
	}
	return nil
}

// DropTable removes table name if it exists.
func DropTable(ctx context.Context, eng Engine, name string) error {
	name, err := Ident(name)
	if err != nil {
		return err
	}
	return eng.Exec(ctx, "DROP TABLE IF EXISTS "+name)
}
