package aggregation

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"honnef.co/go/tracedeck/engine"
)

// Page selects a sorted window of a result table.
type Page struct {
	// Sort names the column to sort by. Rows are in table order if it is empty.
	Sort   string
	Desc   bool
	Offset int
	// Limit caps the number of rows. Zero means no limit.
	Limit int
}

// View is one page of a result table.
type View struct {
	*engine.Result
	// Total is the number of rows in the whole table.
	Total int64
}

// Query returns a page of table, as used by the tabular presentation of aggregation results.
func Query(ctx context.Context, eng engine.Engine, table string, page Page) (*View, error) {
	table, err := engine.Ident(table)
	if err != nil {
		return nil, err
	}
	q := "SELECT * FROM " + table
	if page.Sort != "" {
		col, err := engine.Ident(page.Sort)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if page.Desc {
			dir = "DESC"
		}
		// rowid keeps rows with equal sort keys in a stable order across pages.
		q += fmt.Sprintf(" ORDER BY %s %s, rowid", col, dir)
	}
	if page.Limit > 0 || page.Offset > 0 {
		limit := page.Limit
		if limit <= 0 {
			limit = -1
		}
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, page.Offset)
	}
	res, err := eng.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s", table)
	}
	it, err := engine.QueryIter(ctx, eng, "SELECT COUNT(*) AS n FROM "+table, engine.RowSpec{"n": engine.Long})
	if err != nil {
		return nil, errors.Wrapf(err, "counting %s", table)
	}
	v := &View{Result: res}
	if it.Next() {
		v.Total = it.Int64("n")
	}
	return v, nil
}

// Summary describes the distribution of a numeric column.
type Summary struct {
	Count   int
	Min     int64
	Max     int64
	Total   int64
	Average float64
	Median  float64
}

// Summarize computes a Summary of col in table. NULL values are ignored.
func Summarize(ctx context.Context, eng engine.Engine, table, col string) (Summary, error) {
	var stat Summary
	table, err := engine.Ident(table)
	if err != nil {
		return stat, err
	}
	col, err = engine.Ident(col)
	if err != nil {
		return stat, err
	}
	it, err := engine.QueryIter(ctx, eng, fmt.Sprintf("SELECT %s AS v FROM %s WHERE %s IS NOT NULL", col, table, col),
		engine.RowSpec{"v": engine.Long})
	if err != nil {
		return stat, errors.Wrapf(err, "summarizing %s.%s", table, col)
	}

	var values []int64
	for it.Next() {
		d := it.Int64("v")
		stat.Count++
		if d > stat.Max || stat.Count == 1 {
			stat.Max = d
		}
		if d < stat.Min || stat.Count == 1 {
			stat.Min = d
		}
		stat.Total += d
		values = append(values, d)
	}
	if len(values) == 0 {
		return stat, nil
	}

	stat.Average = float64(stat.Total) / float64(len(values))
	slices.Sort(values)
	if len(values)%2 == 0 {
		mid := len(values) / 2
		stat.Median = float64(values[mid]+values[mid-1]) / 2
	} else {
		stat.Median = float64(values[len(values)/2])
	}
	return stat, nil
}
