package dataset

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"honnef.co/go/tracedeck/container"
)

type join struct {
	ds     Dataset
	on     []string
	unique bool
	// columns contributed by this join
	cols Schema
}

// Source is a dataset backed by a table name or an inline SQL statement, optionally filtered and joined.
type Source struct {
	src     string
	base    Schema
	schema  Schema
	filters []Filter
	joins   []join
}

var _ Dataset = (*Source)(nil)

// NewSource returns a dataset reading schema from src, which is either a table name or a SELECT statement.
func NewSource(src string, schema Schema) *Source {
	return &Source{
		src:    src,
		base:   schema,
		schema: schema,
	}
}

func (s *Source) Src() string       { return s.src }
func (s *Source) Schema() Schema    { return s.schema }
func (s *Source) Filters() []Filter { return s.filters }

func (s *Source) Implements(want Schema) bool {
	return s.schema.Extends(want)
}

func (s *Source) clone() *Source {
	out := *s
	out.filters = slices.Clone(s.filters)
	out.joins = slices.Clone(s.joins)
	return &out
}

func (s *Source) Filter(col string, cond Condition) Dataset {
	s.schema.mustHave(col)
	out := s.clone()
	out.filters = append(out.filters, Filter{col, cond})
	return out
}

func (s *Source) Join(other Dataset, on []string, opts JoinOptions) Dataset {
	if len(on) == 0 {
		panic("join needs at least one column")
	}
	s.schema.mustHave(on...)
	other.Schema().mustHave(on...)

	var cols Schema
	for _, c := range other.Schema() {
		if !s.schema.Has(c.Name) {
			cols = append(cols, c)
		}
	}
	out := s.clone()
	out.joins = append(out.joins, join{ds: other, on: slices.Clone(on), unique: opts.Unique, cols: cols})
	out.schema = append(slices.Clone(s.schema), cols...)
	return out
}

func (s *Source) Optimize() Dataset {
	out := s.clone()
	for i, f := range out.filters {
		if !f.Cond.eq && len(f.Cond.values) == 1 {
			out.filters[i].Cond = Eq(f.Cond.values[0])
		}
	}
	for i := range out.joins {
		out.joins[i].ds = out.joins[i].ds.Optimize()
	}
	return out
}

// owner returns the alias that provides col: "base" or the alias of a join.
func (s *Source) owner(col string) string {
	if s.base.Has(col) {
		return "base"
	}
	for i, j := range s.joins {
		if j.cols.Has(col) {
			return fmt.Sprintf("j%d", i)
		}
	}
	panic(fmt.Sprintf("column %q is not part of the schema %s", col, s.schema))
}

func (s *Source) from() string {
	if isIdentifier(s.src) {
		return s.src
	}
	return "(" + s.src + ")"
}

func (s *Source) Query(cols ...string) string {
	if len(cols) == 0 {
		cols = s.schema.Names()
	}
	s.schema.mustHave(cols...)

	needed := container.NewSet(cols...)
	for _, f := range s.filters {
		needed.Add(f.Col)
	}
	// Walk joins back to front: a kept join needs its ON columns, which come from the base table or earlier joins.
	var joins []int
	for i := len(s.joins) - 1; i >= 0; i-- {
		j := s.joins[i]
		used := !j.unique
		for _, c := range j.cols {
			if needed.Has(c.Name) {
				used = true
				break
			}
		}
		if used {
			joins = append(joins, i)
			for _, on := range j.on {
				needed.Add(on)
			}
		}
	}
	slices.Reverse(joins)

	var b strings.Builder
	if len(joins) == 0 {
		b.WriteString("SELECT ")
		b.WriteString(strings.Join(cols, ", "))
		b.WriteString(" FROM ")
		b.WriteString(s.from())
		s.where(&b, func(col string) string { return col })
		return b.String()
	}

	qualify := func(col string) string { return s.owner(col) + "." + col }
	b.WriteString("SELECT ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(qualify(c))
		b.WriteString(" AS ")
		b.WriteString(c)
	}
	b.WriteString(" FROM ")
	b.WriteString(s.from())
	b.WriteString(" AS base")
	for _, i := range joins {
		j := s.joins[i]
		alias := fmt.Sprintf("j%d", i)
		if j.unique {
			b.WriteString(" LEFT JOIN (")
		} else {
			b.WriteString(" JOIN (")
		}
		b.WriteString(j.ds.Query(append(slices.Clone(j.on), j.cols.Names()...)...))
		b.WriteString(") AS ")
		b.WriteString(alias)
		b.WriteString(" ON ")
		for k, on := range j.on {
			if k > 0 {
				b.WriteString(" AND ")
			}
			fmt.Fprintf(&b, "%s = %s.%s", qualify(on), alias, on)
		}
	}
	s.where(&b, qualify)
	return b.String()
}

func (s *Source) where(b *strings.Builder, qualify func(string) string) {
	for i, f := range s.filters {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(f.Cond.sql(qualify(f.Col)))
	}
}

func (s *Source) String() string { return s.Query() }
