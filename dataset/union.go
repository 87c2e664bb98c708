package dataset

import (
	"strings"

	"golang.org/x/exp/slices"

	"honnef.co/go/tracedeck/container"
	"honnef.co/go/tracedeck/engine"
)

// UnionDataset concatenates the rows of several datasets, restricted to the columns they have in common.
type UnionDataset struct {
	members []Dataset
	schema  Schema
}

var _ Dataset = (*UnionDataset)(nil)

// Union returns the concatenation of ds. Nested unions are flattened. A union of a single dataset is that dataset.
// Union panics if ds is empty.
func Union(ds ...Dataset) Dataset {
	var members []Dataset
	for _, d := range ds {
		if u, ok := d.(*UnionDataset); ok {
			members = append(members, u.members...)
		} else {
			members = append(members, d)
		}
	}
	switch len(members) {
	case 0:
		panic("union of no datasets")
	case 1:
		return members[0]
	}
	schemas := make([]Schema, len(members))
	for i, m := range members {
		schemas[i] = m.Schema()
	}
	return &UnionDataset{members: members, schema: common(schemas)}
}

func (u *UnionDataset) Members() []Dataset { return u.members }
func (u *UnionDataset) Schema() Schema     { return u.schema }

func (u *UnionDataset) Implements(want Schema) bool {
	return u.schema.Extends(want)
}

func (u *UnionDataset) Query(cols ...string) string {
	if len(cols) == 0 {
		cols = u.schema.Names()
	}
	u.schema.mustHave(cols...)
	parts := make([]string, len(u.members))
	for i, m := range u.members {
		parts[i] = m.Query(cols...)
	}
	return strings.Join(parts, " UNION ALL ")
}

// Filter distributes the filter over the members, which keeps them eligible for merging in Optimize.
func (u *UnionDataset) Filter(col string, cond Condition) Dataset {
	u.schema.mustHave(col)
	members := make([]Dataset, len(u.members))
	for i, m := range u.members {
		members[i] = m.Filter(col, cond)
	}
	return &UnionDataset{members: members, schema: u.schema}
}

func (u *UnionDataset) Join(other Dataset, on []string, opts JoinOptions) Dataset {
	return NewSource(u.Query(), u.schema).Join(other, on, opts)
}

func (u *UnionDataset) String() string { return u.Query() }

type mergeKey struct {
	src    string
	schema string
	col    string
}

type bucket struct {
	key    mergeKey
	first  *Source
	values []engine.Value
	seen   container.Set[string]
	pos    int
}

func (b *bucket) disjoint(vals []engine.Value) bool {
	for _, v := range vals {
		if b.seen.Has(v.Key()) {
			return false
		}
	}
	return true
}

func (b *bucket) add(vals []engine.Value) {
	for _, v := range vals {
		k := v.Key()
		if !b.seen.Has(k) {
			b.seen.Add(k)
			b.values = append(b.values, v)
		}
	}
}

func (b *bucket) dataset() Dataset {
	out := b.first.clone()
	out.filters = []Filter{{Col: b.key.col, Cond: In(b.values...)}}
	return out.Optimize()
}

// narrow restricts d to the columns of the union, so that optimizing never widens the schema.
func (u *UnionDataset) narrow(d Dataset) Dataset {
	if slices.Equal(d.Schema(), u.schema) {
		return d
	}
	if src, ok := d.(*Source); ok && len(src.joins) == 0 {
		out := src.clone()
		out.base = slices.Clone(u.schema)
		out.schema = out.base
		return out
	}
	return NewSource(d.Query(u.schema.Names()...), slices.Clone(u.schema))
}

// mergeable returns the filter of a member that can be folded into an IN filter: a source without joins, filtered by
// exactly one non-NULL condition on a column the union exposes.
func (u *UnionDataset) mergeable(d Dataset) (*Source, Filter, bool) {
	src, ok := d.(*Source)
	if !ok || len(src.joins) != 0 || len(src.filters) != 1 {
		return nil, Filter{}, false
	}
	f := src.filters[0]
	if !u.schema.Has(f.Col) || len(f.Cond.values) == 0 {
		return nil, Filter{}, false
	}
	for _, v := range f.Cond.values {
		if v.IsNull() {
			// IN never matches NULL, while Eq(NULL) means IS NULL.
			return nil, Filter{}, false
		}
	}
	return src, f, true
}

// Optimize collapses members that read the same source through a single filter on the same column into one source
// with an IN filter. Members are only merged when their value sets are disjoint: UNION ALL keeps the duplicate rows
// that a merged IN would drop. Merged members take the position of the first of them.
func (u *UnionDataset) Optimize() Dataset {
	var flat []Dataset
	for _, m := range u.members {
		m = m.Optimize()
		if inner, ok := m.(*UnionDataset); ok {
			flat = append(flat, inner.members...)
		} else {
			flat = append(flat, m)
		}
	}

	var (
		out     []Dataset
		buckets []*bucket
	)
	for _, m := range flat {
		src, f, ok := u.mergeable(m)
		if !ok {
			out = append(out, m)
			continue
		}
		key := mergeKey{src.src, src.schema.String(), f.Col}
		var target *bucket
		for _, b := range buckets {
			if b.key == key && b.disjoint(f.Cond.values) {
				target = b
				break
			}
		}
		if target == nil {
			target = &bucket{key: key, first: src, seen: container.NewSet[string](), pos: len(out)}
			buckets = append(buckets, target)
			out = append(out, nil)
		}
		target.add(f.Cond.values)
	}
	for _, b := range buckets {
		out[b.pos] = b.dataset()
	}

	if len(out) == 1 {
		return u.narrow(out[0])
	}
	return &UnionDataset{members: out, schema: u.schema}
}
