package dataset

import (
	"fmt"

	"honnef.co/go/tracedeck/engine"
)

type Column struct {
	Name string
	Type engine.ColumnType
}

// Schema is an ordered mapping from column names to semantic types.
type Schema []Column

func (s Schema) Lookup(name string) (engine.ColumnType, bool) {
	for _, c := range s {
		if c.Name == name {
			return c.Type, true
		}
	}
	return engine.Unknown, false
}

func (s Schema) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Without returns s minus the named columns.
func (s Schema) Without(names ...string) Schema {
	out := make(Schema, 0, len(s))
outer:
	for _, c := range s {
		for _, n := range names {
			if c.Name == n {
				continue outer
			}
		}
		out = append(out, c)
	}
	return out
}

// Only returns the named columns of s, in the order given. It panics if a column is missing.
func (s Schema) Only(names ...string) Schema {
	out := make(Schema, len(names))
	for i, n := range names {
		typ, ok := s.Lookup(n)
		if !ok {
			panic(fmt.Sprintf("column %q is not part of the schema %s", n, s))
		}
		out[i] = Column{n, typ}
	}
	return out
}

// Extends reports whether s provides every column of want with a compatible type.
func (s Schema) Extends(want Schema) bool {
	for _, c := range want {
		have, ok := s.Lookup(c.Name)
		if !ok || !engine.Compatible(c.Type, have) {
			return false
		}
	}
	return true
}

// RowSpec converts s into a row spec for typed iteration.
func (s Schema) RowSpec() engine.RowSpec {
	spec := make(engine.RowSpec, len(s))
	for _, c := range s {
		spec[c.Name] = c.Type
	}
	return spec
}

func (s Schema) String() string {
	out := "{"
	for i, c := range s {
		if i > 0 {
			out += ", "
		}
		out += c.Name + ": " + c.Type.String()
	}
	return out + "}"
}

func (s Schema) mustHave(cols ...string) {
	for _, c := range cols {
		if !s.Has(c) {
			panic(fmt.Sprintf("column %q is not part of the schema %s", c, s))
		}
	}
}

// common returns the columns present in every schema with compatible types, in the order of the first schema. The
// resulting type is the first schema's type, widened to nullable when any input is nullable.
func common(schemas []Schema) Schema {
	if len(schemas) == 0 {
		return nil
	}
	var out Schema
outer:
	for _, c := range schemas[0] {
		typ := c.Type
		for _, s := range schemas[1:] {
			other, ok := s.Lookup(c.Name)
			if !ok {
				continue outer
			}
			switch {
			case other == typ:
			case engine.Compatible(typ, other):
			case engine.Compatible(other, typ):
				typ = other
			default:
				continue outer
			}
		}
		out = append(out, Column{c.Name, typ})
	}
	return out
}
