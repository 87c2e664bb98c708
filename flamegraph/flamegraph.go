// Package flamegraph merges weighted call paths into a tree of frames.
package flamegraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"honnef.co/go/tracedeck/container"
	"honnef.co/go/tracedeck/engine"
)

type FlameGraph struct {
	Roots []*Frame

	// top-level frames indexed by name
	roots map[string]*Frame
}

type Frame struct {
	Parent *Frame
	Name   string
	// Self is the weight attributed to this frame but none of its children.
	Self int64
	// Total is Self plus the Total of all children.
	Total    int64
	Children []*Frame

	// immediate children indexed by name
	children map[string]*Frame
}

func newFrame(parent *Frame, name string) *Frame {
	return &Frame{Parent: parent, Name: name, children: map[string]*Frame{}}
}

// AddSample adds weight to every frame along path. The last frame of the path receives the weight as self weight.
// Frames with the same name and the same ancestors are merged.
func (fg *FlameGraph) AddSample(path []string, weight int64) {
	if len(path) == 0 {
		return
	}
	if fg.roots == nil {
		fg.roots = map[string]*Frame{}
	}
	cur, ok := fg.roots[path[0]]
	if !ok {
		cur = newFrame(nil, path[0])
		fg.roots[path[0]] = cur
	}
	cur.Total += weight
	for _, name := range path[1:] {
		child, ok := cur.children[name]
		if !ok {
			child = newFrame(cur, name)
			cur.children[name] = child
		}
		child.Total += weight
		cur = child
	}
	cur.Self += weight
}

func sortFrames(frames []*Frame) {
	slices.SortFunc(frames, func(a, b *Frame) int {
		switch {
		case a.Total > b.Total:
			return -1
		case a.Total < b.Total:
			return 1
		default:
			return strings.Compare(a.Name, b.Name)
		}
	})
}

// Compute populates Roots and Children, heaviest frames first. No more samples may be added afterwards.
func (fg *FlameGraph) Compute() {
	var doSort func(frame *Frame)
	doSort = func(frame *Frame) {
		var children []*Frame
		for _, child := range frame.children {
			doSort(child)
			child.children = nil
			children = append(children, child)
		}
		sortFrames(children)
		frame.Children = children
	}

	var roots []*Frame
	for _, frame := range fg.roots {
		doSort(frame)
		frame.children = nil
		roots = append(roots, frame)
	}
	sortFrames(roots)
	fg.Roots = roots
	fg.roots = nil
}

// Total returns the combined weight of all roots.
func (fg *FlameGraph) Total() int64 {
	var total int64
	for _, r := range fg.Roots {
		total += r.Total
	}
	return total
}

// Walk visits all frames in depth-first order.
func (fg *FlameGraph) Walk(fn func(f *Frame, depth int)) {
	var walk func(f *Frame, depth int)
	walk = func(f *Frame, depth int) {
		fn(f, depth)
		for _, c := range f.Children {
			walk(c, depth+1)
		}
	}
	for _, r := range fg.Roots {
		walk(r, 0)
	}
}

type node struct {
	parent container.Option[int64]
	name   string
	self   int64
}

// Build reads a table of (id, parent_id, name, self) rows and merges every row's ancestry into a flame graph. Rows
// whose parent isn't part of the table become roots.
func Build(ctx context.Context, eng engine.Engine, table string) (*FlameGraph, error) {
	table, err := engine.Ident(table)
	if err != nil {
		return nil, err
	}
	it, err := engine.QueryIter(ctx, eng, fmt.Sprintf("SELECT id, parent_id, name, self FROM %s", table), engine.RowSpec{
		"id":        engine.Long,
		"parent_id": engine.LongNull,
		"name":      engine.StrNull,
		"self":      engine.Long,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", table)
	}

	nodes := map[int64]node{}
	var order []int64
	for it.Next() {
		id := it.Int64("id")
		nodes[id] = node{
			parent: it.OptInt64("parent_id"),
			name:   it.OptString("name").GetOr("<unnamed>"),
			self:   it.Int64("self"),
		}
		order = append(order, id)
	}

	fg := &FlameGraph{}
	var path []string
	for _, id := range order {
		path = path[:0]
		seen := 0
		for cur, ok := id, true; ok; {
			n, found := nodes[cur]
			if !found {
				break
			}
			path = append(path, n.name)
			if seen++; seen > len(nodes) {
				return nil, errors.Errorf("parent cycle at row %d of %s", id, table)
			}
			cur, ok = n.parent.Get()
		}
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}
		fg.AddSample(path, nodes[id].self)
	}
	fg.Compute()
	return fg, nil
}
