package container

import (
	"golang.org/x/exp/constraints"
)

type Direction uint8
type Color bool

const (
	Left  Direction = 0
	Right Direction = 1
)

const (
	Black Color = false
	Red   Color = true
)

type Comparable[T any] interface {
	Compare(T) int
}

// RBTree is a red-black tree. Rotated, if set, is called for the lower node of every rotation, which lets augmented
// trees repair their metadata.
type RBTree[K Comparable[K], V any] struct {
	Root     *RBNode[K, V]
	NumNodes int

	Rotated func(node *RBNode[K, V])
}

type RBNode[K Comparable[K], V any] struct {
	Parent   *RBNode[K, V]
	Children [2]*RBNode[K, V]
	Key      K
	Value    V
	color    Color
}

// Search returns the node with key k. If there is no such node, it returns the would-be parent and the direction in
// which k would be inserted.
func (t *RBTree[K, V]) Search(k K) (node *RBNode[K, V], found bool, dir Direction) {
	x := t.Root
	if x == nil {
		return nil, false, 0
	}
	for {
		c := k.Compare(x.Key)
		if c == 0 {
			return x, true, 0
		}
		dir = Right
		if c < 0 {
			dir = Left
		}
		child := x.Children[dir]
		if child == nil {
			return x, false, dir
		}
		x = child
	}
}

// Upsert returns the node for key k, creating it with init if it doesn't exist yet. The boolean result reports
// whether the node was created.
func (t *RBTree[K, V]) Upsert(k K, init func() V) (*RBNode[K, V], bool) {
	p, ok, dir := t.Search(k)
	if ok {
		return p, false
	}
	t.NumNodes++
	n := &RBNode[K, V]{Key: k, Value: init()}
	t.insert(n, p, dir)
	return n, true
}

func (t *RBTree[K, V]) rotate(p *RBNode[K, V], dir Direction) *RBNode[K, V] {
	g := p.Parent
	s := p.Children[1-dir]
	c := s.Children[dir]
	p.Children[1-dir] = c
	if c != nil {
		c.Parent = p
	}
	s.Children[dir] = p
	p.Parent = s
	s.Parent = g
	if g == nil {
		t.Root = s
	} else if p == g.Children[Right] {
		g.Children[Right] = s
	} else {
		g.Children[Left] = s
	}

	if t.Rotated != nil {
		t.Rotated(p)
	}
	return s
}

func (t *RBTree[K, V]) insert(n *RBNode[K, V], p *RBNode[K, V], dir Direction) {
	n.color = Red
	n.Parent = p
	if p == nil {
		t.Root = n
		return
	}
	p.Children[dir] = n

	for p.color == Red {
		g := p.Parent
		if g == nil {
			p.color = Black
			return
		}

		dir = p.childDir()
		u := g.Children[1-dir]
		if u == nil || u.color == Black {
			if n == p.Children[1-dir] {
				t.rotate(p, dir)
				n = p
				p = g.Children[dir]
			}
			t.rotate(g, 1-dir)
			p.color = Black
			g.color = Red
			return
		}

		// Red uncle: recolor and continue from the grandparent.
		p.color = Black
		u.color = Black
		g.color = Red
		n = g
		p = n.Parent
		if p == nil {
			return
		}
	}
}

func (n *RBNode[K, V]) childDir() Direction {
	if n.Parent.Children[Right] == n {
		return Right
	}
	return Left
}

// Interval is a closed interval [Min, Max].
type Interval[T constraints.Ordered] struct {
	Min, Max T
}

func (ival Interval[T]) Compare(oval Interval[T]) int {
	switch {
	case ival.Min < oval.Min:
		return -1
	case ival.Min > oval.Min:
		return 1
	case ival.Max < oval.Max:
		return -1
	case ival.Max > oval.Max:
		return 1
	default:
		return 0
	}
}

func (ival Interval[T]) Overlaps(oval Interval[T]) bool {
	return ival.Min <= oval.Max && ival.Max >= oval.Min
}

// IntervalValues is the payload of an interval tree node. Several values can share the same interval, e.g. two slices
// with identical bounds at different depths.
type IntervalValues[T constraints.Ordered, V any] struct {
	MaxSubtree T
	Values     []V
}

// IntervalTree is a red-black tree augmented with the maximum end point of each subtree, answering overlap queries in
// O(log n + k).
type IntervalTree[T constraints.Ordered, V any] struct {
	RBTree[Interval[T], IntervalValues[T, V]]
	numValues int
}

func NewIntervalTree[T constraints.Ordered, V any]() *IntervalTree[T, V] {
	t := &IntervalTree[T, V]{}
	t.Rotated = func(node *RBNode[Interval[T], IntervalValues[T, V]]) {
		t.updateAug(node)
	}
	return t
}

// Insert adds value under the interval [min, max].
func (t *IntervalTree[T, V]) Insert(min, max T, value V) {
	n, _ := t.Upsert(Interval[T]{min, max}, func() IntervalValues[T, V] {
		return IntervalValues[T, V]{MaxSubtree: max}
	})
	n.Value.Values = append(n.Value.Values, value)
	t.numValues++
	t.updateAug(n)
}

// Len returns the number of values stored in the tree.
func (t *IntervalTree[T, V]) Len() int { return t.numValues }

func (t *IntervalTree[T, V]) updateAug(n *RBNode[Interval[T], IntervalValues[T, V]]) {
	for ; n != nil; n = n.Parent {
		max := n.Key.Max
		for _, c := range n.Children {
			if c != nil && c.Value.MaxSubtree > max {
				max = c.Value.MaxSubtree
			}
		}
		n.Value.MaxSubtree = max
	}
}

// Find calls cb, in ascending interval order, for every value whose interval overlaps [min, max]. Iteration stops
// when cb returns false.
func (t *IntervalTree[T, V]) Find(min, max T, cb func(ival Interval[T], v V) bool) {
	t.find(t.Root, Interval[T]{min, max}, cb)
}

// Stab is Find for a single point.
func (t *IntervalTree[T, V]) Stab(at T, cb func(ival Interval[T], v V) bool) {
	t.Find(at, at, cb)
}

func (t *IntervalTree[T, V]) find(
	node *RBNode[Interval[T], IntervalValues[T, V]],
	q Interval[T],
	cb func(Interval[T], V) bool,
) bool {
	if node == nil {
		return true
	}
	if q.Min > node.Value.MaxSubtree {
		// Nothing in this subtree ends late enough.
		return true
	}
	if !t.find(node.Children[Left], q, cb) {
		return false
	}
	if node.Key.Min > q.Max {
		// Everything to the right starts even later.
		return true
	}
	if node.Key.Overlaps(q) {
		for _, v := range node.Value.Values {
			if !cb(node.Key, v) {
				return false
			}
		}
	}
	return t.find(node.Children[Right], q, cb)
}
