package container

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

type Set[T comparable] map[T]struct{}

func NewSet[T comparable](vs ...T) Set[T] {
	set := make(Set[T], len(vs))
	for _, v := range vs {
		set.Add(v)
	}
	return set
}

func (set Set[T]) Add(v T) {
	set[v] = struct{}{}
}

func (set Set[T]) Delete(v T) {
	delete(set, v)
}

func (set Set[T]) Has(v T) bool {
	_, ok := set[v]
	return ok
}

// Intersects reports whether set and other share at least one element.
func (set Set[T]) Intersects(other Set[T]) bool {
	small, big := set, other
	if len(small) > len(big) {
		small, big = big, small
	}
	for v := range small {
		if big.Has(v) {
			return true
		}
	}
	return false
}

// Sorted returns the elements of set in ascending order.
func Sorted[T constraints.Ordered](set Set[T]) []T {
	out := make([]T, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
