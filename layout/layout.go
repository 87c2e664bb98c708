// Package layout assigns rendering lanes (depths) to possibly overlapping time intervals.
package layout

import (
	"cmp"
	"container/heap"

	"golang.org/x/exp/slices"
)

// Interval is a row to be laid out. Negative durations are treated as zero.
type Interval struct {
	ID  int64
	Ts  int64
	Dur int64
}

func (iv Interval) End() int64 { return iv.Ts + max(iv.Dur, 0) }

// Overlaps reports whether the half-open spans [Ts, End) of iv and other intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Ts < other.End() && other.Ts < iv.End()
}

type Row struct {
	Interval
	Depth int
}

type Result struct {
	// Depth maps interval IDs to their lane.
	Depth map[int64]int
	// Rows holds the intervals in sweep order, sorted by (Ts, ID).
	Rows []Row
	// MaxDepth is the number of lanes that were allocated, 0 for no input.
	MaxDepth int
}

type lane struct {
	end   int64
	index int
}

// busyLanes is a min-heap of occupied lanes, ordered by end time.
type busyLanes []lane

func (h busyLanes) Len() int { return len(h) }
func (h busyLanes) Less(i, j int) bool {
	if h[i].end != h[j].end {
		return h[i].end < h[j].end
	}
	return h[i].index < h[j].index
}
func (h busyLanes) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *busyLanes) Push(x any)   { *h = append(*h, x.(lane)) }
func (h *busyLanes) Pop() any {
	old := *h
	n := len(old)
	l := old[n-1]
	*h = old[:n-1]
	return l
}

// freeLanes is a min-heap of lane indices that can be reused.
type freeLanes []int

func (h freeLanes) Len() int           { return len(h) }
func (h freeLanes) Less(i, j int) bool { return h[i] < h[j] }
func (h freeLanes) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *freeLanes) Push(x any)        { *h = append(*h, x.(int)) }
func (h *freeLanes) Pop() any {
	old := *h
	n := len(old)
	l := old[n-1]
	*h = old[:n-1]
	return l
}

// Compute lays out ivs with a greedy sweep: intervals are visited by start time (ties broken by ID), lanes whose
// interval has ended by the current start are released, and every interval takes the smallest free lane. A
// zero-duration interval releases its lane as soon as the sweep moves on, so it never pushes later intervals down.
//
// The greedy sweep is optimal for interval graphs: MaxDepth equals the largest number of intervals that overlap at any
// one point in time.
func Compute(ivs []Interval) Result {
	sorted := slices.Clone(ivs)
	slices.SortFunc(sorted, func(a, b Interval) int {
		if c := cmp.Compare(a.Ts, b.Ts); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	res := Result{
		Depth: make(map[int64]int, len(sorted)),
		Rows:  make([]Row, 0, len(sorted)),
	}
	var (
		busy busyLanes
		free freeLanes
	)
	for _, iv := range sorted {
		for len(busy) > 0 && busy[0].end <= iv.Ts {
			l := heap.Pop(&busy).(lane)
			heap.Push(&free, l.index)
		}
		var depth int
		if len(free) > 0 {
			depth = heap.Pop(&free).(int)
		} else {
			depth = res.MaxDepth
			res.MaxDepth++
		}
		heap.Push(&busy, lane{end: iv.End(), index: depth})
		res.Depth[iv.ID] = depth
		res.Rows = append(res.Rows, Row{Interval: iv, Depth: depth})
	}
	return res
}
