package workspace

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(ns []*Node) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Name()
	}
	return out
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestAddChildInOrderIsPermutationInvariant(t *testing.T) {
	args := []NodeArgs{
		{Name: "b", SortOrder: 5},
		{Name: "a", SortOrder: -3},
		{Name: "c", SortOrder: 0},
		{Name: "a2", SortOrder: -3},
	}
	perms := permutations(len(args))
	require.Len(t, perms, 24)
	for _, perm := range perms {
		ws := New("test", nil)
		for _, i := range perm {
			ws.AddChildInOrder(NewNode(args[i]))
		}
		assert.Equal(t, []string{"a", "a2", "c", "b"}, names(ws.Root().Children()), "insertion order %v", perm)
	}
}

func TestAddChildInOrderEqualKeysAreStable(t *testing.T) {
	ws := New("test", nil)
	x1 := NewNode(NodeArgs{Name: "x"})
	x2 := NewNode(NodeArgs{Name: "x"})
	ws.AddChildInOrder(x1)
	ws.AddChildInOrder(x2)
	assert.Equal(t, []*Node{x1, x2}, ws.Root().Children())
}

func TestAddChildFirstLast(t *testing.T) {
	ws := New("test", nil)
	ws.AddChildInOrder(NewNode(NodeArgs{Name: "m"}))
	ws.AddChildFirst(NewNode(NodeArgs{Name: "z", SortOrder: 100}))
	ws.AddChildLast(NewNode(NodeArgs{Name: "a", SortOrder: -100}))
	ws.AddChildInOrder(NewNode(NodeArgs{Name: "n"}))
	// In-order insertion places the node before the first child that sorts after it.
	assert.Equal(t, []string{"n", "z", "m", "a"}, names(ws.Root().Children()))
}

func TestLookup(t *testing.T) {
	ws := New("test", nil)
	group := NewNode(NodeArgs{Name: "Power", ID: "power", IsSummary: true})
	track := NewNode(NodeArgs{Name: "rail", ID: "rail#1", URI: "/power/rail/1"})
	group.AddChildInOrder(track)

	// Nodes built detached are indexed once attached.
	assert.Nil(t, ws.GetTrackByID("rail#1"))
	ws.AddChildInOrder(group)
	assert.Same(t, track, ws.GetTrackByID("rail#1"))
	assert.Same(t, track, ws.GetTrackByURI("/power/rail/1"))
	assert.Same(t, group, ws.GetTrackByID("power"))
	assert.Same(t, ws, track.Workspace())
	assert.Equal(t, []string{"Power", "rail"}, track.FullPath())

	group.Remove()
	assert.Nil(t, ws.GetTrackByID("rail#1"))
	assert.Nil(t, ws.GetTrackByURI("/power/rail/1"))
	assert.Nil(t, track.Workspace())
	assert.Nil(t, group.Parent())
}

func TestDuplicateIDFirstWins(t *testing.T) {
	ws := New("test", nil)
	a := NewNode(NodeArgs{Name: "a", ID: "dup"})
	b := NewNode(NodeArgs{Name: "b", ID: "dup"})
	ws.AddChildInOrder(a)
	ws.AddChildInOrder(b)
	assert.Same(t, a, ws.GetTrackByID("dup"))

	n, created := ws.GetOrCreate(nil, NodeArgs{Name: "c", ID: "dup"})
	assert.False(t, created)
	assert.Same(t, a, n)

	a.Remove()
	assert.Same(t, b, ws.GetTrackByID("dup"))
}

func TestGetOrCreateConcurrent(t *testing.T) {
	for iter := 0; iter < 20; iter++ {
		ws := New("test", nil)
		const n = 32
		var (
			wg      sync.WaitGroup
			nodes   [n]*Node
			created [n]bool
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				power, c := ws.GetOrCreate(nil, NodeArgs{Name: "Power", ID: "power", IsSummary: true})
				nodes[i], created[i] = power, c
				power.AddChildInOrder(NewNode(NodeArgs{Name: fmt.Sprintf("rail %02d", i)}))
			}(i)
		}
		wg.Wait()

		creations := 0
		for i := 0; i < n; i++ {
			assert.Same(t, nodes[0], nodes[i])
			if created[i] {
				creations++
			}
		}
		assert.Equal(t, 1, creations)
		require.Len(t, ws.Root().Children(), 1)
		assert.Len(t, nodes[0].Children(), n)
		assert.Equal(t, "rail 00", nodes[0].Children()[0].Name())
	}
}

func TestGetOrCreateUnderParent(t *testing.T) {
	ws := New("test", nil)
	proc, _ := ws.GetOrCreate(nil, NodeArgs{Name: "Process 1", ID: "process:1", IsSummary: true})
	thread, created := ws.GetOrCreate(proc, NodeArgs{Name: "Thread 2", ID: "thread:2"})
	assert.True(t, created)
	assert.Same(t, proc, thread.Parent())
	assert.Panics(t, func() { ws.GetOrCreate(nil, NodeArgs{Name: "no id"}) })
	assert.Panics(t, func() { ws.GetOrCreate(NewNode(NodeArgs{}), NodeArgs{ID: "x"}) })
}

func TestReparent(t *testing.T) {
	ws := New("test", nil)
	g1 := NewNode(NodeArgs{Name: "g1", IsSummary: true})
	g2 := NewNode(NodeArgs{Name: "g2", IsSummary: true})
	track := NewNode(NodeArgs{Name: "t", ID: "t"})
	ws.AddChildInOrder(g1)
	ws.AddChildInOrder(g2)
	g1.AddChildInOrder(track)

	g2.AddChildInOrder(track)
	assert.Empty(t, g1.Children())
	assert.Same(t, g2, track.Parent())
	assert.Same(t, track, ws.GetTrackByID("t"))

	assert.Panics(t, func() { track.AddChildInOrder(g2) })
	assert.Panics(t, func() { g2.AddChildInOrder(g2) })

	// Moving a node out of the workspace drops it from the index.
	detached := NewNode(NodeArgs{Name: "detached"})
	detached.AddChildInOrder(track)
	assert.Nil(t, ws.GetTrackByID("t"))
}

func TestClone(t *testing.T) {
	ws := New("test", nil)
	group := NewNode(NodeArgs{Name: "g", ID: "g", URI: "/g", SortOrder: 3, Collapsed: true})
	group.AddChildInOrder(NewNode(NodeArgs{Name: "child", ID: "child", URI: "/child"}))
	ws.AddChildInOrder(group)

	shallow := group.Clone(false)
	assert.Equal(t, "/g", shallow.URI())
	assert.Empty(t, shallow.ID())
	assert.Nil(t, shallow.Parent())
	assert.Empty(t, shallow.Children())
	assert.Equal(t, 3, shallow.SortOrder())
	assert.True(t, shallow.Collapsed())

	deep := group.Clone(true)
	require.Len(t, deep.Children(), 1)
	assert.Equal(t, "/child", deep.Children()[0].URI())
	assert.Empty(t, deep.Children()[0].ID())
	assert.Same(t, deep, deep.Children()[0].Parent())

	// Attaching the clone elsewhere doesn't shadow the original.
	other := NewNode(NodeArgs{Name: "other"})
	ws.AddChildInOrder(other)
	other.AddChildInOrder(deep)
	assert.Same(t, group, ws.GetTrackByURI("/g"))
}

func TestPin(t *testing.T) {
	ws := New("test", nil)
	track := NewNode(NodeArgs{Name: "cpu", ID: "cpu", URI: "/cpu"})
	ws.AddChildInOrder(track)

	track.Pin()
	track.Pin()
	assert.True(t, track.Pinned())
	pinned := ws.PinnedTracks()
	require.Len(t, pinned, 1)
	assert.Equal(t, "/cpu", pinned[0].URI())
	assert.NotSame(t, track, pinned[0])
	// The original stays where it was.
	assert.Same(t, track, ws.GetTrackByURI("/cpu"))
	assert.Equal(t, []*Node{track}, ws.Root().Children())

	track.Unpin()
	assert.False(t, track.Pinned())
	assert.Empty(t, ws.PinnedTracks())

	track.Pin()
	track.Remove()
	assert.Empty(t, ws.PinnedTracks())

	assert.Panics(t, func() { NewNode(NodeArgs{Name: "x"}).Pin() })
}

func TestFlatten(t *testing.T) {
	ws := New("test", nil)
	a := NewNode(NodeArgs{Name: "a", IsSummary: true})
	a.AddChildInOrder(NewNode(NodeArgs{Name: "a1"}))
	a.AddChildInOrder(NewNode(NodeArgs{Name: "a2"}))
	b := NewNode(NodeArgs{Name: "b", IsSummary: true, Collapsed: true})
	b.AddChildInOrder(NewNode(NodeArgs{Name: "b1"}))
	ws.AddChildInOrder(a)
	ws.AddChildInOrder(b)

	assert.Equal(t, []string{"a", "a1", "a2", "b"}, names(ws.Flatten()))
	b.Expand()
	assert.Equal(t, []string{"a", "a1", "a2", "b", "b1"}, names(ws.Flatten()))
	a.Collapse()
	assert.Equal(t, []string{"a", "b", "b1"}, names(ws.Flatten()))
	assert.Equal(t, 5, ws.Len())

	var depths []int
	ws.Walk(func(_ *Node, depth int) bool {
		depths = append(depths, depth)
		return true
	})
	assert.Equal(t, []int{0, 1, 1, 0, 1}, depths)
}
