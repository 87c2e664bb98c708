// Package workspace implements the ordered tree of groups and tracks that plugins build during trace load.
//
// Nodes may be built detached and attached later. Once a node is attached to a workspace, every mutation of it or its
// subtree goes through the workspace's lock, so plugins running concurrently can share groups safely.
package workspace

import (
	"cmp"
	"fmt"
	"strings"

	"honnef.co/go/tracedeck/slices"
)

// NodeArgs describes a node to create.
type NodeArgs struct {
	Name string
	// URI names the track renderer that draws this node.
	URI string
	// ID identifies the node for get-or-create lookups.
	ID        string
	IsSummary bool
	Collapsed bool
	SortOrder int
}

// Node is a group or track in a workspace.
type Node struct {
	name      string
	uri       string
	id        string
	isSummary bool
	collapsed bool
	sortOrder int
	pinned    bool

	parent   *Node
	children []*Node
	// ws is set while the node is attached to a workspace.
	ws *Workspace
}

func NewNode(args NodeArgs) *Node {
	return &Node{
		name:      args.Name,
		uri:       args.URI,
		id:        args.ID,
		isSummary: args.IsSummary,
		collapsed: args.Collapsed,
		sortOrder: args.SortOrder,
	}
}

func (n *Node) Name() string    { return n.name }
func (n *Node) URI() string     { return n.uri }
func (n *Node) ID() string      { return n.id }
func (n *Node) IsSummary() bool { return n.isSummary }
func (n *Node) SortOrder() int  { return n.sortOrder }

func (n *Node) String() string {
	if n.uri != "" {
		return fmt.Sprintf("%s (%s)", n.name, n.uri)
	}
	return n.name
}

// Workspace returns the workspace n is attached to, or nil.
func (n *Node) Workspace() *Workspace {
	var ws *Workspace
	n.view(func() { ws = n.ws })
	return ws
}

func (n *Node) Parent() *Node {
	var p *Node
	n.view(func() { p = n.parent })
	return p
}

// Children returns a copy of n's children.
func (n *Node) Children() []*Node {
	var out []*Node
	n.view(func() { out = append(out, n.children...) })
	return out
}

func (n *Node) Collapsed() bool {
	var b bool
	n.view(func() { b = n.collapsed })
	return b
}

func (n *Node) Pinned() bool {
	var b bool
	n.view(func() { b = n.pinned })
	return b
}

func (n *Node) Collapse() { n.update(func(*index) { n.collapsed = true }) }
func (n *Node) Expand()   { n.update(func(*index) { n.collapsed = false }) }

// FullPath returns the names of n's ancestors below the workspace root, followed by n's name.
func (n *Node) FullPath() []string {
	var path []string
	n.view(func() {
		for cur := n; cur != nil; cur = cur.parent {
			if cur.ws != nil && cur == cur.ws.root {
				break
			}
			path = append(path, cur.name)
		}
	})
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func (n *Node) view(fn func()) {
	if ws := n.ws; ws != nil {
		ws.mu.View(func(*index) { fn() })
		return
	}
	fn()
}

func (n *Node) update(fn func(idx *index)) {
	if ws := n.ws; ws != nil {
		ws.mu.Do(fn)
		return
	}
	fn(nil)
}

type position uint8

const (
	inOrder position = iota
	first
	last
)

// AddChildInOrder inserts child among n's children, which are kept sorted by sort order and then by name. Children
// with equal keys keep their insertion order. If child is already part of a tree it is moved.
func (n *Node) AddChildInOrder(child *Node) { n.insert(child, inOrder) }

// AddChildFirst inserts child before all of n's children, regardless of sort order.
func (n *Node) AddChildFirst(child *Node) { n.insert(child, first) }

// AddChildLast inserts child after all of n's children, regardless of sort order.
func (n *Node) AddChildLast(child *Node) { n.insert(child, last) }

func (n *Node) insert(child *Node, pos position) {
	ws := n.ws
	if ws == nil {
		ws = child.ws
	}
	if ws == nil {
		n.insertLocked(nil, child, pos)
		return
	}
	ws.mu.Do(func(idx *index) { n.insertLocked(idx, child, pos) })
}

func (n *Node) isDescendantOf(other *Node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

func compareNodes(a, b *Node) int {
	if c := cmp.Compare(a.sortOrder, b.sortOrder); c != 0 {
		return c
	}
	return strings.Compare(a.name, b.name)
}

func (n *Node) insertLocked(idx *index, child *Node, pos position) {
	if n.isDescendantOf(child) {
		panic(fmt.Sprintf("cannot insert %q into its own subtree", child.name))
	}
	if n.ws != nil && child.ws != nil && n.ws != child.ws {
		panic(fmt.Sprintf("node %q belongs to a different workspace", child.name))
	}
	if child.parent != nil {
		child.parent.children, _ = slices.Remove(child.parent.children, child)
		child.parent = nil
	}

	var at int
	switch pos {
	case first:
		at = 0
	case last:
		at = len(n.children)
	case inOrder:
		at = len(n.children)
		for i, c := range n.children {
			if compareNodes(child, c) < 0 {
				at = i
				break
			}
		}
	}
	n.children = append(n.children, nil)
	copy(n.children[at+1:], n.children[at:])
	n.children[at] = child
	child.parent = n

	switch {
	case child.ws == n.ws:
	case n.ws == nil:
		idx.detach(child)
	default:
		idx.attach(n.ws, child)
	}
}

// Remove detaches n from its parent. Removing a node from a workspace also unpins it and forgets its subtree's ids
// and URIs.
func (n *Node) Remove() {
	n.update(func(idx *index) {
		if n.parent == nil {
			return
		}
		n.parent.children, _ = slices.Remove(n.parent.children, n)
		n.parent = nil
		if idx != nil {
			idx.detach(n)
		}
	})
}

// Clone returns a detached copy of n. The copy keeps the URI, so it resolves to the same renderer, but not the ID,
// which must stay unique within a workspace. With deep set, children are cloned as well.
func (n *Node) Clone(deep bool) *Node {
	var out *Node
	n.view(func() { out = n.cloneLocked(deep) })
	return out
}

func (n *Node) cloneLocked(deep bool) *Node {
	out := &Node{
		name:      n.name,
		uri:       n.uri,
		isSummary: n.isSummary,
		collapsed: n.collapsed,
		sortOrder: n.sortOrder,
	}
	if deep {
		out.children = make([]*Node, len(n.children))
		for i, c := range n.children {
			cc := c.cloneLocked(true)
			cc.parent = out
			out.children[i] = cc
		}
	}
	return out
}

// Pin marks n as pinned and mirrors a clone of it in the workspace's pinned section. The node stays where it is.
// Pinning a node that isn't attached to a workspace panics.
func (n *Node) Pin() {
	if n.ws == nil {
		panic(fmt.Sprintf("cannot pin detached node %q", n.name))
	}
	n.update(func(idx *index) {
		if n.pinned {
			return
		}
		n.pinned = true
		idx.pinned = append(idx.pinned, pin{orig: n, mirror: n.cloneLocked(false)})
	})
}

func (n *Node) Unpin() {
	n.update(func(idx *index) {
		if !n.pinned {
			return
		}
		n.pinned = false
		if idx != nil {
			idx.unpin(n)
		}
	})
}

// walk visits n and its descendants in pre-order. Returning false from fn skips a node's children.
func (n *Node) walk(depth int, fn func(n *Node, depth int) bool) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.children {
		c.walk(depth+1, fn)
	}
}
