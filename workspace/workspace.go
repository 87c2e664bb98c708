package workspace

import (
	log "github.com/sirupsen/logrus"

	"honnef.co/go/tracedeck/mysync"
	"honnef.co/go/tracedeck/slices"
)

type pin struct {
	orig   *Node
	mirror *Node
}

// index holds the state that is shared by all nodes of a workspace.
type index struct {
	log    *log.Entry
	byID   map[string][]*Node
	byURI  map[string][]*Node
	pinned []pin
}

// attach records the subtree rooted at n as belonging to ws.
func (idx *index) attach(ws *Workspace, n *Node) {
	n.walk(0, func(n *Node, _ int) bool {
		n.ws = ws
		if n.id != "" {
			if existing := idx.byID[n.id]; len(existing) > 0 {
				idx.log.WithFields(log.Fields{
					"id":       n.id,
					"existing": existing[0].String(),
					"new":      n.String(),
				}).Warn("duplicate node id, lookups keep returning the existing node")
			}
			idx.byID[n.id] = append(idx.byID[n.id], n)
		}
		if n.uri != "" {
			idx.byURI[n.uri] = append(idx.byURI[n.uri], n)
		}
		if n.pinned {
			idx.pinned = append(idx.pinned, pin{orig: n, mirror: n.cloneLocked(false)})
		}
		return true
	})
}

// detach forgets the subtree rooted at n.
func (idx *index) detach(n *Node) {
	n.walk(0, func(n *Node, _ int) bool {
		n.ws = nil
		if n.id != "" {
			idx.byID[n.id], _ = slices.Remove(idx.byID[n.id], n)
			if len(idx.byID[n.id]) == 0 {
				delete(idx.byID, n.id)
			}
		}
		if n.uri != "" {
			idx.byURI[n.uri], _ = slices.Remove(idx.byURI[n.uri], n)
			if len(idx.byURI[n.uri]) == 0 {
				delete(idx.byURI, n.uri)
			}
		}
		if n.pinned {
			idx.unpin(n)
		}
		return true
	})
}

func (idx *index) unpin(n *Node) {
	for i, p := range idx.pinned {
		if p.orig == n {
			idx.pinned = append(idx.pinned[:i], idx.pinned[i+1:]...)
			return
		}
	}
}

// Workspace is the tree of groups and tracks of one loaded trace.
type Workspace struct {
	title string
	root  *Node
	mu    *mysync.Mutex[*index]
}

func New(title string, l *log.Entry) *Workspace {
	if l == nil {
		l = log.NewEntry(log.StandardLogger())
	}
	w := &Workspace{
		title: title,
		mu: mysync.NewMutex(&index{
			log:   l.WithField("workspace", title),
			byID:  map[string][]*Node{},
			byURI: map[string][]*Node{},
		}),
	}
	w.root = &Node{name: title, isSummary: true, ws: w}
	return w
}

func (w *Workspace) Title() string { return w.title }

// Root returns the invisible root node. Top-level groups and tracks are its children.
func (w *Workspace) Root() *Node { return w.root }

func (w *Workspace) AddChildInOrder(n *Node) { w.root.AddChildInOrder(n) }
func (w *Workspace) AddChildFirst(n *Node)   { w.root.AddChildFirst(n) }
func (w *Workspace) AddChildLast(n *Node)    { w.root.AddChildLast(n) }

// GetTrackByID returns the node with the given id. If several nodes share the id, the one attached first wins.
func (w *Workspace) GetTrackByID(id string) *Node {
	var n *Node
	w.mu.View(func(idx *index) {
		if ns := idx.byID[id]; len(ns) > 0 {
			n = ns[0]
		}
	})
	return n
}

// GetTrackByURI returns the first attached node referencing uri. Pinned mirrors aren't part of the tree and are never
// returned.
func (w *Workspace) GetTrackByURI(uri string) *Node {
	var n *Node
	w.mu.View(func(idx *index) {
		if ns := idx.byURI[uri]; len(ns) > 0 {
			n = ns[0]
		}
	})
	return n
}

// GetOrCreate returns the node with args.ID, creating it under parent (in order) if no such node exists. Lookup and
// insertion happen under a single lock hold, so concurrent callers asking for the same id all get the same node. A nil
// parent means the workspace root. args.ID must not be empty.
func (w *Workspace) GetOrCreate(parent *Node, args NodeArgs) (n *Node, created bool) {
	if args.ID == "" {
		panic("GetOrCreate needs an id")
	}
	if parent == nil {
		parent = w.root
	}
	w.mu.Do(func(idx *index) {
		if parent.ws != w {
			panic("parent is not attached to this workspace")
		}
		if ns := idx.byID[args.ID]; len(ns) > 0 {
			n = ns[0]
			return
		}
		n = NewNode(args)
		parent.insertLocked(idx, n, inOrder)
		created = true
	})
	return n, created
}

// PinnedTracks returns the mirrors of pinned nodes, in the order they were pinned.
func (w *Workspace) PinnedTracks() []*Node {
	var out []*Node
	w.mu.View(func(idx *index) {
		for _, p := range idx.pinned {
			out = append(out, p.mirror)
		}
	})
	return out
}

// Walk visits every node below the root in pre-order, with top-level nodes at depth 0. Returning false skips a node's
// children. fn must not modify the workspace.
func (w *Workspace) Walk(fn func(n *Node, depth int) bool) {
	w.mu.View(func(*index) {
		for _, c := range w.root.children {
			c.walk(0, fn)
		}
	})
}

// Flatten returns the nodes that would be visible when rendering the workspace: the children of collapsed nodes are
// omitted.
func (w *Workspace) Flatten() []*Node {
	var out []*Node
	w.Walk(func(n *Node, _ int) bool {
		out = append(out, n)
		return !n.collapsed
	})
	return out
}

// Len returns the number of nodes below the root.
func (w *Workspace) Len() int {
	n := 0
	w.Walk(func(*Node, int) bool {
		n++
		return true
	})
	return n
}
