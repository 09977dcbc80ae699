// Package pathstate implements the path-state tree: an ordered prefix
// tree keyed on "/"-separated path components, recording one disposition
// per node.
//
// Following the Design Notes, the tree is modeled as an arena
// (a slice of nodes indexed by integer handle) rather than as
// pointer-linked, parent-referencing nodes: Go's garbage collector would
// happily collect a pointer tree, but an arena makes "destroy the whole
// tree in one shot" and "reconstruct a canonical path by walking to the
// root" both trivial, explicit operations instead of implicit ones, and it
// gives every node a stable, comparable identity for tests.
package pathstate

import (
	"sort"
	"strings"
)

// Disposition is the per-node mutation record.
type Disposition int

const (
	// Unchanged is the zero value: the path was not touched by assembly.
	Unchanged Disposition = iota
	// Ignored marks a path as deliberately skipped (autoprofile only).
	Ignored
	// SystemMount records a pre-existing mount found by the mount-table reader.
	SystemMount
	// BindMounted records a bind mount.
	BindMounted
	// OverlayMounted records an overlay mount, optionally with an upperdir.
	OverlayMounted
	// FakeOverlayMounted is reserved for future use.
	FakeOverlayMounted
)

func (d Disposition) String() string {
	switch d {
	case Unchanged:
		return "Unchanged"
	case Ignored:
		return "Ignored"
	case SystemMount:
		return "SystemMount"
	case BindMounted:
		return "BindMounted"
	case OverlayMounted:
		return "OverlayMounted"
	case FakeOverlayMounted:
		return "FakeOverlayMounted"
	default:
		return "Disposition(?)"
	}
}

// SystemMountPayload is the payload for SystemMount nodes.
type SystemMountPayload struct {
	FSType string
	Device string
}

// OverlayPayload is the payload for OverlayMounted/FakeOverlayMounted nodes.
// Upperdir may be empty when the upperdir is a temporary scaffold directory
// the caller does not intend to retain.
type OverlayPayload struct {
	Upperdir string
}

// Handle identifies a node within a Tree's arena. The zero Handle never
// refers to a valid node (the root is handle 1).
type Handle int

const invalidHandle Handle = 0
const rootHandle Handle = 1

type node struct {
	name     string // last path segment; empty for the root
	parent   Handle
	children map[string]Handle

	disposition Disposition
	systemMount *SystemMountPayload
	overlay     *OverlayPayload

	// aux holds arbitrary per-node data used by analysis passes, e.g. the
	// autoprofile "ignore if empty" / "ignore empty subdirs" markers
	//.
	aux map[string]any
}

// Tree is an ordered prefix tree of path dispositions. The zero value is
// not usable; construct one with New. A Tree is owned by a single
// environment and is not safe for concurrent use: the assembler that
// mutates it is single-threaded.
type Tree struct {
	nodes        []node
	rootDirectory string
}

// New returns an empty Tree containing only the root node ("/").
func New() *Tree {
	t := &Tree{nodes: make([]node, 0, 64)}
	t.nodes = append(t.nodes, node{}) // handle 0 is never used
	t.nodes = append(t.nodes, node{children: map[string]Handle{}})
	return t
}

func (t *Tree) at(h Handle) *node {
	return &t.nodes[h]
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Lookup resolves path to a Handle. When create is false, it returns
// (0, false) unless some prior call created every segment of path. When
// create is true, missing segments are created as Unchanged nodes.
//
// This satisfies the lookup-totality property: for any
// absolute path P, Lookup(P, true) returns a node whose Path() equals the
// canonical P.
func (t *Tree) Lookup(path string, create bool) (Handle, bool) {
	segments := splitPath(path)
	cur := rootHandle

	for _, seg := range segments {
		children := t.at(cur).children
		next, ok := children[seg]
		if !ok {
			if !create {
				return invalidHandle, false
			}
			t.nodes = append(t.nodes, node{name: seg, parent: cur, children: map[string]Handle{}})
			next = Handle(len(t.nodes) - 1)
			children[seg] = next
		}
		cur = next
	}

	return cur, true
}

// Path reconstructs the canonical absolute path of h by walking to the root.
func (t *Tree) Path(h Handle) string {
	var segments []string
	for cur := h; cur != rootHandle; cur = t.at(cur).parent {
		segments = append([]string{t.at(cur).name}, segments...)
	}
	return "/" + strings.Join(segments, "/")
}

// Set records a disposition (and its payload, if any) at path, creating any
// missing ancestor nodes. Any previous payload is discarded.
func (t *Tree) Set(path string, d Disposition, payload any) Handle {
	h, _ := t.Lookup(path, true)
	n := t.at(h)
	n.disposition = d
	n.systemMount = nil
	n.overlay = nil

	switch p := payload.(type) {
	case SystemMountPayload:
		n.systemMount = &p
	case *SystemMountPayload:
		n.systemMount = p
	case OverlayPayload:
		n.overlay = &p
	case *OverlayPayload:
		n.overlay = p
	}

	return h
}

// Clear resets path back to Unchanged and discards its payload.
func (t *Tree) Clear(path string) {
	h, ok := t.Lookup(path, false)
	if !ok {
		return
	}
	n := t.at(h)
	n.disposition = Unchanged
	n.systemMount = nil
	n.overlay = nil
}

// Get returns the disposition at path, or (Unchanged, false) if no node was
// ever created there.
func (t *Tree) Get(path string) (Disposition, bool) {
	h, ok := t.Lookup(path, false)
	if !ok {
		return Unchanged, false
	}
	return t.at(h).disposition, true
}

// Disposition returns the disposition recorded at h.
func (t *Tree) Disposition(h Handle) Disposition { return t.at(h).disposition }

// SystemMountPayload returns the SystemMount payload at h, or nil.
func (t *Tree) SystemMountPayload(h Handle) *SystemMountPayload { return t.at(h).systemMount }

// OverlayPayloadAt returns the overlay payload at h, or nil.
func (t *Tree) OverlayPayloadAt(h Handle) *OverlayPayload { return t.at(h).overlay }

// SetAux stores arbitrary per-node auxiliary data under key.
func (t *Tree) SetAux(h Handle, key string, value any) {
	n := t.at(h)
	if n.aux == nil {
		n.aux = map[string]any{}
	}
	n.aux[key] = value
}

// Aux retrieves auxiliary data previously stored with SetAux.
func (t *Tree) Aux(h Handle, key string) (any, bool) {
	n := t.at(h)
	if n.aux == nil {
		return nil, false
	}
	v, ok := n.aux[key]
	return v, ok
}

// Children returns the immediate children of h, ordered by name.
func (t *Tree) Children(h Handle) []Handle {
	children := t.at(h).children
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Handle, 0, len(names))
	for _, name := range names {
		out = append(out, children[name])
	}
	return out
}

// Root returns the root handle.
func (t *Tree) Root() Handle { return rootHandle }

// SetRootDirectory records the physical filesystem root this tree's
// mutations were applied under (distinct from the logical "/").
func (t *Tree) SetRootDirectory(root string) { t.rootDirectory = root }

// RootDirectory returns the path set by SetRootDirectory, or "" if unset.
func (t *Tree) RootDirectory() string { return t.rootDirectory }

// Entry is one (path, disposition) pair yielded by Walk.
type Entry struct {
	Path        string
	Disposition Disposition
	Handle      Handle
}

// WalkFunc is called for each changed node during Walk. Returning
// skipChildren=true prevents descent into this node's children (it is
// still otherwise processed normally).
type WalkFunc func(e Entry) (skipChildren bool)

// Walk performs a pre-order depth-first traversal of the tree, invoking fn
// for every node whose disposition is not Unchanged. Unchanged nodes are
// still descended into (so changed descendants are reached) but are never
// passed to fn.
func (t *Tree) Walk(fn WalkFunc) {
	var visit func(h Handle)
	visit = func(h Handle) {
		n := t.at(h)
		skip := false
		if n.disposition != Unchanged {
			skip = fn(Entry{Path: t.Path(h), Disposition: n.disposition, Handle: h})
		}
		if skip {
			return
		}
		for _, child := range t.Children(h) {
			visit(child)
		}
	}
	visit(rootHandle)
}

// Dump renders the tree as an indented diagnostic listing: one line
// ("name (Disposition ...)") for the root and for each node whose
// disposition is not Unchanged.
func (t *Tree) Dump() string {
	var b strings.Builder
	var visit func(h Handle, depth int)
	visit = func(h Handle, depth int) {
		n := t.at(h)
		name := n.name
		if h == rootHandle {
			name = "/"
		}
		if h == rootHandle || n.disposition != Unchanged {
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString(name)
			b.WriteString(" (")
			b.WriteString(n.disposition.String())
			if n.systemMount != nil {
				b.WriteString(" fstype=" + n.systemMount.FSType + " device=" + n.systemMount.Device)
			}
			if n.overlay != nil && n.overlay.Upperdir != "" {
				b.WriteString(" upperdir=" + n.overlay.Upperdir)
			}
			b.WriteString(")\n")
		}
		for _, child := range t.Children(h) {
			visit(child, depth+1)
		}
	}
	visit(rootHandle, 0)
	return b.String()
}
