// Package cache holds the in-memory mirror of the remote directory tree.
//
// A Tree is owned by a single goroutine. Nodes live in an arena addressed by
// NodeID; an ID is never reused, so a stale ID simply stops resolving once
// its subtree has been destroyed. Row positions are only stable until the
// next reconciliation of the parent and must be recomputed from the ID.
package cache

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/b1naryth1ef/sshexplorer/transport"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound     = errors.New("no such path in tree")
	ErrNotDirectory = errors.New("not a directory")
)

type NodeID uint64

// RootID is the node for "/". It exists for the lifetime of the Tree.
const RootID NodeID = 0

type ChangeType = uint8

const (
	ChangeInsert ChangeType = 0
	ChangeRemove ChangeType = 1
	ChangeUpdate ChangeType = 2
)

// Change describes one structural or data change. For inserts and removals
// Row is the position in Parent's children at the moment of the change.
type Change struct {
	Type   ChangeType
	Parent NodeID
	Row    int
	Node   NodeID
	Path   string
}

type Observer interface {
	TreeChanged(Change)
}

type ObserverFunc func(Change)

func (f ObserverFunc) TreeChanged(c Change) { f(c) }

type node struct {
	entry       transport.DirEntry
	parent      NodeID
	children    []NodeID
	placeholder bool
}

type Tree struct {
	nodes   map[NodeID]*node
	nextID  NodeID
	pending map[string]struct{}

	want     func(path string)
	observer Observer
	changes  *[]Change
	log      *logrus.Entry
}

// New creates a tree holding only the root. want is called with a
// slash-terminated path whenever a listing is needed.
func New(want func(path string), observer Observer, log *logrus.Entry) *Tree {
	if log == nil {
		log = logrus.WithField("component", "cache")
	}
	t := &Tree{
		nodes:    make(map[NodeID]*node),
		nextID:   RootID + 1,
		pending:  make(map[string]struct{}),
		want:     want,
		observer: observer,
		log:      log,
	}
	t.nodes[RootID] = &node{
		entry: transport.DirEntry{Path: "/", Name: "/", IsDir: true},
	}
	return t
}

// Clean returns the canonical form of p: absolute, no trailing slash.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// DirPath returns the slash-terminated form sent to the transport.
func DirPath(p string) string {
	p = Clean(p)
	if p == "/" {
		return p
	}
	return p + "/"
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) Entry(id NodeID) (transport.DirEntry, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return transport.DirEntry{}, false
	}
	return n.entry, true
}

// Children returns a copy of id's ordered child IDs.
func (t *Tree) Children(id NodeID) []NodeID {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	return append([]NodeID(nil), n.children...)
}

func (t *Tree) Pending(p string) bool {
	_, ok := t.pending[Clean(p)]
	return ok
}

func (t *Tree) record(c Change) {
	if t.changes != nil {
		*t.changes = append(*t.changes, c)
	}
	if t.observer != nil {
		t.observer.TreeChanged(c)
	}
}

func (t *Tree) request(p string) {
	if t.want != nil {
		t.want(DirPath(p))
	}
}

func (t *Tree) childNamed(parent *node, name string) (NodeID, bool) {
	for _, id := range parent.children {
		if t.nodes[id].entry.Name == name {
			return id, true
		}
	}
	return 0, false
}

// Resolve walks p from the root one segment at a time. Missing segments are
// synthesized as placeholder directories when create is set, but never below
// a node known to be a file.
func (t *Tree) Resolve(p string, create bool) (NodeID, error) {
	p = Clean(p)
	if p == "/" {
		return RootID, nil
	}

	current := RootID
	currentPath := "/"
	for _, part := range strings.Split(p[1:], "/") {
		currentPath = path.Join(currentPath, part)
		n := t.nodes[current]
		child, ok := t.childNamed(n, part)
		if !ok {
			if !create {
				return 0, fmt.Errorf("%w: %s", ErrNotFound, p)
			}
			if !n.entry.IsDir && !n.placeholder {
				return 0, fmt.Errorf("%w: %s", ErrNotDirectory, n.entry.Path)
			}
			child = t.insert(current, transport.DirEntry{
				Path:  currentPath,
				Name:  part,
				IsDir: true,
			}, true)
		}
		current = child
	}
	return current, nil
}

func (t *Tree) insert(parent NodeID, entry transport.DirEntry, placeholder bool) NodeID {
	id := t.nextID
	t.nextID++

	p := t.nodes[parent]
	t.nodes[id] = &node{entry: entry, parent: parent, placeholder: placeholder}
	p.children = append(p.children, id)

	t.record(Change{Type: ChangeInsert, Parent: parent, Row: len(p.children) - 1, Node: id, Path: entry.Path})
	return id
}

// remove detaches the child at row and destroys its subtree. Only the
// detached child is reported.
func (t *Tree) remove(parent NodeID, row int) {
	p := t.nodes[parent]
	id := p.children[row]
	childPath := t.nodes[id].entry.Path

	p.children = append(p.children[:row], p.children[row+1:]...)
	t.destroy(id)

	t.record(Change{Type: ChangeRemove, Parent: parent, Row: row, Node: id, Path: childPath})
}

func (t *Tree) destroy(id NodeID) {
	n := t.nodes[id]
	for _, child := range n.children {
		t.destroy(child)
	}
	delete(t.nodes, id)
}

func (t *Tree) update(id NodeID, entry transport.DirEntry) {
	n := t.nodes[id]
	if !n.placeholder && n.entry.Equal(entry) {
		return
	}
	n.entry = entry
	n.placeholder = false

	if !entry.IsDir {
		for len(n.children) > 0 {
			t.remove(id, len(n.children)-1)
		}
	}
	t.record(Change{Type: ChangeUpdate, Parent: n.parent, Node: id, Path: entry.Path})
}

// Reconcile makes the children of p match entries by name: missing names are
// removed with their subtrees, present names get the fresh entry and new
// names are appended. If p was pending expansion it leaves the pending set
// and every fresh directory is requested exactly once. A listing for a path
// that is now known to be a file is dropped.
func (t *Tree) Reconcile(p string, entries []transport.DirEntry) []Change {
	var changes []Change
	t.changes = &changes
	defer func() { t.changes = nil }()

	p = Clean(p)
	id, err := t.Resolve(p, true)
	if err == nil && !t.nodes[id].entry.IsDir && !t.nodes[id].placeholder {
		err = fmt.Errorf("%w: %s", ErrNotDirectory, p)
	}
	if err != nil {
		t.log.Debugf("dropping listing of %s: %v", p, err)
		delete(t.pending, p)
		return changes
	}
	n := t.nodes[id]

	fresh := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		fresh[entry.Name] = struct{}{}
	}

	existing := make(map[string]NodeID, len(n.children))
	for row := 0; row < len(n.children); {
		child := t.nodes[n.children[row]]
		if _, ok := fresh[child.entry.Name]; !ok {
			t.remove(id, row)
			continue
		}
		existing[child.entry.Name] = n.children[row]
		row++
	}

	for _, entry := range entries {
		entry.Path = path.Join(p, entry.Name)
		if child, ok := existing[entry.Name]; ok {
			t.update(child, entry)
			continue
		}
		existing[entry.Name] = t.insert(id, entry, false)
	}

	if _, ok := t.pending[p]; ok {
		delete(t.pending, p)
		for _, entry := range entries {
			if entry.IsDir {
				t.request(path.Join(p, entry.Name))
			}
		}
	}

	t.log.Debugf("reconciled %s: %d entries, %d changes", p, len(entries), len(changes))
	return changes
}

// UserExpanded marks p for preload and requests its listing.
func (t *Tree) UserExpanded(p string) {
	p = Clean(p)
	t.pending[p] = struct{}{}
	t.request(p)
}

// ConnectionEstablished preloads the root of a fresh connection.
func (t *Tree) ConnectionEstablished() {
	t.UserExpanded("/")
}

// Refresh requests a listing of p without marking it for preload.
func (t *Tree) Refresh(p string) {
	t.request(p)
}

// Reset removes every child of the root and forgets pending expansions.
func (t *Tree) Reset() {
	root := t.nodes[RootID]
	for len(root.children) > 0 {
		t.remove(RootID, len(root.children)-1)
	}
	t.pending = make(map[string]struct{})
}
