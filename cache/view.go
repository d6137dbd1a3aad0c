package cache

import (
	"github.com/dustin/go-humanize"
)

const (
	GlyphDirectory = "dir"
	GlyphFile      = "file"

	modifiedLayout = "Mon Jan 2 15:04:05 2006"

	sIFMT  = 0o170000
	sIFDIR = 0o040000
	sIRUSR = 0o400
)

var Headers = []string{"Name", "Owner", "Last Modified", "Permissions", "Size"}

// Row is the presentation of a single node.
type Row struct {
	ID          NodeID `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Owner       string `json:"owner"`
	Modified    string `json:"modified"`
	Permissions string `json:"permissions"`
	Size        string `json:"size"`
	Glyph       string `json:"glyph"`
	Dimmed      bool   `json:"dimmed"`
	HasChildren bool   `json:"has_children"`
}

// Permissions renders st_mode bits as a type flag followed by rwx triplets
// for owner, group and other.
func Permissions(mode uint32) string {
	const rwx = "rwxrwxrwx"
	out := []byte("----------")
	if mode&sIFMT == sIFDIR {
		out[0] = 'd'
	}
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			out[i+1] = rwx[i]
		}
	}
	return string(out)
}

func (t *Tree) RowCount(parent NodeID) int {
	n, ok := t.nodes[parent]
	if !ok {
		return 0
	}
	return len(n.children)
}

func (t *Tree) HasChildren(id NodeID) bool {
	n, ok := t.nodes[id]
	return ok && n.entry.IsDir
}

// Index returns the child of parent at row.
func (t *Tree) Index(parent NodeID, row int) (NodeID, bool) {
	n, ok := t.nodes[parent]
	if !ok || row < 0 || row >= len(n.children) {
		return 0, false
	}
	return n.children[row], true
}

// Parent returns id's parent and id's current row within it. The root has
// no parent.
func (t *Tree) Parent(id NodeID) (NodeID, int, bool) {
	n, ok := t.nodes[id]
	if !ok || id == RootID {
		return 0, 0, false
	}
	for row, child := range t.nodes[n.parent].children {
		if child == id {
			return n.parent, row, true
		}
	}
	return 0, 0, false
}

func (t *Tree) Row(id NodeID) (Row, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Row{}, false
	}
	e := n.entry

	row := Row{
		ID:          id,
		Name:        e.Name,
		Path:        e.Path,
		Owner:       e.Owner,
		Permissions: Permissions(e.Permissions),
		Glyph:       GlyphFile,
		HasChildren: e.IsDir,
	}
	if !e.ModTime.IsZero() {
		row.Modified = e.ModTime.Local().Format(modifiedLayout)
	}
	if e.IsDir {
		row.Glyph = GlyphDirectory
		row.Permissions = "d" + row.Permissions[1:]
		row.Dimmed = !n.placeholder && e.Permissions&sIRUSR == 0
	} else {
		row.Size = humanize.IBytes(uint64(e.Size))
	}
	return row, true
}

// Rows returns the rows of parent's children in order.
func (t *Tree) Rows(parent NodeID) []Row {
	n, ok := t.nodes[parent]
	if !ok {
		return nil
	}
	rows := make([]Row, 0, len(n.children))
	for _, id := range n.children {
		if row, ok := t.Row(id); ok {
			rows = append(rows, row)
		}
	}
	return rows
}
