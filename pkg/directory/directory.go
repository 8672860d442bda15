// Package directory implements a single directory's child list: an
// append-ordered table of (node id, name) pairs plus the read/write identity
// and timestamps every directory node in the filesystem tree carries.
package directory

import (
	"fmt"
	"time"

	"github.com/marmos91/dittofs/pkg/authority"
)

// NodeId indexes a node slot in the owning filesystem's node table.
type NodeId uint32

// Child is one entry in a Directory's child list.
type Child struct {
	NodeId NodeId
	Name   string
}

// Directory is the record stored at every directory node. It owns the
// ordered list of its children and the identities authorized to read or
// write it.
type Directory struct {
	Parent   NodeId
	Created  time.Time
	Modified time.Time
	Read     authority.Id
	Write    authority.Id

	children []Child
}

// New creates a fresh, empty directory owned by user, as both reader and
// writer, located under parent.
func New(user authority.Id, parent NodeId) *Directory {
	now := time.Now()
	return &Directory{
		Parent:   parent,
		Created:  now,
		Modified: now,
		Read:     user,
		Write:    user,
		children: make([]Child, 0, 5),
	}
}

// Restore rebuilds a Directory from persisted fields, used when loading the
// filesystem snapshot back from disk.
func Restore(parent NodeId, created, modified time.Time, read, write authority.Id, children []Child) *Directory {
	return &Directory{
		Parent:   parent,
		Created:  created,
		Modified: modified,
		Read:     read,
		Write:    write,
		children: children,
	}
}

// NumberOfChildren returns the number of entries in the directory.
func (d *Directory) NumberOfChildren() int { return len(d.children) }

// IsEmpty reports whether the directory has no children.
func (d *Directory) IsEmpty() bool { return len(d.children) == 0 }

// Children returns the directory's children in insertion order. The
// returned slice must not be mutated by the caller.
func (d *Directory) Children() []Child { return d.children }

// AddChild appends a new child entry.
func (d *Directory) AddChild(nodeID NodeId, name string) {
	d.children = append(d.children, Child{NodeId: nodeID, Name: name})
	d.Modified = time.Now()
}

// RemoveChild removes the child at index, verifying it still refers to
// nodeID (guards against a stale index computed before a concurrent
// modification).
func (d *Directory) RemoveChild(index int, nodeID NodeId) error {
	if index < 0 || index >= len(d.children) {
		return fmt.Errorf("directory: index %d out of range", index)
	}
	if d.children[index].NodeId != nodeID {
		return fmt.Errorf("directory: child at index %d is not node %d", index, nodeID)
	}
	d.children = append(d.children[:index], d.children[index+1:]...)
	d.Modified = time.Now()
	return nil
}

// ChildWithName returns the node id and index of the child named name.
func (d *Directory) ChildWithName(name string) (NodeId, int, error) {
	for i, c := range d.children {
		if c.Name == name {
			return c.NodeId, i, nil
		}
	}
	return 0, 0, fmt.Errorf("directory: no child named %q", name)
}

// ChildWithNodeId returns the index of the child with the given node id.
func (d *Directory) ChildWithNodeId(nodeID NodeId) (int, error) {
	for i, c := range d.children {
		if c.NodeId == nodeID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("directory: no child with node id %d", nodeID)
}
