// Package filesystem implements the fixed-capacity node table: the tree of
// files and directories addressed by dense NodeId, with path resolution and
// create/delete policy. Node 0 is always the root directory.
package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strconv"
	"time"

	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/directory"
	"github.com/marmos91/dittofs/pkg/fileengine"
	"github.com/marmos91/dittofs/pkg/filehandle"
	"github.com/marmos91/dittofs/pkg/serialize"
)

// NodeId indexes a slot in the node table. Zero is the root directory.
type NodeId = directory.NodeId

const NodeIdRoot NodeId = 0

// ErrorCode categorizes filesystem errors.
type ErrorCode int

const (
	ErrInvalidNodeId ErrorCode = iota
	ErrFolderIsNotEmpty
	ErrInvalidPath
	ErrInvalidPathBufferSize
	ErrHostFilesystemError
	ErrAllNodesInUse
	ErrParentIsNotDirectory
	ErrNodeIsNotFile
	ErrNodeIsNotDirectory
	ErrDirectoryFull
)

// Error is returned by every Filesystem operation.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// slotKind tags what occupies a node table slot, replacing dynamic dispatch
// with a small tagged union (spec.md §9).
type slotKind uint8

const (
	slotEmpty slotKind = iota
	slotFile
	slotDirectory
)

type slot struct {
	kind      slotKind
	file      *filehandle.FileHandle
	directory *directory.Directory
}

// Filesystem is the fixed-capacity node table plus the directory-shape
// constraints (max children per directory). It is not safe for concurrent
// use: pkg/node's single orchestrator goroutine owns it exclusively.
type Filesystem struct {
	nodes               []slot
	maxChildrenPerDir   int
	dataDir             string
	crypto              cryptoctx.Context
}

// New creates an empty Filesystem of the given capacity, with only the root
// directory populated, owned by rootOwner (the admin group at first boot).
func New(cc cryptoctx.Context, dataDir string, capacity int, maxChildrenPerDir int, rootOwner authority.Id) *Filesystem {
	fs := &Filesystem{
		nodes:             make([]slot, capacity),
		maxChildrenPerDir: maxChildrenPerDir,
		dataDir:           dataDir,
		crypto:            cc,
	}
	fs.nodes[NodeIdRoot] = slot{kind: slotDirectory, directory: directory.New(rootOwner, NodeIdRoot)}
	return fs
}

// Capacity returns the total number of node slots.
func (fs *Filesystem) Capacity() int { return len(fs.nodes) }

// MaxChildrenPerDirectory returns the configured per-directory child cap.
func (fs *Filesystem) MaxChildrenPerDirectory() int { return fs.maxChildrenPerDir }

func (fs *Filesystem) slotAt(id NodeId) (*slot, error) {
	if int(id) >= len(fs.nodes) {
		return nil, newError(ErrInvalidNodeId, "node id %d out of range", id)
	}
	return &fs.nodes[id], nil
}

// Directory returns the directory record at id.
func (fs *Filesystem) Directory(id NodeId) (*directory.Directory, error) {
	s, err := fs.slotAt(id)
	if err != nil {
		return nil, err
	}
	if s.kind != slotDirectory {
		return nil, newError(ErrNodeIsNotDirectory, "node %d is not a directory", id)
	}
	return s.directory, nil
}

// File returns the file handle at id.
func (fs *Filesystem) File(id NodeId) (*filehandle.FileHandle, error) {
	s, err := fs.slotAt(id)
	if err != nil {
		return nil, err
	}
	if s.kind != slotFile {
		return nil, newError(ErrNodeIsNotFile, "node %d is not a file", id)
	}
	return s.file, nil
}

// IsFile reports whether id names a file slot.
func (fs *Filesystem) IsFile(id NodeId) bool {
	s, err := fs.slotAt(id)
	return err == nil && s.kind == slotFile
}

// IsDirectory reports whether id names a directory slot.
func (fs *Filesystem) IsDirectory(id NodeId) bool {
	s, err := fs.slotAt(id)
	return err == nil && s.kind == slotDirectory
}

// NumberOfFiles returns the total number of file nodes in the tree, open or
// not, backing Node.QueryCounters.
func (fs *Filesystem) NumberOfFiles() int {
	n := 0
	for _, s := range fs.nodes {
		if s.kind == slotFile {
			n++
		}
	}
	return n
}

// NumberOfOpenFiles returns the number of file nodes with a currently
// running engine, backing Node.QueryCounters.
func (fs *Filesystem) NumberOfOpenFiles() int {
	n := 0
	for _, s := range fs.nodes {
		if s.kind == slotFile && s.file.IsOpen() {
			n++
		}
	}
	return n
}

// ResolvePathFromRoot fills out with the chain of NodeIds from root down to
// the target (inclusive) and returns how many entries it wrote. path must be
// absolute (begin with "/"); components are compared as opaque byte strings.
func (fs *Filesystem) ResolvePathFromRoot(path string, out []NodeId) (int, error) {
	if len(path) == 0 || path[0] != '/' {
		return 0, newError(ErrInvalidPath, "path %q is not absolute", path)
	}

	components := splitPath(path)
	parent := NodeId(NodeIdRoot)
	count := 0

	for _, comp := range components {
		if count >= len(out) {
			return 0, newError(ErrInvalidPathBufferSize, "path buffer too small")
		}
		dir, err := fs.Directory(parent)
		if err != nil {
			return 0, newError(ErrInvalidPath, "component of path %q is not a directory", path)
		}
		out[count] = parent
		count++

		childID, _, err := dir.ChildWithName(comp)
		if err != nil {
			return 0, newError(ErrInvalidPath, "no entry %q in path %q", comp, path)
		}
		parent = childID
	}

	if count >= len(out) {
		return 0, newError(ErrInvalidPathBufferSize, "path buffer too small")
	}
	out[count] = parent
	count++
	return count, nil
}

// splitPath breaks an absolute path into its non-empty components, comparing
// byte-for-byte (no case folding, no unicode normalization).
func splitPath(path string) []string {
	var out []string
	for _, c := range bytes.Split([]byte(path), []byte("/")) {
		if len(c) > 0 {
			out = append(out, string(c))
		}
	}
	return out
}

// CreateFile creates a new file named name under parent, owned by user, and
// returns its allocated NodeId.
func (fs *Filesystem) CreateFile(ctx context.Context, parent NodeId, name string, user authority.Id, fileType fileengine.Type, maxBlockSize uint64) (NodeId, error) {
	dir, err := fs.Directory(parent)
	if err != nil {
		return 0, newError(ErrParentIsNotDirectory, "parent %d is not a directory", parent)
	}
	if dir.NumberOfChildren() >= fs.maxChildrenPerDir {
		return 0, newError(ErrDirectoryFull, "directory %d is full", parent)
	}
	if _, _, err := dir.ChildWithName(name); err == nil {
		return 0, newError(ErrInvalidPath, "name %q already exists in directory %d", name, parent)
	}

	nodeID, err := fs.allocateNodeID()
	if err != nil {
		return 0, newError(ErrAllNodesInUse, "no free node slots")
	}

	basename := fs.basenameFor(name, nodeID)
	fh, err := filehandle.Create(ctx, basename, fs.crypto, user, parent, fileType, maxBlockSize)
	if err != nil {
		return 0, newError(ErrHostFilesystemError, "failed to create file %q: %v", name, err)
	}

	dir.AddChild(nodeID, name)
	fs.nodes[nodeID] = slot{kind: slotFile, file: fh}
	return nodeID, nil
}

// CreateDirectory creates a new subdirectory named name under parent, owned
// by user, and returns its allocated NodeId.
func (fs *Filesystem) CreateDirectory(parent NodeId, name string, user authority.Id) (NodeId, error) {
	dir, err := fs.Directory(parent)
	if err != nil {
		return 0, newError(ErrParentIsNotDirectory, "parent %d is not a directory", parent)
	}
	if dir.NumberOfChildren() >= fs.maxChildrenPerDir {
		return 0, newError(ErrDirectoryFull, "directory %d is full", parent)
	}
	if _, _, err := dir.ChildWithName(name); err == nil {
		return 0, newError(ErrInvalidPath, "name %q already exists in directory %d", name, parent)
	}

	nodeID, err := fs.allocateNodeID()
	if err != nil {
		return 0, newError(ErrAllNodesInUse, "no free node slots")
	}

	dir.AddChild(nodeID, name)
	fs.nodes[nodeID] = slot{kind: slotDirectory, directory: directory.New(user, parent)}
	return nodeID, nil
}

// Delete removes the node at nodeID from parent's child list at
// indexInParent (cross-checked against nodeID), requiring a directory to be
// empty; a file that is open is closed first. The root directory can never be deleted: it
// is never passed in as nodeID by a correct caller, since it has no parent
// entry to remove it from.
func (fs *Filesystem) Delete(ctx context.Context, parent NodeId, indexInParent int, nodeID NodeId) error {
	s, err := fs.slotAt(nodeID)
	if err != nil {
		return err
	}
	if s.kind == slotEmpty {
		return newError(ErrInvalidNodeId, "node %d is already empty", nodeID)
	}
	if s.kind == slotDirectory && !s.directory.IsEmpty() {
		return newError(ErrFolderIsNotEmpty, "directory %d is not empty", nodeID)
	}
	if s.kind == slotFile {
		s.file.Close(ctx)
	}

	parentDir, err := fs.Directory(parent)
	if err != nil {
		return newError(ErrParentIsNotDirectory, "parent %d is not a directory", parent)
	}
	if err := parentDir.RemoveChild(indexInParent, nodeID); err != nil {
		return newError(ErrInvalidNodeId, "%v", err)
	}

	fs.nodes[nodeID] = slot{}
	return nil
}

func (fs *Filesystem) allocateNodeID() (NodeId, error) {
	for i, s := range fs.nodes {
		if s.kind == slotEmpty {
			return NodeId(i), nil
		}
	}
	return 0, fmt.Errorf("filesystem: no free node slots")
}

// basenameFor derives the stable on-disk basename for a file's blocks and
// metadata: an FNV-1a hash of its name, salted with its allocated NodeId so
// that two files named identically in different directories never collide
// physically (spec.md §9's recommended resolution).
func (fs *Filesystem) basenameFor(name string, nodeID NodeId) string {
	h := fnv.New64a()
	h.Write([]byte(name))
	h.Write([]byte(strconv.FormatUint(uint64(nodeID), 10)))
	return filepath.Join(fs.dataDir, strconv.FormatUint(h.Sum64(), 16))
}

// --- persistence -------------------------------------------------------

type serializedChild struct {
	NodeId NodeId `json:"node_id"`
	Name   string `json:"name"`
}

type serializedDirectory struct {
	NodeId   NodeId             `json:"node_id"`
	Parent   NodeId             `json:"parent"`
	Created  int64              `json:"created"`
	Modified int64              `json:"modified"`
	Read     authority.Id       `json:"read"`
	Write    authority.Id       `json:"write"`
	Children []serializedChild  `json:"children"`
}

type serializedFile struct {
	NodeId NodeId `json:"node_id"`
	Path   string `json:"path"`
}

type serializedFilesystem struct {
	Capacity          int                   `json:"capacity"`
	MaxChildrenPerDir int                   `json:"max_children_per_dir"`
	Files             []serializedFile      `json:"files"`
	Directories       []serializedDirectory `json:"directories"`
}

const currentVersion uint32 = 1

// Store encrypts and writes the entire filesystem snapshot to
// "<basename>.<version>".
func (fs *Filesystem) Store(ctx context.Context, basename string) error {
	state := serializedFilesystem{
		Capacity:          len(fs.nodes),
		MaxChildrenPerDir: fs.maxChildrenPerDir,
	}
	for id, s := range fs.nodes {
		switch s.kind {
		case slotFile:
			state.Files = append(state.Files, serializedFile{NodeId: NodeId(id), Path: s.file.Path()})
		case slotDirectory:
			d := s.directory
			var children []serializedChild
			for _, c := range d.Children() {
				children = append(children, serializedChild{NodeId: c.NodeId, Name: c.Name})
			}
			state.Directories = append(state.Directories, serializedDirectory{
				NodeId: NodeId(id), Parent: d.Parent,
				Created: d.Created.Unix(), Modified: d.Modified.Unix(),
				Read: d.Read, Write: d.Write, Children: children,
			})
		}
	}

	return serialize.Write(ctx, fs.crypto, basename, currentVersion, &state)
}

// Load decrypts and rebuilds a Filesystem from "<basename>.<version>".
func Load(ctx context.Context, cc cryptoctx.Context, dataDir, basename string) (*Filesystem, error) {
	var state serializedFilesystem
	if _, err := serialize.Read(ctx, cc, basename, currentVersion, &state); err != nil {
		return nil, fmt.Errorf("filesystem: load: %w", err)
	}

	fs := &Filesystem{
		nodes:             make([]slot, state.Capacity),
		maxChildrenPerDir: state.MaxChildrenPerDir,
		dataDir:           dataDir,
		crypto:            cc,
	}

	for _, sf := range state.Files {
		fh, err := filehandle.Init(sf.Path)
		if err != nil {
			return nil, fmt.Errorf("filesystem: init file at node %d: %w", sf.NodeId, err)
		}
		fs.nodes[sf.NodeId] = slot{kind: slotFile, file: fh}
	}

	for _, sd := range state.Directories {
		var children []directory.Child
		for _, c := range sd.Children {
			children = append(children, directory.Child{NodeId: c.NodeId, Name: c.Name})
		}
		d := directory.Restore(sd.Parent, unixTime(sd.Created), unixTime(sd.Modified), sd.Read, sd.Write, children)
		fs.nodes[sd.NodeId] = slot{kind: slotDirectory, directory: d}
	}

	return fs, nil
}

func unixTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }
