// Package node implements the orchestrator actor: the single authoritative
// owner of the filesystem and user-authority tables. Every client request
// reaches the system through Node.Handle, which resolves descriptors,
// checks authorization, performs the operation against Filesystem,
// Authority, or a routed FileEngine, and returns exactly one response.
//
// Node itself does no locking: spec.md §5 models it as a single-threaded
// actor, so every exported method here assumes the caller serializes access
// (Run's accept loop is the only intended caller in production; tests call
// Handle directly).
package node

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/fileengine"
	"github.com/marmos91/dittofs/pkg/filesystem"
)

// maxPathDepth bounds how many NodeIds ResolvePathFromRoot may return for
// any FileDescriptor this package resolves; it is generous enough for any
// realistic namespace depth without requiring a caller-supplied buffer size.
const maxPathDepth = 256

// Settings configures a brand-new Node at Create time. The first two
// fields are re-derived from the persisted filesystem snapshot on Load, and
// AdminGroupName is not read by Create (the admin group is group 0 of the
// Authority passed in); the last three are re-read from the persisted node
// settings record.
type Settings struct {
	FilesystemCapacity      int
	MaxChildrenPerDirectory int
	AdminGroupName          string

	ClientBufferSize     int
	RandomAccessPageSize uint64
	BlobPageSize         uint64
}

// nodeSettingsRecord is the persisted subset of Settings: the three fields
// spec.md §6 names for "node.<V>" (the rest lives in the fs/authority
// snapshots or is re-chosen at each process start).
type nodeSettingsRecord struct {
	ClientBufferSize     int    `json:"client_buffer_size"`
	RandomAccessPageSize uint64 `json:"random_access_page_size"`
	BlobPageSize         uint64 `json:"blob_page_size"`
}

const nodeSettingsVersion uint32 = 1

// Node is the single orchestrator actor owning Filesystem, Authority, and
// the registered client endpoints.
type Node struct {
	fs        *filesystem.Filesystem
	authority *authority.Authority
	crypto    cryptoctx.Context

	workdir  string
	dataDir  string
	settings nodeSettingsRecord

	startedAt      time.Time
	serverID       uint64
	certExpiration time.Time

	maxInactivity time.Duration
	tokenTTL      time.Duration

	clients  map[uint64]ClientEndpoint
	nextConn uint64
}

// ClientEndpoint is the narrow contract pkg/node needs from a real
// TLS+wire-protocol client task: a way to non-blockingly pull the next
// request it has parsed, and to push a response or unsolicited Shutdown
// back to it. The real implementation (out of core scope per spec.md §1)
// pairs this with a socket and a parser; tests use an in-memory fake.
type ClientEndpoint interface {
	// ID uniquely identifies this connection for the lifetime of the Node.
	ID() uint64

	// Poll returns the next request the client has sent, if any, without
	// blocking.
	Poll() (Request, bool)

	// Send delivers msg to the client. false means the client has gone away
	// and Node should drop this endpoint.
	Send(ClientProtocol) bool
}

// Acceptor is the narrow contract Node needs from the external TLS socket
// accept loop: a non-blocking check for a new, already-handshaked client.
type Acceptor interface {
	Accept() (ClientEndpoint, bool)
}

// randomUint64 sources Node's liveness id from crypto/rand rather than the
// original's math/rand, per DESIGN.md's deliberate redesign decision.
func randomUint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		logger.Error("failed to read random server id, falling back to time-derived value", "error", err)
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(buf[:])
}

func workdirPaths(workdir string) (usersBasename, fsBasename, nodeBasename, dataDir string) {
	return filepath.Join(workdir, "users"),
		filepath.Join(workdir, "fs"),
		filepath.Join(workdir, "node"),
		filepath.Join(workdir, "data")
}

// Create initializes a brand-new workdir: it must not already contain a
// node (spec.md §6's "on create, the workdir must be empty"). auth must
// already have group 0 configured as the admin group (ConfigureAdminGroup)
// with at least one member, normally via a freshly created default user —
// the same bootstrap order the original's create path follows, seeding the
// authority before Node ever sees it so the very first administrative
// request has someone authorized to make it.
func Create(ctx context.Context, cc cryptoctx.Context, workdir string, auth *authority.Authority, settings Settings, maxInactivity, tokenTTL time.Duration) (*Node, error) {
	usersBasename, fsBasename, nodeBasename, dataDir := workdirPaths(workdir)

	if entries, err := os.ReadDir(workdir); err == nil && len(entries) > 0 {
		return nil, fmt.Errorf("node: workdir %q is not empty", workdir)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}

	fs := filesystem.New(cc, dataDir, settings.FilesystemCapacity, settings.MaxChildrenPerDirectory, authority.GroupID(0))

	n := &Node{
		fs:        fs,
		authority: auth,
		crypto:    cc,
		workdir:   workdir,
		dataDir:   dataDir,
		settings: nodeSettingsRecord{
			ClientBufferSize:     settings.ClientBufferSize,
			RandomAccessPageSize: settings.RandomAccessPageSize,
			BlobPageSize:         settings.BlobPageSize,
		},
		startedAt:     time.Now(),
		serverID:      randomUint64(),
		maxInactivity: maxInactivity,
		tokenTTL:      tokenTTL,
		clients:       make(map[uint64]ClientEndpoint),
	}

	if err := auth.Store(ctx, cc, usersBasename); err != nil {
		return nil, fmt.Errorf("node: store authority: %w", err)
	}
	if err := fs.Store(ctx, fsBasename); err != nil {
		return nil, fmt.Errorf("node: store filesystem: %w", err)
	}
	if err := n.storeSettings(ctx, nodeBasename); err != nil {
		return nil, fmt.Errorf("node: store settings: %w", err)
	}

	return n, nil
}

// Load rehydrates a Node from a previously created workdir: all three
// top-level blobs must load successfully, or startup fails (spec.md §6).
func Load(ctx context.Context, cc cryptoctx.Context, workdir string, maxInactivity, tokenTTL time.Duration) (*Node, error) {
	usersBasename, fsBasename, nodeBasename, dataDir := workdirPaths(workdir)

	auth, err := authority.Load(ctx, cc, usersBasename)
	if err != nil {
		return nil, fmt.Errorf("node: load authority: %w", err)
	}
	fs, err := filesystem.Load(ctx, cc, dataDir, fsBasename)
	if err != nil {
		return nil, fmt.Errorf("node: load filesystem: %w", err)
	}

	var settings nodeSettingsRecord
	if _, err := loadSettings(ctx, cc, nodeBasename, &settings); err != nil {
		return nil, fmt.Errorf("node: load settings: %w", err)
	}

	return &Node{
		fs:            fs,
		authority:     auth,
		crypto:        cc,
		workdir:       workdir,
		dataDir:       dataDir,
		settings:      settings,
		startedAt:     time.Now(),
		serverID:      randomUint64(),
		maxInactivity: maxInactivity,
		tokenTTL:      tokenTTL,
		clients:       make(map[uint64]ClientEndpoint),
	}, nil
}

// SetCertificateExpiration records the TLS certificate expiration surfaced
// to admins in QuerySystem. The certificate itself is managed entirely
// outside the core (spec.md §1); Node only carries the value it's told.
func (n *Node) SetCertificateExpiration(t time.Time) { n.certExpiration = t }

func (n *Node) storeSettings(ctx context.Context, basename string) error {
	return storeSettings(ctx, n.crypto, basename, &n.settings)
}

// Persist writes the current Authority and Filesystem snapshots (and node
// settings) back to the workdir, used both by orderly shutdown and by
// callers (e.g. the CLI) that mutate state with Node stopped.
func (n *Node) Persist(ctx context.Context) error {
	usersBasename, fsBasename, nodeBasename, _ := workdirPaths(n.workdir)
	if err := n.authority.Store(ctx, n.crypto, usersBasename); err != nil {
		return fmt.Errorf("node: persist authority: %w", err)
	}
	if err := n.fs.Store(ctx, fsBasename); err != nil {
		return fmt.Errorf("node: persist filesystem: %w", err)
	}
	if err := n.storeSettings(ctx, nodeBasename); err != nil {
		return fmt.Errorf("node: persist settings: %w", err)
	}
	return nil
}

// Register adds a freshly accepted client endpoint to the set Run polls.
func (n *Node) Register(ep ClientEndpoint) {
	n.clients[ep.ID()] = ep
}

// Run loops until shutdown is signaled: each iteration polls shutdown
// non-blockingly, drains one message from each registered client, accepts
// one new client from acceptor, and sleeps 100ms if nothing was processed
// (spec.md §4.6's accept loop / §5's bounded-suspension contract).
func (n *Node) Run(ctx context.Context, acceptor Acceptor, shutdown <-chan struct{}) error {
	for {
		select {
		case <-shutdown:
			n.shutdownClients()
			return n.Persist(ctx)
		default:
		}

		didWork := false

		for id, ep := range n.clients {
			req, ok := ep.Poll()
			if !ok {
				continue
			}
			didWork = true
			resp := n.Handle(ctx, req)
			if !ep.Send(resp) {
				delete(n.clients, id)
			}
		}

		if ep, ok := acceptor.Accept(); ok {
			n.Register(ep)
			didWork = true
		}

		if !didWork {
			select {
			case <-shutdown:
				n.shutdownClients()
				return n.Persist(ctx)
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

func (n *Node) shutdownClients() {
	for id, ep := range n.clients {
		ep.Send(Shutdown{})
		delete(n.clients, id)
	}
}

// Handle dispatches a single request to the appropriate subsystem and
// returns exactly one response, never panicking on client-induced error
// (spec.md §7's propagation policy).
func (n *Node) Handle(ctx context.Context, req Request) Response {
	switch req.Kind {
	case reqAuthenticateWithPassword:
		return n.handleAuthenticateWithPassword(req)
	case reqAuthenticateWithToken:
		return n.handleAuthenticateWithToken(req)
	case reqAllocateAuthenticationToken:
		return n.handleAllocateAuthenticationToken(req)
	case reqCreateFile:
		return n.handleCreateFile(ctx, req)
	case reqCreateDirectory:
		return n.handleCreateDirectory(req)
	case reqOpenFile:
		return n.handleOpenFile(ctx, req)
	case reqQueryCounters:
		return n.handleQueryCounters(req)
	case reqQuerySystem:
		return n.handleQuerySystem(req)
	case reqQueryFsChildren:
		return n.handleQueryFsChildren(ctx, req)
	case reqQueryFsElement:
		return n.handleQueryFsElement(ctx, req)
	case reqQueryFsElementProperties:
		return n.handleQueryFsElementProperties(ctx, req)
	case reqDelete:
		return n.handleDelete(ctx, req)
	case reqAddUser:
		return n.handleAddUser(req)
	case reqModifyUser:
		return n.handleModifyUser(req)
	case reqAddGroup:
		return n.handleAddGroup(req)
	case reqModifyGroup:
		return n.handleModifyGroup(req)
	case reqQuit:
		return Response{Kind: respQuit}
	default:
		return Response{Kind: respQuit, Err: newError(ErrInternal, "unknown request kind %d", req.Kind)}
	}
}

// --- authentication ---------------------------------------------------

func (n *Node) handleAuthenticateWithPassword(req Request) Response {
	id, err := n.authority.ValidateUser(req.Username, req.Password, time.Now())
	if err != nil {
		return Response{Kind: respAuthenticate, Err: wrapAuthorityErr(err, ErrInvalidUsernamePassword)}
	}
	return Response{Kind: respAuthenticate, UserId: id}
}

func (n *Node) handleAuthenticateWithToken(req Request) Response {
	id, err := n.authority.RedeemToken(req.Token, time.Now())
	if err != nil {
		return Response{Kind: respAuthenticate, Err: wrapAuthorityErr(err, ErrInvalidUsernamePassword)}
	}
	return Response{Kind: respAuthenticate, UserId: id}
}

func (n *Node) handleAllocateAuthenticationToken(req Request) Response {
	tok := n.authority.IssueToken(req.User, time.Now().Add(n.tokenTTL))
	return Response{Kind: respAllocateAuthenticationToken, Token: tok}
}

// --- filesystem mutation ------------------------------------------------

func (n *Node) handleCreateFile(ctx context.Context, req Request) Response {
	parentID, err := n.resolve(req.Parent)
	if err != nil {
		return Response{Kind: respCreateFile, Err: err}
	}
	if err := n.authorizeWrite(parentID, req.User); err != nil {
		return Response{Kind: respCreateFile, Err: err}
	}

	maxBlockSize := n.defaultPageSize(req.FileType)
	if req.PageSize != nil {
		if *req.PageSize > maxBlockSize {
			return Response{Kind: respCreateFile, Err: newError(ErrInvalidPageSize, "page size %d exceeds maximum", *req.PageSize)}
		}
		maxBlockSize = *req.PageSize
	}

	nodeID, cerr := n.fs.CreateFile(ctx, parentID, req.Name, req.User, req.FileType, maxBlockSize)
	if cerr != nil {
		return Response{Kind: respCreateFile, Err: wrapFilesystemErr(cerr)}
	}
	return Response{Kind: respCreateFile, NodeId: nodeID}
}

func (n *Node) defaultPageSize(t fileengine.Type) uint64 {
	if t == fileengine.TypeBlob {
		return n.settings.BlobPageSize
	}
	return n.settings.RandomAccessPageSize
}

func (n *Node) handleCreateDirectory(req Request) Response {
	parentID, err := n.resolve(req.Parent)
	if err != nil {
		return Response{Kind: respCreateDirectory, Err: err}
	}
	if err := n.authorizeWrite(parentID, req.User); err != nil {
		return Response{Kind: respCreateDirectory, Err: err}
	}

	nodeID, cerr := n.fs.CreateDirectory(parentID, req.Name, req.User)
	if cerr != nil {
		return Response{Kind: respCreateDirectory, Err: wrapFilesystemErr(cerr)}
	}
	return Response{Kind: respCreateDirectory, NodeId: nodeID}
}

func (n *Node) handleOpenFile(ctx context.Context, req Request) Response {
	nodeID, err := n.resolve(req.FD)
	if err != nil {
		return Response{Kind: respOpenFile, Err: err}
	}
	fh, ferr := n.fs.File(nodeID)
	if ferr != nil {
		return Response{Kind: respOpenFile, Err: wrapFilesystemErr(ferr)}
	}

	md, _, perr := fh.Properties(ctx, n.crypto)
	if perr != nil {
		return Response{Kind: respOpenFile, Err: wrapFileengineErr(perr)}
	}

	if req.Mode == OpenModeReadWrite {
		err = n.authorizeWrite(md.Parent, req.User)
	} else {
		err = n.authorizeRead(md.Parent, req.User)
	}
	if err != nil {
		return Response{Kind: respOpenFile, Err: err}
	}

	access, oerr := fh.Open(ctx, n.crypto, req.User)
	if oerr != nil {
		return Response{Kind: respOpenFile, Err: wrapFileengineErr(oerr)}
	}
	return Response{Kind: respOpenFile, NodeId: nodeID, Access: access, Metadata: md}
}

func (n *Node) handleDelete(ctx context.Context, req Request) Response {
	nodeID, err := n.resolve(req.FD)
	if err != nil {
		return Response{Kind: respDelete, Err: err}
	}

	parentID, index, err := n.parentAndIndex(nodeID)
	if err != nil {
		return Response{Kind: respDelete, Err: err}
	}
	if err := n.authorizeWrite(parentID, req.User); err != nil {
		return Response{Kind: respDelete, Err: err}
	}

	if err := n.fs.Delete(ctx, parentID, index, nodeID); err != nil {
		return Response{Kind: respDelete, Err: wrapFilesystemErr(err)}
	}
	return Response{Kind: respDelete}
}

// --- queries --------------------------------------------------------------

func (n *Node) handleQueryCounters(req Request) Response {
	if err := n.requireAdmin(req.User); err != nil {
		return Response{Kind: respCounters, Err: err}
	}
	return Response{Kind: respCounters, Counters: n.Snapshot()}
}

// Snapshot returns the same counters QueryCounters answers with, bypassing
// authorization. It exists for the in-process Prometheus exporter
// (cmd/zynd's metrics listener), which runs inside the same trust boundary
// as Node itself rather than as a remote client.
func (n *Node) Snapshot() Counters {
	return Counters{
		ActiveConnections: len(n.clients),
		NumberOfOpenFiles:  n.fs.NumberOfOpenFiles(),
		NumberOfFiles:      n.fs.NumberOfFiles(),
	}
}

func (n *Node) handleQuerySystem(req Request) Response {
	sys := SystemInformation{StartedAt: n.startedAt, ServerId: n.serverID}
	if n.requireAdmin(req.User) == nil {
		sys.Admin = &AdminSystemInformation{CertificateExpiration: n.certExpiration}
	}
	return Response{Kind: respQuerySystem, System: sys}
}

func (n *Node) handleQueryFsChildren(ctx context.Context, req Request) Response {
	dirID, err := n.resolve(req.FD)
	if err != nil {
		return Response{Kind: respQueryFsChildren, Err: err}
	}
	if err := n.authorizeRead(dirID, req.User); err != nil {
		return Response{Kind: respQueryFsChildren, Err: err}
	}
	dir, derr := n.fs.Directory(dirID)
	if derr != nil {
		return Response{Kind: respQueryFsChildren, Err: wrapFilesystemErr(derr)}
	}

	children := make([]FileSystemListElement, 0, dir.NumberOfChildren())
	for _, c := range dir.Children() {
		el, err := n.listElement(ctx, c.NodeId, c.Name)
		if err != nil {
			return Response{Kind: respQueryFsChildren, Err: err}
		}
		children = append(children, el)
	}
	return Response{Kind: respQueryFsChildren, Children: children}
}

func (n *Node) listElement(ctx context.Context, id filesystem.NodeId, name string) (FileSystemListElement, *Error) {
	if n.fs.IsDirectory(id) {
		dir, err := n.fs.Directory(id)
		if err != nil {
			return FileSystemListElement{}, wrapFilesystemErr(err)
		}
		return FileSystemListElement{
			Kind: ElementDirectory, Name: name, NodeId: id,
			Read: n.authorityRef(dir.Read), Write: n.authorityRef(dir.Write),
		}, nil
	}

	fh, err := n.fs.File(id)
	if err != nil {
		return FileSystemListElement{}, wrapFilesystemErr(err)
	}
	md, _, perr := fh.Properties(ctx, n.crypto)
	if perr != nil {
		return FileSystemListElement{}, wrapFileengineErr(perr)
	}
	parentDir, err := n.fs.Directory(md.Parent)
	if err != nil {
		return FileSystemListElement{}, wrapFilesystemErr(err)
	}
	return FileSystemListElement{
		Kind: ElementFile, Name: name, NodeId: id,
		Revision: md.Revision, FileType: md.Type, Size: md.Size(), IsOpen: fh.IsOpen(),
		Read: n.authorityRef(parentDir.Read), Write: n.authorityRef(parentDir.Write),
	}, nil
}

func (n *Node) handleQueryFsElement(ctx context.Context, req Request) Response {
	id, err := n.resolve(req.FD)
	if err != nil {
		return Response{Kind: respQueryFsElement, Err: err}
	}

	if n.fs.IsDirectory(id) {
		if err := n.authorizeRead(id, req.User); err != nil {
			return Response{Kind: respQueryFsElement, Err: err}
		}
		dir, derr := n.fs.Directory(id)
		if derr != nil {
			return Response{Kind: respQueryFsElement, Err: wrapFilesystemErr(derr)}
		}
		return Response{Kind: respQueryFsElement, Element: FilesystemElement{
			Kind: ElementDirectory, NodeId: id,
			Read: n.authorityRef(dir.Read), Write: n.authorityRef(dir.Write),
			CreatedAt: dir.Created, ModifiedAt: dir.Modified,
		}}
	}

	fh, ferr := n.fs.File(id)
	if ferr != nil {
		return Response{Kind: respQueryFsElement, Err: wrapFilesystemErr(ferr)}
	}
	md, _, perr := fh.Properties(ctx, n.crypto)
	if perr != nil {
		return Response{Kind: respQueryFsElement, Err: wrapFileengineErr(perr)}
	}
	if err := n.authorizeRead(md.Parent, req.User); err != nil {
		return Response{Kind: respQueryFsElement, Err: err}
	}
	parentDir, derr := n.fs.Directory(md.Parent)
	if derr != nil {
		return Response{Kind: respQueryFsElement, Err: wrapFilesystemErr(derr)}
	}
	return Response{Kind: respQueryFsElement, Element: FilesystemElement{
		Kind: ElementFile, NodeId: id,
		Read: n.authorityRef(parentDir.Read), Write: n.authorityRef(parentDir.Write),
		FileType: md.Type, Revision: md.Revision, Size: md.Size(),
		CreatedBy: n.authorityRef(md.Created.User), ModifiedBy: n.authorityRef(md.Modified.User),
		CreatedAt: md.Created.Timestamp, ModifiedAt: md.Modified.Timestamp,
	}}
}

func (n *Node) handleQueryFsElementProperties(ctx context.Context, req Request) Response {
	id, err := n.resolve(req.FD)
	if err != nil {
		return Response{Kind: respQueryFsElementProperties, Err: err}
	}
	parentID, perr := n.resolve(req.FDParent)
	if perr != nil {
		return Response{Kind: respQueryFsElementProperties, Err: perr}
	}
	if err := n.authorizeRead(parentID, req.User); err != nil {
		return Response{Kind: respQueryFsElementProperties, Err: err}
	}

	parentDir, derr := n.fs.Directory(parentID)
	if derr != nil {
		return Response{Kind: respQueryFsElementProperties, Err: wrapFilesystemErr(derr)}
	}
	idx, cerr := parentDir.ChildWithNodeId(id)
	if cerr != nil {
		return Response{Kind: respQueryFsElementProperties, Err: newError(ErrUnknownFile, "%v", cerr)}
	}
	name := parentDir.Children()[idx].Name

	if n.fs.IsDirectory(id) {
		return Response{Kind: respQueryFsElementProperties, ElementProps: FilesystemElementProperties{
			Kind: ElementDirectory, Name: name, NodeId: id,
		}}
	}

	fh, ferr := n.fs.File(id)
	if ferr != nil {
		return Response{Kind: respQueryFsElementProperties, Err: wrapFilesystemErr(ferr)}
	}
	md, _, merr := fh.Properties(ctx, n.crypto)
	if merr != nil {
		return Response{Kind: respQueryFsElementProperties, Err: wrapFileengineErr(merr)}
	}
	return Response{Kind: respQueryFsElementProperties, ElementProps: FilesystemElementProperties{
		Kind: ElementFile, Name: name, NodeId: id,
		Revision: md.Revision, FileType: md.Type, Size: md.Size(),
	}}
}

// --- user/group administration --------------------------------------------

func (n *Node) handleAddUser(req Request) Response {
	if err := n.requireAdmin(req.User); err != nil {
		return Response{Kind: respAddUserGroup, Err: err}
	}
	id, err := n.authority.AddUser(req.Name, req.Password, req.InitialExpiration)
	if err != nil {
		return Response{Kind: respAddUserGroup, Err: wrapAuthorityErr(err, ErrAuthorityError)}
	}
	return Response{Kind: respAddUserGroup, UserId: id}
}

func (n *Node) handleModifyUser(req Request) Response {
	target, err := n.authority.ResolveUserID(req.Name)
	if err != nil {
		return Response{Kind: respModifyUserGroup, Err: wrapAuthorityErr(err, ErrUnknownAuthority)}
	}
	if aerr := n.requireAdminOrSelf(req.User, target); aerr != nil {
		return Response{Kind: respModifyUserGroup, Err: aerr}
	}

	if req.NewPassword != nil {
		if err := n.authority.ModifyUserPassword(target, *req.NewPassword); err != nil {
			return Response{Kind: respModifyUserGroup, Err: wrapAuthorityErr(err, ErrAuthorityError)}
		}
	}
	if req.Expiration != nil {
		if err := n.authority.ModifyUserExpiration(target, req.Expiration.At); err != nil {
			return Response{Kind: respModifyUserGroup, Err: wrapAuthorityErr(err, ErrAuthorityError)}
		}
	}
	return Response{Kind: respModifyUserGroup, UserId: target}
}

func (n *Node) handleAddGroup(req Request) Response {
	if err := n.requireAdmin(req.User); err != nil {
		return Response{Kind: respAddUserGroup, Err: err}
	}
	id, err := n.authority.AddGroup(req.Name, req.InitialExpiration)
	if err != nil {
		return Response{Kind: respAddUserGroup, Err: wrapAuthorityErr(err, ErrAuthorityError)}
	}
	return Response{Kind: respAddUserGroup, UserId: id}
}

func (n *Node) handleModifyGroup(req Request) Response {
	if err := n.requireAdmin(req.User); err != nil {
		return Response{Kind: respModifyUserGroup, Err: err}
	}
	target, err := n.authority.ResolveGroupID(req.Name)
	if err != nil {
		return Response{Kind: respModifyUserGroup, Err: wrapAuthorityErr(err, ErrUnknownAuthority)}
	}
	if req.Expiration != nil {
		if err := n.authority.ModifyGroupExpiration(target, req.Expiration.At); err != nil {
			return Response{Kind: respModifyUserGroup, Err: wrapAuthorityErr(err, ErrAuthorityError)}
		}
	}
	return Response{Kind: respModifyUserGroup, UserId: target}
}

// --- shared helpers ---------------------------------------------------

// resolve turns a FileDescriptor into a concrete NodeId, resolving absolute
// paths from root (spec.md §4.5).
func (n *Node) resolve(fd FileDescriptor) (filesystem.NodeId, *Error) {
	if fd.Kind == FileDescriptorNodeId {
		return fd.NodeId, nil
	}
	var buf [maxPathDepth]filesystem.NodeId
	count, err := n.fs.ResolvePathFromRoot(fd.Path, buf[:])
	if err != nil {
		return 0, wrapFilesystemErr(err)
	}
	return buf[count-1], nil
}

// parentAndIndex finds nodeID's parent directory and its index in that
// directory's child list, as Filesystem.Delete requires.
func (n *Node) parentAndIndex(nodeID filesystem.NodeId) (filesystem.NodeId, int, *Error) {
	var parentID filesystem.NodeId
	if n.fs.IsDirectory(nodeID) {
		dir, err := n.fs.Directory(nodeID)
		if err != nil {
			return 0, 0, wrapFilesystemErr(err)
		}
		parentID = dir.Parent
	} else {
		fh, err := n.fs.File(nodeID)
		if err != nil {
			return 0, 0, wrapFilesystemErr(err)
		}
		md, _, perr := fh.Properties(context.Background(), n.crypto)
		if perr != nil {
			return 0, 0, wrapFileengineErr(perr)
		}
		parentID = md.Parent
	}

	parentDir, err := n.fs.Directory(parentID)
	if err != nil {
		return 0, 0, wrapFilesystemErr(err)
	}
	idx, cerr := parentDir.ChildWithNodeId(nodeID)
	if cerr != nil {
		return 0, 0, newError(ErrUnknownFile, "%v", cerr)
	}
	return parentID, idx, nil
}

func (n *Node) authorizeRead(dirID filesystem.NodeId, caller authority.Id) *Error {
	dir, err := n.fs.Directory(dirID)
	if err != nil {
		return wrapFilesystemErr(err)
	}
	if aerr := n.authority.IsAuthorized(dir.Read, caller, time.Now()); aerr != nil {
		return wrapAuthorityErr(aerr, ErrUnauthorizedOperation)
	}
	return nil
}

func (n *Node) authorizeWrite(dirID filesystem.NodeId, caller authority.Id) *Error {
	dir, err := n.fs.Directory(dirID)
	if err != nil {
		return wrapFilesystemErr(err)
	}
	if aerr := n.authority.IsAuthorized(dir.Write, caller, time.Now()); aerr != nil {
		return wrapAuthorityErr(aerr, ErrUnauthorizedOperation)
	}
	return nil
}

func (n *Node) requireAdmin(caller authority.Id) *Error {
	if err := n.authority.IsAuthorized(authority.GroupID(0), caller, time.Now()); err != nil {
		return wrapAuthorityErr(err, ErrUnauthorizedOperation)
	}
	return nil
}

// requireAdminOrSelf allows a caller to act on their own user record even
// without admin membership (spec.md §4.6's "a user may modify own password
// and expiration").
func (n *Node) requireAdminOrSelf(caller, target authority.Id) *Error {
	if caller.IsUser() && caller == target {
		return nil
	}
	return n.requireAdmin(caller)
}

func (n *Node) authorityRef(id authority.Id) AuthorityRef {
	name, err := n.authority.ResolveName(id)
	if err != nil {
		return AuthorityRef{Kind: id.Kind, Name: "<unknown>"}
	}
	return AuthorityRef{Kind: id.Kind, Name: name}
}

func wrapFilesystemErr(err error) *Error {
	fe, ok := err.(*filesystem.Error)
	if !ok {
		return wrapErr(ErrFilesystem, err)
	}
	switch fe.Code {
	case filesystem.ErrParentIsNotDirectory:
		return wrapErr(ErrParentIsNotDirectory, fe)
	default:
		return wrapErr(ErrFilesystem, fe)
	}
}

// wrapFileengineErr lifts an error returned by a FileHandle/Access call
// (fh.Properties, fh.Open, ...) into a Node error, mapping a bounded-wait
// timeout from the engine goroutine (spec.md §5) onto this package's own
// ErrInternalCommunication rather than flattening it into ErrInternal.
func wrapFileengineErr(err error) *Error {
	var fe *fileengine.Error
	if !errors.As(err, &fe) {
		return newError(ErrInternal, "file engine access failed: %v", err)
	}
	if fe.Code == fileengine.ErrInternalCommunication {
		return wrapErr(ErrInternalCommunication, fe)
	}
	return wrapErr(ErrInternal, fe)
}

func wrapAuthorityErr(err error, fallback ErrorCode) *Error {
	ae, ok := err.(*authority.Error)
	if !ok {
		return wrapErr(fallback, err)
	}
	switch ae.Code {
	case authority.ErrInvalidCredentials:
		return wrapErr(ErrInvalidUsernamePassword, ae)
	case authority.ErrExpired:
		return wrapErr(ErrInvalidUsernamePassword, ae)
	case authority.ErrNotFound:
		return wrapErr(ErrUnknownAuthority, ae)
	case authority.ErrInvalidToken:
		return wrapErr(ErrFailedToConsumeAuthenticationToken, ae)
	default:
		return wrapErr(fallback, ae)
	}
}
