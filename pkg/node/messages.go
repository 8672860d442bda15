package node

import (
	"time"

	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/fileengine"
	"github.com/marmos91/dittofs/pkg/filesystem"
)

// OpenMode selects whether OpenFile checks the parent directory's read or
// write authority.
type OpenMode uint8

const (
	OpenModeRead OpenMode = iota
	OpenModeReadWrite
)

// FileDescriptorKind tags how a FileDescriptor addresses a node.
type FileDescriptorKind uint8

const (
	FileDescriptorNodeId FileDescriptorKind = iota
	FileDescriptorPath
)

// FileDescriptor is the tagged union clients use to address a node, either
// directly by id or by an absolute path resolved from the root.
type FileDescriptor struct {
	Kind   FileDescriptorKind
	NodeId filesystem.NodeId
	Path   string
}

// ByNodeId builds a FileDescriptor that addresses a node directly.
func ByNodeId(id filesystem.NodeId) FileDescriptor {
	return FileDescriptor{Kind: FileDescriptorNodeId, NodeId: id}
}

// ByPath builds a FileDescriptor that addresses a node by absolute path.
func ByPath(path string) FileDescriptor {
	return FileDescriptor{Kind: FileDescriptorPath, Path: path}
}

// ExpirationChange distinguishes "leave expiration unchanged" (a nil
// *ExpirationChange) from "clear it" (At nil) and "set it" (At non-nil) —
// the Go rendering of original_source's Option<Option<Timestamp>>.
type ExpirationChange struct {
	At *time.Time
}

// requestKind enumerates every message a client may send to Node, spec.md
// §4.6's incoming message set.
type requestKind int

const (
	reqAuthenticateWithPassword requestKind = iota
	reqAuthenticateWithToken
	reqAllocateAuthenticationToken
	reqCreateFile
	reqCreateDirectory
	reqOpenFile
	reqQueryCounters
	reqQuerySystem
	reqQueryFsChildren
	reqQueryFsElement
	reqQueryFsElementProperties
	reqDelete
	reqAddUser
	reqModifyUser
	reqAddGroup
	reqModifyGroup
	reqQuit
)

// Request is the single flat message type a client endpoint sends to Node,
// tagged by Kind (the same one-struct-per-direction idiom pkg/fileengine
// uses for its request/response pair).
type Request struct {
	Kind requestKind

	Username string
	Password string
	Token    string

	User Id

	Parent       FileDescriptor
	FD           FileDescriptor
	FDParent     FileDescriptor
	Name         string
	FileType     fileengine.Type
	PageSize     *uint64
	Mode         OpenMode
	NewPassword  *string
	Expiration   *ExpirationChange
	InitialExpiration *time.Time
}

// Id is an alias so callers of this package never need to import
// pkg/authority just to build a Request.
type Id = authority.Id

func AuthenticateWithPassword(username, password string) Request {
	return Request{Kind: reqAuthenticateWithPassword, Username: username, Password: password}
}

func AuthenticateWithToken(token string) Request {
	return Request{Kind: reqAuthenticateWithToken, Token: token}
}

func AllocateAuthenticationToken(user Id) Request {
	return Request{Kind: reqAllocateAuthenticationToken, User: user}
}

func CreateFile(parent FileDescriptor, fileType fileengine.Type, name string, user Id, pageSize *uint64) Request {
	return Request{Kind: reqCreateFile, Parent: parent, FileType: fileType, Name: name, User: user, PageSize: pageSize}
}

func CreateDirectory(parent FileDescriptor, name string, user Id) Request {
	return Request{Kind: reqCreateDirectory, Parent: parent, Name: name, User: user}
}

func OpenFile(mode OpenMode, fd FileDescriptor, user Id) Request {
	return Request{Kind: reqOpenFile, Mode: mode, FD: fd, User: user}
}

func QueryCounters(user Id) Request { return Request{Kind: reqQueryCounters, User: user} }

func QuerySystem(user Id) Request { return Request{Kind: reqQuerySystem, User: user} }

func QueryFsChildren(user Id, fd FileDescriptor) Request {
	return Request{Kind: reqQueryFsChildren, User: user, FD: fd}
}

func QueryFsElement(user Id, fd FileDescriptor) Request {
	return Request{Kind: reqQueryFsElement, User: user, FD: fd}
}

func QueryFsElementProperties(user Id, fd, fdParent FileDescriptor) Request {
	return Request{Kind: reqQueryFsElementProperties, User: user, FD: fd, FDParent: fdParent}
}

func DeleteRequest(user Id, fd FileDescriptor) Request {
	return Request{Kind: reqDelete, User: user, FD: fd}
}

func AddUser(user Id, name, password string, expiration *time.Time) Request {
	return Request{Kind: reqAddUser, User: user, Name: name, Password: password, InitialExpiration: expiration}
}

func ModifyUser(user Id, name string, password *string, expiration *ExpirationChange) Request {
	return Request{Kind: reqModifyUser, User: user, Name: name, NewPassword: password, Expiration: expiration}
}

func AddGroup(user Id, name string, expiration *time.Time) Request {
	return Request{Kind: reqAddGroup, User: user, Name: name, InitialExpiration: expiration}
}

func ModifyGroup(user Id, name string, expiration *ExpirationChange) Request {
	return Request{Kind: reqModifyGroup, User: user, Name: name, Expiration: expiration}
}

func Quit() Request { return Request{Kind: reqQuit} }

// responseKind enumerates every message Node sends back to a client.
type responseKind int

const (
	respAuthenticate responseKind = iota
	respAllocateAuthenticationToken
	respCreateFile
	respCreateDirectory
	respOpenFile
	respShutdown
	respCounters
	respQuerySystem
	respQueryFsChildren
	respQueryFsElement
	respQueryFsElementProperties
	respDelete
	respAddUserGroup
	respModifyUserGroup
	respQuit
)

// AuthorityRef names who created, modified, reads, or writes something,
// resolved from an authority.Id to a display name at response time.
type AuthorityRef struct {
	Kind authority.Kind
	Name string
}

// Counters answers QueryCounters.
type Counters struct {
	ActiveConnections int
	NumberOfOpenFiles  int
	NumberOfFiles      int
}

// AdminSystemInformation is included in a QuerySystem response only when the
// caller is authorized under the admin group.
type AdminSystemInformation struct {
	CertificateExpiration time.Time
}

// SystemInformation answers QuerySystem.
type SystemInformation struct {
	StartedAt time.Time
	ServerId  uint64
	Admin     *AdminSystemInformation
}

// FilesystemElementKind tags FilesystemElement and FilesystemElementProperties.
type FilesystemElementKind uint8

const (
	ElementFile FilesystemElementKind = iota
	ElementDirectory
)

// FilesystemElement answers QueryFsElement: the full descriptor of a single
// node, tagged by kind rather than dispatched through an interface.
type FilesystemElement struct {
	Kind     FilesystemElementKind
	NodeId   filesystem.NodeId
	Read     AuthorityRef
	Write    AuthorityRef
	FileType fileengine.Type
	Revision fileengine.Revision
	Size     uint64

	CreatedBy AuthorityRef
	ModifiedBy AuthorityRef

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// FilesystemElementProperties answers QueryFsElementProperties.
type FilesystemElementProperties struct {
	Kind     FilesystemElementKind
	Name     string
	NodeId   filesystem.NodeId
	Revision fileengine.Revision
	FileType fileengine.Type
	Size     uint64
}

// FileSystemListElement is one entry in a QueryFsChildren response.
type FileSystemListElement struct {
	Kind     FilesystemElementKind
	Name     string
	NodeId   filesystem.NodeId
	Revision fileengine.Revision
	FileType fileengine.Type
	Size     uint64
	IsOpen   bool
	Read     AuthorityRef
	Write    AuthorityRef
}

// ClientProtocol is the sum type Node sends to a client endpoint: either a
// Response to a specific Request, or an unsolicited Shutdown. Go has no enum
// with per-variant payloads as rich as these two, so the union is expressed
// as a small closed interface instead of the single-struct-with-every-field
// idiom used elsewhere in this codebase.
type ClientProtocol interface {
	isClientProtocol()
}

func (Response) isClientProtocol() {}
func (Shutdown) isClientProtocol() {}

// Response is the single flat message type Node sends back to a client.
type Response struct {
	Kind responseKind
	Err  error

	UserId Id
	Token  string

	NodeId   filesystem.NodeId
	Access   *fileengine.Access
	Metadata *fileengine.Metadata

	Counters      Counters
	System        SystemInformation
	Children      []FileSystemListElement
	Element       FilesystemElement
	ElementProps  FilesystemElementProperties
}

// Shutdown is the out-of-band control message Node sends to every client
// before it persists and exits.
type Shutdown struct{}
