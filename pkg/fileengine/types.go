// Package fileengine implements the per-file actor: one goroutine owns a
// single file's metadata and block storage, and every reader or writer
// reaches it exclusively through channel-based requests. This keeps file
// mutation single-threaded without a mutex, mirroring the original node's
// one-thread-per-open-file design.
package fileengine

import (
	"encoding/json"
	"time"

	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/directory"
)

// NodeId identifies the directory node a file is attached to.
type NodeId = directory.NodeId

// Revision counts mutations applied to a file. Every write, insert, or
// delete must supply the revision it expects to find, and bumps it by
// exactly one on success.
type Revision = uint64

// Type distinguishes how a file is intended to be used. It carries no
// behavioral difference in this implementation: both variants use the same
// paged block storage.
type Type uint8

const (
	TypeRandomAccess Type = iota
	TypeBlob
)

// MarshalJSON encodes Type as {file_type: 0|1}, matching spec.md §6.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		FileType uint8 `json:"file_type"`
	}{FileType: uint8(t)})
}

// UnmarshalJSON decodes the {file_type} form back into a Type. It takes a
// pointer receiver distinct from the value-receiver MarshalJSON above
// because decoding must mutate the destination.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s struct {
		FileType uint8 `json:"file_type"`
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = Type(s.FileType)
	return nil
}

// ErrorCode categorizes fileengine errors.
type ErrorCode int

const (
	ErrInternalCommunication ErrorCode = iota
	ErrInternal
	ErrRevisionTooOld
	ErrOffsetAndSizeDoNotMapToPartOfFile
	ErrDeleteOnlyAllowedForLastPart
	ErrFileLockedByOtherUser
	ErrFileNotLocked
)

// Error is returned by every Access operation.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Lock describes the single lock variant a file may hold: the system
// holding it open exclusively for a blob write on behalf of a user.
type Lock struct {
	User authority.Id
}

// IsLockedBy reports whether other describes the same lock holder.
func (l Lock) IsLockedBy(other Lock) bool { return l.User == other.User }

// NotificationKind distinguishes the shape of a Notification.
type NotificationKind int

const (
	NotificationFileClosing NotificationKind = iota
	NotificationPartModified
	NotificationPartInserted
	NotificationPartDeleted
)

// Notification is broadcast to the connected user Accesses other than the
// one that caused it when a file changes shape; FileClosing goes to every
// connection, the root Access included.
type Notification struct {
	Kind     NotificationKind
	Revision Revision
	Offset   uint64
	Size     uint64
}

// Block describes one page of file content: its logical offset, current
// size, and on-disk block number.
type Block struct {
	Offset      uint64
	Size        uint64
	BlockNumber uint32
}

// Event records who did something and when.
type Event struct {
	User      authority.Id
	Timestamp time.Time
}

// Metadata is a file's durable record: everything needed to locate its
// blocks on disk and describe it to clients, independent of whether the
// file is currently open.
type Metadata struct {
	Created      Event
	Modified     Event
	Revision     Revision
	Parent       NodeId
	Type         Type
	MaxBlockSize uint64
	Blocks       []Block
}

// NewMetadata creates the metadata for a brand-new, empty file: one block,
// zero bytes, revision 0.
func NewMetadata(user authority.Id, parent NodeId, fileType Type, maxBlockSize uint64) *Metadata {
	now := time.Now()
	m := &Metadata{
		Created:      Event{User: user, Timestamp: now},
		Modified:     Event{User: user, Timestamp: now},
		Parent:       parent,
		Type:         fileType,
		MaxBlockSize: maxBlockSize,
	}
	m.addBlock()
	return m
}

// Size returns the total logical size of the file across all blocks.
func (m *Metadata) Size() uint64 {
	var total uint64
	for _, b := range m.Blocks {
		total += b.Size
	}
	return total
}

func (m *Metadata) addBlock() uint32 {
	number := uint32(len(m.Blocks))
	m.Blocks = append(m.Blocks, Block{
		Offset:      uint64(number) * m.MaxBlockSize,
		BlockNumber: number,
	})
	return number
}

func isInBlock(b Block, offset, size, maxBlockSize uint64) bool {
	if offset < b.Offset || offset >= b.Offset+maxBlockSize {
		return false
	}
	return offset+size <= b.Offset+maxBlockSize
}

// IsInBlock reports whether [offset, offset+size) falls entirely within the
// given block.
func (m *Metadata) IsInBlock(blockNumber uint32, offset, size uint64) bool {
	return isInBlock(m.Blocks[blockNumber], offset, size, m.MaxBlockSize)
}

// FindBlock returns the block number containing [offset, offset+size).
func (m *Metadata) FindBlock(offset, size uint64) (uint32, bool) {
	for _, b := range m.Blocks {
		if isInBlock(b, offset, size, m.MaxBlockSize) {
			return b.BlockNumber, true
		}
	}
	return 0, false
}

// FindOrAllocateBlock finds the block containing [offset, offset+size), or
// allocates the next sequential block if offset falls within the page that
// directly follows the last block.
func (m *Metadata) FindOrAllocateBlock(offset, size uint64) (uint32, bool) {
	if block, ok := m.FindBlock(offset, size); ok {
		return block, true
	}

	last := m.Blocks[len(m.Blocks)-1].Offset
	if offset > last+m.MaxBlockSize-1 && offset < last+m.MaxBlockSize*2 {
		return m.addBlock(), true
	}
	return 0, false
}
