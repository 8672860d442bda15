package fileengine

import (
	"context"
	"os"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
)

const defaultBufferSize = 1024

// Create writes a brand-new file's first block and metadata to disk. It
// does not start the actor; the file is opened (and its goroutine spawned)
// on first Open.
func Create(ctx context.Context, pathBasename string, cc cryptoctx.Context, user authority.Id, parent NodeId, fileType Type, maxBlockSize uint64) error {
	impl := &fileImpl{
		pathBasename: pathBasename,
		crypto:       cc,
		metadata:     NewMetadata(user, parent, fileType, maxBlockSize),
		buffer:       make([]byte, 0, defaultBufferSize),
	}
	impl.store(ctx)
	return nil
}

// Exists reports whether a file's first block has already been created at
// pathBasename.
func Exists(pathBasename string) bool {
	return existsOnDisk(pathBasename)
}

// fileImpl owns one file's block buffer and metadata. It is never touched
// from more than one goroutine: only the Engine's Run loop calls its
// methods.
type fileImpl struct {
	pathBasename string
	crypto       cryptoctx.Context
	metadata     *Metadata
	buffer       []byte
	currentBlock uint32
	lock         *Lock
}

func (f *fileImpl) loadBlock(ctx context.Context, blockIndex uint32) error {
	block := f.metadata.Blocks[blockIndex]
	path := blockPath(f.pathBasename, block.BlockNumber)

	if _, err := os.Stat(path); err == nil {
		data, err := f.crypto.DecryptFromFile(ctx, path)
		if err != nil {
			logger.Error("failed to read block", "path", path, "error", err)
			return err
		}
		f.buffer = data
	} else {
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			logger.Error("failed to create block file", "path", path, "error", err)
			return err
		}
		f.buffer = make([]byte, 0, defaultBufferSize)
	}

	f.currentBlock = blockIndex
	return nil
}

func (f *fileImpl) writeBlock(ctx context.Context) error {
	path := blockPath(f.pathBasename, f.currentBlock)
	if err := f.crypto.EncryptToFile(ctx, f.buffer, path); err != nil {
		logger.Error("failed to write block", "path", path, "error", err)
		return err
	}
	f.metadata.Blocks[f.currentBlock].Size = uint64(len(f.buffer))
	return nil
}

func (f *fileImpl) swapBlock(ctx context.Context, blockIndex uint32) error {
	if err := f.writeBlock(ctx); err != nil {
		return err
	}
	return f.loadBlock(ctx, blockIndex)
}

func (f *fileImpl) store(ctx context.Context) {
	if err := f.writeBlock(ctx); err != nil {
		logger.Warn("failed to flush current block on store", "path", f.pathBasename, "error", err)
	}
	if err := f.metadata.store(ctx, f.crypto, f.pathBasename); err != nil {
		logger.Warn("failed to store metadata", "path", f.pathBasename, "error", err)
	}
}

func (f *fileImpl) updateCurrentBlockSize() {
	f.metadata.Blocks[f.currentBlock].Size = uint64(len(f.buffer))
}

func (f *fileImpl) getLock() *Lock { return f.lock }

func (f *fileImpl) acquireLock(revision Revision, desc Lock) error {
	if revision != f.metadata.Revision {
		return newError(ErrRevisionTooOld, "lock: revision too old")
	}
	if f.lock != nil {
		return newError(ErrFileLockedByOtherUser, "file is already locked")
	}
	f.lock = &desc
	return nil
}

func (f *fileImpl) releaseLock(desc Lock) error {
	if f.lock == nil {
		return newError(ErrFileNotLocked, "file is not locked")
	}
	if !f.lock.IsLockedBy(desc) {
		return newError(ErrFileLockedByOtherUser, "file is locked by another user")
	}
	f.lock = nil
	return nil
}

// isEditAllowed rejects edits from the root handle (user == nil) and from
// any user other than the one holding the write lock, if any.
func (f *fileImpl) isEditAllowed(user *authority.Id) error {
	if user == nil {
		logger.Error("file edit attempted with no user")
		return newError(ErrInternal, "edits require an authenticated user")
	}
	if f.lock == nil {
		return nil
	}
	if f.lock.User != *user {
		return newError(ErrFileLockedByOtherUser, "file is locked by another user")
	}
	return nil
}

func (f *fileImpl) write(ctx context.Context, user *authority.Id, revision Revision, offset uint64, data []byte) (Revision, error) {
	size := uint64(len(data))
	if !f.metadata.IsInBlock(f.currentBlock, offset, size) {
		block, ok := f.metadata.FindOrAllocateBlock(offset, size)
		if !ok {
			return 0, newError(ErrOffsetAndSizeDoNotMapToPartOfFile, "offset/size do not map to part of file")
		}
		if err := f.swapBlock(ctx, block); err != nil {
			return 0, newError(ErrInternal, "failed to swap block")
		}
	}

	if revision != f.metadata.Revision {
		return 0, newError(ErrRevisionTooOld, "write: revision too old")
	}
	if err := f.isEditAllowed(user); err != nil {
		return 0, err
	}

	minSize := int(offset) + len(data)
	if len(f.buffer) < minSize {
		grown := make([]byte, minSize)
		copy(grown, f.buffer)
		f.buffer = grown
	}
	copy(f.buffer[offset:], data)

	f.metadata.Revision++
	f.updateCurrentBlockSize()
	return f.metadata.Revision, nil
}

func (f *fileImpl) insert(ctx context.Context, user *authority.Id, revision Revision, offset uint64, data []byte) (Revision, error) {
	size := uint64(len(data))
	if !f.metadata.IsInBlock(f.currentBlock, offset, size) {
		block, ok := f.metadata.FindOrAllocateBlock(offset, size)
		if !ok {
			return 0, newError(ErrOffsetAndSizeDoNotMapToPartOfFile, "offset/size do not map to part of file")
		}
		if err := f.swapBlock(ctx, block); err != nil {
			return 0, newError(ErrInternal, "failed to swap block")
		}
	}

	if revision != f.metadata.Revision {
		return 0, newError(ErrRevisionTooOld, "insert: revision too old")
	}
	if err := f.isEditAllowed(user); err != nil {
		return 0, err
	}

	grown := make([]byte, len(f.buffer)+len(data))
	copy(grown, f.buffer[:offset])
	copy(grown[offset:], data)
	copy(grown[int(offset)+len(data):], f.buffer[offset:])
	f.buffer = grown

	f.metadata.Revision++
	f.updateCurrentBlockSize()
	return f.metadata.Revision, nil
}

func (f *fileImpl) read(ctx context.Context, offset, size uint64) ([]byte, Revision, error) {
	if !f.metadata.IsInBlock(f.currentBlock, offset, size) {
		block, ok := f.metadata.FindBlock(offset, size)
		if !ok {
			return nil, 0, newError(ErrOffsetAndSizeDoNotMapToPartOfFile, "offset/size do not map to part of file")
		}
		if err := f.swapBlock(ctx, block); err != nil {
			return nil, 0, newError(ErrInternal, "failed to swap block")
		}
	}

	end := offset + size
	if end > uint64(len(f.buffer)) {
		end = uint64(len(f.buffer))
	}
	if end < offset {
		end = offset
	}
	out := make([]byte, end-offset)
	copy(out, f.buffer[offset:end])
	return out, f.metadata.Revision, nil
}

func (f *fileImpl) delete(ctx context.Context, user *authority.Id, revision Revision, offset, size uint64) (Revision, error) {
	lastBlock := uint32(len(f.metadata.Blocks) - 1)

	if !f.metadata.IsInBlock(f.currentBlock, offset, size) {
		block, ok := f.metadata.FindBlock(offset, size)
		if !ok {
			return 0, newError(ErrOffsetAndSizeDoNotMapToPartOfFile, "offset/size do not map to part of file")
		}
		if block != lastBlock {
			return 0, newError(ErrDeleteOnlyAllowedForLastPart, "delete is only allowed for the last part of a file")
		}
		if err := f.swapBlock(ctx, block); err != nil {
			return 0, newError(ErrInternal, "failed to swap block")
		}
	} else if f.currentBlock != lastBlock {
		return 0, newError(ErrDeleteOnlyAllowedForLastPart, "delete is only allowed for the last part of a file")
	}

	if revision != f.metadata.Revision {
		return 0, newError(ErrRevisionTooOld, "delete: revision too old")
	}
	if err := f.isEditAllowed(user); err != nil {
		return 0, err
	}

	end := offset + size
	if end > uint64(len(f.buffer)) {
		end = uint64(len(f.buffer))
	}
	f.buffer = append(f.buffer[:offset], f.buffer[end:]...)

	f.metadata.Revision++
	f.updateCurrentBlockSize()
	return f.metadata.Revision, nil
}
