// Package filehandle wraps zero or one live fileengine.Engine for a single
// file's on-disk path. It is the lifecycle façade pkg/filesystem hands out
// for every file node: lazy metadata, idempotent open (spawn the engine on
// first use, attach to it on every subsequent one), and close.
package filehandle

import (
	"context"
	"fmt"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/fileengine"
)

// FileHandle is never touched from more than one goroutine: pkg/node's
// single orchestrator loop owns every FileHandle in the tree, matching the
// Rust original's single-threaded mutable access to FileHandle.
type FileHandle struct {
	pathBasename string

	root     *fileengine.Access // nil unless the engine is running
	cachedMD *fileengine.Metadata
}

// Create writes a brand-new file's first block and metadata to disk. The
// engine is not started: it spawns lazily on the first Open.
func Create(ctx context.Context, pathBasename string, cc cryptoctx.Context, user authority.Id, parent fileengine.NodeId, fileType fileengine.Type, maxBlockSize uint64) (*FileHandle, error) {
	if err := fileengine.Create(ctx, pathBasename, cc, user, parent, fileType, maxBlockSize); err != nil {
		return nil, fmt.Errorf("filehandle: create %q: %w", pathBasename, err)
	}
	return &FileHandle{pathBasename: pathBasename}, nil
}

// Init binds a FileHandle to a file that already exists on disk, used while
// rehydrating the filesystem snapshot at startup.
func Init(pathBasename string) (*FileHandle, error) {
	if !fileengine.Exists(pathBasename) {
		return nil, fmt.Errorf("filehandle: no file at %q", pathBasename)
	}
	return &FileHandle{pathBasename: pathBasename}, nil
}

// Path returns the file's on-disk basename.
func (h *FileHandle) Path() string { return h.pathBasename }

// IsOpen reports whether the engine is currently running, draining any
// pending notifications on the root channel first (a FileClosing there
// means the engine has already decided to exit).
func (h *FileHandle) IsOpen() bool {
	h.update()
	return h.root != nil
}

// Open returns a new Access bound to user. If the engine is not already
// running, it loads metadata, spawns the engine goroutine, and keeps a root
// Access to track its lifetime; otherwise it asks the running engine for a
// fresh connection.
func (h *FileHandle) Open(ctx context.Context, cc cryptoctx.Context, user authority.Id) (*fileengine.Access, error) {
	h.update()

	if h.root != nil {
		logger.Debug("opening file, engine already running", "path", h.pathBasename)
		u := user
		return h.root.RequestAccess(ctx, &u)
	}

	logger.Debug("opening file, starting engine", "path", h.pathBasename)
	return h.start(ctx, cc, user)
}

func (h *FileHandle) start(ctx context.Context, cc cryptoctx.Context, user authority.Id) (*fileengine.Access, error) {
	metadata := h.cachedMD
	if metadata == nil {
		loaded, err := fileengine.LoadMetadata(ctx, cc, h.pathBasename)
		if err != nil {
			return nil, fmt.Errorf("filehandle: load metadata: %w", err)
		}
		metadata = loaded
	}
	h.cachedMD = nil

	engine, err := fileengine.Open(ctx, h.pathBasename, cc, metadata)
	if err != nil {
		return nil, fmt.Errorf("filehandle: open engine: %w", err)
	}

	root := engine.NewAccess(nil)
	u := user
	userAccess := engine.NewAccess(&u)

	go engine.Run(ctx)

	h.root = root
	return userAccess, nil
}

// CachedProperties returns the metadata last loaded from disk by Properties,
// without triggering any I/O or engine round-trip. The second return is
// false if nothing is cached: before the first load, and after Open has
// handed the cached copy to a newly started engine.
func (h *FileHandle) CachedProperties() (*fileengine.Metadata, bool) {
	if h.cachedMD != nil {
		return h.cachedMD, true
	}
	return nil, false
}

// Properties returns the file's authoritative metadata: live from the
// running engine if one exists, otherwise read from disk (and cached for
// next time).
func (h *FileHandle) Properties(ctx context.Context, cc cryptoctx.Context) (*fileengine.Metadata, fileengine.OpenFileProperties, error) {
	h.update()

	if h.root != nil {
		md, props, err := h.root.Metadata(ctx)
		if err != nil {
			return nil, fileengine.OpenFileProperties{}, fmt.Errorf("filehandle: metadata: %w", err)
		}
		return md, props, nil
	}

	if h.cachedMD != nil {
		return h.cachedMD, fileengine.OpenFileProperties{}, nil
	}

	md, err := fileengine.LoadMetadata(ctx, cc, h.pathBasename)
	if err != nil {
		return nil, fileengine.OpenFileProperties{}, fmt.Errorf("filehandle: load metadata: %w", err)
	}
	h.cachedMD = md
	return md, fileengine.OpenFileProperties{}, nil
}

// Close asks a running engine to shut down and waits for acknowledgement.
// It is a no-op if the engine is not running.
func (h *FileHandle) Close(ctx context.Context) {
	if !h.IsOpen() {
		return
	}
	root := h.root
	if err := root.Close(ctx); err != nil {
		logger.Warn("failed to close file engine cleanly", "path", h.pathBasename, "error", err)
	}
	h.root = nil
}

// update drains the root Access's notification queue and, on seeing
// FileClosing, drops our reference to the (now-exiting) engine. This
// mirrors the original FileHandle::update poll that every public method
// calls before touching file_impl.
func (h *FileHandle) update() {
	if h.root == nil {
		return
	}
	h.root.Drain()
	for {
		n, ok := h.root.PopNotification()
		if !ok {
			break
		}
		if n.Kind == fileengine.NotificationFileClosing {
			h.root = nil
			return
		}
	}
}
