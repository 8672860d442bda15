package fileengine

import (
	"context"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
)

type connID uint64

type connection struct {
	id   connID
	out  chan response
	user *authority.Id // nil for the root handle
}

func (c *connection) isRootHandle() bool { return c.user == nil }

// Engine is the single goroutine that owns a file's metadata and block
// buffer. Every mutation, read, lock, or metadata request reaches it
// through the shared inbox; Engine never shares fileImpl with any other
// goroutine.
type Engine struct {
	impl  *fileImpl
	inbox chan envelope

	connections map[connID]*connection
	nextConn    connID

	rootOut chan response // the owning FileHandle's dedicated channel
}

// Open loads the file's first block for the given metadata, and returns an Engine
// ready to be run. It does not start the goroutine: call Run in a new
// goroutine, the way the teacher's background uploader starts its workers.
func Open(ctx context.Context, pathBasename string, cc cryptoctx.Context, metadata *Metadata) (*Engine, error) {
	impl := &fileImpl{
		pathBasename: pathBasename,
		crypto:       cc,
		metadata:     metadata,
		buffer:       make([]byte, 0, defaultBufferSize),
	}
	if len(metadata.Blocks) == 0 {
		return nil, newError(ErrInternal, "metadata has no block descriptions")
	}
	if err := impl.loadBlock(ctx, 0); err != nil {
		return nil, newError(ErrInternal, "failed to load first block")
	}

	e := &Engine{
		impl:        impl,
		inbox:       make(chan envelope, 16),
		connections: make(map[connID]*connection),
	}
	return e, nil
}

// NewAccess registers a new connection to the engine and returns the Access
// handle a caller uses to talk to it. user is nil for the root handle that
// the owning FileHandle keeps to track the engine's lifetime.
func (e *Engine) NewAccess(user *authority.Id) *Access {
	id := e.nextConn
	e.nextConn++

	out := make(chan response, 8)
	conn := &connection{id: id, out: out, user: user}
	e.connections[id] = conn
	if user == nil {
		e.rootOut = out
	}

	logger.Debug("file access added", "connection", id, "path", e.impl.pathBasename)

	return &Access{
		id:    id,
		inbox: e.inbox,
		out:   out,
	}
}

// Run processes requests until the engine decides to close: either the root
// handle asks it to, or the last non-root connection disconnects. It stores
// the file's current block and metadata before returning.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.impl.store(ctx)
			return

		case env := <-e.inbox:
			if e.handle(ctx, env) {
				e.impl.store(ctx)
				return
			}
		}
	}
}

// handle processes one request and reports whether the engine should exit.
func (e *Engine) handle(ctx context.Context, env envelope) bool {
	conn, ok := e.connections[env.connection]
	if !ok {
		return false
	}

	var notif *Notification
	skipSource := false

	switch env.req.kind {
	case reqRequestAccess:
		access := e.NewAccess(env.req.user)
		conn.out <- response{kind: reqRequestAccess, access: access}

	case reqRequestMetadata:
		conn.out <- response{
			kind:      reqRequestMetadata,
			metadata:  e.impl.metadata,
			openProps: OpenFileProperties{ActiveUsers: e.activeUsers(), Lock: e.impl.getLock()},
		}

	case reqClose:
		if conn.isRootHandle() {
			conn.out <- response{kind: reqClose}
			e.broadcastClosing(&conn.id)
			return true
		}
		conn.out <- response{kind: reqClose}
		delete(e.connections, conn.id)

	case reqWrite:
		rev, err := e.impl.write(ctx, conn.user, env.req.revision, env.req.offset, env.req.data)
		conn.out <- response{kind: reqWrite, revision: rev, err: err}
		if err == nil {
			notif = &Notification{Kind: NotificationPartModified, Revision: rev, Offset: env.req.offset, Size: uint64(len(env.req.data))}
			skipSource = true
		}

	case reqInsert:
		rev, err := e.impl.insert(ctx, conn.user, env.req.revision, env.req.offset, env.req.data)
		conn.out <- response{kind: reqInsert, revision: rev, err: err}
		if err == nil {
			notif = &Notification{Kind: NotificationPartInserted, Revision: rev, Offset: env.req.offset, Size: uint64(len(env.req.data))}
			skipSource = true
		}

	case reqDelete:
		rev, err := e.impl.delete(ctx, conn.user, env.req.revision, env.req.offset, env.req.size)
		conn.out <- response{kind: reqDelete, revision: rev, err: err}
		if err == nil {
			notif = &Notification{Kind: NotificationPartDeleted, Revision: rev, Offset: env.req.offset, Size: env.req.size}
			skipSource = true
		}

	case reqRead:
		data, rev, err := e.impl.read(ctx, env.req.offset, env.req.size)
		conn.out <- response{kind: reqRead, data: data, revision: rev, err: err}

	case reqLock:
		err := e.impl.acquireLock(env.req.revision, env.req.lock)
		conn.out <- response{kind: reqLock, err: err}

	case reqUnlock:
		err := e.impl.releaseLock(env.req.lock)
		conn.out <- response{kind: reqUnlock, err: err}
	}

	if notif != nil {
		e.broadcast(*notif, conn.id, skipSource)
	}

	if len(e.connections) <= 1 {
		e.broadcastClosing(nil)
		return true
	}
	return false
}

// isRootHandle reports whether id belongs to the connection the owning
// FileHandle uses to track this engine's lifetime.
func (e *Engine) isRootHandle(id connID) bool {
	c, ok := e.connections[id]
	return ok && c.isRootHandle()
}

func (e *Engine) activeUsers() []authority.Id {
	var users []authority.Id
	for _, c := range e.connections {
		if !c.isRootHandle() {
			users = append(users, *c.user)
		}
	}
	return users
}

// broadcast delivers notif to every non-root connection except, if
// skipSource, the one that caused it.
func (e *Engine) broadcast(notif Notification, source connID, skipSource bool) {
	for _, c := range e.connections {
		if c.isRootHandle() {
			continue
		}
		if skipSource && c.id == source {
			continue
		}
		select {
		case c.out <- response{kind: respNotification, notification: &notif}:
		default:
			logger.Warn("dropped notification, connection backlog full", "connection", c.id)
		}
	}
}

// broadcastClosing notifies every connection (including root) that the file
// is closing. The send does not wait: a connection whose backlog is full
// misses the notice, since the engine is about to stop.
func (e *Engine) broadcastClosing(_ *connID) {
	notif := Notification{Kind: NotificationFileClosing}
	for _, c := range e.connections {
		select {
		case c.out <- response{kind: respNotification, notification: &notif}:
		default:
		}
	}
}
