package fileengine

import (
	"context"
	"time"

	"github.com/marmos91/dittofs/pkg/authority"
)

// Bounded-wait budget for a request/response round trip with the engine
// goroutine, per spec.md §5: a caller waits at most maxWaitMessages polls of
// maxWaitPoll each before the engine is presumed stuck and the caller is
// handed ErrInternalCommunication instead of blocking forever. This budget
// applies even when the caller supplies an undeadlined context.
const (
	maxWaitPoll     = 200 * time.Millisecond
	maxWaitMessages = 5
)

// Access is a single connection's handle to a running Engine. A FileHandle
// keeps one root Access (user == nil) to track the engine's lifetime, and
// hands out one more to every caller that opens the file.
type Access struct {
	id    connID
	inbox chan envelope
	out   chan response

	pending []Notification
}

func (a *Access) send(ctx context.Context, req request) (response, error) {
	bounded, cancel := context.WithTimeout(ctx, maxWaitPoll*maxWaitMessages)
	defer cancel()

	select {
	case a.inbox <- envelope{connection: a.id, req: req}:
	case <-bounded.Done():
		return response{}, waitErr(ctx, bounded)
	}

	for {
		select {
		case resp := <-a.out:
			if resp.kind == respNotification {
				a.pending = append(a.pending, *resp.notification)
				continue
			}
			return resp, nil
		case <-bounded.Done():
			return response{}, waitErr(ctx, bounded)
		}
	}
}

// waitErr distinguishes a caller-supplied context's own cancellation or
// deadline from the bounded-wait budget expiring on its own: the former
// surfaces as-is, the latter becomes ErrInternalCommunication.
func waitErr(caller, bounded context.Context) error {
	if err := caller.Err(); err != nil {
		return err
	}
	_ = bounded.Err()
	return newError(ErrInternalCommunication, "no response from file engine within bounded wait")
}

// Write overwrites [offset, offset+len(data)) and returns the new revision.
func (a *Access) Write(ctx context.Context, revision Revision, offset uint64, data []byte) (Revision, error) {
	resp, err := a.send(ctx, request{kind: reqWrite, revision: revision, offset: offset, data: data})
	if err != nil {
		return 0, err
	}
	return resp.revision, resp.err
}

// Insert shifts everything at or after offset forward and writes data in
// the gap, returning the new revision.
func (a *Access) Insert(ctx context.Context, revision Revision, offset uint64, data []byte) (Revision, error) {
	resp, err := a.send(ctx, request{kind: reqInsert, revision: revision, offset: offset, data: data})
	if err != nil {
		return 0, err
	}
	return resp.revision, resp.err
}

// Delete removes [offset, offset+size), returning the new revision. Only
// the last part of a file may be deleted.
func (a *Access) Delete(ctx context.Context, revision Revision, offset, size uint64) (Revision, error) {
	resp, err := a.send(ctx, request{kind: reqDelete, revision: revision, offset: offset, size: size})
	if err != nil {
		return 0, err
	}
	return resp.revision, resp.err
}

// Read returns up to size bytes starting at offset, and the file's current
// revision.
func (a *Access) Read(ctx context.Context, offset, size uint64) ([]byte, Revision, error) {
	resp, err := a.send(ctx, request{kind: reqRead, offset: offset, size: size})
	if err != nil {
		return nil, 0, err
	}
	if resp.err != nil {
		return nil, 0, resp.err
	}
	return resp.data, resp.revision, nil
}

// Lock requests the exclusive blob-write lock on behalf of lock.User,
// failing if revision is stale or the file is already locked.
func (a *Access) Lock(ctx context.Context, revision Revision, lock Lock) error {
	resp, err := a.send(ctx, request{kind: reqLock, revision: revision, lock: lock})
	if err != nil {
		return err
	}
	return resp.err
}

// Unlock releases a lock previously acquired with the same holder.
func (a *Access) Unlock(ctx context.Context, lock Lock) error {
	resp, err := a.send(ctx, request{kind: reqUnlock, lock: lock})
	if err != nil {
		return err
	}
	return resp.err
}

// RequestAccess asks the engine for a new connection on behalf of user,
// used by a FileHandle to hand a second caller its own Access to a file it
// already has open.
func (a *Access) RequestAccess(ctx context.Context, user *authority.Id) (*Access, error) {
	resp, err := a.send(ctx, request{kind: reqRequestAccess, user: user})
	if err != nil {
		return nil, err
	}
	return resp.access, nil
}

// Metadata returns the file's current metadata and open-file properties.
func (a *Access) Metadata(ctx context.Context) (*Metadata, OpenFileProperties, error) {
	resp, err := a.send(ctx, request{kind: reqRequestMetadata})
	if err != nil {
		return nil, OpenFileProperties{}, err
	}
	return resp.metadata, resp.openProps, nil
}

// Close disconnects this access from the engine. If this is the root access,
// the engine closes immediately regardless of other open connections.
func (a *Access) Close(ctx context.Context) error {
	_, err := a.send(ctx, request{kind: reqClose})
	return err
}

// HasNotifications reports whether any notifications are queued, waiting to
// be drained by PopNotification.
func (a *Access) HasNotifications() bool { return len(a.pending) > 0 }

// PopNotification dequeues and returns the oldest pending notification.
func (a *Access) PopNotification() (Notification, bool) {
	if len(a.pending) == 0 {
		return Notification{}, false
	}
	n := a.pending[0]
	a.pending = a.pending[1:]
	return n, true
}

// Drain reads any notifications the engine already sent without blocking,
// queuing them for PopNotification. Callers that aren't actively waiting on
// a request should call this periodically to keep the notification queue
// current and the connection's out channel from backing up.
func (a *Access) Drain() {
	for {
		select {
		case resp := <-a.out:
			if resp.kind == respNotification && resp.notification != nil {
				a.pending = append(a.pending, *resp.notification)
			}
		default:
			return
		}
	}
}
