package fileengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
)

func newOpenEngine(t *testing.T, basename string) (*Engine, *Access) {
	t.Helper()
	ctx := context.Background()
	cc := cryptoctx.NewMemoryContext()

	user := authority.UserID(1)
	require.NoError(t, Create(ctx, basename, cc, user, NodeId(7), TypeRandomAccess, 4096))

	metadata, err := loadMetadata(ctx, cc, basename)
	require.NoError(t, err)

	engine, err := Open(ctx, basename, cc, metadata)
	require.NoError(t, err)

	root := engine.NewAccess(nil)
	go engine.Run(ctx)
	return engine, root
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	_, root := newOpenEngine(t, dir+"/a")
	ctx := context.Background()
	user := authority.UserID(1)

	access, err := root.RequestAccess(ctx, &user)
	require.NoError(t, err)

	_, props, err := access.Metadata(ctx)
	require.NoError(t, err)
	assert.Empty(t, props.Lock)

	rev, err := access.Write(ctx, 0, 0, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, Revision(1), rev)

	data, rev2, err := access.Read(ctx, 0, 11)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, Revision(1), rev2)

	require.NoError(t, root.Close(ctx))
}

func TestWriteRejectsStaleRevision(t *testing.T) {
	dir := t.TempDir()
	_, root := newOpenEngine(t, dir+"/a")
	ctx := context.Background()
	user := authority.UserID(1)

	access, err := root.RequestAccess(ctx, &user)
	require.NoError(t, err)

	_, err = access.Write(ctx, 99, 0, []byte("x"))
	require.Error(t, err)
	var fErr *Error
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, ErrRevisionTooOld, fErr.Code)

	require.NoError(t, root.Close(ctx))
}

func TestInsertShiftsTail(t *testing.T) {
	dir := t.TempDir()
	_, root := newOpenEngine(t, dir+"/a")
	ctx := context.Background()
	user := authority.UserID(1)

	access, err := root.RequestAccess(ctx, &user)
	require.NoError(t, err)

	rev, err := access.Write(ctx, 0, 0, []byte("helloworld"))
	require.NoError(t, err)

	_, err = access.Insert(ctx, rev, 5, []byte(" - "))
	require.NoError(t, err)

	data, _, err := access.Read(ctx, 0, 13)
	require.NoError(t, err)
	assert.Equal(t, "hello - world", string(data))

	require.NoError(t, root.Close(ctx))
}

func TestDeleteOnlyLastPart(t *testing.T) {
	dir := t.TempDir()
	_, root := newOpenEngine(t, dir+"/a")
	ctx := context.Background()
	user := authority.UserID(1)

	access, err := root.RequestAccess(ctx, &user)
	require.NoError(t, err)

	rev, err := access.Write(ctx, 0, 0, []byte("hello world"))
	require.NoError(t, err)

	rev, err = access.Delete(ctx, rev, 5, 6)
	require.NoError(t, err)

	data, _, err := access.Read(ctx, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, root.Close(ctx))
}

func TestLockExclusion(t *testing.T) {
	dir := t.TempDir()
	_, root := newOpenEngine(t, dir+"/a")
	ctx := context.Background()
	alice := authority.UserID(1)
	bob := authority.UserID(2)

	access, err := root.RequestAccess(ctx, &alice)
	require.NoError(t, err)

	metadata, _, err := access.Metadata(ctx)
	require.NoError(t, err)

	require.NoError(t, access.Lock(ctx, metadata.Revision, Lock{User: alice}))

	_, err = access.Write(ctx, metadata.Revision, 0, []byte("hi"))
	require.NoError(t, err)

	other, err := root.RequestAccess(ctx, &bob)
	require.NoError(t, err)

	_, err = other.Write(ctx, metadata.Revision+1, 0, []byte("nope"))
	require.Error(t, err)
	var fErr *Error
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, ErrFileLockedByOtherUser, fErr.Code)

	err = other.Unlock(ctx, Lock{User: bob})
	require.Error(t, err)

	require.NoError(t, access.Unlock(ctx, Lock{User: alice}))

	require.NoError(t, root.Close(ctx))
}

func TestLockRequiresCurrentRevision(t *testing.T) {
	dir := t.TempDir()
	_, root := newOpenEngine(t, dir+"/a")
	ctx := context.Background()
	user := authority.UserID(1)

	access, err := root.RequestAccess(ctx, &user)
	require.NoError(t, err)

	err = access.Lock(ctx, 42, Lock{User: user})
	require.Error(t, err)
	var fErr *Error
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, ErrRevisionTooOld, fErr.Code)

	err = access.Unlock(ctx, Lock{User: user})
	require.Error(t, err)
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, ErrFileNotLocked, fErr.Code)

	require.NoError(t, root.Close(ctx))
}

func TestNotificationDeliveredButNotToSource(t *testing.T) {
	dir := t.TempDir()
	_, root := newOpenEngine(t, dir+"/a")
	ctx := context.Background()
	alice := authority.UserID(1)
	bob := authority.UserID(2)

	writer, err := root.RequestAccess(ctx, &alice)
	require.NoError(t, err)
	watcher, err := root.RequestAccess(ctx, &bob)
	require.NoError(t, err)

	_, err = writer.Write(ctx, 0, 0, []byte("hi"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		watcher.Drain()
		return watcher.HasNotifications()
	}, time.Second, 5*time.Millisecond)

	n, ok := watcher.PopNotification()
	require.True(t, ok)
	assert.Equal(t, NotificationPartModified, n.Kind)

	writer.Drain()
	assert.False(t, writer.HasNotifications())

	require.NoError(t, root.Close(ctx))
}

func TestWriteAllocatesSecondBlockPastBoundary(t *testing.T) {
	dir := t.TempDir()
	_, root := newOpenEngine(t, dir+"/a") // newOpenEngine uses MaxBlockSize 4096
	ctx := context.Background()
	user := authority.UserID(1)

	access, err := root.RequestAccess(ctx, &user)
	require.NoError(t, err)

	rev, err := access.Write(ctx, 0, 0, []byte("first block"))
	require.NoError(t, err)

	metadata, _, err := access.Metadata(ctx)
	require.NoError(t, err)
	require.Len(t, metadata.Blocks, 1)

	// 4096 is exactly one MaxBlockSize past the first block's offset, so it
	// falls in the allocation window and forces a second Block.
	rev, err = access.Write(ctx, rev, 4096, []byte("second block"))
	require.NoError(t, err)
	assert.Equal(t, Revision(2), rev)

	metadata, _, err = access.Metadata(ctx)
	require.NoError(t, err)
	require.Len(t, metadata.Blocks, 2)
	assert.Equal(t, uint64(4096), metadata.Blocks[1].Offset)
	assert.Equal(t, uint32(1), metadata.Blocks[1].BlockNumber)

	data, _, err := access.Read(ctx, 4096, 12)
	require.NoError(t, err)
	assert.Equal(t, "second block", string(data))

	require.NoError(t, root.Close(ctx))
}

func TestEngineClosesWhenLastAccessCloses(t *testing.T) {
	dir := t.TempDir()
	_, root := newOpenEngine(t, dir+"/a")
	ctx := context.Background()
	user := authority.UserID(1)

	access, err := root.RequestAccess(ctx, &user)
	require.NoError(t, err)

	require.NoError(t, access.Close(ctx))

	require.Eventually(t, func() bool {
		root.Drain()
		return root.HasNotifications()
	}, time.Second, 5*time.Millisecond)

	n, ok := root.PopNotification()
	require.True(t, ok)
	assert.Equal(t, NotificationFileClosing, n.Kind)
}
