package filesystem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/fileengine"
	"github.com/marmos91/dittofs/pkg/filesystem"
)

func newTestFilesystem(t *testing.T) *filesystem.Filesystem {
	t.Helper()
	cc := cryptoctx.NewMemoryContext()
	return filesystem.New(cc, t.TempDir(), 16, 4, authority.GroupID(0))
}

func TestNewFilesystemHasOnlyRoot(t *testing.T) {
	fs := newTestFilesystem(t)
	assert.Equal(t, 16, fs.Capacity())
	assert.True(t, fs.IsDirectory(filesystem.NodeIdRoot))
	assert.Equal(t, 0, fs.NumberOfFiles())
}

func TestCreateFileAndResolvePath(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	owner := authority.UserID(1)

	id, err := fs.CreateFile(ctx, filesystem.NodeIdRoot, "report.txt", owner, fileengine.TypeRandomAccess, 4096)
	require.NoError(t, err)
	assert.True(t, fs.IsFile(id))
	assert.Equal(t, 1, fs.NumberOfFiles())

	var out [4]filesystem.NodeId
	n, err := fs.ResolvePathFromRoot("/report.txt", out[:])
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, filesystem.NodeIdRoot, out[0])
	assert.Equal(t, id, out[1])
}

func TestCreateFileRejectsDuplicateName(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	owner := authority.UserID(1)

	_, err := fs.CreateFile(ctx, filesystem.NodeIdRoot, "dup.txt", owner, fileengine.TypeRandomAccess, 4096)
	require.NoError(t, err)

	_, err = fs.CreateFile(ctx, filesystem.NodeIdRoot, "dup.txt", owner, fileengine.TypeRandomAccess, 4096)
	require.Error(t, err)
	var fsErr *filesystem.Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, filesystem.ErrInvalidPath, fsErr.Code)
}

func TestCreateDirectoryEnforcesMaxChildren(t *testing.T) {
	fs := newTestFilesystem(t)
	owner := authority.UserID(1)

	for i := 0; i < 4; i++ {
		_, err := fs.CreateDirectory(filesystem.NodeIdRoot, string(rune('a'+i)), owner)
		require.NoError(t, err)
	}

	_, err := fs.CreateDirectory(filesystem.NodeIdRoot, "overflow", owner)
	require.Error(t, err)
	var fsErr *filesystem.Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, filesystem.ErrDirectoryFull, fsErr.Code)
}

func TestDeleteRejectsNonEmptyDirectory(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	owner := authority.UserID(1)

	dirID, err := fs.CreateDirectory(filesystem.NodeIdRoot, "sub", owner)
	require.NoError(t, err)
	_, err = fs.CreateFile(ctx, dirID, "leaf.txt", owner, fileengine.TypeRandomAccess, 4096)
	require.NoError(t, err)

	err = fs.Delete(ctx, filesystem.NodeIdRoot, 0, dirID)
	require.Error(t, err)
	var fsErr *filesystem.Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, filesystem.ErrFolderIsNotEmpty, fsErr.Code)
}

func TestDeleteFileFreesSlot(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	owner := authority.UserID(1)

	id, err := fs.CreateFile(ctx, filesystem.NodeIdRoot, "gone.txt", owner, fileengine.TypeRandomAccess, 4096)
	require.NoError(t, err)
	require.NoError(t, fs.Delete(ctx, filesystem.NodeIdRoot, 0, id))

	assert.Equal(t, 0, fs.NumberOfFiles())
	assert.False(t, fs.IsFile(id))
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	cc := cryptoctx.NewMemoryContext()
	dataDir := t.TempDir()
	fs := filesystem.New(cc, dataDir, 16, 4, authority.GroupID(0))
	ctx := context.Background()
	owner := authority.UserID(1)

	_, err := fs.CreateFile(ctx, filesystem.NodeIdRoot, "persisted.txt", owner, fileengine.TypeRandomAccess, 4096)
	require.NoError(t, err)
	_, err = fs.CreateDirectory(filesystem.NodeIdRoot, "subdir", owner)
	require.NoError(t, err)

	basename := dataDir + "/fs-state"
	require.NoError(t, fs.Store(ctx, basename))

	reloaded, err := filesystem.Load(ctx, cc, dataDir, basename)
	require.NoError(t, err)
	assert.Equal(t, fs.Capacity(), reloaded.Capacity())
	assert.Equal(t, 1, reloaded.NumberOfFiles())

	var out [4]filesystem.NodeId
	n, err := reloaded.ResolvePathFromRoot("/persisted.txt", out[:])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
