package filehandle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/fileengine"
	"github.com/marmos91/dittofs/pkg/filehandle"
)

func TestCreateStartsClosed(t *testing.T) {
	ctx := context.Background()
	cc := cryptoctx.NewMemoryContext()
	owner := authority.UserID(1)

	fh, err := filehandle.Create(ctx, t.TempDir()+"/a", cc, owner, fileengine.NodeId(0), fileengine.TypeRandomAccess, 4096)
	require.NoError(t, err)
	assert.False(t, fh.IsOpen())
}

func TestOpenSpawnsEngineThenReusesIt(t *testing.T) {
	ctx := context.Background()
	cc := cryptoctx.NewMemoryContext()
	owner := authority.UserID(1)
	path := t.TempDir() + "/b"

	fh, err := filehandle.Create(ctx, path, cc, owner, fileengine.NodeId(0), fileengine.TypeRandomAccess, 4096)
	require.NoError(t, err)

	access1, err := fh.Open(ctx, cc, owner)
	require.NoError(t, err)
	require.NotNil(t, access1)
	assert.True(t, fh.IsOpen())

	access2, err := fh.Open(ctx, cc, owner)
	require.NoError(t, err)
	require.NotNil(t, access2)
	assert.True(t, fh.IsOpen())

	fh.Close(ctx)
	assert.False(t, fh.IsOpen())
}

func TestInitRejectsMissingFile(t *testing.T) {
	_, err := filehandle.Init(t.TempDir() + "/does-not-exist")
	assert.Error(t, err)
}

func TestInitBindsExistingFile(t *testing.T) {
	ctx := context.Background()
	cc := cryptoctx.NewMemoryContext()
	owner := authority.UserID(1)
	path := t.TempDir() + "/c"

	_, err := filehandle.Create(ctx, path, cc, owner, fileengine.NodeId(0), fileengine.TypeRandomAccess, 4096)
	require.NoError(t, err)

	fh, err := filehandle.Init(path)
	require.NoError(t, err)
	assert.Equal(t, path, fh.Path())
	assert.False(t, fh.IsOpen())

	properties, _, err := fh.Properties(ctx, cc)
	require.NoError(t, err)
	assert.Equal(t, owner, properties.Created.User)
}

func TestCloseIsNoOpWhenNotOpen(t *testing.T) {
	ctx := context.Background()
	cc := cryptoctx.NewMemoryContext()
	owner := authority.UserID(1)

	fh, err := filehandle.Create(ctx, t.TempDir()+"/d", cc, owner, fileengine.NodeId(0), fileengine.TypeRandomAccess, 4096)
	require.NoError(t, err)

	fh.Close(ctx)
	assert.False(t, fh.IsOpen())
}
