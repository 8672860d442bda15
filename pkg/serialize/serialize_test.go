package serialize_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/serialize"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	cc := cryptoctx.NewMemoryContext()
	basename := filepath.Join(t.TempDir(), "fixture")

	in := sample{Name: "alice", Count: 3}
	require.NoError(t, serialize.Write(ctx, cc, basename, 1, &in))

	var out sample
	version, err := serialize.Read(ctx, cc, basename, 1, &out)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), version)
	assert.Equal(t, in, out)
}

func TestReadProbesOlderVersions(t *testing.T) {
	ctx := context.Background()
	cc := cryptoctx.NewMemoryContext()
	basename := filepath.Join(t.TempDir(), "fixture")

	in := sample{Name: "bob", Count: 7}
	require.NoError(t, serialize.Write(ctx, cc, basename, 1, &in))

	var out sample
	version, err := serialize.Read(ctx, cc, basename, 3, &out)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), version)
	assert.Equal(t, in, out)
}

func TestReadMissingReturnsError(t *testing.T) {
	ctx := context.Background()
	cc := cryptoctx.NewMemoryContext()
	basename := filepath.Join(t.TempDir(), "missing")

	var out sample
	_, err := serialize.Read(ctx, cc, basename, 1, &out)
	assert.Error(t, err)
}
