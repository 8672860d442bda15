package directory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/directory"
)

func TestAddAndLookupChild(t *testing.T) {
	owner := authority.UserID(1)
	d := directory.New(owner, 0)

	d.AddChild(5, "report.txt")
	assert.Equal(t, 1, d.NumberOfChildren())

	id, idx, err := d.ChildWithName("report.txt")
	require.NoError(t, err)
	assert.Equal(t, directory.NodeId(5), id)
	assert.Equal(t, 0, idx)
}

func TestRemoveChildVerifiesNodeId(t *testing.T) {
	owner := authority.UserID(1)
	d := directory.New(owner, 0)
	d.AddChild(5, "a")
	d.AddChild(6, "b")

	err := d.RemoveChild(0, 99)
	assert.Error(t, err)
	assert.Equal(t, 2, d.NumberOfChildren())

	err = d.RemoveChild(0, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, d.NumberOfChildren())
	assert.True(t, !d.IsEmpty())
}

func TestIsEmpty(t *testing.T) {
	d := directory.New(authority.UserID(1), 0)
	assert.True(t, d.IsEmpty())
	d.AddChild(1, "x")
	assert.False(t, d.IsEmpty())
}
