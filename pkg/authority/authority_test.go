package authority_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/authority"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
)

func TestAddUserAndValidate(t *testing.T) {
	a := authority.New()
	now := time.Now()

	id, err := a.AddUser("alice", "hunter2", nil)
	require.NoError(t, err)
	assert.True(t, id.IsUser())

	got, err := a.ValidateUser("alice", "hunter2", now)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = a.ValidateUser("alice", "wrong", now)
	assert.Error(t, err)
}

func TestAddUserDuplicateNameRejected(t *testing.T) {
	a := authority.New()
	_, err := a.AddUser("alice", "pw", nil)
	require.NoError(t, err)

	_, err = a.AddUser("alice", "other", nil)
	assert.Error(t, err)
}

func TestUserExpiration(t *testing.T) {
	a := authority.New()
	past := time.Now().Add(-time.Hour)
	_, err := a.AddUser("bob", "pw", &past)
	require.NoError(t, err)

	_, err = a.ValidateUser("bob", "pw", time.Now())
	assert.Error(t, err)
}

func TestGroupMembershipAndAuthorization(t *testing.T) {
	a := authority.New()
	now := time.Now()

	userID, err := a.AddUser("alice", "pw", nil)
	require.NoError(t, err)

	groupID, err := a.AddGroup("engineers", nil)
	require.NoError(t, err)

	require.NoError(t, a.ModifyGroupAddUser(groupID, userID))
	assert.NoError(t, a.IsAuthorized(groupID, userID, now))

	other, err := a.AddUser("mallory", "pw", nil)
	require.NoError(t, err)
	assert.Error(t, a.IsAuthorized(groupID, other, now))

	require.NoError(t, a.ModifyGroupRemoveUser(groupID, userID))
	assert.Error(t, a.IsAuthorized(groupID, userID, now))
}

func TestGroupCannotContainGroup(t *testing.T) {
	a := authority.New()
	outer, err := a.AddGroup("outer", nil)
	require.NoError(t, err)
	inner, err := a.AddGroup("inner", nil)
	require.NoError(t, err)

	err = a.ModifyGroupAddUser(outer, inner)
	assert.Error(t, err)
}

func TestUserAuthorizedOnlyUnderSelf(t *testing.T) {
	a := authority.New()
	now := time.Now()
	alice, err := a.AddUser("alice", "pw", nil)
	require.NoError(t, err)
	bob, err := a.AddUser("bob", "pw", nil)
	require.NoError(t, err)

	assert.NoError(t, a.IsAuthorized(alice, alice, now))
	assert.Error(t, a.IsAuthorized(alice, bob, now))
}

func TestTokenIsSingleUse(t *testing.T) {
	a := authority.New()
	now := time.Now()
	id, err := a.AddUser("alice", "pw", nil)
	require.NoError(t, err)

	value := a.IssueToken(id, now.Add(time.Minute))

	got, err := a.RedeemToken(value, now)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = a.RedeemToken(value, now)
	assert.Error(t, err)
}

func TestTokenExpiration(t *testing.T) {
	a := authority.New()
	now := time.Now()
	id, err := a.AddUser("alice", "pw", nil)
	require.NoError(t, err)

	value := a.IssueToken(id, now.Add(-time.Second))
	_, err = a.RedeemToken(value, now)
	assert.Error(t, err)
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	cc := cryptoctx.NewMemoryContext()
	basename := filepath.Join(t.TempDir(), "users")

	a := authority.New()
	userID, err := a.AddUser("alice", "hunter2", nil)
	require.NoError(t, err)
	groupID, err := a.AddGroup("engineers", nil)
	require.NoError(t, err)
	require.NoError(t, a.ModifyGroupAddUser(groupID, userID))

	require.NoError(t, a.Store(ctx, cc, basename))

	loaded, err := authority.Load(ctx, cc, basename)
	require.NoError(t, err)

	now := time.Now()
	assert.NoError(t, loaded.IsAuthorized(groupID, userID, now))
	got, err := loaded.ValidateUser("alice", "hunter2", now)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}
