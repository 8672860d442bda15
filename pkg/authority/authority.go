// Package authority implements zyn's user and group directory: the single
// source of truth for who may authenticate, what groups they belong to, and
// which identity (a user, or a group acting on behalf of its members) is
// authorized to act as another.
package authority

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/cryptoctx"
	"github.com/marmos91/dittofs/pkg/serialize"
)

// Kind distinguishes a user identity from a group identity.
type Kind uint8

const (
	KindUser Kind = iota + 1
	KindGroup
)

// Id identifies either a user or a group. Zero value is invalid; always
// construct with UserID or GroupID.
type Id struct {
	Kind  Kind
	Value uint64
}

// UserID constructs a user identity.
func UserID(id uint64) Id { return Id{Kind: KindUser, Value: id} }

// GroupID constructs a group identity.
func GroupID(id uint64) Id { return Id{Kind: KindGroup, Value: id} }

func (id Id) IsUser() bool  { return id.Kind == KindUser }
func (id Id) IsGroup() bool { return id.Kind == KindGroup }

type serializedId struct {
	Type  Kind   `json:"id_type"`
	Value uint64 `json:"id_value"`
}

// MarshalJSON encodes Id as {id_type: 1|2, id_value}, matching the on-disk
// schema spec.md §6 specifies for the Authority tagged union.
func (id Id) MarshalJSON() ([]byte, error) {
	return json.Marshal(serializedId{Type: id.Kind, Value: id.Value})
}

// UnmarshalJSON decodes the {id_type, id_value} form back into an Id.
func (id *Id) UnmarshalJSON(data []byte) error {
	var s serializedId
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id.Kind = s.Type
	id.Value = s.Value
	return nil
}

func (id Id) String() string {
	switch id.Kind {
	case KindUser:
		return "User:" + strconv.FormatUint(id.Value, 10)
	case KindGroup:
		return "Group:" + strconv.FormatUint(id.Value, 10)
	default:
		return "Invalid"
	}
}

// ErrorCode categorizes authority errors.
type ErrorCode int

const (
	ErrNotFound ErrorCode = iota
	ErrAlreadyExists
	ErrWrongKindForOperation
	ErrExpired
	ErrInvalidCredentials
	ErrInvalidToken
	ErrPersistence
)

// Error is the error type returned by every authority operation.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

type user struct {
	salt       uint64
	name       string
	expiration *time.Time
	password   []byte
}

type group struct {
	name       string
	expiration *time.Time
	members    map[Id]struct{}
}

// token is a single-use, expiring authentication token issued by
// IssueToken and redeemed by RedeemToken.
type token struct {
	id      Id
	expires time.Time
}

// Authority owns every user and group record. Its methods are plain function
// calls; callers holding a Node actor's single-owner invariant serialize
// access, so Authority itself does no internal locking.
type Authority struct {
	users  map[uint64]*user
	groups map[uint64]*group
	tokens map[string]*token

	nextUserID  uint64
	nextGroupID uint64
}

// New returns an empty Authority with no users, groups, or tokens.
func New() *Authority {
	return &Authority{
		users:       make(map[uint64]*user),
		groups:      make(map[uint64]*group),
		tokens:      make(map[string]*token),
		nextUserID:  1,
		nextGroupID: 1,
	}
}

// ConfigureAdminGroup installs group as the administrator group under the
// given name, replacing any prior group occupying that id. Used once, at
// first boot, to seed the fixed admin group id the rest of the system trusts.
func (a *Authority) ConfigureAdminGroup(id Id, name string) error {
	if !id.IsGroup() {
		return newError(ErrWrongKindForOperation, "admin group id must be a group id")
	}
	a.groups[id.Value] = &group{name: name, members: make(map[Id]struct{})}
	return nil
}

// AddGroup creates a new, empty group with a unique name.
func (a *Authority) AddGroup(name string, expiration *time.Time) (Id, error) {
	for _, g := range a.groups {
		if g.name == name {
			return Id{}, newError(ErrAlreadyExists, "group %q already exists", name)
		}
	}

	id := a.nextGroupID
	a.nextGroupID++
	a.groups[id] = &group{name: name, expiration: expiration, members: make(map[Id]struct{})}
	return GroupID(id), nil
}

// AddUser creates a new user with a unique name and a freshly salted,
// hashed password.
func (a *Authority) AddUser(name, password string, expiration *time.Time) (Id, error) {
	for _, u := range a.users {
		if u.name == name {
			return Id{}, newError(ErrAlreadyExists, "user %q already exists", name)
		}
	}

	id := a.nextUserID
	a.nextUserID++

	salt := randomSalt()
	a.users[id] = &user{
		salt:       salt,
		name:       name,
		expiration: expiration,
		password:   hashPassword(password, salt),
	}
	return UserID(id), nil
}

// ModifyGroupExpiration sets or clears a group's expiration time.
func (a *Authority) ModifyGroupExpiration(groupID Id, expiration *time.Time) error {
	if !groupID.IsGroup() {
		return newError(ErrWrongKindForOperation, "expected a group id")
	}
	g, ok := a.groups[groupID.Value]
	if !ok {
		return newError(ErrNotFound, "group %s not found", groupID)
	}
	g.expiration = expiration
	return nil
}

// ModifyGroupAddUser adds memberID to groupID. Only user identities may be
// added: groups may not contain groups.
func (a *Authority) ModifyGroupAddUser(groupID, memberID Id) error {
	if !groupID.IsGroup() {
		return newError(ErrWrongKindForOperation, "expected a group id")
	}
	if !memberID.IsUser() {
		return newError(ErrWrongKindForOperation, "groups may not contain other groups")
	}
	g, ok := a.groups[groupID.Value]
	if !ok {
		return newError(ErrNotFound, "group %s not found", groupID)
	}
	if _, exists := g.members[memberID]; exists {
		return newError(ErrAlreadyExists, "%s is already a member of %s", memberID, groupID)
	}
	g.members[memberID] = struct{}{}
	return nil
}

// ModifyGroupRemoveUser removes memberID from groupID.
func (a *Authority) ModifyGroupRemoveUser(groupID, memberID Id) error {
	if !groupID.IsGroup() {
		return newError(ErrWrongKindForOperation, "expected a group id")
	}
	if !memberID.IsUser() {
		return newError(ErrWrongKindForOperation, "groups may not contain other groups")
	}
	g, ok := a.groups[groupID.Value]
	if !ok {
		return newError(ErrNotFound, "group %s not found", groupID)
	}
	if _, exists := g.members[memberID]; !exists {
		return newError(ErrNotFound, "%s is not a member of %s", memberID, groupID)
	}
	delete(g.members, memberID)
	return nil
}

// ModifyUserExpiration sets or clears a user's expiration time.
func (a *Authority) ModifyUserExpiration(id Id, expiration *time.Time) error {
	if !id.IsUser() {
		return newError(ErrWrongKindForOperation, "expected a user id")
	}
	u, ok := a.users[id.Value]
	if !ok {
		return newError(ErrNotFound, "user %s not found", id)
	}
	u.expiration = expiration
	return nil
}

// ModifyUserPassword re-salts and re-hashes a user's password.
func (a *Authority) ModifyUserPassword(id Id, password string) error {
	if !id.IsUser() {
		return newError(ErrWrongKindForOperation, "expected a user id")
	}
	u, ok := a.users[id.Value]
	if !ok {
		return newError(ErrNotFound, "user %s not found", id)
	}
	salt := randomSalt()
	u.password = hashPassword(password, salt)
	u.salt = salt
	return nil
}

// ResolveName returns the display name for id.
func (a *Authority) ResolveName(id Id) (string, error) {
	switch id.Kind {
	case KindUser:
		if u, ok := a.users[id.Value]; ok {
			return u.name, nil
		}
	case KindGroup:
		if g, ok := a.groups[id.Value]; ok {
			return g.name, nil
		}
	}
	return "", newError(ErrNotFound, "%s not found", id)
}

// ResolveUserID finds a user's id by name.
func (a *Authority) ResolveUserID(name string) (Id, error) {
	for id, u := range a.users {
		if u.name == name {
			return UserID(id), nil
		}
	}
	return Id{}, newError(ErrNotFound, "user %q not found", name)
}

// ResolveGroupID finds a group's id by name.
func (a *Authority) ResolveGroupID(name string) (Id, error) {
	for id, g := range a.groups {
		if g.name == name {
			return GroupID(id), nil
		}
	}
	return Id{}, newError(ErrNotFound, "group %q not found", name)
}

// IsAuthorized reports whether tested is authorized to act under authority,
// as of now:
//   - a user is authorized under itself only
//   - a group that has not expired authorizes any of its members (the
//     members' own expirations are not checked here)
//   - a group identity is never authorized to act as a tested group or user
//     through a user authority (only groups grant authority to others)
func (a *Authority) IsAuthorized(authority, tested Id, now time.Time) error {
	if authority.IsUser() && tested.IsGroup() {
		return newError(ErrWrongKindForOperation, "a user cannot authorize a group")
	}

	if authority.IsUser() && tested.IsUser() {
		if authority.Value == tested.Value {
			return nil
		}
		return newError(ErrInvalidCredentials, "%s is not authorized under %s", tested, authority)
	}

	g, ok := a.groups[authority.Value]
	if !ok {
		return newError(ErrNotFound, "group %s not found", authority)
	}
	if g.expiration != nil && g.expiration.Before(now) {
		return newError(ErrExpired, "group %s has expired", authority)
	}
	if _, member := g.members[tested]; member {
		return nil
	}
	return newError(ErrInvalidCredentials, "%s is not authorized under %s", tested, authority)
}

// ValidateUser checks name and password against the stored, salted hash and
// returns the authenticated user's id.
func (a *Authority) ValidateUser(name, password string, now time.Time) (Id, error) {
	for id, u := range a.users {
		if u.name != name {
			continue
		}
		if u.expiration != nil && u.expiration.Before(now) {
			return Id{}, newError(ErrExpired, "user %q has expired", name)
		}
		if !bytesEqual(hashPassword(password, u.salt), u.password) {
			return Id{}, newError(ErrInvalidCredentials, "invalid password for %q", name)
		}
		return UserID(id), nil
	}
	return Id{}, newError(ErrInvalidCredentials, "user %q not found", name)
}

// IssueToken mints a new single-use authentication token for id, valid until
// expires, and returns its opaque value.
func (a *Authority) IssueToken(id Id, expires time.Time) string {
	value := randomTokenValue()
	a.tokens[value] = &token{id: id, expires: expires}
	return value
}

// RedeemToken validates and consumes value, returning the identity it was
// issued for. Tokens are single-use: a second redemption fails.
func (a *Authority) RedeemToken(value string, now time.Time) (Id, error) {
	t, ok := a.tokens[value]
	if !ok {
		return Id{}, newError(ErrInvalidToken, "token not recognized")
	}
	delete(a.tokens, value)

	if t.expires.Before(now) {
		return Id{}, newError(ErrExpired, "token has expired")
	}
	return t.id, nil
}

func hashPassword(password string, salt uint64) []byte {
	h := sha256.New()
	h.Write([]byte(password))
	h.Write([]byte(strconv.FormatUint(salt, 10)))
	return h.Sum(nil)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func randomSalt() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		logger.Error("failed to read random salt, falling back to time-derived salt", "error", err)
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(buf[:])
}

func randomTokenValue() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		logger.Error("failed to read random token bytes, falling back to time-derived value", "error", err)
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return fmt.Sprintf("%x", buf)
}

// --- persistence -----------------------------------------------------------

type serializedUser struct {
	ID         uint64     `json:"id"`
	Salt       uint64     `json:"salt"`
	Name       string     `json:"name"`
	Password   []byte     `json:"password"`
	Expiration *time.Time `json:"expiration,omitempty"`
}

type serializedGroup struct {
	ID         uint64     `json:"id"`
	Name       string     `json:"name"`
	Members    []Id       `json:"members"`
	Expiration *time.Time `json:"expiration,omitempty"`
}

type serializedAuthority struct {
	NextUserID  uint64             `json:"next_user_id"`
	NextGroupID uint64             `json:"next_group_id"`
	Users       []serializedUser   `json:"users"`
	Groups      []serializedGroup  `json:"groups"`
}

const currentVersion uint32 = 1

// Store encrypts and writes the authority's full state to "<basename>.<version>".
func (a *Authority) Store(ctx context.Context, cc cryptoctx.Context, basename string) error {
	state := serializedAuthority{
		NextUserID:  a.nextUserID,
		NextGroupID: a.nextGroupID,
	}
	for id, u := range a.users {
		state.Users = append(state.Users, serializedUser{
			ID: id, Salt: u.salt, Name: u.name, Password: u.password, Expiration: u.expiration,
		})
	}
	for id, g := range a.groups {
		members := make([]Id, 0, len(g.members))
		for m := range g.members {
			members = append(members, m)
		}
		state.Groups = append(state.Groups, serializedGroup{
			ID: id, Name: g.name, Members: members, Expiration: g.expiration,
		})
	}

	if err := serialize.Write(ctx, cc, basename, currentVersion, &state); err != nil {
		return newError(ErrPersistence, "failed to store user authority: %v", err)
	}
	return nil
}

// Load decrypts and rebuilds an Authority from "<basename>.<version>".
func Load(ctx context.Context, cc cryptoctx.Context, basename string) (*Authority, error) {
	var state serializedAuthority
	if _, err := serialize.Read(ctx, cc, basename, currentVersion, &state); err != nil {
		return nil, newError(ErrPersistence, "failed to load user authority: %v", err)
	}

	a := New()
	a.nextUserID = state.NextUserID
	a.nextGroupID = state.NextGroupID

	for _, su := range state.Users {
		a.users[su.ID] = &user{salt: su.Salt, name: su.Name, password: su.Password, expiration: su.Expiration}
	}
	for _, sg := range state.Groups {
		members := make(map[Id]struct{}, len(sg.Members))
		for _, m := range sg.Members {
			members[m] = struct{}{}
		}
		a.groups[sg.ID] = &group{name: sg.Name, expiration: sg.Expiration, members: members}
	}
	return a, nil
}
