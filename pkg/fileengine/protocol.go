package fileengine

import "github.com/marmos91/dittofs/pkg/authority"

type requestKind int

const (
	reqClose requestKind = iota
	reqRequestMetadata
	reqRequestAccess
	reqWrite
	reqInsert
	reqDelete
	reqRead
	reqLock
	reqUnlock

	// respNotification tags a response carrying an out-of-band Notification
	// rather than the result of a specific request.
	respNotification
)

// request is sent from an Access to the owning Engine goroutine.
type request struct {
	kind     requestKind
	user     *authority.Id // for reqRequestAccess
	revision Revision
	offset   uint64
	size     uint64
	data     []byte
	lock     Lock
}

// envelope tags a request with the connection it came from, so the engine's
// single shared inbox can still route responses to the right Access.
type envelope struct {
	connection connID
	req        request
}

// OpenFileProperties describes the live state of an open file: who else is
// connected and whether it is locked.
type OpenFileProperties struct {
	ActiveUsers []authority.Id
	Lock        *Lock
}

// response is sent from the Engine back to one specific Access.
type response struct {
	kind         requestKind
	access       *Access
	metadata     *Metadata
	openProps    OpenFileProperties
	revision     Revision
	data         []byte
	notification *Notification
	err          error
}
