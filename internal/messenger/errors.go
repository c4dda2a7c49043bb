package messenger

import (
	"errors"
	"fmt"
)

// Typed errors returned by the operation surface. Protocol-client errors are
// translated into these at the controller and dispatcher boundaries; callers
// never see raw library errors.
var (
	// ErrAccountNotFound indicates the account id has no persisted record.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNotReady indicates the account was still connecting when the send
	// wait window expired. The caller may retry after a short delay.
	ErrNotReady = errors.New("account is still connecting")

	// ErrStaleState indicates a connected status without a live handle. The
	// dispatcher repairs the record to disconnected before returning this.
	ErrStaleState = errors.New("stale session state repaired, reconnect required")

	// ErrSendFailed wraps hard failures from the protocol client send call.
	ErrSendFailed = errors.New("send failed")

	// ErrConnectionClosed classifies send errors caused by a dead underlying
	// connection. Protocol client adapters wrap such failures with this so the
	// dispatcher knows to evict the handle.
	ErrConnectionClosed = errors.New("connection closed")
)

// NotConnectedError reports a send attempted against an account whose session
// is in a non-connected state.
type NotConnectedError struct {
	Status string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("account not connected (status %s)", e.Status)
}
