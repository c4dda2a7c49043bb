package messenger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// The external network's user server suffix appended to bare phone numbers.
const defaultUserServer = "s.whatsapp.net"

// CloseReason classifies a connection-closed event.
type CloseReason int

const (
	// CloseNetwork is a transient loss of connectivity; the stored credential
	// remains valid and a later connect may resume the session.
	CloseNetwork CloseReason = iota
	// CloseRestartRequired is a transient close that the protocol expects to
	// be followed by one immediate reconnect (e.g. right after pairing).
	CloseRestartRequired
	// CloseLoggedOut means the credential has been invalidated remotely.
	// The session cannot be resumed; the account must pair again.
	CloseLoggedOut
)

// Terminal reports whether the reason invalidates the stored credential.
func (r CloseReason) Terminal() bool {
	return r == CloseLoggedOut
}

func (r CloseReason) String() string {
	switch r {
	case CloseNetwork:
		return "network"
	case CloseRestartRequired:
		return "restart-required"
	case CloseLoggedOut:
		return "logged-out"
	}
	return fmt.Sprintf("close(%d)", int(r))
}

// Event is the closed set of lifecycle notifications a protocol client may
// emit. The lifecycle controller consumes them through one dispatch function
// per account, so every transition is enumerable.
type Event interface{ isEvent() }

// EventPairingCode carries a raw pairing payload to be rendered for scanning.
type EventPairingCode struct {
	Code string
}

// EventCredentials carries a freshly issued session credential. It must be
// persisted before the connection is considered open.
type EventCredentials struct {
	Creds *Credentials
}

// EventOpened signals the session is authenticated and fully connected.
type EventOpened struct{}

// EventClosed signals the connection dropped, with the reason classified.
type EventClosed struct {
	Reason CloseReason
}

func (EventPairingCode) isEvent() {}
func (EventCredentials) isEvent() {}
func (EventOpened) isEvent()      {}
func (EventClosed) isEvent()      {}

// EventSink receives lifecycle events for an account. Implementations of
// ProtocolClient must deliver events from their own goroutines, never
// synchronously from inside Connect, or the per-account serialization in the
// service would deadlock.
type EventSink func(accountID int64, evt Event)

// SendReceipt is the protocol-level acknowledgement of a sent message.
type SendReceipt struct {
	ID        string
	Timestamp time.Time
}

// ProtocolClient is one live connection to the external chat network. The
// registry owns at most one per account.
type ProtocolClient interface {
	Connect() error
	Disconnect()
	// Logout invalidates the session server-side where supported.
	Logout(ctx context.Context) error
	// Send delivers a text message to a normalized destination address.
	// Failures caused by a dead connection must wrap ErrConnectionClosed.
	Send(ctx context.Context, dest string, text string) (SendReceipt, error)
	Connected() bool
}

// ClientFactory builds a protocol client from revived credentials (nil means
// fresh pairing) with its lifecycle events wired to the sink.
type ClientFactory interface {
	New(ctx context.Context, accountID int64, creds *Credentials, sink EventSink) (ProtocolClient, error)
}

// NormalizeAddress turns an operator-supplied destination into a full network
// address: formatting characters are stripped and the user server suffix is
// appended unless the input already carries one.
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty destination address")
	}
	if strings.ContainsRune(raw, '@') {
		return raw, nil
	}
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", fmt.Errorf("destination %q has no digits", raw)
	}
	return digits.String() + "@" + defaultUserServer, nil
}
