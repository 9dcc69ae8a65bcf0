package relay

import "errors"

// Errors returned by the engine. Validation-class errors are reported back to
// the originating socket as an "error" event; the rest are only logged.
var (
	// ErrInvalidPayload wraps JSON decoding and field validation failures.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownEvent is returned for event names missing from the dispatch table.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrNotJoined rejects relay events from a connection that has not joined.
	ErrNotJoined = errors.New("connection has not joined")

	// ErrIdentityMismatch rejects payloads that speak for another user.
	ErrIdentityMismatch = errors.New("payload user does not match connection")

	// ErrUnknownConnection rejects events for a connection that is not open.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrMessageNotFound is returned when a receipt names a missing message.
	ErrMessageNotFound = errors.New("message not found")

	// ErrGroupNotFound is returned by Store.GroupMembers for unknown groups.
	ErrGroupNotFound = errors.New("group not found")

	// ErrPersist wraps store write failures; nothing is emitted when it occurs.
	ErrPersist = errors.New("persist failed")

	// ErrStopped is returned once the run loop has exited.
	ErrStopped = errors.New("relay stopped")
)

// errorCode maps a rejection to the code carried by the "error" event.
// It returns "" for errors that are not reported to the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	case errors.Is(err, ErrIdentityMismatch):
		return "forbidden"
	default:
		return ""
	}
}
