package session

import "errors"

// Validation and state errors surfaced to the presentation layer. Store
// write failures are wrapped and returned alongside these; read failures
// never reach the caller (they degrade at the source).
var (
	// ErrNotAuthenticated is returned when a send is attempted without a
	// resolved local identity.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrEmptyMessage is returned when the trimmed send text is empty.
	ErrEmptyMessage = errors.New("session: message is empty")

	// ErrSendInFlight is returned when a send is attempted while a prior
	// send has not completed. Guards against rapid double-submission.
	ErrSendInFlight = errors.New("session: send already in flight")
)
