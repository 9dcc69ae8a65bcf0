// Package services defines the business logic for users, messages, and groups.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// User-related errors.
var (
	// ErrUserNotFound indicates that a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken is returned by Register when the handle is in use.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidCredentials is returned by Login for an unknown username or a
	// wrong password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidInput wraps registration rule violations.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthDisabled is returned by Login when no token signer is configured.
	ErrAuthDisabled = errors.New("authentication is disabled")
)

// Message-related errors.
var (
	// ErrEmptyContent is returned when a message has no content after trimming.
	ErrEmptyContent = errors.New("content is empty")

	// ErrTooLong is returned when message content exceeds the configured limit.
	ErrTooLong = errors.New("content too long")

	// ErrMissingRecipient is returned when a send names neither a receiver nor
	// a group, or names the wrong one for its isGroup flag.
	ErrMissingRecipient = errors.New("receiver or group required")

	// ErrRelayUnavailable is returned when the relay loop has stopped.
	ErrRelayUnavailable = errors.New("relay unavailable")
)

// Group-related errors.
var (
	// ErrGroupNotFound indicates that the requested group does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrTooFewMembers is returned when a group would have fewer than two
	// distinct members including its creator.
	ErrTooFewMembers = errors.New("a group needs at least two members")

	// ErrForbidden is returned when the caller is not a participant of the
	// conversation or group they asked for.
	ErrForbidden = errors.New("not a participant")
)
