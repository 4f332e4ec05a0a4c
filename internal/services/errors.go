// Package services defines the business logic for receipts, review tables,
// the pantry and recipe chats. This file centralizes service-level error
// values so callers can check them with errors.Is.
//
// Translation into HTTP status codes is done by the handler layer.
package services

import "errors"

var (
	// ErrChatNotFound indicates that the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrEmptyPrompt is returned when a chat message is blank after trimming.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a chat message exceeds the configured limit.
	ErrTooLong = errors.New("prompt too long")

	// ErrUpstream wraps failures of the extraction or recipe service. The
	// wrapped *upstream.Error carries the message to show the user.
	ErrUpstream = errors.New("upstream service failed")

	// ErrTableNotFound is returned for unknown or expired review tables.
	ErrTableNotFound = errors.New("table not found")

	// ErrNotReceiptTable is returned when accepting a table that is not a
	// receipt review.
	ErrNotReceiptTable = errors.New("only receipt tables can be accepted")
)
