// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These codes are mapped to HTTP responses via the `fail()` helper and give
// clients a stable, machine-readable error taxonomy next to the human-readable
// message.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes mirror common HTTP status semantics.
//   - Domain-specific codes are reserved for failures that status alone cannot
//     convey (e.g. the extraction or recipe service failing).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "upstream_failed",
//	  "message": "service timed out"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeValidation       = "validation_failed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeUnsupportedMedia = "unsupported_media_type"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeUpstreamFailed   = "upstream_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
