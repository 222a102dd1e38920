// Package errors defines the sentinel errors shared across the sync core.
package errors

import "errors"

// Domain errors: refusals the caller must be able to distinguish from
// transient failures.
var (
	// ErrDeleteAllRefused is returned when a full-table wipe is requested
	// on the documents catalog. Deleting the whole catalog is never a
	// legitimate operation, so it fails loudly instead of degrading.
	ErrDeleteAllRefused = errors.New("delete-all refused on documents catalog")

	// ErrFixedDocument is returned when the built-in shopping list is
	// targeted for removal. It is always present and never deletable.
	ErrFixedDocument = errors.New("builtin document cannot be removed")
)

// Auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Remote/transport errors.
var (
	ErrRemoteDisabled = errors.New("remote backend not configured")
	ErrAPIRequest     = errors.New("API request failed")
	ErrAPIResponse    = errors.New("unexpected API response")
)
