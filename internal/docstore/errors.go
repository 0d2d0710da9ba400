package docstore

import "errors"

// Errors returned by store operations. Check them with errors.Is:
//
//	if errors.Is(err, docstore.ErrIndexRequired) {
//	    // fall back to an unordered query
//	}
var (
	// ErrNotFound is returned when a document or account does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrIndexRequired is returned when an ordered query combines a filter
	// with an order field that has no registered index.
	ErrIndexRequired = errors.New("failed precondition: the query requires an index")

	// ErrPermissionDenied is returned when a query on a ruled collection
	// is not constrained to the calling identity.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidQuery is returned for malformed queries (unknown operator,
	// unsafe field name, missing collection).
	ErrInvalidQuery = errors.New("invalid query")

	// ErrEmailTaken is returned when an account already uses the email.
	ErrEmailTaken = errors.New("email already in use")

	// ErrInvalidCredentials is returned when email or password do not match.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("password too short")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)
