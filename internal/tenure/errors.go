package tenure

import "errors"

var (
	// ErrNotFound: the referenced group/tenure/watch is absent or already
	// consumed (a promoted future tenure no longer exists).
	ErrNotFound = errors.New("not found")

	// ErrConflict: a uniqueness invariant would be violated (duplicate
	// future tenure on a group, duplicate watch per user and tenure) or a
	// protected reference blocks the operation.
	ErrConflict = errors.New("conflict")

	// ErrValidation: malformed input (non-positive amount, missing name).
	ErrValidation = errors.New("validation failed")

	// ErrForbidden: the acting user lacks the required relationship to the
	// resource (not admin, not owner, not member).
	ErrForbidden = errors.New("forbidden")
)
