package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a command targets an aggregate that
	// does not exist. Use NotFoundError to name the entity.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when a command targets an aggregate that
	// no longer accepts mutation (e.g. it has been deleted).
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized is returned when the caller lacks permission.
	// Reserved: no current command produces it.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUniqueness is returned when a command would violate a
	// uniqueness requirement. Use UniquenessError to name the field.
	ErrUniqueness = errors.New("uniqueness conflict")

	// ErrConcurrencyConflict is returned by the event store when the
	// aggregate's persisted sequence has advanced past the version the
	// command was issued against. Recoverable by reload and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate version mismatch")

	// ErrViewConflict is returned by the view store when the view
	// context token is stale. The projector logs and drops it; the next
	// delivery re-derives the row from a fresh load.
	ErrViewConflict = errors.New("view context conflict")
)

// NotFoundError names the entity type that was not found.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Entity)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// UniquenessError names the field that failed a uniqueness check.
type UniquenessError struct {
	Field string
}

func (e *UniquenessError) Error() string {
	return fmt.Sprintf("the field %q must be unique", e.Field)
}

func (e *UniquenessError) Is(target error) bool {
	return target == ErrUniqueness
}

// IsDomainError reports whether err belongs to the command-level error
// taxonomy, i.e. it is local to one command and must not be retried.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrUniqueness)
}
