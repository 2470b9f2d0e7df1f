package repositories

import "errors"

var (
	// ErrNotFound indicates the record does not exist or has been
	// soft-deleted; callers treat both cases the same.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the write lost to a uniqueness constraint,
	// such as a live account reusing an email address.
	ErrConflict = errors.New("record conflict")
)
