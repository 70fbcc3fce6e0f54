package repository

import "errors"

// ErrNotFound is returned (wrapped) when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned (wrapped) when a write violates a uniqueness or
// referential constraint.
var ErrConflict = errors.New("constraint violation")
