package repository

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a write would violate a uniqueness constraint.
var ErrConflict = errors.New("record already exists")
