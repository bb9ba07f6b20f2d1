package repo

import "errors"

// ErrNotFound is returned by every store backend when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a unique key such as a binding path token is reused.
var ErrConflict = errors.New("record already exists")
