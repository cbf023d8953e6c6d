package store

import "errors"

// ErrNotFound is returned when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// ErrCorrupted is returned when a stored artifact no longer matches its recorded digest.
var ErrCorrupted = errors.New("cache entry is corrupted")
