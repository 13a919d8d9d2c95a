package database

import "errors"

var (
	// ErrCodeExists is returned when an attempt is made to create
	// a new link with a short code that already exists. Short code
	// uniqueness holds across soft-deleted links as well.
	ErrCodeExists = errors.New("short code exists")
	// ErrLinkNotFound is returned when no link matches the lookup,
	// including owner mismatches and soft-deleted links on
	// active-only lookups.
	ErrLinkNotFound = errors.New("link not found")
)
