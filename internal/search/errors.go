package search

import "errors"

var (
	// ErrTransient marks a backing-store failure that survived one retry.
	// Callers may retry the whole search or degrade.
	ErrTransient = errors.New("transient search backend error")

	ErrUnknownPool = errors.New("unknown pool")
)
