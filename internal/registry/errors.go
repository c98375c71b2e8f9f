package registry

import "errors"

// Sentinel errors surfaced to API handlers. These map directly onto the
// behavioral taxonomy of spec.md §7 (kinds 1 and 3): ErrInvalid is an input
// violation, ErrNotFound/ErrConflict/ErrKeyInUse are not-found and conflict kinds.
var (
	ErrNotFound     = errors.New("registry: not found")
	ErrConflict     = errors.New("registry: name or fingerprint already in use")
	ErrInvalid      = errors.New("registry: invalid input")
	ErrKeyInUse     = errors.New("registry: ssh key still referenced by one or more targets")
	ErrUnreachable  = errors.New("registry: host is not reachable")
)
