package schema

import "errors"

var (
	// ErrMalformedItem is returned when a remote listing item lacks a field
	// the mapping depends on (title, parent reference, timestamp). It signals
	// an unexpected change of the remote schema rather than bad user data.
	ErrMalformedItem = errors.New("malformed remote item")

	// ErrUnknownKind is returned when a stored node carries a kind this
	// version does not know.
	ErrUnknownKind = errors.New("unknown node kind")
)

// IsMalformed returns true if err was caused by a malformed remote item.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedItem)
}
