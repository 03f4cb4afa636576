package sync

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteListing is returned when a listing failed part-way through
// pagination. Its items are discarded; classification never sees a partial
// listing.
var ErrIncompleteListing = errors.New("incomplete listing")

// StructuralError reports snapshot nodes whose parent is not in the
// snapshot.
type StructuralError struct {
	// Dangling maps node id to the missing parent id.
	Dangling map[string]string
}

func (e *StructuralError) Error() string {
	ids := sortedKeys(e.Dangling)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s -> %s", id, e.Dangling[id]))
	}
	if len(parts) > 5 {
		parts = append(parts[:5], fmt.Sprintf("and %d more", len(ids)-5))
	}
	return "dangling parent references: " + strings.Join(parts, ", ")
}

// IsStructural returns true if err is a StructuralError.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}
