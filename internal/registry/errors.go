package registry

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a backend id is not in the catalog
var ErrNotFound = errors.New("backend not found")

// DuplicateBackendError indicates two catalog entries share an id.
// This is a configuration error and fatal at startup.
type DuplicateBackendError struct {
	ID string
}

func (e *DuplicateBackendError) Error() string {
	return fmt.Sprintf("backend %q is already registered", e.ID)
}

// IsDuplicate checks if the error is a duplicate registration error
func IsDuplicate(err error) bool {
	var de *DuplicateBackendError
	return errors.As(err, &de)
}
