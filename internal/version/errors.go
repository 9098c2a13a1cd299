package version

import (
	"errors"
	"fmt"
)

var errMissingVersion = errors.New("version field missing")

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected version status: %d", e.status)
}
