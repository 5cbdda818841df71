package session

import (
	"errors"
	"fmt"
)

// ErrNotNumeric is wrapped by ParseValue when a payload carries no usable number.
var ErrNotNumeric = errors.New("not a numeric value")

// UnreachableInputError reports an input path that could not be subscribed to
// or never delivered a value.
type UnreachableInputError struct {
	Path string
	Err  error
}

func (e *UnreachableInputError) Error() string {
	return fmt.Sprintf("cannot connect to input stream on '%s': %v", e.Path, e.Err)
}

func (e *UnreachableInputError) Unwrap() error {
	return e.Err
}
