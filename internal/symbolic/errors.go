package symbolic

import "errors"

// Symbolic errors are deterministic: retrying the same request fails the same way.
var (
	ErrParse                = errors.New("parse error")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrAmbiguousVariable    = errors.New("ambiguous variable")
	ErrComputation          = errors.New("computation error")
)
