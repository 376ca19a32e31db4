package gallery

import (
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned for empty vectors or vectors of the wrong dimension.
var ErrInvalidSignature = errors.New("invalid signature")

// DuplicateIdentityError reports an enroll for an id that already exists in
// the durable store, whatever its status.
type DuplicateIdentityError struct {
	IdentityID string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("identity %q already exists", e.IdentityID)
}

// UnknownIdentityError reports an operation on an id that was never enrolled.
type UnknownIdentityError struct {
	IdentityID string
}

func (e *UnknownIdentityError) Error() string {
	return fmt.Sprintf("identity %q not found", e.IdentityID)
}
