package exam

import (
	"errors"
	"fmt"
)

// Error taxonomy. Handlers map these to HTTP statuses with errors.Is;
// wrapped variants below carry the specific reason.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrState        = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

var (
	ErrCardUsed       = fmt.Errorf("%w: access card already used", ErrConflict)
	ErrDuplicateEmail = fmt.Errorf("%w: email already registered for this exam", ErrConflict)
	ErrDuplicateCode  = fmt.Errorf("%w: code already in use", ErrConflict)
	ErrNotStarted     = fmt.Errorf("%w: session not started", ErrState)
	ErrSubmitted      = fmt.Errorf("%w: exam already submitted", ErrState)
	ErrNotSubmitted   = fmt.Errorf("%w: exam not yet submitted", ErrState)
)
