package engine

import "errors"

var (
	ErrDealNotFound   = errors.New("deal not found")
	ErrDealExists     = errors.New("deal already exists for this channel")
	ErrNotParticipant = errors.New("actor is not a party to this deal")
	ErrWrongState     = errors.New("action not available in the current state")
	ErrWrongRole      = errors.New("action not available to this role")
	ErrRoleConflict   = errors.New("role already taken")
)

// InputError marks a recoverable problem with actor-supplied input. The
// prompt loops treat it as "tell the actor and ask again"; everything
// else aborts the read.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return e.Reason }

func inputErr(reason string) *InputError { return &InputError{Reason: reason} }
