package dispatch

import (
	"errors"

	"github.com/linesmerrill/police-cad-dispatch/databases"
	"github.com/linesmerrill/police-cad-dispatch/geo"
)

// Errors returned by the coordinator. ErrNotFound and ErrConflict are the store
// sentinels, so errors.Is matches either name.
var (
	ErrNotFound          = databases.ErrNotFound
	ErrConflict          = databases.ErrConflict
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("unauthorized for agency")
	ErrValidation        = errors.New("invalid call")
)

// Message translates err into text that can be shown to a dispatcher
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "you do not have access to this agency"
	case errors.Is(err, ErrNotFound):
		return "this call no longer exists"
	case errors.Is(err, ErrInvalidTransition):
		return "this status change is not allowed"
	case errors.Is(err, ErrConflict):
		return "this call was changed by someone else, please retry"
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, geo.ErrInvalidBounds):
		return "invalid map bounds"
	default:
		return "something went wrong, please try again"
	}
}
