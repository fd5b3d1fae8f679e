package dispatch

import (
	"slices"

	"github.com/linesmerrill/police-cad-dispatch/models"
)

// transitions lists the allowed status edges. Cancelling is not possible once
// an officer is on scene: the call has to be resolved.
var transitions = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusDispatched, models.StatusCancelled},
	models.StatusDispatched: {models.StatusEnRoute, models.StatusCancelled},
	models.StatusEnRoute:    {models.StatusOnScene, models.StatusCancelled},
	models.StatusOnScene:    {models.StatusResolved},
}

// CanTransition reports whether a call may move from one status to another
func CanTransition(from, to models.Status) bool {
	return slices.Contains(transitions[from], to)
}
