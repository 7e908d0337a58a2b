package engine

import (
	"fmt"

	"github.com/deskflow/deskflow/pkg/models"
)

// runTransitions lists the legal state changes of a run. Terminal states
// have no outgoing transitions.
var runTransitions = map[models.RunState][]models.RunState{
	models.RunStatePending:   {models.RunStateRunning, models.RunStateFailed},
	models.RunStateRunning:   {models.RunStateSuspended, models.RunStateCompleted, models.RunStateFailed},
	models.RunStateSuspended: {models.RunStateRunning, models.RunStateFailed},
	models.RunStateCompleted: {},
	models.RunStateFailed:    {},
}

func canTransition(from, to models.RunState) bool {
	for _, allowed := range runTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

func checkTransition(from, to models.RunState) error {
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	return nil
}
