package state

import "github.com/looplab/fsm"

// FSMCreator builds the session machine attached to each new user state.
type FSMCreator interface {
	NewSessionFSM() *fsm.FSM
}
