package fsm

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
	"github.com/dkalashnik/doctor-ai-bot/pkg/state"
)

// NewSessionFSM builds the per-user session machine. Event callers pass the
// *state.UserState as the first argument; select_category also passes the
// chosen models.Category as the second.
func NewSessionFSM(initialState string) *fsm.FSM {
	events := fsm.Events{
		{Name: EventAsk, Src: []string{StateIdle}, Dst: StateCategorySelecting},
		{Name: EventSelectCategory, Src: []string{StateCategorySelecting}, Dst: StateConversing},
		{Name: EventBack, Src: []string{StateCategorySelecting}, Dst: StateIdle},
		{Name: EventMainMenu, Src: []string{StateConversing}, Dst: StateIdle},
		{Name: EventChangeCategory, Src: []string{StateConversing}, Dst: StateCategorySelecting},
		{Name: EventForceReset, Src: []string{StateCategorySelecting, StateConversing}, Dst: StateIdle},
	}

	callbacks := fsm.Callbacks{
		"enter_" + StateConversing: enterConversing,
		"enter_" + StateIdle:       enterIdle,
	}

	return fsm.NewFSM(initialState, events, callbacks)
}

func enterConversing(_ context.Context, e *fsm.Event) {
	us := userStateArg(e)
	if us == nil {
		return
	}
	us.History.Reset()
	if len(e.Args) > 1 {
		if c, ok := e.Args[1].(models.Category); ok {
			us.Category = c
		}
	}
}

func enterIdle(_ context.Context, e *fsm.Event) {
	if us := userStateArg(e); us != nil {
		us.ClearConversation()
	}
}

func userStateArg(e *fsm.Event) *state.UserState {
	if len(e.Args) == 0 {
		return nil
	}
	us, _ := e.Args[0].(*state.UserState)
	return us
}

type fsmCreatorImpl struct{}

func (fsmCreatorImpl) NewSessionFSM() *fsm.FSM {
	return NewSessionFSM(StateIdle)
}

func NewFSMCreator() state.FSMCreator {
	return fsmCreatorImpl{}
}
