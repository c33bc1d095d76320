package state

import (
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
	"github.com/dkalashnik/doctor-ai-bot/pkg/window"
)

// UserState is the in-memory session of one user. Every field except UserID
// is guarded by Mu.
type UserState struct {
	UserID     int64
	UserName   string
	SessionFSM *fsm.FSM
	Category   models.Category
	History    window.History
	LastSeen   time.Time
	Mu         sync.Mutex

	evicted bool
}

// ClearConversation drops the category and the context window.
func (us *UserState) ClearConversation() {
	us.Category = ""
	us.History.Reset()
}
