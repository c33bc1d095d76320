// Package state keeps per-user sessions. Each user has a dedicated mutex so
// that one user's updates are serialized while different users proceed in
// parallel.
package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/logging"
)

type Store struct {
	users      map[int64]*UserState
	fsmCreator FSMCreator
	mu         sync.Mutex
	now        func() time.Time
	log        *slog.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		s.log = logging.Or(log).With("component", "session_store")
	}
}

func NewStore(f FSMCreator, opts ...Option) *Store {
	s := &Store{
		users:      make(map[int64]*UserState),
		fsmCreator: f,
		now:        time.Now,
		log:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreateUserState returns the session for userID, creating it in the
// initial machine state on first use. The returned state is not locked.
func (s *Store) GetOrCreateUserState(userID int64, userName string) *UserState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if us, ok := s.users[userID]; ok {
		return us
	}

	us := &UserState{
		UserID:     userID,
		UserName:   userName,
		SessionFSM: s.fsmCreator.NewSessionFSM(),
		LastSeen:   s.now(),
	}
	s.users[userID] = us
	s.log.Debug("session created", "user_id", userID)
	return us
}

// WithUser runs fn while holding the user's lock. A state evicted between
// lookup and lock is discarded and a fresh one is used instead.
func (s *Store) WithUser(userID int64, userName string, fn func(*UserState) error) error {
	for {
		us := s.GetOrCreateUserState(userID, userName)
		if done, err := s.runLocked(us, userName, fn); done {
			return err
		}
	}
}

func (s *Store) runLocked(us *UserState, userName string, fn func(*UserState) error) (bool, error) {
	us.Mu.Lock()
	defer us.Mu.Unlock()

	if us.evicted {
		return false, nil
	}
	if userName != "" && us.UserName != userName {
		us.UserName = userName
	}
	us.LastSeen = s.now()
	defer func() { us.LastSeen = s.now() }()

	return true, fn(us)
}

// EvictIdle removes sessions unused for longer than maxIdle. Sessions whose
// lock is currently held are skipped. It returns the number evicted.
func (s *Store) EvictIdle(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, us := range s.users {
		if !us.Mu.TryLock() {
			continue
		}
		if now.Sub(us.LastSeen) > maxIdle {
			us.evicted = true
			delete(s.users, id)
			evicted++
		}
		us.Mu.Unlock()
	}
	if evicted > 0 {
		s.log.Info("idle sessions evicted", "count", evicted, "remaining", len(s.users))
	}
	return evicted
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
