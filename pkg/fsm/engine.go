package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/ai"
	"github.com/dkalashnik/doctor-ai-bot/pkg/logging"
	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
	"github.com/dkalashnik/doctor-ai-bot/pkg/quota"
	"github.com/dkalashnik/doctor-ai-bot/pkg/state"
	"github.com/dkalashnik/doctor-ai-bot/pkg/storage"
	"github.com/dkalashnik/doctor-ai-bot/pkg/window"
)

// DefaultAITimeout bounds a single AI call inside a turn.
const DefaultAITimeout = 5 * time.Minute

// ErrNotRecorded means the AI answered but the consultation could not be
// persisted. The history and the quota are left untouched.
var ErrNotRecorded = errors.New("consultation not recorded")

// ErrWrongState means an operation was invoked outside the state it belongs to.
var ErrWrongState = errors.New("operation not valid in current state")

type AskOutcome int

const (
	AskAllowed AskOutcome = iota
	AskQuotaExceeded
	AskBlocked
)

type SelectOutcome int

const (
	SelectInvalid SelectOutcome = iota
	SelectChosen
	SelectBack
)

type TurnKind int

const (
	TurnAnswered TurnKind = iota
	TurnFallback
	TurnMainMenu
	TurnChangeCategory
	TurnQuotaExceeded
	TurnBlocked
	TurnEmptyQuestion
	TurnSessionLost
)

func (k TurnKind) String() string {
	switch k {
	case TurnAnswered:
		return "answered"
	case TurnFallback:
		return "fallback"
	case TurnMainMenu:
		return "main_menu"
	case TurnChangeCategory:
		return "change_category"
	case TurnQuotaExceeded:
		return "quota_exceeded"
	case TurnBlocked:
		return "blocked"
	case TurnEmptyQuestion:
		return "empty_question"
	case TurnSessionLost:
		return "session_lost"
	default:
		return fmt.Sprintf("turn(%d)", int(k))
	}
}

// Turn is the result of one message in the conversing state. Text and
// ConsultationID are set for TurnAnswered; Text carries the fallback message
// for TurnFallback.
type Turn struct {
	Kind           TurnKind
	Text           string
	ConsultationID uint
	Remaining      int
}

type EngineOption func(*Engine)

func WithAITimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = logging.Or(log).With("component", "engine")
	}
}

// Engine drives the session machine. Every method expects the caller to hold
// the user's lock (state.Store.WithUser).
type Engine struct {
	store   storage.Store
	quota   *quota.Enforcer
	ai      ai.Generator
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger
}

func NewEngine(store storage.Store, enforcer *quota.Enforcer, gen ai.Generator, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		quota:   enforcer,
		ai:      gen,
		timeout: DefaultAITimeout,
		now:     time.Now,
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ask starts a consultation from the idle state: the quota gate runs first,
// then the session moves to category selection.
func (e *Engine) Ask(ctx context.Context, us *state.UserState) (AskOutcome, error) {
	if current := us.SessionFSM.Current(); current != StateIdle {
		return AskAllowed, fmt.Errorf("fsm: ask from %s: %w", current, ErrWrongState)
	}

	d, err := e.quota.CheckAndMaybeReset(ctx, us.UserID, e.now())
	if err != nil {
		return AskQuotaExceeded, fmt.Errorf("fsm: ask: %w", err)
	}
	if d.Blocked {
		return AskBlocked, nil
	}
	if !d.Allowed {
		e.log.InfoContext(ctx, "daily quota exhausted", "user_id", us.UserID, "used", d.Used, "limit", d.Limit)
		return AskQuotaExceeded, nil
	}

	if err := us.SessionFSM.Event(ctx, EventAsk, us); err != nil {
		return AskAllowed, fmt.Errorf("fsm: ask: %w", err)
	}
	return AskAllowed, nil
}

// SelectCategory handles a message in the category_selecting state. The back
// button returns to idle; a category title or code opens the conversation;
// anything else leaves the state unchanged.
func (e *Engine) SelectCategory(ctx context.Context, us *state.UserState, text string) (SelectOutcome, error) {
	text = strings.TrimSpace(text)
	if text == ButtonBack {
		if err := us.SessionFSM.Event(ctx, EventBack, us); err != nil {
			return SelectInvalid, fmt.Errorf("fsm: back: %w", err)
		}
		return SelectBack, nil
	}

	category, ok := models.CategoryFromButton(text)
	if !ok {
		category, ok = models.ParseCategory(text)
	}
	if !ok {
		return SelectInvalid, nil
	}

	if err := us.SessionFSM.Event(ctx, EventSelectCategory, us, category); err != nil {
		return SelectInvalid, fmt.Errorf("fsm: select category: %w", err)
	}
	e.log.DebugContext(ctx, "category selected", "user_id", us.UserID, "category", string(category))
	return SelectChosen, nil
}

// Converse handles one message in the conversing state: read quota, call the
// AI, persist the consultation with the counter update, and only then extend
// the context window.
func (e *Engine) Converse(ctx context.Context, us *state.UserState, text string) (Turn, error) {
	if us.SessionFSM.Current() != StateConversing || !us.Category.Valid() {
		e.log.WarnContext(ctx, "conversation without a valid session", "user_id", us.UserID,
			"state", us.SessionFSM.Current(), "category", string(us.Category))
		e.Reset(ctx, us)
		return Turn{Kind: TurnSessionLost}, nil
	}

	question := strings.TrimSpace(text)
	switch question {
	case ButtonMainMenu:
		if err := us.SessionFSM.Event(ctx, EventMainMenu, us); err != nil {
			return Turn{}, fmt.Errorf("fsm: main menu: %w", err)
		}
		return Turn{Kind: TurnMainMenu}, nil
	case ButtonChangeCategory:
		if err := us.SessionFSM.Event(ctx, EventChangeCategory, us); err != nil {
			return Turn{}, fmt.Errorf("fsm: change category: %w", err)
		}
		return Turn{Kind: TurnChangeCategory}, nil
	case "":
		return Turn{Kind: TurnEmptyQuestion}, nil
	}

	now := e.now()
	d, err := e.quota.CheckAndMaybeReset(ctx, us.UserID, now)
	if err != nil {
		e.log.ErrorContext(ctx, "quota check failed", "user_id", us.UserID, "error", err)
		return Turn{Kind: TurnFallback, Text: ai.FallbackMessage}, nil
	}
	if d.Blocked {
		return Turn{Kind: TurnBlocked}, nil
	}
	if !d.Allowed {
		return Turn{Kind: TurnQuotaExceeded}, nil
	}

	promptContext := window.Build(us.Category.Title(), us.History.Pairs(), question)
	answer, err := e.generate(ctx, us.Category, promptContext)
	if err != nil {
		e.log.ErrorContext(ctx, "ai generation failed", "user_id", us.UserID, "category", string(us.Category), "error", err)
		return Turn{Kind: TurnFallback, Text: ai.FallbackMessage}, nil
	}

	consultation := &models.Consultation{
		UserID:    us.UserID,
		Category:  us.Category,
		Question:  question,
		Answer:    answer,
		CreatedAt: now,
	}
	err = e.store.Transaction(ctx, func(tx storage.Store) error {
		if err := tx.Consultations().CreateConsultation(ctx, consultation); err != nil {
			return err
		}
		return e.quota.WithStore(tx.Profiles()).Commit(ctx, us.UserID, now)
	})
	if err != nil {
		return Turn{}, fmt.Errorf("fsm: %w: %w", ErrNotRecorded, err)
	}

	us.History.Append(window.Pair{Question: question, Answer: answer})
	e.log.InfoContext(ctx, "consultation recorded", "user_id", us.UserID,
		"consultation_id", consultation.ID, "category", string(us.Category))

	return Turn{
		Kind:           TurnAnswered,
		Text:           answer,
		ConsultationID: consultation.ID,
		Remaining:      d.Remaining() - 1,
	}, nil
}

func (e *Engine) generate(ctx context.Context, category models.Category, promptContext string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	answer, err := e.ai.Generate(ctx, category, promptContext)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", errors.New("empty answer")
	}
	return answer, nil
}

// Reset returns the session to idle with an empty conversation.
func (e *Engine) Reset(ctx context.Context, us *state.UserState) {
	if us.SessionFSM.Current() != StateIdle {
		if err := us.SessionFSM.Event(ctx, EventForceReset, us); err != nil && !isNoTransitionError(err) {
			e.log.WarnContext(ctx, "force reset failed, setting state directly", "user_id", us.UserID, "error", err)
			us.SessionFSM.SetState(StateIdle)
		}
	}
	us.ClearConversation()
}
