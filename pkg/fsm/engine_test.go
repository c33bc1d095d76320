package fsm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/ai"
	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
	"github.com/dkalashnik/doctor-ai-bot/pkg/quota"
	"github.com/dkalashnik/doctor-ai-bot/pkg/state"
	"github.com/dkalashnik/doctor-ai-bot/pkg/storage"
)

type scriptedGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	wait    bool
	calls   int
	prompts []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, category models.Category, promptContext string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.prompts = append(g.prompts, promptContext)
	answer, err, wait := g.answer, g.err, g.wait
	g.mu.Unlock()

	if wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", nil
	}
	return fmt.Sprintf("%s [%s]", answer, category), nil
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *scriptedGenerator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type failingTxStore struct {
	storage.Store
}

func (failingTxStore) Transaction(context.Context, func(storage.Store) error) error {
	return errors.New("disk full")
}

type blockedProfiles struct {
	storage.ProfileStore
}

func (blockedProfiles) EnsureProfile(_ context.Context, userID int64) (*models.UserProfile, error) {
	return &models.UserProfile{UserID: userID, IsBlocked: true}, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) *storage.GormStore {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "fsm.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

type engineFixture struct {
	store *storage.GormStore
	gen   *scriptedGenerator
	clock *testClock
	eng   *Engine
}

func newEngineFixture(t *testing.T, limit int, opts ...EngineOption) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store: newTestStore(t),
		gen:   &scriptedGenerator{answer: "javob"},
		clock: &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	enforcer := quota.NewEnforcer(f.store.Profiles(), quota.WithLimit(limit), quota.WithLocation(time.UTC))
	opts = append([]EngineOption{WithEngineClock(f.clock.Now)}, opts...)
	f.eng = NewEngine(f.store, enforcer, f.gen, opts...)
	return f
}

// startConversation drives a fresh session to conversing in category c.
func startConversation(t *testing.T, eng *Engine, c models.Category) *state.UserState {
	t.Helper()
	ctx := context.Background()
	us := newUserState(t)
	if outcome, err := eng.Ask(ctx, us); err != nil || outcome != AskAllowed {
		t.Fatalf("ask = %v, %v", outcome, err)
	}
	if outcome, err := eng.SelectCategory(ctx, us, c.Title()); err != nil || outcome != SelectChosen {
		t.Fatalf("select = %v, %v", outcome, err)
	}
	return us
}

func TestAskMovesToCategorySelection(t *testing.T) {
	f := newEngineFixture(t, quota.MaxDailyConsultations)
	us := newUserState(t)

	outcome, err := f.eng.Ask(context.Background(), us)
	if err != nil || outcome != AskAllowed {
		t.Fatalf("ask = %v, %v", outcome, err)
	}
	if us.SessionFSM.Current() != StateCategorySelecting {
		t.Fatalf("expected category_selecting, got %s", us.SessionFSM.Current())
	}
}

func TestAskOnlyFromIdle(t *testing.T) {
	f := newEngineFixture(t, quota.MaxDailyConsultations)
	us := startConversation(t, f.eng, models.CategoryGeneral)

	if _, err := f.eng.Ask(context.Background(), us); !errors.Is(err, ErrWrongState) {
		t.Fatalf("ask while conversing: expected ErrWrongState, got %v", err)
	}
	if us.SessionFSM.Current() != StateConversing || us.Category != models.CategoryGeneral {
		t.Fatalf("session changed: %s/%q", us.SessionFSM.Current(), us.Category)
	}

	f.eng.Reset(context.Background(), us)
	if outcome, err := f.eng.Ask(context.Background(), us); err != nil || outcome != AskAllowed {
		t.Fatalf("ask after reset = %v, %v", outcome, err)
	}
	if us.SessionFSM.Current() != StateCategorySelecting || us.Category != "" {
		t.Fatalf("expected a clean category selection, got %s/%q", us.SessionFSM.Current(), us.Category)
	}
}

func TestAskQuotaExceeded(t *testing.T) {
	f := newEngineFixture(t, 1)
	us := startConversation(t, f.eng, models.CategoryGeneral)
	if turn, err := f.eng.Converse(context.Background(), us, "bosh og'rig'i"); err != nil || turn.Kind != TurnAnswered {
		t.Fatalf("converse = %+v, %v", turn, err)
	}
	f.eng.Reset(context.Background(), us)

	outcome, err := f.eng.Ask(context.Background(), us)
	if err != nil || outcome != AskQuotaExceeded {
		t.Fatalf("ask = %v, %v", outcome, err)
	}
	if us.SessionFSM.Current() != StateIdle {
		t.Fatalf("quota refusal must not transition, got %s", us.SessionFSM.Current())
	}
}

func TestAskBlockedUser(t *testing.T) {
	store := newTestStore(t)
	enforcer := quota.NewEnforcer(blockedProfiles{store.Profiles()})
	eng := NewEngine(store, enforcer, &scriptedGenerator{answer: "x"})
	us := newUserState(t)

	outcome, err := eng.Ask(context.Background(), us)
	if err != nil || outcome != AskBlocked {
		t.Fatalf("ask = %v, %v", outcome, err)
	}
	if us.SessionFSM.Current() != StateIdle {
		t.Fatalf("blocked user must stay idle, got %s", us.SessionFSM.Current())
	}
}

func TestSelectCategory(t *testing.T) {
	f := newEngineFixture(t, quota.MaxDailyConsultations)
	ctx := context.Background()
	us := newUserState(t)
	if _, err := f.eng.Ask(ctx, us); err != nil {
		t.Fatalf("ask: %v", err)
	}

	outcome, err := f.eng.SelectCategory(ctx, us, "nimadir")
	if err != nil || outcome != SelectInvalid || us.SessionFSM.Current() != StateCategorySelecting {
		t.Fatalf("invalid text: %v, %v, %s", outcome, err, us.SessionFSM.Current())
	}

	outcome, err = f.eng.SelectCategory(ctx, us, "medicine")
	if err != nil || outcome != SelectChosen || us.Category != models.CategoryMedicine {
		t.Fatalf("code form: %v, %v, %q", outcome, err, us.Category)
	}

	if turn, err := f.eng.Converse(ctx, us, ButtonChangeCategory); err != nil || turn.Kind != TurnChangeCategory {
		t.Fatalf("change category = %+v, %v", turn, err)
	}
	outcome, err = f.eng.SelectCategory(ctx, us, ButtonBack)
	if err != nil || outcome != SelectBack || us.SessionFSM.Current() != StateIdle {
		t.Fatalf("back: %v, %v, %s", outcome, err, us.SessionFSM.Current())
	}
}

func TestConverseRecordsConsultation(t *testing.T) {
	f := newEngineFixture(t, quota.MaxDailyConsultations)
	ctx := context.Background()
	us := startConversation(t, f.eng, models.CategoryMedicine)

	turn, err := f.eng.Converse(ctx, us, "  paratsetamol dozasi?  ")
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if turn.Kind != TurnAnswered || turn.ConsultationID == 0 || turn.Remaining != quota.MaxDailyConsultations-1 {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if turn.Text != "javob [medicine]" {
		t.Fatalf("answer text = %q", turn.Text)
	}

	prompt := f.gen.LastPrompt()
	if !strings.HasPrefix(prompt, "Kategoriya: "+models.CategoryMedicine.Title()) || !strings.HasSuffix(prompt, "Yangi savol: paratsetamol dozasi?") {
		t.Fatalf("unexpected prompt context: %q", prompt)
	}

	c, err := f.store.GetConsultation(ctx, turn.ConsultationID)
	if err != nil {
		t.Fatalf("get consultation: %v", err)
	}
	if c.UserID != us.UserID || c.Category != models.CategoryMedicine || c.Question != "paratsetamol dozasi?" || c.IsResolved {
		t.Fatalf("unexpected consultation: %+v", c)
	}
	p, err := f.store.GetProfile(ctx, us.UserID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.ConsultationCount != 1 || p.DailyConsultationCount != 1 {
		t.Fatalf("counters not committed: %+v", p)
	}
	if us.History.Len() != 1 {
		t.Fatalf("history should hold the turn, got %d", us.History.Len())
	}
}

func TestConverseWindowKeepsLastThreeExchanges(t *testing.T) {
	f := newEngineFixture(t, quota.MaxDailyConsultations)
	ctx := context.Background()
	us := startConversation(t, f.eng, models.CategoryGeneral)

	for i := 1; i <= 5; i++ {
		if turn, err := f.eng.Converse(ctx, us, fmt.Sprintf("savol-%d", i)); err != nil || turn.Kind != TurnAnswered {
			t.Fatalf("turn %d = %+v, %v", i, turn, err)
		}
	}

	prompt := f.gen.LastPrompt()
	for _, gone := range []string{"Savol: savol-1", "Savol: savol-5"} {
		if strings.Contains(prompt, gone) {
			t.Fatalf("prompt should not contain %q as history:\n%s", gone, prompt)
		}
	}
	for _, kept := range []string{"Savol: savol-2", "Savol: savol-3", "Savol: savol-4"} {
		if !strings.Contains(prompt, kept) {
			t.Fatalf("prompt missing %q:\n%s", kept, prompt)
		}
	}
	if us.History.Len() != 3 {
		t.Fatalf("history length = %d, want 3", us.History.Len())
	}
}

func TestConverseFallbackDoesNotConsumeQuota(t *testing.T) {
	f := newEngineFixture(t, quota.MaxDailyConsultations)
	ctx := context.Background()
	us := startConversation(t, f.eng, models.CategoryGeneral)

	for _, tc := range []struct {
		name string
		err  error
	}{
		{"error", errors.New("upstream 503")},
		{"empty", nil},
	} {
		f.gen.mu.Lock()
		f.gen.err, f.gen.answer = tc.err, ""
		f.gen.mu.Unlock()

		turn, err := f.eng.Converse(ctx, us, "savol")
		if err != nil {
			t.Fatalf("%s: converse: %v", tc.name, err)
		}
		if turn.Kind != TurnFallback || turn.Text != ai.FallbackMessage {
			t.Fatalf("%s: expected fallback, got %+v", tc.name, turn)
		}
	}

	p, err := f.store.GetProfile(ctx, us.UserID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.DailyConsultationCount != 0 || p.ConsultationCount != 0 {
		t.Fatalf("fallback must not be counted: %+v", p)
	}
	if us.History.Len() != 0 || us.SessionFSM.Current() != StateConversing {
		t.Fatalf("fallback changed session: %d pairs, %s", us.History.Len(), us.SessionFSM.Current())
	}
}

func TestConverseTimeoutIsFallback(t *testing.T) {
	f := newEngineFixture(t, quota.MaxDailyConsultations, WithAITimeout(20*time.Millisecond))
	f.gen.wait = true
	us := startConversation(t, f.eng, models.CategoryGeneral)

	turn, err := f.eng.Converse(context.Background(), us, "savol")
	if err != nil || turn.Kind != TurnFallback {
		t.Fatalf("converse = %+v, %v", turn, err)
	}
}

func TestConverseNotRecordedLeavesHistory(t *testing.T) {
	f := newEngineFixture(t, quota.MaxDailyConsultations)
	enforcer := quota.NewEnforcer(f.store.Profiles(), quota.WithLocation(time.UTC))
	eng := NewEngine(failingTxStore{f.store}, enforcer, f.gen)
	us := startConversation(t, eng, models.CategoryGeneral)

	_, err := eng.Converse(context.Background(), us, "savol")
	if !errors.Is(err, ErrNotRecorded) {
		t.Fatalf("expected ErrNotRecorded, got %v", err)
	}
	if us.History.Len() != 0 {
		t.Fatalf("history must stay empty, got %d", us.History.Len())
	}
	p, err := f.store.GetProfile(context.Background(), us.UserID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.DailyConsultationCount != 0 {
		t.Fatalf("quota consumed without a record: %+v", p)
	}
}

func TestConverseQuotaExceededSkipsAI(t *testing.T) {
	f := newEngineFixture(t, 2)
	ctx := context.Background()
	us := startConversation(t, f.eng, models.CategoryHospitals)

	for i := 0; i < 2; i++ {
		if turn, err := f.eng.Converse(ctx, us, "savol"); err != nil || turn.Kind != TurnAnswered {
			t.Fatalf("turn %d = %+v, %v", i, turn, err)
		}
	}
	turn, err := f.eng.Converse(ctx, us, "yana savol")
	if err != nil || turn.Kind != TurnQuotaExceeded {
		t.Fatalf("third turn = %+v, %v", turn, err)
	}
	if f.gen.Calls() != 2 {
		t.Fatalf("AI called %d times, want 2", f.gen.Calls())
	}
	if us.SessionFSM.Current() != StateConversing {
		t.Fatalf("quota refusal must keep the session, got %s", us.SessionFSM.Current())
	}
}

func TestConverseQuotaResetsNextDay(t *testing.T) {
	f := newEngineFixture(t, 1)
	ctx := context.Background()
	us := startConversation(t, f.eng, models.CategoryGeneral)

	if turn, _ := f.eng.Converse(ctx, us, "savol"); turn.Kind != TurnAnswered {
		t.Fatalf("first turn: %+v", turn)
	}
	if turn, _ := f.eng.Converse(ctx, us, "savol"); turn.Kind != TurnQuotaExceeded {
		t.Fatalf("second turn: %+v", turn)
	}

	f.clock.Advance(24 * time.Hour)
	turn, err := f.eng.Converse(ctx, us, "savol")
	if err != nil || turn.Kind != TurnAnswered {
		t.Fatalf("next-day turn = %+v, %v", turn, err)
	}
	p, err := f.store.GetProfile(ctx, us.UserID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.DailyConsultationCount != 1 || p.ConsultationCount != 2 {
		t.Fatalf("unexpected counters after reset: %+v", p)
	}
}

func TestConverseControlsAndEmptyInput(t *testing.T) {
	f := newEngineFixture(t, quota.MaxDailyConsultations)
	ctx := context.Background()
	us := startConversation(t, f.eng, models.CategoryGeneral)

	if turn, err := f.eng.Converse(ctx, us, "   "); err != nil || turn.Kind != TurnEmptyQuestion {
		t.Fatalf("empty = %+v, %v", turn, err)
	}
	if turn, err := f.eng.Converse(ctx, us, ButtonMainMenu); err != nil || turn.Kind != TurnMainMenu {
		t.Fatalf("main menu = %+v, %v", turn, err)
	}
	if us.SessionFSM.Current() != StateIdle || us.Category != "" {
		t.Fatalf("main menu should clear the session: %s/%q", us.SessionFSM.Current(), us.Category)
	}
	if f.gen.Calls() != 0 {
		t.Fatalf("control input reached the AI %d times", f.gen.Calls())
	}
}

func TestConverseWithoutSessionIsLost(t *testing.T) {
	f := newEngineFixture(t, quota.MaxDailyConsultations)
	us := newUserState(t)

	turn, err := f.eng.Converse(context.Background(), us, "savol")
	if err != nil || turn.Kind != TurnSessionLost {
		t.Fatalf("converse = %+v, %v", turn, err)
	}
	if us.SessionFSM.Current() != StateIdle {
		t.Fatalf("expected idle, got %s", us.SessionFSM.Current())
	}
}

func TestConcurrentTurnsForOneUserAreSerialized(t *testing.T) {
	f := newEngineFixture(t, 3)
	sessions := state.NewStore(NewFSMCreator())
	ctx := context.Background()

	err := sessions.WithUser(7, "Vali", func(us *state.UserState) error {
		if _, err := f.eng.Ask(ctx, us); err != nil {
			return err
		}
		_, err := f.eng.SelectCategory(ctx, us, string(models.CategoryGeneral))
		return err
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	answered := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = sessions.WithUser(7, "Vali", func(us *state.UserState) error {
				turn, err := f.eng.Converse(ctx, us, fmt.Sprintf("savol %d", i))
				if err != nil {
					return err
				}
				if turn.Kind == TurnAnswered {
					mu.Lock()
					answered++
					mu.Unlock()
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	if answered != 3 {
		t.Fatalf("answered %d turns, want exactly the daily limit 3", answered)
	}
	p, err := f.store.GetProfile(ctx, 7)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.DailyConsultationCount != 3 {
		t.Fatalf("daily count = %d, want 3", p.DailyConsultationCount)
	}
}
