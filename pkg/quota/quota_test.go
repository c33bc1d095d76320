package quota

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
	"github.com/dkalashnik/doctor-ai-bot/pkg/storage"
)

func newStore(t *testing.T) *storage.GormStore {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "quota.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestIsNewDay(t *testing.T) {
	tashkent := time.FixedZone("UZT", 5*60*60)
	cases := []struct {
		name      string
		last, now time.Time
		loc       *time.Location
		want      bool
	}{
		{"zero last", time.Time{}, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.UTC, true},
		{"same day", time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC), time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC), time.UTC, false},
		{"next day", time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC), time.Date(2024, 5, 2, 0, 0, 1, 0, time.UTC), time.UTC, true},
		{"clock went back", time.Date(2024, 5, 2, 1, 0, 0, 0, time.UTC), time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC), time.UTC, false},
		// 20:00 UTC is already the next day in UTC+5.
		{"location boundary", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC), tashkent, true},
	}
	for _, tc := range cases {
		if got := IsNewDay(tc.last, tc.now, tc.loc); got != tc.want {
			t.Fatalf("%s: IsNewDay = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCheckCreatesProfileAndAllows(t *testing.T) {
	s := newStore(t)
	e := NewEnforcer(s)

	d, err := e.CheckAndMaybeReset(context.Background(), 1, time.Now())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed || d.Used != 0 || d.Remaining() != MaxDailyConsultations {
		t.Fatalf("unexpected decision for a new user: %+v", d)
	}
	if _, err := s.GetProfile(context.Background(), 1); err != nil {
		t.Fatalf("profile should exist after first check: %v", err)
	}
}

func TestLimitReachedThenLazyReset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	e := NewEnforcer(s, WithLimit(3))
	day1 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d, err := e.CheckAndMaybeReset(ctx, 2, day1)
		if err != nil || !d.Allowed {
			t.Fatalf("consultation %d should be allowed: %+v %v", i, d, err)
		}
		if err := e.Commit(ctx, 2, day1); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	d, err := e.CheckAndMaybeReset(ctx, 2, day1.Add(time.Hour))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed || d.Remaining() != 0 || d.Used != 3 {
		t.Fatalf("expected denial at the limit: %+v", d)
	}

	day2 := day1.Add(24 * time.Hour)
	d, err = e.CheckAndMaybeReset(ctx, 2, day2)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed || !d.Reset || d.Used != 0 {
		t.Fatalf("expected lazy reset on the next day: %+v", d)
	}

	p, _ := s.GetProfile(ctx, 2)
	if p.ConsultationCount != 3 || p.DailyConsultationCount != 0 {
		t.Fatalf("lifetime count must survive reset: %+v", p)
	}
}

func TestCheckDoesNotIncrement(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	e := NewEnforcer(s)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := e.CheckAndMaybeReset(ctx, 3, now); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	p, _ := s.GetProfile(ctx, 3)
	if p.DailyConsultationCount != 0 || p.ConsultationCount != 0 {
		t.Fatalf("checks must not consume quota: %+v", p)
	}
}

func TestBlockedUserDenied(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	e := NewEnforcer(s)
	if _, err := s.EnsureProfile(ctx, 4); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	blocked := &blockingProfiles{ProfileStore: s}
	d, err := e.WithStore(blocked).CheckAndMaybeReset(ctx, 4, time.Now())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed || !d.Blocked {
		t.Fatalf("blocked user must be denied: %+v", d)
	}
}

func TestCommitUnknownUser(t *testing.T) {
	e := NewEnforcer(newStore(t))
	if err := e.Commit(context.Background(), 999, time.Now()); err == nil {
		t.Fatalf("expected error committing for unknown user")
	}
}

type blockingProfiles struct {
	storage.ProfileStore
}

func (b *blockingProfiles) EnsureProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	p, err := b.ProfileStore.EnsureProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.IsBlocked = true
	return p, nil
}
