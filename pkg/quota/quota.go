// Package quota enforces the per-user daily consultation limit with a lazy
// reset on the first request of a new calendar day.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
	"github.com/dkalashnik/doctor-ai-bot/pkg/storage"
)

const MaxDailyConsultations = 10

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Used    int
	Limit   int
	// Reset is true when this check zeroed a stale daily counter.
	Reset   bool
	Blocked bool
}

func (d Decision) Remaining() int {
	if d.Used >= d.Limit {
		return 0
	}
	return d.Limit - d.Used
}

type Enforcer struct {
	profiles storage.ProfileStore
	limit    int
	loc      *time.Location
}

type Option func(*Enforcer)

func WithLimit(limit int) Option {
	return func(e *Enforcer) {
		if limit > 0 {
			e.limit = limit
		}
	}
}

// WithLocation sets the timezone used for calendar-day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(e *Enforcer) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func NewEnforcer(profiles storage.ProfileStore, opts ...Option) *Enforcer {
	e := &Enforcer{profiles: profiles, limit: MaxDailyConsultations, loc: time.UTC}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithStore returns a copy bound to another profile store, typically one
// scoped to a transaction.
func (e *Enforcer) WithStore(profiles storage.ProfileStore) *Enforcer {
	cp := *e
	cp.profiles = profiles
	return &cp
}

func (e *Enforcer) Limit() int { return e.limit }

func (e *Enforcer) Location() *time.Location { return e.loc }

// CheckAndMaybeReset creates the profile if needed, resets the daily counter
// when the last consultation fell on an earlier day, and reports whether one
// more consultation is allowed. It never increments.
func (e *Enforcer) CheckAndMaybeReset(ctx context.Context, userID int64, now time.Time) (Decision, error) {
	profile, err := e.profiles.EnsureProfile(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("quota: load profile: %w", err)
	}

	d := Decision{Limit: e.limit, Used: profile.DailyConsultationCount}
	if profile.IsBlocked {
		d.Blocked = true
		return d, nil
	}

	if d.Used != 0 && IsNewDay(lastDate(profile), now, e.loc) {
		changed, err := e.profiles.ResetDailyCount(ctx, userID, StartOfDay(now, e.loc))
		if err != nil {
			return Decision{}, fmt.Errorf("quota: reset daily count: %w", err)
		}
		d.Reset = changed
		d.Used = 0
	}

	d.Allowed = d.Used < d.Limit
	return d, nil
}

// Commit records one consultation against the user's counters.
func (e *Enforcer) Commit(ctx context.Context, userID int64, now time.Time) error {
	if err := e.profiles.IncrementConsultations(ctx, userID, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("quota: commit for unknown user %d: %w", userID, err)
		}
		return fmt.Errorf("quota: commit: %w", err)
	}
	return nil
}

// IsNewDay reports whether now falls on a later calendar day than last in
// loc. A zero last means no consultation has been recorded yet.
func IsNewDay(last, now time.Time, loc *time.Location) bool {
	if last.IsZero() {
		return true
	}
	if loc == nil {
		loc = time.UTC
	}
	return StartOfDay(now, loc).After(StartOfDay(last, loc))
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func lastDate(p *models.UserProfile) time.Time {
	if p.LastConsultationDate == nil {
		return time.Time{}
	}
	return *p.LastConsultationDate
}
