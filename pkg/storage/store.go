// Package storage persists user profiles and consultations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
)

var (
	ErrNotFound        = errors.New("storage: record not found")
	ErrAlreadyResolved = errors.New("storage: consultation already resolved")
)

// CategoryCount is one row of the per-category aggregate. FirstID is the
// smallest consultation id in the group and orders ties by first appearance.
type CategoryCount struct {
	Category models.Category
	Count    int64
	FirstID  uint
}

type ScoreCount struct {
	Score int
	Count int64
}

type ProfileStore interface {
	// EnsureProfile creates the profile on first contact and returns it.
	// Concurrent calls for the same user produce exactly one row.
	EnsureProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
	// TouchProfile upserts identity fields and last_active.
	TouchProfile(ctx context.Context, id models.Identity, now time.Time) (*models.UserProfile, error)
	GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
	SetPhoneNumber(ctx context.Context, userID int64, phone string) error
	// ResetDailyCount zeroes the daily counter only when the last consultation
	// happened before dayStart. It reports whether a row changed.
	ResetDailyCount(ctx context.Context, userID int64, dayStart time.Time) (bool, error)
	IncrementConsultations(ctx context.Context, userID int64, now time.Time) error
	FoldFeedback(ctx context.Context, userID int64, score int) error
}

type ConsultationStore interface {
	CreateConsultation(ctx context.Context, c *models.Consultation) error
	GetConsultation(ctx context.Context, id uint) (*models.Consultation, error)
	// ResolveConsultation sets the feedback fields at most once.
	ResolveConsultation(ctx context.Context, userID int64, id uint, score int, now time.Time) error
	CategoryCounts(ctx context.Context, userID int64) ([]CategoryCount, error)
	CreatedSince(ctx context.Context, userID int64, since time.Time) ([]time.Time, error)
	// FeedbackCounts returns non-empty score buckets in ascending score order.
	FeedbackCounts(ctx context.Context, userID int64) ([]ScoreCount, error)
	// RecentConsultations returns up to limit records, newest first.
	RecentConsultations(ctx context.Context, userID int64, limit int) ([]models.Consultation, error)
}

// Store groups both stores behind one connection so that a consultation and
// its quota counters can be committed together.
type Store interface {
	Profiles() ProfileStore
	Consultations() ConsultationStore
	Transaction(ctx context.Context, fn func(Store) error) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
