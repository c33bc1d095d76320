// Package feedback records a user's 1-5 rating of a consultation.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/logging"
	"github.com/dkalashnik/doctor-ai-bot/pkg/storage"
)

const (
	MinScore = 1
	MaxScore = 5
)

var ErrInvalidScore = errors.New("feedback: score must be between 1 and 5")

type Recorder struct {
	store storage.Store
	now   func() time.Time
	log   *slog.Logger
}

func NewRecorder(store storage.Store, log *slog.Logger) *Recorder {
	return &Recorder{
		store: store,
		now:   time.Now,
		log:   logging.Or(log).With("component", "feedback"),
	}
}

// Submit resolves the consultation and folds the score into the profile
// average in one transaction. A second submission for the same consultation
// returns storage.ErrAlreadyResolved and changes nothing.
func (r *Recorder) Submit(ctx context.Context, userID int64, consultationID uint, score int) error {
	if score < MinScore || score > MaxScore {
		return ErrInvalidScore
	}

	err := r.store.Transaction(ctx, func(tx storage.Store) error {
		if err := tx.Consultations().ResolveConsultation(ctx, userID, consultationID, score, r.now()); err != nil {
			return err
		}
		return tx.Profiles().FoldFeedback(ctx, userID, score)
	})
	switch {
	case err == nil:
		r.log.InfoContext(ctx, "feedback recorded", "user_id", userID, "consultation_id", consultationID, "score", score)
		return nil
	case errors.Is(err, storage.ErrAlreadyResolved), errors.Is(err, storage.ErrNotFound):
		r.log.InfoContext(ctx, "feedback ignored", "user_id", userID, "consultation_id", consultationID, "reason", err)
		return err
	default:
		return fmt.Errorf("feedback: submit: %w", err)
	}
}
