// Package stats derives per-user aggregates from stored consultations.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
	"github.com/dkalashnik/doctor-ai-bot/pkg/storage"
)

const (
	WeekDays           = 7
	DefaultRecent      = 5
	ExportConsultLimit = 1000
)

type CategoryStat struct {
	Category models.Category `json:"category"`
	Count    int64           `json:"count"`
}

// Day is one calendar day of the weekly activity series.
type Day struct {
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
}

type ScoreBucket struct {
	Score int   `json:"score"`
	Count int64 `json:"count"`
}

// Distribution holds the non-empty feedback buckets in ascending score order.
type Distribution struct {
	Buckets []ScoreBucket `json:"buckets"`
	Total   int64         `json:"total"`
}

// Percent is the share of score among all rated consultations, 0 when
// nothing has been rated.
func (d Distribution) Percent(score int) float64 {
	if d.Total == 0 {
		return 0
	}
	for _, b := range d.Buckets {
		if b.Score == score {
			return float64(b.Count) / float64(d.Total) * 100
		}
	}
	return 0
}

type Summary struct {
	Categories []CategoryStat        `json:"categories"`
	Weekly     []Day                 `json:"weekly"`
	Feedback   Distribution          `json:"feedback"`
	Recent     []models.Consultation `json:"recent"`
}

// Report is the summary plus the consultation list used by exports.
type Report struct {
	Summary
	Consultations []models.Consultation `json:"consultations"`
}

type Aggregator struct {
	consultations storage.ConsultationStore
	loc           *time.Location
	now           func() time.Time
}

func NewAggregator(consultations storage.ConsultationStore, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{consultations: consultations, loc: loc, now: time.Now}
}

// CategoryBreakdown orders categories by count descending; ties keep the
// order in which the categories first appeared.
func (a *Aggregator) CategoryBreakdown(ctx context.Context, userID int64) ([]CategoryStat, error) {
	rows, err := a.consultations.CategoryCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("stats: category breakdown: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].FirstID < rows[j].FirstID
	})

	out := make([]CategoryStat, 0, len(rows))
	for _, r := range rows {
		out = append(out, CategoryStat{Category: r.Category, Count: r.Count})
	}
	return out, nil
}

// WeeklyActivity returns exactly seven days ending today, oldest first, with
// zero counts for days without consultations.
func (a *Aggregator) WeeklyActivity(ctx context.Context, userID int64) ([]Day, error) {
	today := startOfDay(a.now(), a.loc)
	first := today.AddDate(0, 0, -(WeekDays - 1))

	times, err := a.consultations.CreatedSince(ctx, userID, first)
	if err != nil {
		return nil, fmt.Errorf("stats: weekly activity: %w", err)
	}

	days := make([]Day, WeekDays)
	index := make(map[string]int, WeekDays)
	for i := range days {
		d := first.AddDate(0, 0, i)
		days[i] = Day{Date: d}
		index[d.Format(time.DateOnly)] = i
	}
	for _, t := range times {
		if i, ok := index[t.In(a.loc).Format(time.DateOnly)]; ok {
			days[i].Count++
		}
	}
	return days, nil
}

func (a *Aggregator) FeedbackDistribution(ctx context.Context, userID int64) (Distribution, error) {
	rows, err := a.consultations.FeedbackCounts(ctx, userID)
	if err != nil {
		return Distribution{}, fmt.Errorf("stats: feedback distribution: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Score < rows[j].Score })

	var d Distribution
	for _, r := range rows {
		if r.Count == 0 {
			continue
		}
		d.Buckets = append(d.Buckets, ScoreBucket{Score: r.Score, Count: r.Count})
		d.Total += r.Count
	}
	return d, nil
}

// RecentConsultations returns up to k consultations, newest first. k <= 0
// means DefaultRecent.
func (a *Aggregator) RecentConsultations(ctx context.Context, userID int64, k int) ([]models.Consultation, error) {
	if k <= 0 {
		k = DefaultRecent
	}
	out, err := a.consultations.RecentConsultations(ctx, userID, k)
	if err != nil {
		return nil, fmt.Errorf("stats: recent consultations: %w", err)
	}
	return out, nil
}

// Summary runs the four aggregates concurrently.
func (a *Aggregator) Summary(ctx context.Context, userID int64) (Summary, error) {
	var s Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		s.Categories, err = a.CategoryBreakdown(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		s.Weekly, err = a.WeeklyActivity(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		s.Feedback, err = a.FeedbackDistribution(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		s.Recent, err = a.RecentConsultations(gctx, userID, DefaultRecent)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return s, nil
}

func (a *Aggregator) Report(ctx context.Context, userID int64) (Report, error) {
	summary, err := a.Summary(ctx, userID)
	if err != nil {
		return Report{}, err
	}
	all, err := a.RecentConsultations(ctx, userID, ExportConsultLimit)
	if err != nil {
		return Report{}, err
	}
	return Report{Summary: summary, Consultations: all}, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
