// Package scheduler runs the bot's periodic maintenance jobs on gocron.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/dkalashnik/doctor-ai-bot/pkg/logging"
)

const JobSessionSweep = "session_sweep"

const slowJobThreshold = 5 * time.Second

// SessionEvictor is the part of the session store the sweep needs.
type SessionEvictor interface {
	EvictIdle(maxIdle time.Duration) int
}

type Scheduler struct {
	s   gocron.Scheduler
	log *slog.Logger
}

// New creates a stopped scheduler. Call Start once jobs are added.
func New(loc *time.Location, log *slog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	log = logging.Or(log).With("component", "scheduler")
	s, err := gocron.NewScheduler(
		gocron.WithLocation(loc),
		gocron.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: create: %w", err)
	}
	return &Scheduler{s: s, log: log}, nil
}

// Every schedules job at a fixed interval. Runs of the same job never
// overlap.
func (s *Scheduler) Every(name string, interval time.Duration, job func()) error {
	if name == "" {
		return errors.New("scheduler: empty job name")
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive", name)
	}
	if job == nil {
		return fmt.Errorf("scheduler: job %s: nil function", name)
	}

	wrapped := func() {
		start := time.Now()
		job()
		if d := time.Since(start); d > slowJobThreshold {
			s.log.Warn("slow scheduled job", "job_name", name, "duration_ms", d.Milliseconds())
		}
	}

	_, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(wrapped),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	s.log.Info("job scheduled", "job_name", name, "interval", interval.String())
	return nil
}

// AddSessionSweep evicts sessions idle for longer than idleTTL every
// interval.
func (s *Scheduler) AddSessionSweep(sessions SessionEvictor, interval, idleTTL time.Duration) error {
	return s.Every(JobSessionSweep, interval, func() {
		if n := sessions.EvictIdle(idleTTL); n > 0 {
			s.log.Debug("session sweep finished", "evicted", n)
		}
	})
}

func (s *Scheduler) Start() {
	s.s.Start()
	s.log.Debug("scheduler started")
}

func (s *Scheduler) Shutdown() error {
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	return nil
}

// JobNames lists the registered jobs.
func (s *Scheduler) JobNames() []string {
	jobs := s.s.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}
